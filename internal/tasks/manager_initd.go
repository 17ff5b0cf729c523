package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stone-age-io/shaper/internal/service"
)

// initdManager drives init scripts directly: /etc/init.d/<name> <action>.
// On OpenWrt these are procd scripts; reload re-reads the service config
// without dropping the tc qdiscs.
type initdManager struct {
	dir string
	run Runner
}

func (m *initdManager) Name() string { return "initd" }

func (m *initdManager) script(name string) (string, error) {
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("service not installed: %s", name)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return path, nil
}

func (m *initdManager) Control(ctx context.Context, name string, action service.Action) error {
	path, err := m.script(name)
	if err != nil {
		return err
	}

	res, err := m.run(ctx, path, string(action))
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", path, action, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s %s failed: exit code %d: %s", path, action, res.ExitCode, res.Output())
	}
	return nil
}

func (m *initdManager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	path, err := m.script(name)
	if err != nil {
		return newServiceStatus(name, ServiceStatusNotInstalled), nil
	}

	res, err := m.run(ctx, path, "status")
	if err != nil {
		return nil, fmt.Errorf("%s status failed: %w", path, err)
	}

	return newServiceStatus(name, mapInitdStatus(res)), nil
}

// mapInitdStatus converts init script status output to standard status.
// procd scripts print "running", "inactive" or "not running"; the exit code
// is 0 only when the service is running.
func mapInitdStatus(res CommandResult) string {
	output := strings.ToLower(strings.TrimSpace(res.Stdout))

	switch {
	case strings.Contains(output, "not running"),
		strings.Contains(output, "inactive"),
		strings.Contains(output, "stopped"):
		return ServiceStatusStopped
	case res.ExitCode == 0:
		return ServiceStatusRunning
	case res.ExitCode == 3:
		// LSB: program is not running
		return ServiceStatusStopped
	default:
		return ServiceStatusUnknown
	}
}
