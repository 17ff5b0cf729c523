package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/stone-age-io/shaper/internal/service"
)

// rcdManager drives FreeBSD rc.d scripts through service(8)
type rcdManager struct {
	run Runner
}

func (m *rcdManager) Name() string { return "rcd" }

func (m *rcdManager) Control(ctx context.Context, name string, action service.Action) error {
	res, err := m.run(ctx, "service", name, string(action))
	if err != nil {
		return fmt.Errorf("service %s %s failed: %w", name, action, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("service %s %s failed: exit code %d: %s", name, action, res.ExitCode, res.Output())
	}
	return nil
}

func (m *rcdManager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	res, err := m.run(ctx, "service", name, "status")
	if err != nil {
		return nil, fmt.Errorf("service status failed: %w", err)
	}
	return newServiceStatus(name, mapRcdStatus(res)), nil
}

// mapRcdStatus parses `service <name> status`: exit code 0 = running,
// 1 = not running
func mapRcdStatus(res CommandResult) string {
	output := strings.TrimSpace(res.Stdout)

	switch {
	case res.ExitCode == 0:
		return ServiceStatusRunning
	case strings.Contains(output, "not running") || strings.Contains(output, "is not enabled"):
		return ServiceStatusStopped
	case strings.Contains(strings.ToLower(res.Stderr), "not found") ||
		strings.Contains(strings.ToLower(output), "not exist"):
		return ServiceStatusNotInstalled
	default:
		return ServiceStatusUnknown
	}
}
