package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/stone-age-io/shaper/internal/service"
)

// systemdManager drives units through systemctl
type systemdManager struct {
	run Runner
}

func (m *systemdManager) Name() string { return "systemd" }

func (m *systemdManager) Control(ctx context.Context, name string, action service.Action) error {
	res, err := m.run(ctx, "systemctl", string(action), name)
	if err != nil {
		return fmt.Errorf("systemctl %s %s failed: %w", action, name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("systemctl %s %s failed: exit code %d: %s", action, name, res.ExitCode, res.Output())
	}
	return nil
}

func (m *systemdManager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	// Use systemctl show for machine-readable output
	res, err := m.run(ctx, "systemctl", "show", name, "--property=ActiveState,SubState,LoadState")
	if err != nil {
		return nil, fmt.Errorf("systemctl show failed: %w", err)
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "not loaded") || strings.Contains(res.Stderr, "not found") {
			return newServiceStatus(name, ServiceStatusNotInstalled), nil
		}
		return nil, fmt.Errorf("systemctl show failed: exit code %d: %s", res.ExitCode, res.Output())
	}

	var activeState, subState, loadState string
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ActiveState":
			activeState = strings.TrimSpace(value)
		case "SubState":
			subState = strings.TrimSpace(value)
		case "LoadState":
			loadState = strings.TrimSpace(value)
		}
	}

	if loadState == "not-found" {
		return newServiceStatus(name, ServiceStatusNotInstalled), nil
	}

	return newServiceStatus(name, mapSystemdState(activeState, subState)), nil
}

// mapSystemdState converts systemd ActiveState to standard status
func mapSystemdState(activeState, subState string) string {
	switch activeState {
	case "active", "reloading":
		// Other active substates (e.g., exited) still count as running
		return ServiceStatusRunning
	case "inactive":
		return ServiceStatusStopped
	case "activating":
		return ServiceStatusStarting
	case "deactivating":
		return ServiceStatusStopping
	case "failed":
		return ServiceStatusError
	default:
		return ServiceStatusUnknown
	}
}
