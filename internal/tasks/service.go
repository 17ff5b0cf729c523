package tasks

import (
	"context"
	"fmt"

	"github.com/stone-age-io/shaper/internal/service"
)

// ServiceStatus represents the status of a managed service
type ServiceStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"` // One of the ServiceStatus* constants below
	Active bool   `json:"active"`
}

// Service status constants, independent of the init system
const (
	// ServiceStatusRunning indicates the service is currently running
	ServiceStatusRunning = "Running"

	// ServiceStatusStopped indicates the service is stopped
	ServiceStatusStopped = "Stopped"

	// ServiceStatusStarting indicates the service is in the process of starting
	ServiceStatusStarting = "Starting"

	// ServiceStatusStopping indicates the service is in the process of stopping
	ServiceStatusStopping = "Stopping"

	// ServiceStatusError indicates the service is in an error state (e.g., failed to start)
	ServiceStatusError = "Error"

	// ServiceStatusUnknown indicates the service status could not be determined
	ServiceStatusUnknown = "Unknown"

	// ServiceStatusNotInstalled indicates the service is not installed on the system
	ServiceStatusNotInstalled = "NotInstalled"
)

func newServiceStatus(name, status string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		Status: status,
		Active: status == ServiceStatusRunning,
	}
}

// Manager drives one init system
type Manager interface {
	Name() string
	// Control requests a lifecycle action and returns once the init system
	// accepted it
	Control(ctx context.Context, name string, action service.Action) error
	Status(ctx context.Context, name string) (*ServiceStatus, error)
}

// NewManager returns the manager for the given init system.
// kind: "initd" (OpenWrt procd / SysV scripts), "systemd" or "rcd" (FreeBSD)
func NewManager(kind, initDir string, run Runner) (Manager, error) {
	if run == nil {
		run = ExecRunner
	}

	switch kind {
	case "initd":
		return &initdManager{dir: initDir, run: run}, nil
	case "systemd":
		return &systemdManager{run: run}, nil
	case "rcd":
		return &rcdManager{run: run}, nil
	default:
		return nil, fmt.Errorf("unknown service manager: %s (must be initd, systemd, or rcd)", kind)
	}
}

// isServiceAllowed checks if a service is in the allowed list
func isServiceAllowed(name string, allowedServices []string) bool {
	for _, allowed := range allowedServices {
		if name == allowed {
			return true
		}
	}
	return false
}
