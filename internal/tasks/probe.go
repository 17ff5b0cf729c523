package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/service"
)

// Probe answers whether a service is currently active
type Probe interface {
	Name() string
	Active(ctx context.Context, name string) (bool, error)
}

// NewProbe builds the status probe selected by cfg.StatusProbe. The ubus,
// process and pidfile probes describe cfg.Name only; other allowed services
// are asked through the manager.
func NewProbe(cfg *config.ServiceConfig, manager Manager, run Runner) (Probe, error) {
	if run == nil {
		run = ExecRunner
	}

	var fallback Probe
	if manager != nil {
		fallback = &managerProbe{manager: manager}
	}

	var primary Probe
	switch cfg.StatusProbe {
	case "", "manager":
		if fallback == nil {
			return nil, fmt.Errorf("manager probe requires a service manager")
		}
		return fallback, nil
	case "ubus":
		primary = &ubusProbe{object: cfg.UbusObject, run: run}
	case "process":
		primary = &processProbe{process: cfg.ProcessName, list: listProcessNames}
	case "pidfile":
		primary = &pidfileProbe{path: cfg.PIDFile, alive: pidAlive}
	default:
		return nil, fmt.Errorf("unknown status probe: %s (must be manager, ubus, process, or pidfile)", cfg.StatusProbe)
	}

	return &scopedProbe{service: cfg.Name, probe: primary, fallback: fallback}, nil
}

// scopedProbe applies a service-specific probe to one service and sends
// every other name to fallback
type scopedProbe struct {
	service  string
	probe    Probe
	fallback Probe
}

func (p *scopedProbe) Name() string { return p.probe.Name() }

func (p *scopedProbe) Active(ctx context.Context, name string) (bool, error) {
	if name == p.service {
		return p.probe.Active(ctx, name)
	}
	if p.fallback == nil {
		return false, fmt.Errorf("%s probe only covers %s", p.probe.Name(), p.service)
	}
	return p.fallback.Active(ctx, name)
}

// managerProbe asks the init system
type managerProbe struct {
	manager Manager
}

func (p *managerProbe) Name() string { return "manager" }

func (p *managerProbe) Active(ctx context.Context, name string) (bool, error) {
	status, err := p.manager.Status(ctx, name)
	if err != nil {
		return false, err
	}
	return status.Active, nil
}

// ubusProbe calls `ubus call <object> status` and reads its "active" field
type ubusProbe struct {
	object string
	run    Runner
}

func (p *ubusProbe) Name() string { return "ubus" }

func (p *ubusProbe) Active(ctx context.Context, _ string) (bool, error) {
	res, err := p.run(ctx, "ubus", "call", p.object, "status")
	if err != nil {
		return false, fmt.Errorf("ubus call %s status failed: %w", p.object, err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("ubus call %s status failed: exit code %d: %s", p.object, res.ExitCode, res.Output())
	}
	return service.ParseActive([]byte(res.Stdout)), nil
}

// processProbe looks for a running process with the configured name
type processProbe struct {
	process string
	list    func(ctx context.Context) ([]string, error)
}

func (p *processProbe) Name() string { return "process" }

func (p *processProbe) Active(ctx context.Context, _ string) (bool, error) {
	names, err := p.list(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}
	for _, n := range names {
		if n == p.process {
			return true, nil
		}
	}
	return false, nil
}

func listProcessNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(procs))
	for _, proc := range procs {
		// Processes can exit between listing and reading their name
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// pidfileProbe checks that the pid recorded in a pid file is alive.
// A missing pid file means the service is not running.
type pidfileProbe struct {
	path  string
	alive func(pid int) (bool, error)
}

func (p *pidfileProbe) Name() string { return "pidfile" }

func (p *pidfileProbe) Active(_ context.Context, _ string) (bool, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, fmt.Errorf("invalid pid file %s: %q", p.path, strings.TrimSpace(string(data)))
	}

	return p.alive(pid)
}
