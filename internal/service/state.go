package service

import (
	"fmt"
	"strings"
)

// ServiceState represents the last known or inferred condition of the remote service
type ServiceState int

const (
	// StateInactive indicates the service was observed not running
	StateInactive ServiceState = iota

	// StateActive indicates the service was observed running
	StateActive

	// StateApplying indicates a lifecycle action has been requested and not yet resolved
	StateApplying

	// StateError indicates the last action or probe failed
	StateError
)

// String returns the display text for the state
func (s ServiceState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateInactive:
		return "INACTIVE"
	case StateApplying:
		return "APPLYING..."
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Color returns a severity hint co-varying with the state.
// Values are hex colors; renderers are free to ignore them.
func (s ServiceState) Color() string {
	switch s {
	case StateActive:
		return "#2e7d32"
	case StateInactive:
		return "#888888"
	case StateApplying:
		return "#0099cc"
	default:
		return "#d32f2f"
	}
}

// StateFromActive maps an observed activity flag to a state
func StateFromActive(active bool) ServiceState {
	if active {
		return StateActive
	}
	return StateInactive
}

// Action is a lifecycle action applied to a managed background service
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

// Actions lists every supported action in display order
var Actions = []Action{ActionStart, ActionStop, ActionRestart, ActionReload}

// ParseAction converts a case-insensitive action name to an Action
func ParseAction(s string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(s)))
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return action, nil
	default:
		return "", fmt.Errorf("invalid action: %s (must be start, stop, restart, or reload)", s)
	}
}

// ExpectedOutcome reports whether the service should end up active once the
// action has taken effect. Only stop expects an inactive service.
func ExpectedOutcome(action Action) bool {
	return action != ActionStop
}
