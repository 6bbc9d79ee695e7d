package domain

import "strings"

// LaunchState describes which operation the lifecycle controller currently
// permits. It is independent of what is installed.
type LaunchState int

const (
	StateDefault LaunchState = iota
	StateRunning
	StateCheckingForUpdates
	StateUpdating
	StateUpdateFailed
)

// AllStates lists every LaunchState in declaration order.
var AllStates = []LaunchState{
	StateDefault,
	StateRunning,
	StateCheckingForUpdates,
	StateUpdating,
	StateUpdateFailed,
}

// String returns the string representation of a LaunchState.
func (s LaunchState) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateRunning:
		return "running"
	case StateCheckingForUpdates:
		return "checking_for_updates"
	case StateUpdating:
		return "updating"
	case StateUpdateFailed:
		return "update_failed"
	}
	return "invalid"
}

// ParseLaunchState normalises and validates an incoming state name.
func ParseLaunchState(raw string) (LaunchState, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range AllStates {
		if s.String() == name {
			return s, nil
		}
	}
	return StateDefault, invalidStateError(raw)
}

// Validate ensures the state is one of the declared values.
func (s LaunchState) Validate() error {
	if s < StateDefault || s > StateUpdateFailed {
		return invalidStateError(s.String())
	}
	return nil
}

// Busy reports whether a check or update is in flight.
func (s LaunchState) Busy() bool {
	return s == StateCheckingForUpdates || s == StateUpdating
}

// Operation is a user-triggered action guarded by the current LaunchState.
type Operation int

const (
	OpLaunch Operation = iota
	OpTerminate
	OpCheckForUpdates
	OpUpdate
	OpTerminateAndUpdate
)

// String returns the string representation of an Operation.
func (o Operation) String() string {
	switch o {
	case OpLaunch:
		return "launch"
	case OpTerminate:
		return "terminate"
	case OpCheckForUpdates:
		return "check_for_updates"
	case OpUpdate:
		return "update"
	case OpTerminateAndUpdate:
		return "terminate_and_update"
	}
	return "invalid"
}

// Permits reports whether op may start while in state s. A disallowed
// operation is a silent no-op for callers, never an error.
func (s LaunchState) Permits(op Operation) bool {
	switch op {
	case OpLaunch:
		return s == StateDefault
	case OpTerminate, OpTerminateAndUpdate:
		return s == StateRunning
	case OpCheckForUpdates, OpUpdate:
		// A check hands over to an update itself; callers never start one
		// while either is in flight.
		return !s.Busy()
	}
	return false
}

// Toggle maps the single primary action onto an operation.
// ok is false when the primary action does nothing in this state.
func (s LaunchState) Toggle() (op Operation, ok bool) {
	switch s {
	case StateDefault:
		return OpLaunch, true
	case StateRunning:
		return OpTerminate, true
	case StateUpdateFailed:
		return OpUpdate, true
	case StateCheckingForUpdates, StateUpdating:
		return 0, false
	}
	return 0, false
}

// LiveState returns the resting state matching the helper's liveness.
func LiveState(running bool) LaunchState {
	if running {
		return StateRunning
	}
	return StateDefault
}

var allowedTransitions = map[LaunchState]map[LaunchState]struct{}{
	StateDefault: {
		StateRunning:            {},
		StateCheckingForUpdates: {},
		StateUpdating:           {},
	},
	StateRunning: {
		StateDefault:            {},
		StateCheckingForUpdates: {},
		StateUpdating:           {},
	},
	StateCheckingForUpdates: {
		StateDefault:  {},
		StateRunning:  {},
		StateUpdating: {},
	},
	StateUpdating: {
		StateDefault:      {},
		StateRunning:      {},
		StateUpdateFailed: {},
	},
	StateUpdateFailed: {
		StateCheckingForUpdates: {},
		StateUpdating:           {},
	},
}

// CanTransitionTo verifies whether a transition to the target state is allowed.
func (s LaunchState) CanTransitionTo(target LaunchState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if s == target {
		return nil
	}
	if _, allowed := allowedTransitions[s][target]; allowed {
		return nil
	}
	return invalidTransitionError(s, target)
}
