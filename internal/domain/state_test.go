package domain

import (
	"testing"

	appErrors "mounterctl/internal/errors"
)

func TestLaunchStateValidate(t *testing.T) {
	for _, state := range AllStates {
		if err := state.Validate(); err != nil {
			t.Errorf("expected %s to be valid, got error: %v", state, err)
		}
	}

	for _, state := range []LaunchState{LaunchState(-1), LaunchState(42)} {
		if err := state.Validate(); err == nil {
			t.Errorf("expected %d to be invalid", int(state))
		}
	}
}

func TestParseLaunchState(t *testing.T) {
	cases := map[string]LaunchState{
		"default":              StateDefault,
		" Running ":            StateRunning,
		"CHECKING_FOR_UPDATES": StateCheckingForUpdates,
		"updating":             StateUpdating,
		"update_failed":        StateUpdateFailed,
	}
	for raw, expected := range cases {
		got, err := ParseLaunchState(raw)
		if err != nil {
			t.Fatalf("ParseLaunchState(%q) returned error: %v", raw, err)
		}
		if got != expected {
			t.Fatalf("ParseLaunchState(%q) = %s, want %s", raw, got, expected)
		}
	}

	_, err := ParseLaunchState("paused")
	if !appErrors.IsCode(err, appErrors.CodeInvalidState) {
		t.Fatalf("expected invalid_state error, got %v", err)
	}
}

func TestPermits(t *testing.T) {
	tests := []struct {
		state LaunchState
		op    Operation
		want  bool
	}{
		{StateDefault, OpLaunch, true},
		{StateRunning, OpLaunch, false},
		{StateUpdating, OpLaunch, false},
		{StateUpdateFailed, OpLaunch, false},

		{StateRunning, OpTerminate, true},
		{StateDefault, OpTerminate, false},
		{StateUpdating, OpTerminate, false},

		{StateDefault, OpCheckForUpdates, true},
		{StateRunning, OpCheckForUpdates, true},
		{StateUpdateFailed, OpCheckForUpdates, true},
		{StateCheckingForUpdates, OpCheckForUpdates, false},
		{StateUpdating, OpCheckForUpdates, false},

		{StateDefault, OpUpdate, true},
		{StateRunning, OpUpdate, true},
		{StateCheckingForUpdates, OpUpdate, false},
		{StateUpdateFailed, OpUpdate, true},
		{StateUpdating, OpUpdate, false},

		{StateRunning, OpTerminateAndUpdate, true},
		{StateDefault, OpTerminateAndUpdate, false},
	}
	for _, tt := range tests {
		if got := tt.state.Permits(tt.op); got != tt.want {
			t.Errorf("%s.Permits(%s) = %v, want %v", tt.state, tt.op, got, tt.want)
		}
	}
}

func TestToggle(t *testing.T) {
	tests := []struct {
		state  LaunchState
		wantOp Operation
		wantOK bool
	}{
		{StateDefault, OpLaunch, true},
		{StateRunning, OpTerminate, true},
		{StateUpdateFailed, OpUpdate, true},
		{StateCheckingForUpdates, 0, false},
		{StateUpdating, 0, false},
	}
	for _, tt := range tests {
		op, ok := tt.state.Toggle()
		if ok != tt.wantOK || (ok && op != tt.wantOp) {
			t.Errorf("%s.Toggle() = (%s, %v), want (%s, %v)", tt.state, op, ok, tt.wantOp, tt.wantOK)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	if err := StateDefault.CanTransitionTo(StateUpdating); err != nil {
		t.Fatalf("expected default -> updating to be allowed: %v", err)
	}
	if err := StateUpdating.CanTransitionTo(StateUpdateFailed); err != nil {
		t.Fatalf("expected updating -> update_failed to be allowed: %v", err)
	}
	if err := StateRunning.CanTransitionTo(StateRunning); err != nil {
		t.Fatalf("expected self transition to be allowed: %v", err)
	}

	err := StateDefault.CanTransitionTo(StateUpdateFailed)
	if !appErrors.IsCode(err, appErrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	if err := StateUpdateFailed.CanTransitionTo(StateRunning); err == nil {
		t.Fatalf("expected update_failed -> running to be rejected")
	}
}

func TestLiveState(t *testing.T) {
	if LiveState(true) != StateRunning {
		t.Fatalf("LiveState(true) should be running")
	}
	if LiveState(false) != StateDefault {
		t.Fatalf("LiveState(false) should be default")
	}
}
