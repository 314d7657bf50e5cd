package model_test

import (
	"testing"

	"github.com/grantscout/grantscout-backend/model"
)

func TestParseRunStatusValidValues(t *testing.T) {
	valid := []string{"pending", "running", "completed", "failed"}
	for _, s := range valid {
		got, err := model.ParseRunStatus(s)
		if err != nil {
			t.Errorf("ParseRunStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseRunStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseRunStatusInvalidValue(t *testing.T) {
	if _, err := model.ParseRunStatus("cancelled"); err == nil {
		t.Error("ParseRunStatus(\"cancelled\") expected error, got nil")
	}
	if _, err := model.ParseRunStatus(""); err == nil {
		t.Error("ParseRunStatus(\"\") expected error, got nil")
	}
}

func TestRunTransitionAllowedValid(t *testing.T) {
	cases := []struct {
		from model.RunStatus
		to   model.RunStatus
	}{
		{model.RunPending, model.RunRunning},
		{model.RunPending, model.RunFailed},
		{model.RunRunning, model.RunCompleted},
		{model.RunRunning, model.RunFailed},
	}
	for _, c := range cases {
		if !model.RunTransitionAllowed(c.from, c.to) {
			t.Errorf("RunTransitionAllowed(%s -> %s) should be true", c.from, c.to)
		}
	}
}

func TestRunTransitionAllowedTerminalStatesHaveNoExit(t *testing.T) {
	all := []model.RunStatus{model.RunPending, model.RunRunning, model.RunCompleted, model.RunFailed}
	for _, terminal := range []model.RunStatus{model.RunCompleted, model.RunFailed} {
		for _, to := range all {
			if model.RunTransitionAllowed(terminal, to) {
				t.Errorf("RunTransitionAllowed(%s -> %s) should be false", terminal, to)
			}
		}
	}
}

func TestRunTransitionAllowedNoSkipping(t *testing.T) {
	if model.RunTransitionAllowed(model.RunPending, model.RunCompleted) {
		t.Error("pending -> completed should not be allowed without passing through running")
	}
}

func TestRunStatusTerminal(t *testing.T) {
	if model.RunPending.Terminal() || model.RunRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
	if !model.RunCompleted.Terminal() || !model.RunFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
}
