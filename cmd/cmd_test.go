package cmd

import (
	"testing"

	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/syncer"
)

func TestParseMeterValue(t *testing.T) {
	v, err := parseMeterValue("1250.5", "dien")
	if err != nil || v == nil || *v != 1250.5 {
		t.Fatalf("expected 1250.5, got %v err=%v", v, err)
	}

	// An empty flag means the meter was not read.
	v, err = parseMeterValue("", "nuoc")
	if err != nil || v != nil {
		t.Fatalf("expected nil for empty flag, got %v err=%v", v, err)
	}

	if _, err := parseMeterValue("abc", "dien"); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestLimitFlagsAreIndependent(t *testing.T) {
	if got := historyCmd.Flags().Lookup("limit").DefValue; got != "12" {
		t.Fatalf("history --limit default = %s, want 12", got)
	}
	if got := logCmd.Flags().Lookup("limit").DefValue; got != "20" {
		t.Fatalf("log --limit default = %s, want 20", got)
	}

	// Setting one command's limit must not leak into the other's.
	if err := logCmd.Flags().Set("limit", "5"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	defer func() { _ = logCmd.Flags().Set("limit", "20") }()
	if historyLimitFlag == logLimitFlag {
		t.Fatalf("history limit (%d) tracked the log limit (%d)", historyLimitFlag, logLimitFlag)
	}
}

func TestBuildMutation(t *testing.T) {
	dienFlag, nuocFlag, noteFlag, resolvedFlag = "1250", "", "bulb replaced", true
	defer func() { dienFlag, nuocFlag, noteFlag, resolvedFlag = "", "", "", false }()

	m, err := buildMutation(syncer.ActionSave, "A1-01")
	if err != nil {
		t.Fatalf("buildMutation failed: %v", err)
	}
	if m.Room != "A1-01" || m.Dien == nil || *m.Dien != 1250 || m.Nuoc != nil {
		t.Fatalf("unexpected mutation: %+v", m)
	}
	if m.Status != meter.StatusResolved {
		t.Fatalf("resolved flag not applied: %q", m.Status)
	}
}
