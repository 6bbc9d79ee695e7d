package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mounterctl/internal/config"
)

type noopProgram struct {
	err error
}

func (p noopProgram) Run() (tea.Model, error) {
	return nil, p.err
}

func TestCollectOverridesOnlyExplicitFlags(t *testing.T) {
	debugOn := true
	mirrors := " https://a.example.com/m.json , ,https://b.example.com/m.json"
	root := " /srv/mounter "
	elevated := false

	flags := runtimeFlags{debug: &debugOn, mirrors: &mirrors, root: &root, elevated: &elevated}

	got := collectOverrides(flags, map[string]struct{}{})
	if len(got) != 0 {
		t.Fatalf("expected no overrides, got %v", got)
	}

	got = collectOverrides(flags, map[string]struct{}{"debug": {}, "mirrors": {}, "root": {}})
	want := map[string]any{
		config.KeyDebug:       true,
		config.KeyMirrors:     []string{"https://a.example.com/m.json", "https://b.example.com/m.json"},
		config.KeyMounterRoot: "/srv/mounter",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected overrides:\n got %#v\nwant %#v", got, want)
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := splitList("a, b,,c "); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected split: %v", got)
	}
}

// testOptions points every path into a temp dir and uses a process lister
// that never finds the helper.
func testOptions(t *testing.T) appOptions {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake process lister is a shell script")
	}
	tmp := t.TempDir()
	lister := filepath.Join(tmp, "pgrep")
	if err := os.WriteFile(lister, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write lister: %v", err)
	}
	return appOptions{
		root:         filepath.Join(tmp, "mounter"),
		settingsPath: filepath.Join(tmp, "settings.db"),
		pollInterval: 10 * time.Millisecond,
		lister:       lister,
	}
}

func TestRunTUIWithoutMirrors(t *testing.T) {
	var built tea.Model
	err := runTUI(context.Background(), testOptions(t), func(m tea.Model) programRunner {
		built = m
		return noopProgram{}
	})
	if err != nil {
		t.Fatalf("runTUI returned error: %v", err)
	}
	model, ok := built.(tuiModel)
	if !ok {
		t.Fatalf("expected tuiModel, got %T", built)
	}
	if model.installedVersion != "" {
		t.Fatalf("expected nothing installed, got %q", model.installedVersion)
	}
}

func TestRunTUIPropagatesProgramError(t *testing.T) {
	err := runTUI(context.Background(), testOptions(t), func(tea.Model) programRunner {
		return noopProgram{err: errors.New("no tty")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunTUINilFactory(t *testing.T) {
	if err := runTUI(context.Background(), testOptions(t), nil); err == nil {
		t.Fatal("expected error for nil factory")
	}
}
