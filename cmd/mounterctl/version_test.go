package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintVersion(t *testing.T) {
	tests := []struct {
		name          string
		version       string
		build         string
		buildTime     string
		expectContain []string
		expectMissing []string
	}{
		{
			name:          "dev build",
			version:       "dev",
			build:         "unknown",
			expectContain: []string{"mounterctl version dev", "Go version:", "OS/Arch:"},
			expectMissing: []string{"(build:"},
		},
		{
			name:          "release build",
			version:       "0.3.0",
			build:         "abc1234",
			buildTime:     "2026-05-02_09:00:00",
			expectContain: []string{"mounterctl version 0.3.0", "(build: abc1234)", "[2026-05-02_09:00:00]"},
			expectMissing: []string{"Commit:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origBuild, origBuildTime := Version, Build, BuildTime
			defer func() {
				Version, Build, BuildTime = origVersion, origBuild, origBuildTime
			}()
			Version, Build, BuildTime = tt.version, tt.build, tt.buildTime

			var buf bytes.Buffer
			printVersion(&buf)
			output := buf.String()

			for _, expected := range tt.expectContain {
				if !strings.Contains(output, expected) {
					t.Errorf("expected output to contain %q, got:\n%s", expected, output)
				}
			}
			for _, missing := range tt.expectMissing {
				if strings.Contains(output, missing) {
					t.Errorf("expected output not to contain %q, got:\n%s", missing, output)
				}
			}
		})
	}
}
