package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// useTempLog points the logger at a temp directory and restores package
// state when the test ends. It returns the log file path.
func useTempLog(t *testing.T) string {
	t.Helper()
	resetForTest()
	path := filepath.Join(t.TempDir(), LogDirName, LogFileName)
	orig := getLogPath
	getLogPath = func() (string, error) { return path, nil }
	t.Cleanup(func() {
		getLogPath = orig
		resetForTest()
	})
	return path
}

// backups lists rotated copies of the log, excluding the live file.
func backups(t *testing.T, logPath string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(logPath), "debug-*.log"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	return matches
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestDisabledLoggingCreatesNoFile(t *testing.T) {
	path := useTempLog(t)

	if err := Init(false); err != nil {
		t.Fatalf("Init(false): %v", err)
	}
	Log("dropped")
	Logf("dropped %d", 1)

	if Enabled() {
		t.Fatal("expected logging to be disabled")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no log file, stat returned %v", err)
	}
}

func TestEnabledLoggingWritesBannerAndMessages(t *testing.T) {
	path := useTempLog(t)

	if err := Init(true); err != nil {
		t.Fatalf("Init(true): %v", err)
	}
	Log("poller: probe failed")
	Logf("controller: %s -> %s", "default", "updating")
	Close()
	Log("after close")

	content := readLog(t, path)
	for _, want := range []string{"mounterctl debug log started", "poller: probe failed", "controller: default -> updating"} {
		if !strings.Contains(content, want) {
			t.Errorf("log is missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "after close") {
		t.Error("messages logged after Close must be dropped")
	}
}

func TestInitKeepsPreviousRunAsBackup(t *testing.T) {
	path := useTempLog(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("previous run\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Init(true); err != nil {
		t.Fatalf("Init(true): %v", err)
	}
	Close()

	if strings.Contains(readLog(t, path), "previous run") {
		t.Error("live log should start fresh")
	}
	rotated := backups(t, path)
	if len(rotated) != 1 {
		t.Fatalf("expected one backup, got %v", rotated)
	}
	if !strings.Contains(readLog(t, rotated[0]), "previous run") {
		t.Error("backup should hold the previous run")
	}
}

func TestInitPrunesBackupsBeyondLimit(t *testing.T) {
	path := useTempLog(t)

	for i := 0; i < 4; i++ {
		if err := Init(true, WithMaxBackups(1)); err != nil {
			t.Fatalf("Init(true) run %d: %v", i, err)
		}
		Logf("run %d", i)
		Close()
		// Backup names carry a millisecond timestamp.
		time.Sleep(5 * time.Millisecond)
	}

	// Pruning runs in the background after a rotation.
	deadline := time.Now().Add(5 * time.Second)
	for len(backups(t, path)) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected backups pruned to 1, have %v", backups(t, path))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(readLog(t, path), "run 3") {
		t.Error("live log should hold the latest run")
	}
}

func TestRotationOptions(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantSize    int
		wantBackups int
	}{
		{"defaults", nil, defaultMaxSizeMB, defaultMaxBackups},
		{"custom", []Option{WithMaxSizeMB(1), WithMaxBackups(0)}, 1, 0},
		{"invalid values keep defaults", []Option{WithMaxSizeMB(0), WithMaxBackups(-1)}, defaultMaxSizeMB, defaultMaxBackups},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTempLog(t)
			if err := Init(true, tt.opts...); err != nil {
				t.Fatalf("Init(true): %v", err)
			}

			mu.RLock()
			size, kept := logFile.MaxSize, logFile.MaxBackups
			mu.RUnlock()
			if size != tt.wantSize || kept != tt.wantBackups {
				t.Errorf("MaxSize=%d MaxBackups=%d, want %d and %d", size, kept, tt.wantSize, tt.wantBackups)
			}
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	useTempLog(t)
	Close()
	if err := Init(true); err != nil {
		t.Fatalf("Init(true): %v", err)
	}
	Close()
	Close()
}

func TestGetLogPathUsesAppDir(t *testing.T) {
	path, err := defaultGetLogPath()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join(LogDirName, LogFileName)) {
		t.Errorf("defaultGetLogPath() = %q, want suffix %q", path, filepath.Join(LogDirName, LogFileName))
	}
}

func resetForTest() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	enabled = false
	logger = nil
}
