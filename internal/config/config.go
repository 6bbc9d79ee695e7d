package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyMirrors         = "mirrors"
	KeyMounterRoot     = "mounter.root"
	KeySettingsPath    = "settings.path"
	KeyPollInterval    = "poll.interval"
	KeyProcessName     = "process.name"
	KeyLaunchElevated  = "launch.elevated"
	KeyLaunchElevateBy = "launch.elevate-with"
	KeyHTTPTimeout     = "http.timeout"
	KeyDebug           = "debug"
	KeyLogMaxSizeMB    = "log.max-size-mb"
	KeyLogMaxBackups   = "log.max-backups"
	KeyTheme           = "ui.theme"
)

const (
	// DefaultPollInterval is how often the liveness poller probes the helper.
	DefaultPollInterval = 1240 * time.Millisecond
	// AppDirName is the per-user directory holding config, settings and the mounter root.
	AppDirName = ".mounterctl"
	envPrefix  = "MC"
)

type initSettings struct {
	userConfigPath string
	homeDir        string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

// WithHomeDir overrides the directory used to derive default paths.
func WithHomeDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.homeDir = dir
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	configPath string
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetStringSlice fetches a list configuration value, initializing on demand.
// A comma separated string (as set through the environment) is split.
func GetStringSlice(key string) []string {
	v, err := getViper()
	if err != nil {
		return nil
	}
	raw := v.GetStringSlice(key)
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

func configure(settings *initSettings) error {
	home := strings.TrimSpace(settings.homeDir)
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determine user home: %w", err)
		}
		home = dir
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		userConfigPath = filepath.Join(home, AppDirName, "config.yaml")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, home)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	configPath = userConfigPath
	return nil
}

// UserConfigPath returns the user config file consulted by Initialize.
func UserConfigPath() string {
	if err := Initialize(); err != nil {
		return ""
	}
	configMu.RLock()
	defer configMu.RUnlock()
	return configPath
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads the user config file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper, home string) {
	appDir := filepath.Join(home, AppDirName)
	v.SetDefault(KeyMirrors, []string{})
	v.SetDefault(KeyMounterRoot, filepath.Join(appDir, "mounter"))
	v.SetDefault(KeySettingsPath, filepath.Join(appDir, "settings.db"))
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyProcessName, "")
	v.SetDefault(KeyLaunchElevated, false)
	v.SetDefault(KeyLaunchElevateBy, "sudo")
	v.SetDefault(KeyHTTPTimeout, time.Duration(0))
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogMaxSizeMB, 5)
	v.SetDefault(KeyLogMaxBackups, 2)
	v.SetDefault(KeyTheme, "classic")
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
//
//nolint:unused // Used in config_test.go
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	configPath = ""
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithHomeDir(tmp), WithUserConfig(filepath.Join(tmp, "config.yaml")))
	return reset
}

// SaveMirrors persists the mirror list to the user config file, keeping
// every other setting already present in it.
func SaveMirrors(path string, mirrors []string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	// Read existing config (if any) to preserve other settings
	_ = v.ReadInConfig()

	v.Set(KeyMirrors, mirrors)

	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := Set(KeyMirrors, mirrors); err != nil {
		return err
	}
	return nil
}
