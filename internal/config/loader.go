// Package config provides centralized configuration management for cadence.
// It implements the three-layer config pattern:
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides ($XDG_CONFIG_HOME/cadence/config.yaml or --config)
// Layer 3: CADENCE_* environment variables and runtime overrides
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName names the XDG config and data directories.
const AppName = "cadence"

// EnvPrefix prefixes environment overrides, e.g. CADENCE_QUOTA_DAILY_LIMIT.
const EnvPrefix = "CADENCE"

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// LoadOptions controls where Load looks for the user layer.
type LoadOptions struct {
	// ConfigFile is an explicit config path; it must exist when set.
	ConfigFile string
	// SearchPaths replace the default search directories for config.yaml.
	SearchPaths []string
	// Overrides are applied last, keyed by dotted config path.
	Overrides map[string]any
}

// Load loads configuration using the three-layer pattern and validates the
// result. Invalid bounds surface as *errors.ConfigurationError.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read embedded defaults: %w", err)
	}

	if err := mergeUserConfig(v, opts); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToFloat64HookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyPathDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func mergeUserConfig(v *viper.Viper, opts LoadOptions) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
		return nil
	}

	paths := opts.SearchPaths
	if paths == nil {
		if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
			paths = append(paths, dir)
		}
		paths = append(paths, "./config")
	}
	if len(paths) == 0 {
		return nil
	}

	v.SetConfigName("config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// ConfigFileUsed reports the user config file Load would merge, or "".
func ConfigFileUsed(opts LoadOptions) string {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := mergeUserConfig(v, opts); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func (c *Config) applyPathDefaults() {
	if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(c.Store.StateDir) == "" {
		c.Store.StateDir = filepath.Join(DefaultDataDir(), "state")
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	dir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return "."
	}
	return dir
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
