// Package config loads the kvdisk CLI configuration.
//
// Config files are JSON with comments and trailing commas (JWCC), parsed with
// hujson. Later sources override earlier ones:
//
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/kvdisk/config.json or ~/.config/kvdisk/config.json)
//  3. Project config (.kvdisk.json in the working directory, if present)
//  4. Explicit config file (-c/--config, must exist)
//  5. CLI overrides
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/tailscale/hujson"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".kvdisk.json"

var (
	ErrFileNotFound   = errors.New("config file not found")
	ErrFileRead       = errors.New("cannot read config file")
	ErrInvalid        = errors.New("invalid config file")
	ErrCacheFileEmpty = errors.New("cache_file cannot be empty")
	ErrNegativeTTL    = errors.New("default_ttl cannot be negative")
)

// Config holds the resolved CLI configuration.
type Config struct {
	// CacheFile is the cache file the CLI operates on. Relative paths are
	// resolved against the working directory by the caller.
	CacheFile string

	// DefaultTTL applies to set commands without an explicit TTL.
	// Zero stores entries that never expire.
	DefaultTTL time.Duration

	// LogLevel is an apex/log level name.
	LogLevel string
}

// Overrides are values given on the command line. Nil fields are unset.
type Overrides struct {
	CacheFile  *string
	DefaultTTL *time.Duration
	LogLevel   *string
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{LogLevel: "info"}
}

// fileConfig is the on-disk shape. Pointers distinguish absent fields from
// explicitly empty ones.
type fileConfig struct {
	CacheFile  *string `json:"cache_file"`  //nolint:tagliatelle // snake_case for config file
	DefaultTTL *string `json:"default_ttl"` //nolint:tagliatelle // snake_case for config file
	LogLevel   *string `json:"log_level"`   //nolint:tagliatelle // snake_case for config file
}

// Load resolves the configuration for workDir. configPath is the explicit
// config file, or empty to use the project default. env is consulted for
// XDG_CONFIG_HOME before the process environment.
func Load(workDir, configPath string, overrides Overrides, env []string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalPath := globalConfigPath(env)
	if globalPath != "" {
		loaded, err := applyFile(&cfg, globalPath, false)
		if err != nil {
			return Config{}, Sources{}, err
		}

		if loaded {
			sources.Global = globalPath
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if configPath != "" {
		projectPath, mustExist = configPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, Sources{}, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
		}
	}

	loaded, err := applyFile(&cfg, projectPath, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}

	if loaded {
		sources.Project = projectPath
	}

	if overrides.CacheFile != nil {
		cfg.CacheFile = *overrides.CacheFile
	}

	if overrides.DefaultTTL != nil {
		cfg.DefaultTTL = *overrides.DefaultTTL
	}

	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
	}

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/kvdisk/config.json if set,
// otherwise ~/.config/kvdisk/config.json. Returns "" if the home directory
// cannot be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "kvdisk", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kvdisk", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "kvdisk", "config.json")
}

// applyFile merges the file at path into cfg. A missing file is skipped
// unless mustExist is set. Reports whether the file was loaded.
func applyFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return false, nil
		}

		return false, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
	}

	fc, err := parse(data)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	if err := merge(cfg, fc); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(cfg *Config, fc fileConfig) error {
	if fc.CacheFile != nil {
		if *fc.CacheFile == "" {
			return ErrCacheFileEmpty
		}

		cfg.CacheFile = *fc.CacheFile
	}

	if fc.DefaultTTL != nil {
		ttl, err := time.ParseDuration(*fc.DefaultTTL)
		if err != nil {
			return fmt.Errorf("default_ttl: %w", err)
		}

		cfg.DefaultTTL = ttl
	}

	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.DefaultTTL < 0 {
		return ErrNegativeTTL
	}

	if _, err := log.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q: %w", cfg.LogLevel, err)
	}

	return nil
}

// Format returns cfg as indented JSON in the config file shape.
func Format(cfg Config) (string, error) {
	out := struct {
		CacheFile  string `json:"cache_file"`  //nolint:tagliatelle // snake_case for config file
		DefaultTTL string `json:"default_ttl"` //nolint:tagliatelle // snake_case for config file
		LogLevel   string `json:"log_level"`   //nolint:tagliatelle // snake_case for config file
	}{cfg.CacheFile, cfg.DefaultTTL.String(), cfg.LogLevel}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
