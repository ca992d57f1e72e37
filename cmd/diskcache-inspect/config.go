package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds the parameters needed to open an existing cache directory.
// The cache engine itself takes no config file (§10.3 of SPEC_FULL.md); this
// struct exists purely for the inspect CLI so an operator doesn't have to
// repeat --app-version/--value-count on every invocation against the same
// directory.
type Config struct {
	Dir        string `json:"dir,omitempty"`
	AppVersion int    `json:"app_version,omitempty"` //nolint:tagliatelle // snake_case for config file
	ValueCount int    `json:"value_count,omitempty"` //nolint:tagliatelle // snake_case for config file
	MaxSize    int64  `json:"max_size,omitempty"`    //nolint:tagliatelle // snake_case for config file
}

// ConfigFileName is the project-local config file name, looked for in the
// current working directory.
const ConfigFileName = ".diskcache.hujson"

// DefaultConfig returns the baseline config: two value slots, every other
// field zero. A zero field means "not configured" when merging; a zero
// MaxSize left after merging makes openCache fail.
func DefaultConfig() Config {
	return Config{ValueCount: 2}
}

// LoadConfig merges, in increasing precedence: defaults, the global user
// config, the project config, then cliOverrides (already resolved by the
// caller from parsed flags). Both config files are JSONC via hujson, so
// operators can comment out fields without breaking the parser — the same
// rationale the teacher's ticket CLI used for its own config file.
func LoadConfig(workDir string, cliOverrides Config) (Config, error) {
	cfg := DefaultConfig()

	if globalPath := globalConfigPath(); globalPath != "" {
		fileCfg, loaded, err := loadConfigFile(globalPath)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)

	fileCfg, loaded, err := loadConfigFile(projectPath)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = mergeConfig(cfg, fileCfg)
	}

	return mergeConfig(cfg, cliOverrides), nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/diskcache/config.hujson, falling
// back to ~/.config/diskcache/config.hujson. Returns "" if neither can be
// determined.
func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "diskcache", "config.hujson")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "diskcache", "config.hujson")
}

func loadConfigFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("parse config %s: invalid JSONC: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}

	if overlay.AppVersion != 0 {
		base.AppVersion = overlay.AppVersion
	}

	if overlay.ValueCount != 0 {
		base.ValueCount = overlay.ValueCount
	}

	if overlay.MaxSize != 0 {
		base.MaxSize = overlay.MaxSize
	}

	return base
}

// FormatConfig renders cfg as indented JSON, for the "config" subcommand.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}

func resolveDir(workDir, dir string) string {
	if dir == "" {
		dir = "."
	}

	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(workDir, dir)
}

func fprintln(w interface{ Write([]byte) (int, error) }, a ...any) {
	fmt.Fprintln(w, a...) //nolint:errcheck // best-effort CLI output
}
