package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/flatpak-harness/harness"
)

// ErrDuplicateConfigFiles is returned when both .json and .jsonc config files exist.
var ErrDuplicateConfigFiles = errors.New("duplicate config files")

// Config holds the application configuration.
type Config struct {
	// Installation selects the installation mode under test ("system" or
	// "user").
	Installation string `json:"installation,omitempty"`

	// Tool is the CLI under test.
	Tool string `json:"tool,omitempty"`

	// HelperPath is the privileged helper daemon used in system mode.
	HelperPath string `json:"helperPath,omitempty"`

	// BusDaemon is the session bus daemon binary.
	BusDaemon string `json:"busDaemon,omitempty"`

	// Xvfb is the virtual display server binary.
	Xvfb string `json:"xvfb,omitempty"`

	// DisplayNumber is the test-reserved display number.
	DisplayNumber int `json:"displayNumber,omitempty"`

	// Remote is the remote source install scenarios pull from.
	Remote RemoteConfig `json:"remote"`

	// WindowTimeout bounds the window wait, as a duration string ("10s").
	WindowTimeout string `json:"windowTimeout,omitempty"`

	// PollInterval is the condition-poller interval, as a duration string.
	PollInterval string `json:"pollInterval,omitempty"`

	// WindowCommand overrides the window-listing command and its arguments.
	WindowCommand []string `json:"windowCommand,omitempty"`

	// Apps lists the applications the run command exercises.
	Apps []AppConfig `json:"apps,omitempty"`

	// Resolved (not serialized)
	EffectiveCwd      string            `json:"-"`
	LoadedConfigFiles map[string]string `json:"-"`
}

// RemoteConfig names a remote source.
type RemoteConfig struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// AppConfig pairs an application id with the window title it is expected to
// open.
type AppConfig struct {
	ID     string `json:"id"`
	Window string `json:"window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Installation: string(harness.ModeSystem),
		Apps: []AppConfig{
			{ID: "org.gnome.gedit", Window: "Gedit"},
		},
	}
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // --config flag value
	Env             map[string]string // Environment variables (for XDG_CONFIG_HOME)
}

// LoadConfig loads configuration with the following precedence (later overrides earlier):
//  1. Built-in defaults
//  2. Global config: $XDG_CONFIG_HOME/flatpak-harness/config.json or config.jsonc
//     (defaults to ~/.config/flatpak-harness/) - always loaded if exists
//  3. Project config OR --config path (not both):
//     - Without --config: .flatpak-harness.json or .flatpak-harness.jsonc in workDir
//     - With --config: uses that path instead of project config
//
// Both .json and .jsonc files support comments via tailscale/hujson.
// If both .json and .jsonc exist at the same location, it's an error.
func LoadConfig(input LoadConfigInput) (Config, error) {
	// Resolve effective working directory
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	// Make workDir absolute
	if !filepath.IsAbs(workDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}

		workDir = filepath.Join(cwd, workDir)
	}

	// Start with defaults
	cfg := DefaultConfig()
	cfg.LoadedConfigFiles = make(map[string]string)

	// Load global config (always loaded if exists)
	globalConfigBasePath, err := getUserConfigBasePath(input.Env)
	if err != nil {
		return Config{}, err
	}

	if globalConfigBasePath != "" {
		globalConfigPath, findErr := findConfigFile(globalConfigBasePath)
		if findErr == nil {
			globalCfg, loadErr := loadConfigFile(globalConfigPath)
			if loadErr != nil {
				// File exists but is invalid - this is an error
				return Config{}, loadErr
			}

			cfg = mergeConfigs(&cfg, &globalCfg)
			cfg.LoadedConfigFiles["global"] = globalConfigPath
		} else if !errors.Is(findErr, os.ErrNotExist) {
			// Error finding config (e.g., both .json and .jsonc exist)
			return Config{}, findErr
		}
		// If os.ErrNotExist, silently skip
	}

	// Load project config OR --config path (not both)
	if input.ConfigPath != "" {
		// Explicit --config path replaces project config
		configPath := input.ConfigPath
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(workDir, configPath)
		}

		explicitCfg, err := loadConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}

		cfg = mergeConfigs(&cfg, &explicitCfg)
		cfg.LoadedConfigFiles["explicit"] = configPath
	} else {
		// Load project config
		projectConfigBasePath := filepath.Join(workDir, ".flatpak-harness")

		projectConfigPath, findErr := findConfigFile(projectConfigBasePath)
		if findErr == nil {
			projectCfg, loadErr := loadConfigFile(projectConfigPath)
			if loadErr != nil {
				// File exists but is invalid - this is an error
				return Config{}, loadErr
			}

			cfg = mergeConfigs(&cfg, &projectCfg)
			cfg.LoadedConfigFiles["project"] = projectConfigPath
		} else if !errors.Is(findErr, os.ErrNotExist) {
			// Error finding config (e.g., both .json and .jsonc exist)
			return Config{}, findErr
		}
		// If os.ErrNotExist, silently skip (project config is optional)
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// findConfigFile finds a config file at the given base path.
// It checks for both .json and .jsonc extensions and returns an error if both exist.
func findConfigFile(basePath string) (string, error) {
	jsonPath := basePath + ".json"
	jsoncPath := basePath + ".jsonc"

	jsonExists, jsonErr := fileExists(jsonPath)
	jsoncExists, jsoncErr := fileExists(jsoncPath)

	// Return errors that aren't "not found"
	if jsonErr != nil && !errors.Is(jsonErr, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", jsonPath, jsonErr)
	}

	if jsoncErr != nil && !errors.Is(jsoncErr, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", jsoncPath, jsoncErr)
	}

	if jsonExists && jsoncExists {
		return "", fmt.Errorf("%w: both %s and %s exist; remove one", ErrDuplicateConfigFiles, jsonPath, jsoncPath)
	}

	if jsonExists {
		return jsonPath, nil
	}

	if jsoncExists {
		return jsoncPath, nil
	}

	return "", os.ErrNotExist
}

// fileExists checks if a file exists and is not a directory.
// Returns (true, nil) if file exists, (false, nil) if not found,
// or (false, error) for other errors (e.g., permission denied).
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("checking file %s: %w", path, err)
	}

	if info.IsDir() {
		return false, nil
	}

	return true, nil
}

// loadConfigFile loads and parses a JSON/JSONC config file.
// Both .json and .jsonc files support comments via hujson.
func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	// Standardize JSONC to JSON (handles comments in both .json and .jsonc)
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// mergeConfigs merges override into base, with override taking precedence.
// Empty/zero values in override do not override base values.
func mergeConfigs(base, override *Config) Config {
	result := *base

	if override.Installation != "" {
		result.Installation = override.Installation
	}

	if override.Tool != "" {
		result.Tool = override.Tool
	}

	if override.HelperPath != "" {
		result.HelperPath = override.HelperPath
	}

	if override.BusDaemon != "" {
		result.BusDaemon = override.BusDaemon
	}

	if override.Xvfb != "" {
		result.Xvfb = override.Xvfb
	}

	if override.DisplayNumber != 0 {
		result.DisplayNumber = override.DisplayNumber
	}

	if override.Remote.Name != "" {
		result.Remote.Name = override.Remote.Name
	}

	if override.Remote.URL != "" {
		result.Remote.URL = override.Remote.URL
	}

	if override.WindowTimeout != "" {
		result.WindowTimeout = override.WindowTimeout
	}

	if override.PollInterval != "" {
		result.PollInterval = override.PollInterval
	}

	if len(override.WindowCommand) > 0 {
		result.WindowCommand = override.WindowCommand
	}

	if len(override.Apps) > 0 {
		result.Apps = override.Apps
	}

	return result
}

// getUserConfigBasePath returns the user config base path (without extension).
// Uses env map for XDG_CONFIG_HOME instead of os.Getenv().
func getUserConfigBasePath(env map[string]string) (string, error) {
	if xdg, ok := env["XDG_CONFIG_HOME"]; ok && xdg != "" {
		return filepath.Join(xdg, "flatpak-harness", "config"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, ".config", "flatpak-harness", "config"), nil
}

// toHarnessConfig translates the file/flag configuration into a harness
// Config rooted at baseDir. Duration strings are parsed here so a malformed
// value fails before any directory is created.
func toHarnessConfig(cfg *Config, baseDir string) (harness.Config, error) {
	out := harness.Config{
		BaseDir:       baseDir,
		Mode:          harness.InstallationMode(cfg.Installation),
		Tool:          cfg.Tool,
		HelperPath:    cfg.HelperPath,
		BusDaemon:     cfg.BusDaemon,
		Xvfb:          cfg.Xvfb,
		DisplayNumber: cfg.DisplayNumber,
		WindowCommand: cfg.WindowCommand,
		Remote:        harness.Remote{Name: cfg.Remote.Name, URL: cfg.Remote.URL},
	}

	if cfg.WindowTimeout != "" {
		d, err := time.ParseDuration(cfg.WindowTimeout)
		if err != nil {
			return harness.Config{}, fmt.Errorf("parsing windowTimeout: %w", err)
		}

		out.WindowTimeout = d
	}

	if cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return harness.Config{}, fmt.Errorf("parsing pollInterval: %w", err)
		}

		out.PollInterval = d
	}

	return out, nil
}
