package main

import (
	"fmt"
	"io"

	"github.com/calvinalkan/flatpak-harness/harness"
)

// DebugLogger provides structured debug output for harness startup.
// It is disabled by default (when output is nil) and outputs to stderr when enabled.
type DebugLogger struct {
	output io.Writer
}

// NewDebugLogger creates a new debug logger.
// If output is nil, the logger is disabled and all methods are no-ops.
func NewDebugLogger(output io.Writer) *DebugLogger {
	return &DebugLogger{output: output}
}

// Enabled returns true if debug logging is enabled.
func (d *DebugLogger) Enabled() bool {
	return d.output != nil
}

// Section outputs a section header.
func (d *DebugLogger) Section(name string) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, "\n=== %s ===\n", name)
}

// Logf outputs a formatted debug message.
func (d *DebugLogger) Logf(format string, args ...any) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, format+"\n", args...)
}

// ConfigFile outputs information about a config file.
func (d *DebugLogger) ConfigFile(label, path string, loaded bool) {
	if d.output == nil {
		return
	}

	if loaded {
		_, _ = fmt.Fprintf(d.output, "  %s: %s\n", label, path)
	} else {
		_, _ = fmt.Fprintf(d.output, "  %s: (not found)\n", label)
	}
}

// debugConfig outputs the effective configuration and where it came from.
func debugConfig(debug *DebugLogger, cfg *Config) {
	if !debug.Enabled() {
		return
	}

	debug.Section("Config")

	if path, ok := cfg.LoadedConfigFiles["global"]; ok {
		debug.ConfigFile("Global config", path, true)
	} else {
		debug.ConfigFile("Global config", "", false)
	}

	if path, ok := cfg.LoadedConfigFiles["explicit"]; ok {
		debug.ConfigFile("Explicit config (--config)", path, true)
	} else if path, ok := cfg.LoadedConfigFiles["project"]; ok {
		debug.ConfigFile("Project config", path, true)
	} else {
		debug.ConfigFile("Project config", "", false)
	}

	debug.Logf("  installation: %s", cfg.Installation)
	debug.Logf("  tool: %s", orDefault(cfg.Tool, harness.DefaultTool))
	debug.Logf("  remote: %s (%s)", orDefault(cfg.Remote.Name, harness.DefaultRemoteName), orDefault(cfg.Remote.URL, harness.DefaultRemoteURL))

	for _, app := range cfg.Apps {
		debug.Logf("  app: %s (window %q)", app.ID, app.Window)
	}
}

// debugSandbox outputs the sandbox layout and environment overlay.
func debugSandbox(debug *DebugLogger, sandbox *harness.Sandbox) {
	if !debug.Enabled() {
		return
	}

	debug.Section("Sandbox")
	debug.Logf("  mode: %s", sandbox.Mode)
	debug.Logf("  home: %s", sandbox.HomeDir)
	debug.Logf("  system store: %s", sandbox.SystemDir)
	debug.Logf("  user store: %s", sandbox.UserDir)
	debug.Logf("  system cache: %s", sandbox.SystemCacheDir)

	debug.Section("Sandbox Environment")

	for _, kv := range sandbox.Environ() {
		debug.Logf("  %s", kv)
	}
}
