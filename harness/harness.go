// Package harness drives black-box, end-to-end verification of a
// package-manager CLI (flatpak) inside a fully isolated, disposable
// environment.
//
// The harness package does not decide what to test; it provides the
// orchestration machinery: an isolated filesystem/environment sandbox, a
// command runner for the tool under test, lazily started background services
// (private session bus, privileged helper, virtual display), a bounded
// condition poller, and scenario methods (install / run-and-observe /
// uninstall) that compose them.
//
// # Platform / Dependencies
//
// This package is Linux-only in practice and requires the tool under test
// plus `dbus-daemon`, `Xvfb`, and a window-listing command (by default
// `xwininfo`) to be available in PATH at runtime. Every external binary is
// configurable so tests can substitute scripted fakes.
//
// # Laziness and Teardown
//
// Services are started on first need and at most once; [Harness.Close] stops
// everything that was started, in reverse start order, and is safe to call
// when nothing was started at all. No service or async process outlives the
// Harness that created it.
//
// Example:
//
//	h, err := harness.New(harness.Config{BaseDir: workArea, Mode: harness.ModeSystem})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Close()
//
//	sc := h.Scenario()
//	if err := sc.Install(ctx, "org.gnome.gedit"); err != nil {
//		log.Fatal(err)
//	}
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Default values applied by New when the corresponding Config field is zero.
const (
	DefaultTool          = "flatpak"
	DefaultHelperPath    = "/usr/libexec/flatpak-system-helper"
	DefaultBusDaemon     = "dbus-daemon"
	DefaultXvfb          = "Xvfb"
	DefaultDisplayNumber = 42
	DefaultRemoteName    = "flathub"
	DefaultRemoteURL     = "https://dl.flathub.org/repo/flathub.flatpakrepo"
	DefaultWindowTimeout = 10 * time.Second
	DefaultPollInterval  = 200 * time.Millisecond
	DefaultVersionPrefix = "Flatpak "
)

// DefaultWindowCommand is the command whose output is scanned for quoted
// window titles when no override is configured.
func DefaultWindowCommand() []string {
	return []string{"xwininfo", "-root", "-children"}
}

// Remote identifies the remote source used by install scenarios.
type Remote struct {
	Name string
	URL  string
}

// Config configures a Harness.
//
// Config is intentionally independent from any config-file loading or CLI
// flag parsing; callers are expected to produce a final Config before
// constructing a Harness.
//
// The zero value is not usable: BaseDir and Mode are required. All other
// fields default as documented on the Default* constants.
type Config struct {
	// BaseDir is the work area the sandbox directories are created under.
	// It must exist; the Harness creates a unique per-run subdirectory
	// inside it. Reclaiming BaseDir after the run is the caller's job.
	BaseDir string

	// Mode selects the installation path under test (system or user).
	Mode InstallationMode

	// Tool is the path or PATH-resolvable name of the CLI under test.
	Tool string

	// HelperPath is the privileged helper daemon started for system-mode
	// runs. Ignored in user mode.
	HelperPath string

	// BusDaemon is the session message-bus daemon binary.
	BusDaemon string

	// Xvfb is the virtual display server binary.
	Xvfb string

	// DisplayNumber is the fixed, test-reserved X display number.
	DisplayNumber int

	// DisplayLockDir holds the lock file guarding DisplayNumber against
	// concurrent harness runs. Defaults to os.TempDir().
	DisplayLockDir string

	// WindowCommand lists windows on the private display; its combined
	// output is scanned for quoted title substrings.
	WindowCommand []string

	// Remote is the remote source used by install scenarios.
	Remote Remote

	// WindowTimeout bounds the wait for an application window to appear.
	WindowTimeout time.Duration

	// PollInterval is the delay between condition-poller probes.
	PollInterval time.Duration

	// VersionPrefix is the expected prefix of the tool's --version output.
	VersionPrefix string

	// Environment is the host environment snapshot the sandbox overlay is
	// derived from. If nil, DefaultEnvironment() is used.
	Environment *Environment

	// Debugf receives debug messages from setup, service lifecycle, and
	// scenario execution.
	Debugf Debugf
}

// Debugf receives debug messages from harness preparation and scenario
// execution.
//
// The function should be safe to call from any goroutine.
type Debugf func(format string, args ...any)

// Harness owns one isolated test environment: the sandbox, the command
// runner bound to it, and every background service started on its behalf.
//
// A Harness must not be copied after first use. It is intended for a single
// test goroutine; only service ensure/stop is internally serialized (so a
// signal-driven teardown can race a scenario safely).
type Harness struct {
	noCopy noCopy

	cfg     Config
	runID   string
	sandbox *Sandbox
	runner  *Runner

	services *Registry
	session  *SessionService
	display  *DisplayService
	remote   *remoteService
}

// New validates cfg, creates the per-run sandbox, and wires the runner and
// the lazy services. Nothing is started; services start on first need.
//
// cfg is deep-copied, so later modifications to the passed value do not
// affect the Harness.
func New(cfg Config) (*Harness, error) {
	cfg = cloneConfig(cfg)
	applyDefaults(&cfg)

	err := validateConfig(&cfg)
	if err != nil {
		return nil, fmt.Errorf("harness: validating: %w", err)
	}

	if cfg.Environment == nil {
		env, err := DefaultEnvironment()
		if err != nil {
			return nil, fmt.Errorf("harness: creating default environment: %w", err)
		}

		cfg.Environment = &env
	}

	runID := uuid.NewString()

	runDir := filepath.Join(cfg.BaseDir, "run-"+runID[:8])

	err = os.Mkdir(runDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("harness: creating run directory: %w", err)
	}

	sandbox, err := NewSandbox(runDir, cfg.Mode, *cfg.Environment)
	if err != nil {
		return nil, err
	}

	debugf := cfg.Debugf

	h := &Harness{
		cfg:      cfg,
		runID:    runID,
		sandbox:  sandbox,
		runner:   NewRunner(cfg.Tool, sandbox, debugf),
		services: NewRegistry(debugf),
	}

	h.session = &SessionService{
		Sandbox:    sandbox,
		BusDaemon:  cfg.BusDaemon,
		HelperPath: cfg.HelperPath,
		Debugf:     debugf,
	}

	h.display = &DisplayService{
		Sandbox: sandbox,
		Xvfb:    cfg.Xvfb,
		Number:  cfg.DisplayNumber,
		LockDir: cfg.DisplayLockDir,
		Debugf:  debugf,
	}

	h.remote = &remoteService{
		runner: h.runner,
		mode:   cfg.Mode,
		remote: cfg.Remote,
	}

	if debugf != nil {
		debugf("harness(new): run=%s mode=%s dir=%s tool=%s", runID[:8], cfg.Mode, runDir, cfg.Tool)
	}

	return h, nil
}

// RunID returns the unique identifier of this harness run.
func (h *Harness) RunID() string { return h.runID }

// Sandbox returns the sandbox owned by this Harness. The returned value is
// shared, not a copy; callers must not mutate it outside service startup.
func (h *Harness) Sandbox() *Sandbox { return h.sandbox }

// Runner returns the command runner bound to the sandbox environment.
func (h *Harness) Runner() *Runner { return h.runner }

// Scenario returns a scenario driver backed by this Harness. Scenario
// methods declare the services they depend on; the Harness starts each one
// lazily, at most once.
func (h *Harness) Scenario() *Scenario {
	return &Scenario{h: h}
}

// EnsureSession starts the private session bus (and, in system mode, the
// privileged helper) if not already started. Subsequent calls are no-ops.
func (h *Harness) EnsureSession(ctx context.Context) error {
	return h.services.Ensure(ctx, h.session)
}

// EnsureDisplay starts the private virtual display server if not already
// started. Subsequent calls are no-ops.
func (h *Harness) EnsureDisplay(ctx context.Context) error {
	return h.services.Ensure(ctx, h.display)
}

// EnsureRemote configures the remote source on the installation under test
// if not already configured during this run. Subsequent calls are no-ops.
//
// The remote needs the session bus, so EnsureRemote implies EnsureSession.
func (h *Harness) EnsureRemote(ctx context.Context) error {
	err := h.EnsureSession(ctx)
	if err != nil {
		return err
	}

	return h.services.Ensure(ctx, h.remote)
}

// Close stops every started service in reverse start order (display before
// the session bus). Every stop is attempted even when an earlier one fails;
// failures are collected and returned joined. Close is idempotent and a
// no-op when nothing was started.
func (h *Harness) Close() error {
	return h.services.StopAll()
}

// WindowProbe returns the window-existence probe bound to the sandbox
// display environment.
func (h *Harness) WindowProbe() *WindowProbe {
	return &WindowProbe{
		Sandbox: h.sandbox,
		Command: slices.Clone(h.cfg.WindowCommand),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}

	if cfg.HelperPath == "" {
		cfg.HelperPath = DefaultHelperPath
	}

	if cfg.BusDaemon == "" {
		cfg.BusDaemon = DefaultBusDaemon
	}

	if cfg.Xvfb == "" {
		cfg.Xvfb = DefaultXvfb
	}

	if cfg.DisplayNumber == 0 {
		cfg.DisplayNumber = DefaultDisplayNumber
	}

	if cfg.DisplayLockDir == "" {
		cfg.DisplayLockDir = os.TempDir()
	}

	if len(cfg.WindowCommand) == 0 {
		cfg.WindowCommand = DefaultWindowCommand()
	}

	if cfg.Remote == (Remote{}) {
		cfg.Remote = Remote{Name: DefaultRemoteName, URL: DefaultRemoteURL}
	}

	if cfg.WindowTimeout == 0 {
		cfg.WindowTimeout = DefaultWindowTimeout
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.VersionPrefix == "" {
		cfg.VersionPrefix = DefaultVersionPrefix
	}
}

// cloneConfig returns a deep copy of cfg. Slices and pointers are cloned so
// modifications to the copy don't affect the original.
func cloneConfig(cfg Config) Config {
	out := cfg

	out.WindowCommand = slices.Clone(cfg.WindowCommand)

	if cfg.Environment != nil {
		env := cloneEnvironment(*cfg.Environment)
		out.Environment = &env
	}

	return out
}

// marker for go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
