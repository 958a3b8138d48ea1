package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// InstallationMode selects whether the harness exercises the system-wide or
// the per-user installation path of the tool under test.
//
// The zero value is invalid.
type InstallationMode string

const (
	// ModeSystem exercises the system-wide installation. It requires the
	// privileged helper daemon on the private session bus.
	ModeSystem InstallationMode = "system"

	// ModeUser exercises the per-user installation.
	ModeUser InstallationMode = "user"
)

// Flag returns the CLI flag the tool under test expects for this mode.
func (m InstallationMode) Flag() string {
	return "--" + string(m)
}

// RequiresHelper reports whether this mode needs the privileged helper
// daemon attached to the session bus.
func (m InstallationMode) RequiresHelper() bool {
	return m == ModeSystem
}

// Environment variable names produced by the sandbox and the service
// managers. They are the tool's documented override points plus the standard
// session/display addressing.
const (
	EnvSystemDir       = "FLATPAK_SYSTEM_DIR"
	EnvSystemCacheDir  = "FLATPAK_SYSTEM_CACHE_DIR"
	EnvUserDir         = "FLATPAK_USER_DIR"
	EnvHelperOnSession = "FLATPAK_SYSTEM_HELPER_ON_SESSION"
	EnvHome            = "HOME"
	EnvXDGCacheHome    = "XDG_CACHE_HOME"
	EnvXDGConfigHome   = "XDG_CONFIG_HOME"
	EnvXDGDataHome     = "XDG_DATA_HOME"
	EnvDisplay         = "DISPLAY"
	EnvBusAddress      = "DBUS_SESSION_BUS_ADDRESS"
	EnvBusPID          = "DBUS_SESSION_BUS_PID"
)

// disabledSuffix is appended to the inactive store's path so it points at a
// nonexistent directory. Queries against the inactive store then never see
// items from the active one, and nothing can fall back to it by accident.
const disabledSuffix = "-disabled"

// Sandbox is an isolated set of filesystem paths plus the derived
// environment overlay under which the tool under test runs.
//
// The four directories exist on disk after NewSandbox returns. The
// environment overlay starts from the host snapshot, redirects every store,
// cache, home, and XDG path into the sandbox, and strips inherited display
// and session-bus addressing so each run starts from a clean slate.
//
// The overlay is written during construction and by service startup
// (readiness publication via Setenv); scenarios only read it. Sandbox
// serializes env access internally so signal-driven teardown can race a
// running scenario safely.
type Sandbox struct {
	Mode InstallationMode

	// HomeDir is the redirected home directory.
	HomeDir string
	// SystemDir is the system-wide installation store.
	SystemDir string
	// UserDir is the per-user installation store.
	UserDir string
	// SystemCacheDir is the system store's cache directory.
	SystemCacheDir string

	workDir string

	mu  sync.Mutex
	env map[string]string
}

// NewSandbox creates the four sandbox directories under baseDir and derives
// the environment overlay for mode.
//
// It fails with a wrapped [ErrUnknownInstallation] when mode is not one of
// the two recognized values. The only side effect is directory creation; no
// process or network activity happens here.
func NewSandbox(baseDir string, mode InstallationMode, env Environment) (*Sandbox, error) {
	if mode != ModeSystem && mode != ModeUser {
		return nil, fmt.Errorf("harness: %w: %q", ErrUnknownInstallation, mode)
	}

	if baseDir == "" || !filepath.IsAbs(baseDir) {
		return nil, fmt.Errorf("harness: base directory %q is not absolute", baseDir)
	}

	env = cloneEnvironment(env)

	s := &Sandbox{
		Mode:           mode,
		HomeDir:        filepath.Join(baseDir, "home"),
		SystemDir:      filepath.Join(baseDir, "system"),
		UserDir:        filepath.Join(baseDir, "user"),
		SystemCacheDir: filepath.Join(baseDir, "system-cache"),
		workDir:        env.WorkDir,
	}

	for _, dir := range []string{s.HomeDir, s.SystemDir, s.UserDir, s.SystemCacheDir} {
		err := os.Mkdir(dir, 0o755)
		if err != nil {
			return nil, fmt.Errorf("harness: creating sandbox directory: %w", err)
		}
	}

	// The inactive store gets a nonexistent path so nothing falls back to it.
	systemDir := s.SystemDir
	userDir := s.UserDir

	switch mode {
	case ModeSystem:
		userDir += disabledSuffix
	case ModeUser:
		systemDir += disabledSuffix
	}

	overlay := env.HostEnv

	overlay[EnvSystemDir] = systemDir
	overlay[EnvSystemCacheDir] = s.SystemCacheDir
	overlay[EnvUserDir] = userDir
	overlay[EnvHelperOnSession] = "1"
	overlay[EnvHome] = s.HomeDir
	overlay[EnvXDGCacheHome] = filepath.Join(s.HomeDir, "cache")
	overlay[EnvXDGConfigHome] = filepath.Join(s.HomeDir, "config")
	overlay[EnvXDGDataHome] = filepath.Join(s.HomeDir, "share")

	// Inherited session state would leak host services into the test.
	delete(overlay, EnvDisplay)
	delete(overlay, EnvBusAddress)
	delete(overlay, EnvBusPID)

	s.env = overlay

	return s, nil
}

// Setenv publishes a value into the sandbox environment. It is how service
// managers expose readiness data (bus address, display name) to subsequent
// command invocations.
func (s *Sandbox) Setenv(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.env[key] = value
}

// Unsetenv removes a key from the sandbox environment.
func (s *Sandbox) Unsetenv(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.env, key)
}

// Getenv returns the sandbox environment value for key, or "".
func (s *Sandbox) Getenv(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.env[key]
}

// Environ returns the sandbox environment as a sorted KEY=VALUE slice.
//
// Sorting improves determinism in tests and makes debug output stable.
func (s *Sandbox) Environ() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.env) == 0 {
		return []string{}
	}

	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.env[k])
	}

	return out
}

// WorkDir returns the directory tool processes run in.
func (s *Sandbox) WorkDir() string { return s.workDir }
