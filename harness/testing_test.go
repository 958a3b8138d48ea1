package harness_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/calvinalkan/flatpak-harness/harness"
)

// requireLinux skips the test if not running on Linux.
func requireLinux(t *testing.T) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skipf("test requires Linux, running on %s", runtime.GOOS)
	}
}

// writeExecutable writes an executable script into dir and returns its path.
func writeExecutable(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)

	err := os.WriteFile(path, []byte(content), 0o755)
	if err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}

	return path
}

// fakeToolScript is a scripted stand-in for the CLI under test. It records
// every invocation in $FAKEPAK_STATE/log and keeps installed-state as marker
// files, so tests can assert on exactly which commands ran.
const fakeToolScript = `#!/bin/sh
state="$FAKEPAK_STATE"
printf '%s\n' "$*" >>"$state/log"

cmd="$1"
shift

positional=""
for arg in "$@"; do
	case "$arg" in
	-*) ;;
	*) positional="$positional $arg" ;;
	esac
done
# shellcheck disable=SC2086
set -- $positional

case "$cmd" in
--version)
	echo "Flatpak 1.15.4"
	;;
remote-add)
	touch "$state/remote-$1"
	;;
info)
	test -e "$state/installed-$1"
	;;
install)
	touch "$state/installed-$2"
	;;
list)
	for f in "$state"/installed-*; do
		[ -e "$f" ] || continue
		basename "$f" | sed 's/^installed-//'
	done
	;;
run)
	sleep 60
	;;
uninstall)
	rm -f "$state/installed-$1"
	;;
*)
	echo "unknown command $cmd" >&2
	exit 1
	;;
esac
`

// fakeBusScript mimics a forking bus daemon: it announces an address and a
// PID on stdout and exits. The announced PID is the script's own (already
// exited) shell, so teardown exercises the dead-process path.
const fakeBusScript = `#!/bin/sh
echo "unix:abstract=/tmp/fake-bus-$$ $$"
`

// fakeDaemonScript stands in for long-running background services (display
// server, privileged helper).
const fakeDaemonScript = `#!/bin/sh
sleep 60
`

// fakeListerScript always reports a Gedit window.
const fakeListerScript = `#!/bin/sh
echo '     0x1600005 "Gedit": ("gedit" "Gedit")  900x600+10+10  +10+10'
`

// fixture wires a Harness against scripted fakes for every external binary.
type fixture struct {
	t     *testing.T
	h     *harness.Harness
	state string
	bin   string
}

type fixtureConfig struct {
	mode harness.InstallationMode

	// toolScript overrides fakeToolScript.
	toolScript string
	// listerScript overrides fakeListerScript.
	listerScript string
	// windowTimeout overrides the 3s test default.
	windowTimeout time.Duration
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	requireLinux(t)

	if cfg.mode == "" {
		cfg.mode = harness.ModeUser
	}

	if cfg.toolScript == "" {
		cfg.toolScript = fakeToolScript
	}

	if cfg.listerScript == "" {
		cfg.listerScript = fakeListerScript
	}

	if cfg.windowTimeout == 0 {
		cfg.windowTimeout = 3 * time.Second
	}

	state := t.TempDir()
	bin := t.TempDir()

	tool := writeExecutable(t, bin, "fakepak", cfg.toolScript)
	bus := writeExecutable(t, bin, "fake-dbus", fakeBusScript)
	xvfb := writeExecutable(t, bin, "fake-xvfb", fakeDaemonScript)
	helper := writeExecutable(t, bin, "fake-helper", fakeDaemonScript)
	lister := writeExecutable(t, bin, "fake-lister", cfg.listerScript)

	base := t.TempDir()

	env := harness.Environment{
		WorkDir: base,
		HostEnv: map[string]string{
			"PATH":          os.Getenv("PATH"),
			"FAKEPAK_STATE": state,
		},
	}

	h, err := harness.New(harness.Config{
		BaseDir:        base,
		Mode:           cfg.mode,
		Tool:           tool,
		HelperPath:     helper,
		BusDaemon:      bus,
		Xvfb:           xvfb,
		DisplayNumber:  displayNumber(t),
		DisplayLockDir: t.TempDir(),
		WindowCommand:  []string{lister},
		Remote:         harness.Remote{Name: "testhub", URL: "https://example.org/testhub.flatpakrepo"},
		WindowTimeout:  cfg.windowTimeout,
		PollInterval:   20 * time.Millisecond,
		Environment:    &env,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = h.Close() })

	return &fixture{t: t, h: h, state: state, bin: bin}
}

// displayNumber returns a display number unlikely to collide across
// parallel tests in this package.
var displaySeq = make(chan int, 1)

func init() {
	displaySeq <- 1000
}

func displayNumber(t *testing.T) int {
	t.Helper()

	n := <-displaySeq
	displaySeq <- n + 1

	return n
}

// logLines returns the recorded fake tool invocations, one per line.
func (f *fixture) logLines() []string {
	f.t.Helper()

	data, err := os.ReadFile(filepath.Join(f.state, "log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		f.t.Fatalf("reading fake tool log: %v", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

// countInvocations counts recorded invocations whose first token is cmd.
func (f *fixture) countInvocations(cmd string) int {
	f.t.Helper()

	data, err := os.ReadFile(filepath.Join(f.state, "log"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}

		f.t.Fatalf("reading fake tool log: %v", err)
	}

	count := 0

	for line := range strings.Lines(string(data)) {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == cmd {
			count++
		}
	}

	return count
}

// installed reports whether the fake tool currently has app installed.
func (f *fixture) installed(app string) bool {
	f.t.Helper()

	_, err := os.Stat(filepath.Join(f.state, "installed-"+app))

	return err == nil
}
