package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Test commands write to buffers, never a TTY. Stdin under `go test` is
// /dev/null, which is a character device, so the stdin-based detection
// would wrongly color the output.
func init() {
	isTerminal = func() bool { return false }
}

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skipf("test requires Linux, running on %s", runtime.GOOS)
	}
}

// CLI provides a clean interface for running the CLI in tests.
// It manages a temp directory and environment variables.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLITester creates a new test CLI with a temp directory. The environment
// is pre-seeded with PATH and an isolated XDG_CONFIG_HOME so a developer's
// global config never leaks into tests.
func NewCLITester(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{
			"PATH":            os.Getenv("PATH"),
			"XDG_CONFIG_HOME": filepath.Join(dir, "xdg-config"),
		},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and
// exit code. Args should not include "flatpak-harness" or "--cwd" - those
// are added automatically.
func (c *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"flatpak-harness", "--cwd", c.Dir}, args...)
	code := Run(nil, &outBuf, &errBuf, fullArgs, c.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return stdout
}

// MustFail executes the CLI and fails the test if the command succeeds.
func (c *CLI) MustFail(args ...string) (string, string) {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code == 0 {
		c.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return stdout, stderr
}

// WriteFile writes content to a file in the test directory.
func (c *CLI) WriteFile(relPath, content string) {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		c.t.Fatalf("creating dir for %s: %v", relPath, err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		c.t.Fatalf("writing %s: %v", relPath, err)
	}
}

// WriteExecutable writes an executable script to a file in the test
// directory and returns its absolute path.
func (c *CLI) WriteExecutable(relPath, content string) string {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		c.t.Fatalf("creating dir for %s: %v", relPath, err)
	}

	err = os.WriteFile(path, []byte(content), 0o755)
	if err != nil {
		c.t.Fatalf("writing %s: %v", relPath, err)
	}

	return path
}
