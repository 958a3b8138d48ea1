package harness

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WindowProbe checks whether an application window with a given title exists
// on the sandbox's private display by scanning the output of a window-listing
// command (by default xwininfo) for the quoted title.
type WindowProbe struct {
	Sandbox *Sandbox

	// Command is the window-listing command and its arguments. Its combined
	// stdout/stderr is scanned.
	Command []string
}

// Exists reports whether a window whose title contains title is currently
// present. Failures of the listing command are transient: right after the
// display server starts, or before the first window is mapped, the command
// may legitimately fail.
func (p *WindowProbe) Exists(ctx context.Context, title string) (bool, error) {
	if len(p.Command) == 0 {
		return false, fmt.Errorf("harness: window probe has no command")
	}

	var combined bytes.Buffer

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Env = p.Sandbox.Environ()
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err != nil {
		return false, Transient(fmt.Errorf("harness: listing windows: %w", err))
	}

	// Window listings quote titles, so matching the quoted form avoids
	// false positives on window IDs or geometry.
	return strings.Contains(combined.String(), `"`+title+`"`), nil
}

// Condition adapts Exists into a poll probe for WaitUntil.
func (p *WindowProbe) Condition(title string) Probe {
	return func(ctx context.Context) (bool, error) {
		return p.Exists(ctx, title)
	}
}
