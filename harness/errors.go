package harness

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownInstallation is returned when an InstallationMode is not one of
// the two recognized values. It is a configuration error and fatal.
var ErrUnknownInstallation = errors.New("unknown installation mode")

// CommandError reports a synchronous tool invocation that exited non-zero.
// It carries the full captured output so callers (and failure reports) can
// show what the tool said.
//
// Silent runs ([Runner.RunSilent]) never produce a CommandError; they hand
// the non-zero Output back to the caller to branch on.
type CommandError struct {
	// Args is the argument vector the tool was invoked with.
	Args []string
	// Output is the captured result, including the non-zero exit code.
	Output Output
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", strings.Join(e.Args, " "), e.Output.ExitCode)

	stderr := strings.TrimSpace(e.Output.Stderr)
	if stderr != "" {
		msg += ": " + stderr
	}

	return msg
}

// VerificationError reports that expected externally observable state was
// not reached: an app not installed or not uninstalled, a window that never
// appeared, a process that exited early. These are the user-visible test
// failures.
type VerificationError struct {
	// App is the application id the scenario was exercising.
	App string
	// Reason is a human-readable description of the unmet expectation.
	Reason string
}

func (e *VerificationError) Error() string {
	if e.App == "" {
		return "verification failed: " + e.Reason
	}

	return fmt.Sprintf("verification failed for %s: %s", e.App, e.Reason)
}

// verificationf builds a VerificationError for app.
func verificationf(app, format string, args ...any) error {
	return &VerificationError{App: app, Reason: fmt.Sprintf(format, args...)}
}
