package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Output is the captured result of one synchronous tool invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes the tool under test inside the sandbox environment.
//
// Arguments always travel to the kernel as an argument vector; no shell is
// involved, so no quoting or injection hazards exist. The shell-quoted
// rendering produced for debug output is cosmetic only.
type Runner struct {
	// Tool is the path or PATH-resolvable name of the binary under test.
	Tool string

	sandbox *Sandbox
	debugf  Debugf
}

// NewRunner returns a Runner bound to the sandbox environment.
func NewRunner(tool string, sandbox *Sandbox, debugf Debugf) *Runner {
	return &Runner{Tool: tool, sandbox: sandbox, debugf: debugf}
}

// Run executes the tool synchronously and captures its output. A non-zero
// exit status fails with a *[CommandError] carrying the captured output.
//
// The call blocks until the tool exits; ctx cancellation kills the process.
func (r *Runner) Run(ctx context.Context, args ...string) (Output, error) {
	return r.run(ctx, args, true)
}

// RunSilent executes the tool synchronously like Run, but a non-zero exit
// status is not an error: the Output (with its non-zero ExitCode) is handed
// back for the caller to branch on. Only failures to start the process at
// all are reported as errors.
func (r *Runner) RunSilent(ctx context.Context, args ...string) (Output, error) {
	return r.run(ctx, args, false)
}

func (r *Runner) run(ctx context.Context, args []string, raise bool) (Output, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.Tool, args...)
	cmd.Dir = r.sandbox.WorkDir()
	cmd.Env = r.sandbox.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.debugf != nil {
		r.debugf("harness(run): %s", CommandString(append([]string{r.Tool}, args...)))
	}

	err := cmd.Run()

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("harness: running %s: %w", r.Tool, err)
		}

		out.ExitCode = exitErr.ExitCode()

		if raise {
			return out, &CommandError{Args: args, Output: out}
		}
	}

	return out, nil
}

// Start executes the tool asynchronously. The returned handle supports
// non-blocking exit polling and idempotent termination; the caller is
// responsible for terminating it before the enclosing scenario returns.
func (r *Runner) Start(ctx context.Context, args ...string) (*AsyncCommand, error) {
	cmd := exec.CommandContext(ctx, r.Tool, args...)
	cmd.Dir = r.sandbox.WorkDir()
	cmd.Env = r.sandbox.Environ()

	if r.debugf != nil {
		r.debugf("harness(start): %s", CommandString(append([]string{r.Tool}, args...)))
	}

	return startAsync(cmd)
}

// AsyncCommand is a handle to a running background process.
//
// The zero value is invalid; handles come from [Runner.Start] or
// startAsync. All methods are safe for concurrent use.
type AsyncCommand struct {
	cmd  *exec.Cmd
	done chan struct{}

	// exitCode is valid only after done is closed.
	exitCode int

	killOnce sync.Once
	killErr  error
}

// startAsync starts cmd and reaps it in the background so Poll never blocks
// and exited processes never linger as zombies.
func startAsync(cmd *exec.Cmd) (*AsyncCommand, error) {
	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("harness: starting %s: %w", cmd.Path, err)
	}

	a := &AsyncCommand{cmd: cmd, done: make(chan struct{})}

	go func() {
		a.exitCode = exitCodeOf(cmd.Wait())
		close(a.done)
	}()

	return a, nil
}

// PID returns the process id of the underlying process.
func (a *AsyncCommand) PID() int {
	return a.cmd.Process.Pid
}

// Poll is a non-blocking refresh of the exit status. It returns nil while
// the process is still running, and a pointer to the exit code once it has
// exited.
func (a *AsyncCommand) Poll() *int {
	select {
	case <-a.done:
		code := a.exitCode
		return &code
	default:
		return nil
	}
}

// Wait blocks until the process has exited and been reaped, then returns
// its exit code. Safe to call any number of times.
func (a *AsyncCommand) Wait() int {
	<-a.done

	return a.exitCode
}

// Signal delivers sig to the process. Signaling an already-exited process
// is a no-op, not an error.
func (a *AsyncCommand) Signal(sig os.Signal) error {
	err := a.cmd.Process.Signal(sig)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("harness: signaling %s: %w", a.cmd.Path, err)
	}

	return nil
}

// Kill terminates the process and waits for it to be reaped. It is
// idempotent and safe to call on an already-exited process; repeated calls
// return the first call's result.
func (a *AsyncCommand) Kill() error {
	a.killOnce.Do(func() {
		err := a.cmd.Process.Kill()
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			a.killErr = fmt.Errorf("harness: killing %s: %w", a.cmd.Path, err)
			return
		}

		<-a.done
	})

	return a.killErr
}

// exitCodeOf maps a cmd.Wait result to an exit code. Wait errors that are
// not exit statuses (a kill before start completed, an I/O failure) map to
// -1, matching exec.ExitError behavior for signaled processes.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// CommandString renders argv as a copy-pasteable shell command line, quoting
// every argument that needs it. It exists for debug output only; execution
// always uses the argument vector directly.
func CommandString(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, arg := range argv {
		quoted = append(quoted, shellQuoteIfNeeded(arg))
	}

	return strings.Join(quoted, " ")
}

// shellQuoteIfNeeded returns the string quoted if it contains special
// characters, otherwise returns it unchanged.
func shellQuoteIfNeeded(str string) string {
	if str == "" {
		return "''"
	}

	for _, c := range str {
		if !isShellSafeChar(c) {
			// Use single quotes for safety, escaping any existing single quotes
			escaped := strings.ReplaceAll(str, "'", "'\"'\"'")

			return "'" + escaped + "'"
		}
	}

	return str
}

// isShellSafeChar returns true if the character doesn't need quoting in shell.
func isShellSafeChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '/' || c == ':' || c == '='
}
