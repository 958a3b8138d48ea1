package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SessionService manages the private session message bus and, when the
// installation mode requires elevated operations, the privileged helper
// daemon attached to it.
//
// Start runs the bus daemon in forking mode, parses the address and PID it
// announces on stdout, and publishes both into the sandbox environment so
// every later tool invocation finds the private bus. The helper is started
// afterwards on that same bus with idle-exit disabled, because it must stay
// up for the whole run.
//
// A bus start failure is fatal to the run and propagated, never retried:
// every subsequent tool invocation depends on the bus.
type SessionService struct {
	Sandbox *Sandbox

	// BusDaemon is the session bus binary.
	BusDaemon string
	// HelperPath is the privileged helper binary. Only used when the
	// sandbox mode requires it.
	HelperPath string

	Debugf Debugf

	busPID int
	helper *AsyncCommand
}

// Name implements Service.
func (s *SessionService) Name() string { return "session-bus" }

// Start implements Service. The bus daemon forks, prints its address and
// PID, and exits; the helper (system mode only) stays attached to the bus
// as a background process.
func (s *SessionService) Start(ctx context.Context) error {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, s.BusDaemon, "--fork", "--session", "--print-address=1", "--print-pid=1")
	cmd.Env = s.Sandbox.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("harness: starting session bus: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	address, pid, err := parseBusOutput(stdout.String())
	if err != nil {
		return fmt.Errorf("harness: starting session bus: %w", err)
	}

	s.busPID = pid
	s.Sandbox.Setenv(EnvBusAddress, address)
	s.Sandbox.Setenv(EnvBusPID, strconv.Itoa(pid))

	if s.Debugf != nil {
		s.Debugf("harness(session-bus): address=%s pid=%d", address, pid)
	}

	if !s.Sandbox.Mode.RequiresHelper() {
		return nil
	}

	helperCmd := exec.CommandContext(ctx, s.HelperPath, "--session", "--no-idle-exit")
	helperCmd.Env = s.Sandbox.Environ()

	helper, err := startAsync(helperCmd)
	if err != nil {
		// The bus is already up; take it down again so a failed Start
		// leaves nothing behind.
		stopErr := s.stopBus()

		return errors.Join(fmt.Errorf("harness: starting privileged helper: %w", err), stopErr)
	}

	s.helper = helper

	if s.Debugf != nil {
		s.Debugf("harness(session-bus): helper pid=%d", helper.PID())
	}

	return nil
}

// Stop implements Service: a terminate signal to the helper first, then a
// graceful interrupt to the bus daemon. Both tolerate the process already
// being gone, so Stop is safe after crashes.
func (s *SessionService) Stop() error {
	var errs []error

	if s.helper != nil {
		err := s.helper.Signal(unix.SIGTERM)
		if err != nil {
			errs = append(errs, err)
		}

		s.helper = nil
	}

	errs = append(errs, s.stopBus())

	return errors.Join(errs...)
}

func (s *SessionService) stopBus() error {
	if s.busPID <= 0 {
		return nil
	}

	err := unix.Kill(s.busPID, unix.SIGINT)

	s.busPID = 0

	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("harness: interrupting session bus: %w", err)
	}

	return nil
}

// parseBusOutput extracts the announced bus address and PID: the first two
// whitespace-separated tokens of the daemon's startup output.
func parseBusOutput(out string) (address string, pid int, err error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return "", 0, fmt.Errorf("bus daemon announced %d tokens, want address and pid: %q", len(fields), strings.TrimSpace(out))
	}

	pid, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("bus daemon announced malformed pid %q", fields[1])
	}

	return fields[0], pid, nil
}
