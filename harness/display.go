package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// DisplayService manages a headless virtual display server on a fixed
// display number. A file lock in LockDir guards the number so concurrent
// harness instances on one machine fail fast instead of racing the server's
// own socket claim.
type DisplayService struct {
	Sandbox *Sandbox

	// Xvfb is the virtual display server binary.
	Xvfb string
	// Number is the display number to claim, e.g. 42 for ":42".
	Number int
	// LockDir holds the display lock file. Defaults to the OS temp dir.
	LockDir string

	Debugf Debugf

	lock   *flock.Flock
	server *AsyncCommand
}

// Name implements Service.
func (d *DisplayService) Name() string { return "display" }

// Display returns the display string the service claims, e.g. ":42".
func (d *DisplayService) Display() string { return fmt.Sprintf(":%d", d.Number) }

// Start implements Service. It acquires the display-number lock, launches
// the server as a background process, and publishes DISPLAY into the
// sandbox environment.
func (d *DisplayService) Start(ctx context.Context) error {
	lockDir := d.LockDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}

	lockPath := filepath.Join(lockDir, fmt.Sprintf("flatpak-harness-display-%d.lock", d.Number))

	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("harness: locking display %s: %w", d.Display(), err)
	}

	if !locked {
		return fmt.Errorf("harness: display %s is held by another harness (lock %s)", d.Display(), lockPath)
	}

	cmd := exec.CommandContext(ctx, d.Xvfb, d.Display())
	cmd.Env = d.Sandbox.Environ()

	server, err := startAsync(cmd)
	if err != nil {
		unlockErr := lock.Unlock()

		return errors.Join(fmt.Errorf("harness: starting display server: %w", err), unlockErr)
	}

	d.lock = lock
	d.server = server
	d.Sandbox.Setenv(EnvDisplay, d.Display())

	if d.Debugf != nil {
		d.Debugf("harness(display): %s pid=%d lock=%s", d.Display(), server.PID(), lockPath)
	}

	return nil
}

// Stop implements Service: a terminate signal to the server, then the lock
// is released. Safe to call when the server already exited.
//
// The lock is held until the server has actually exited; releasing it while
// the server is still dying would let a successor race its socket claim.
func (d *DisplayService) Stop() error {
	var errs []error

	if d.server != nil {
		err := d.server.Signal(unix.SIGTERM)
		if err != nil {
			errs = append(errs, err)
		} else {
			d.server.Wait()
		}

		d.server = nil
	}

	if d.lock != nil {
		err := d.lock.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("harness: releasing display lock: %w", err))
		}

		d.lock = nil
	}

	return errors.Join(errs...)
}
