package harness

import (
	"context"
	"strings"
)

// App pairs an application id with the window title it is expected to show
// once running.
type App struct {
	// ID is the application id, e.g. "org.gnome.gedit".
	ID string
	// WindowTitle is a substring of the title of the window the application
	// opens on launch, e.g. "Gedit".
	WindowTitle string
}

// Scenario drives the install / run-and-observe / uninstall state machine
// against one Harness. Every method declares the services it needs; the
// Harness starts each lazily, at most once per run.
//
// Scenario failures come in two flavors: *[CommandError] when the tool
// itself exits non-zero, and *[VerificationError] when the tool succeeded
// but the externally observable state it should have produced is missing.
type Scenario struct {
	h *Harness
}

// Version runs the tool's --version and verifies the output carries the
// expected prefix and a dotted version number. The trimmed output is
// returned on success.
//
// Version needs no services; it is the cheapest possible smoke check that
// the tool under test is present and runnable.
func (s *Scenario) Version(ctx context.Context) (string, error) {
	out, err := s.h.runner.Run(ctx, "--version")
	if err != nil {
		return "", err
	}

	version := strings.TrimSpace(out.Stdout)

	if !strings.Contains(out.Stdout, s.h.cfg.VersionPrefix) {
		return version, verificationf("", "version output %q does not contain %q", version, s.h.cfg.VersionPrefix)
	}

	if !strings.Contains(out.Stdout, ".") {
		return version, verificationf("", "version output %q does not contain a dotted version", version)
	}

	return version, nil
}

// Installed reports whether app is currently installed in the installation
// under test. It never fails on a non-zero exit: "info" failing means "not
// installed". Only a failure to start the tool at all is an error.
func (s *Scenario) Installed(ctx context.Context, app string) (bool, error) {
	err := s.h.EnsureSession(ctx)
	if err != nil {
		return false, err
	}

	out, err := s.h.runner.RunSilent(ctx, "info", s.h.cfg.Mode.Flag(), app)
	if err != nil {
		return false, err
	}

	return out.ExitCode == 0, nil
}

// Install installs app from the configured remote and verifies the result.
//
// Install is idempotent: when app is already installed it returns without
// invoking the installer again. After a fresh install it verifies both that
// "info" now succeeds and that app appears in the installation listing;
// either check failing after a successful install is a *VerificationError.
func (s *Scenario) Install(ctx context.Context, app string) error {
	err := s.h.EnsureRemote(ctx)
	if err != nil {
		return err
	}

	installed, err := s.Installed(ctx, app)
	if err != nil {
		return err
	}

	if installed {
		return nil
	}

	_, err = s.h.runner.Run(ctx, "install", s.h.cfg.Mode.Flag(), "-y", s.h.cfg.Remote.Name, app)
	if err != nil {
		return err
	}

	installed, err = s.Installed(ctx, app)
	if err != nil {
		return err
	}

	if !installed {
		return verificationf(app, "install succeeded but info does not find it")
	}

	list, err := s.h.runner.Run(ctx, "list", s.h.cfg.Mode.Flag())
	if err != nil {
		return err
	}

	if !strings.Contains(list.Stdout, app) {
		return verificationf(app, "installed but missing from list output")
	}

	return nil
}

// RunAndObserve launches app on the private display and waits, bounded by
// the configured window timeout, for a window titled windowTitle to appear.
// The launched process is terminated before RunAndObserve returns, whether
// or not the window showed up.
//
// The app exiting before its window appears is a *VerificationError, as is
// the window never appearing within the timeout.
func (s *Scenario) RunAndObserve(ctx context.Context, app, windowTitle string) error {
	err := s.h.EnsureSession(ctx)
	if err != nil {
		return err
	}

	err = s.h.EnsureDisplay(ctx)
	if err != nil {
		return err
	}

	proc, err := s.h.runner.Start(ctx, "run", app)
	if err != nil {
		return err
	}

	defer proc.Kill() //nolint:errcheck // termination is best-effort; the window result decides the outcome.

	probe := s.h.WindowProbe()

	res, err := WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		if code := proc.Poll(); code != nil {
			return false, verificationf(app, "exited with status %d before its window appeared", *code)
		}

		return probe.Exists(ctx, windowTitle)
	}, s.h.cfg.WindowTimeout, s.h.cfg.PollInterval)
	if err != nil {
		return err
	}

	if s.h.cfg.Debugf != nil {
		s.h.cfg.Debugf("harness(observe): app=%s satisfied=%t attempts=%d elapsed=%s", app, res.Satisfied, res.Attempts, res.Elapsed)
	}

	if !res.Satisfied {
		return verificationf(app, "window %q did not appear within %s", windowTitle, s.h.cfg.WindowTimeout)
	}

	return nil
}

// Uninstall removes app from the installation under test and verifies it is
// gone: "info" still succeeding afterwards is a *VerificationError.
func (s *Scenario) Uninstall(ctx context.Context, app string) error {
	err := s.h.EnsureSession(ctx)
	if err != nil {
		return err
	}

	_, err = s.h.runner.Run(ctx, "uninstall", s.h.cfg.Mode.Flag(), app)
	if err != nil {
		return err
	}

	installed, err := s.Installed(ctx, app)
	if err != nil {
		return err
	}

	if installed {
		return verificationf(app, "uninstall succeeded but info still finds it")
	}

	return nil
}

// Exercise runs the full scenario for app: install, launch and wait for the
// window, terminate, uninstall. It stops at the first failing step.
func (s *Scenario) Exercise(ctx context.Context, app App) error {
	err := s.Install(ctx, app.ID)
	if err != nil {
		return err
	}

	err = s.RunAndObserve(ctx, app.ID, app.WindowTitle)
	if err != nil {
		return err
	}

	return s.Uninstall(ctx, app.ID)
}

// remoteService configures the remote source on the installation under test.
// It is modeled as a Service so the registry's memoization gives "configure
// at most once per run" for free; Stop is a no-op because remote
// configuration lives inside the disposable sandbox anyway.
type remoteService struct {
	runner *Runner
	mode   InstallationMode
	remote Remote
}

func (r *remoteService) Name() string { return "remote" }

func (r *remoteService) Start(ctx context.Context) error {
	_, err := r.runner.Run(ctx, "remote-add", r.mode.Flag(), "--if-not-exists", r.remote.Name, r.remote.URL)

	return err
}

func (r *remoteService) Stop() error { return nil }
