package harness_test

import (
	"strings"
	"testing"

	"github.com/calvinalkan/flatpak-harness/harness"
)

func newServiceSandbox(t *testing.T, mode harness.InstallationMode) *harness.Sandbox {
	t.Helper()
	requireLinux(t)

	base := t.TempDir()

	s, err := harness.NewSandbox(base, mode, harness.Environment{
		WorkDir: base,
		HostEnv: map[string]string{"PATH": "/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}

	return s
}

func Test_SessionService_Publishes_Bus_Address_And_PID(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeUser)

	svc := &harness.SessionService{
		Sandbox:   sandbox,
		BusDaemon: writeExecutable(t, t.TempDir(), "fake-dbus", fakeBusScript),
	}

	err := svc.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	t.Cleanup(func() { _ = svc.Stop() })

	if got := sandbox.Getenv("DBUS_SESSION_BUS_ADDRESS"); !strings.HasPrefix(got, "unix:abstract=") {
		t.Errorf("DBUS_SESSION_BUS_ADDRESS = %q, want unix:abstract address", got)
	}

	if got := sandbox.Getenv("DBUS_SESSION_BUS_PID"); got == "" {
		t.Error("DBUS_SESSION_BUS_PID not published")
	}
}

func Test_SessionService_Skips_Helper_In_User_Mode(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeUser)

	// A helper path that would fail to start proves it is never invoked.
	svc := &harness.SessionService{
		Sandbox:    sandbox,
		BusDaemon:  writeExecutable(t, t.TempDir(), "fake-dbus", fakeBusScript),
		HelperPath: "/nonexistent/helper",
	}

	err := svc.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func Test_SessionService_Starts_Helper_In_System_Mode(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeSystem)
	bin := t.TempDir()

	svc := &harness.SessionService{
		Sandbox:    sandbox,
		BusDaemon:  writeExecutable(t, bin, "fake-dbus", fakeBusScript),
		HelperPath: writeExecutable(t, bin, "fake-helper", fakeDaemonScript),
	}

	err := svc.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func Test_SessionService_Start_Fails_When_Bus_Cannot_Start(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeUser)

	svc := &harness.SessionService{
		Sandbox:   sandbox,
		BusDaemon: "/nonexistent/dbus-daemon",
	}

	err := svc.Start(t.Context())
	if err == nil {
		t.Fatal("Start succeeded with nonexistent bus daemon")
	}
}

func Test_SessionService_Start_Fails_On_Malformed_Bus_Announcement(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeUser)

	svc := &harness.SessionService{
		Sandbox:   sandbox,
		BusDaemon: writeExecutable(t, t.TempDir(), "bad-dbus", "#!/bin/sh\necho onlyonetoken\n"),
	}

	err := svc.Start(t.Context())
	if err == nil {
		t.Fatal("Start succeeded on malformed announcement")
	}
}

func Test_SessionService_Stop_Tolerates_Dead_Bus_Process(t *testing.T) {
	t.Parallel()

	sandbox := newServiceSandbox(t, harness.ModeUser)

	// The fake announces its own shell PID, which has exited by the time
	// Stop signals it.
	svc := &harness.SessionService{
		Sandbox:   sandbox,
		BusDaemon: writeExecutable(t, t.TempDir(), "fake-dbus", fakeBusScript),
	}

	err := svc.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
