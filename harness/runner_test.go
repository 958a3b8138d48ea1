package harness_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calvinalkan/flatpak-harness/harness"
)

func newTestRunner(t *testing.T, script string) *harness.Runner {
	t.Helper()
	requireLinux(t)

	base := t.TempDir()

	tool := writeExecutable(t, t.TempDir(), "tool", script)

	s, err := harness.NewSandbox(base, harness.ModeUser, harness.Environment{
		WorkDir: base,
		HostEnv: map[string]string{"PATH": "/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}

	return harness.NewRunner(tool, s, nil)
}

func Test_Runner_Run_Captures_Output(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\necho out one\necho err one >&2\n")

	out, err := r.Run(t.Context(), "anything")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := strings.TrimSpace(out.Stdout); got != "out one" {
		t.Errorf("Stdout = %q, want %q", got, "out one")
	}

	if got := strings.TrimSpace(out.Stderr); got != "err one" {
		t.Errorf("Stderr = %q, want %q", got, "err one")
	}

	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
}

func Test_Runner_Run_Returns_CommandError_On_NonZero_Exit(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\necho broken >&2\nexit 7\n")

	_, err := r.Run(t.Context(), "install", "x")

	var cmdErr *harness.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", err)
	}

	if cmdErr.Output.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", cmdErr.Output.ExitCode)
	}

	if !strings.Contains(cmdErr.Error(), "broken") {
		t.Errorf("Error() = %q, want to contain stderr", cmdErr.Error())
	}

	if !strings.Contains(cmdErr.Error(), "install x") {
		t.Errorf("Error() = %q, want to contain argv", cmdErr.Error())
	}
}

func Test_Runner_RunSilent_Hands_Back_NonZero_Exit(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\nexit 1\n")

	out, err := r.RunSilent(t.Context(), "info", "x")
	if err != nil {
		t.Fatalf("RunSilent: %v", err)
	}

	if out.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", out.ExitCode)
	}
}

func Test_Runner_Run_Uses_Sandbox_Environment(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\necho \"$HOME\"\n")

	out, err := r.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.Stdout, "/home") {
		t.Errorf("Stdout = %q, want the sandbox home dir", out.Stdout)
	}
}

func Test_AsyncCommand_Poll_Reports_Exit(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\nexit 3\n")

	proc, err := r.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)

	for {
		if code := proc.Poll(); code != nil {
			if *code != 3 {
				t.Fatalf("exit code = %d, want 3", *code)
			}

			return
		}

		if time.Now().After(deadline) {
			t.Fatal("process never reported exit")
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func Test_AsyncCommand_Kill_Is_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, "#!/bin/sh\nsleep 60\n")

	proc, err := r.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if code := proc.Poll(); code != nil {
		t.Fatalf("process exited immediately with %d", *code)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}

	if code := proc.Poll(); code == nil {
		t.Fatal("Poll = nil after Kill, want exit code")
	}
}

func Test_CommandString_Quotes_Unsafe_Arguments(t *testing.T) {
	t.Parallel()

	got := harness.CommandString([]string{"flatpak", "install", "-y", "app with space", ""})

	want := "flatpak install -y 'app with space' ''"
	if got != want {
		t.Errorf("CommandString = %q, want %q", got, want)
	}
}
