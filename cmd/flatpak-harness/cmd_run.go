package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/flatpak-harness/harness"
)

// Static errors for platform prerequisites and flag parsing.
var (
	// ErrNotLinux is returned when running on a non-Linux platform.
	ErrNotLinux = errors.New("flatpak-harness requires Linux")
	// ErrNoApps is returned when the run command has no apps to exercise.
	ErrNoApps = errors.New("no apps to exercise (configure apps or pass --app)")
	// ErrInvalidAppFlag is returned when an --app flag value is malformed.
	ErrInvalidAppFlag = errors.New("invalid --app format: expected ID=WINDOW-TITLE")
)

// RunCmd creates the run command: the full install / launch / observe /
// uninstall scenario for every configured app.
func RunCmd(cfg *Config, env map[string]string) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.Bool("debug", false, "Print harness internals to stderr")
	flags.String("installation", "", "Installation mode under test (system|user)")
	flags.String("tool", "", "Path to the CLI under test")
	flags.String("work-dir", "", "Use `dir` as the work area instead of a fresh temp dir")
	flags.Bool("keep", false, "Keep the work area after the run")
	flags.StringArray("app", nil, "App to exercise as ID=WINDOW-TITLE (repeatable)")
	flags.Duration("window-timeout", 0, "Override the window wait timeout")

	return &Command{
		Flags:   flags,
		Usage:   "run [flags]",
		Short:   "Exercise the configured apps end to end",
		Long: "Install, launch, observe, and uninstall every configured app inside a\n" +
			"disposable sandbox with a private session bus and virtual display.\n" +
			"Exits 0 only when every app passes.",
		Aliases: []string{},
		Exec: func(ctx context.Context, _ io.Reader, stdout, stderr io.Writer, _ []string) error {
			if runtime.GOOS != "linux" {
				return ErrNotLinux
			}

			debugEnabled, _ := flags.GetBool("debug")

			var debug *DebugLogger
			if debugEnabled {
				debug = NewDebugLogger(stderr)
			} else {
				debug = NewDebugLogger(nil)
			}

			err := applyRunFlags(cfg, flags)
			if err != nil {
				return err
			}

			apps, err := appsFromConfig(cfg)
			if err != nil {
				return err
			}

			debugConfig(debug, cfg)

			workArea, cleanup, err := setupWorkArea(flags)
			if err != nil {
				return err
			}
			defer cleanup(stderr)

			hcfg, err := toHarnessConfig(cfg, workArea)
			if err != nil {
				return err
			}

			hcfg.Environment = &harness.Environment{WorkDir: cfg.EffectiveCwd, HostEnv: env}

			if debug.Enabled() {
				hcfg.Debugf = debug.Logf
			}

			h, err := harness.New(hcfg)
			if err != nil {
				return err
			}

			debugSandbox(debug, h.Sandbox())

			result := runSuite(ctx, stdout, stderr, h, apps)

			closeErr := h.Close()
			if closeErr != nil {
				fprintError(stderr, fmt.Errorf("teardown: %w", closeErr))
			}

			fprintf(stdout, "\n%d passed, %d failed\n", result.passed, result.failed)

			if result.failed > 0 || closeErr != nil {
				return ErrSilentExit
			}

			return nil
		},
	}
}

type suiteResult struct {
	passed int
	failed int
}

// runSuite verifies the tool version, then exercises every app. Failures
// are reported as they happen; the suite keeps going so one broken app does
// not hide results for the rest.
func runSuite(ctx context.Context, stdout, stderr io.Writer, h *harness.Harness, apps []harness.App) suiteResult {
	var result suiteResult

	sc := h.Scenario()

	version, err := sc.Version(ctx)
	if err != nil {
		fprintf(stdout, "%s version: %v\n", failLabel(), err)

		result.failed++

		return result
	}

	fprintf(stdout, "tool version: %s\n", version)

	for _, app := range apps {
		start := time.Now()

		err := sc.Exercise(ctx, app)
		if err != nil {
			fprintf(stdout, "%s %s\n", failLabel(), app.ID)
			fprintError(stderr, err)

			result.failed++

			if ctx.Err() != nil {
				// Cancelled mid-suite; remaining apps would all fail the
				// same way.
				return result
			}

			continue
		}

		fprintf(stdout, "%s %s (%s)\n", passLabel(), app.ID, time.Since(start).Round(time.Millisecond))

		result.passed++
	}

	return result
}

func passLabel() string {
	if IsTerminal() {
		return colorGreen + "PASS" + colorReset
	}

	return "PASS"
}

func failLabel() string {
	if IsTerminal() {
		return colorRed + "FAIL" + colorReset
	}

	return "FAIL"
}

// setupWorkArea resolves the work area directory and its cleanup. With
// --work-dir the directory is caller-owned and never removed; otherwise a
// fresh temp dir is created and removed unless --keep was given.
func setupWorkArea(flags *flag.FlagSet) (string, func(stderr io.Writer), error) {
	noop := func(io.Writer) {}

	if flags.Changed("work-dir") {
		dir, _ := flags.GetString("work-dir")

		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return "", noop, fmt.Errorf("creating work area: %w", err)
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", noop, fmt.Errorf("resolving work area: %w", err)
		}

		return abs, noop, nil
	}

	dir, err := os.MkdirTemp("", "flatpak-harness-")
	if err != nil {
		return "", noop, fmt.Errorf("creating work area: %w", err)
	}

	if keep, _ := flags.GetBool("keep"); keep {
		return dir, func(stderr io.Writer) {
			fprintln(stderr, "work area kept at", dir)
		}, nil
	}

	return dir, func(stderr io.Writer) {
		err := os.RemoveAll(dir)
		if err != nil {
			fprintError(stderr, fmt.Errorf("removing work area: %w", err))
		}
	}, nil
}

// applyRunFlags applies CLI flag overrides to the config.
// Only flags that were explicitly set override config values.
func applyRunFlags(cfg *Config, flags *flag.FlagSet) error {
	if flags.Changed("installation") {
		val, _ := flags.GetString("installation")
		cfg.Installation = val
	}

	if flags.Changed("tool") {
		val, _ := flags.GetString("tool")
		cfg.Tool = val
	}

	if flags.Changed("window-timeout") {
		val, _ := flags.GetDuration("window-timeout")
		cfg.WindowTimeout = val.String()
	}

	if flags.Changed("app") {
		vals, _ := flags.GetStringArray("app")

		apps := make([]AppConfig, 0, len(vals))

		for _, v := range vals {
			id, window, ok := strings.Cut(v, "=")

			id = strings.TrimSpace(id)
			window = strings.TrimSpace(window)

			if !ok || id == "" || window == "" {
				return fmt.Errorf("%w: %q", ErrInvalidAppFlag, v)
			}

			apps = append(apps, AppConfig{ID: id, Window: window})
		}

		cfg.Apps = apps
	}

	return nil
}

func appsFromConfig(cfg *Config) ([]harness.App, error) {
	if len(cfg.Apps) == 0 {
		return nil, ErrNoApps
	}

	apps := make([]harness.App, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		apps = append(apps, harness.App{ID: app.ID, WindowTitle: app.Window})
	}

	return apps, nil
}
