package main

import (
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/flatpak-harness/harness"
)

// CheckCmd creates the check command: host prerequisite detection.
func CheckCmd(cfg *Config) *Command {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.BoolP("quiet", "q", false, "Quiet mode, no output")

	return &Command{
		Flags: flags,
		Usage: "check [flags]",
		Short: "Check host prerequisites",
		Long: "Check that every external binary a run needs is available on this host.\n" +
			"Exits 0 if all prerequisites are met, 1 otherwise.",
		Aliases: []string{},
		Exec: func(_ context.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
			quiet, _ := flags.GetBool("quiet")

			report := func(label string, ok bool, detail string) {
				if quiet {
					return
				}

				status := "ok"
				if !ok {
					status = "MISSING"
				}

				if detail != "" {
					fprintf(stdout, "%-16s %-8s %s\n", label, status, detail)
				} else {
					fprintf(stdout, "%-16s %s\n", label, status)
				}
			}

			allOK := true

			check := func(label string, ok bool, detail string) {
				report(label, ok, detail)

				if !ok {
					allOK = false
				}
			}

			check("platform", runtime.GOOS == "linux", runtime.GOOS)

			toolOK, toolDetail := binaryInPath(orDefault(cfg.Tool, harness.DefaultTool))
			check("tool", toolOK, toolDetail)

			busOK, busDetail := binaryInPath(orDefault(cfg.BusDaemon, harness.DefaultBusDaemon))
			check("bus daemon", busOK, busDetail)

			xvfbOK, xvfbDetail := binaryInPath(orDefault(cfg.Xvfb, harness.DefaultXvfb))
			check("display server", xvfbOK, xvfbDetail)

			lister := harness.DefaultWindowCommand()[0]
			if len(cfg.WindowCommand) > 0 {
				lister = cfg.WindowCommand[0]
			}

			listerOK, listerDetail := binaryInPath(lister)
			check("window lister", listerOK, listerDetail)

			if harness.InstallationMode(cfg.Installation).RequiresHelper() {
				helper := orDefault(cfg.HelperPath, harness.DefaultHelperPath)
				check("helper", fileIsExecutable(helper), helper)
			}

			if !allOK {
				return ErrSilentExit
			}

			return nil
		},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

// binaryInPath resolves name against PATH. Absolute and relative paths are
// checked directly.
func binaryInPath(name string) (bool, string) {
	resolved, err := exec.LookPath(name)
	if err != nil {
		return false, name
	}

	return true, resolved
}

func fileIsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir() && info.Mode().Perm()&0o111 != 0
}
