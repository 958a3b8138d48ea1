package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// ErrSilentExit signals a non-zero exit without printing an error message.
// Commands return it after they already reported the failure themselves.
var ErrSilentExit = errors.New("silent exit")

// ExitCodeError carries an explicit process exit code through the error
// return of a command's Exec function.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// NewExitCodeError returns an ExitCodeError for code, or nil when code is 0.
func NewExitCodeError(code int) error {
	if code == 0 {
		return nil
	}

	return &ExitCodeError{Code: code}
}

// Command is one CLI subcommand with its own flag set.
type Command struct {
	Flags   *flag.FlagSet
	Usage   string
	Short   string
	Long    string
	Aliases []string
	Exec    func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error
}

// Name returns the command name: the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the one-line entry for the global command list.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-8s %s", c.Name(), c.Short)
}

// Run parses the command's flags and executes it. Returns the exit code.
func (c *Command) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
	c.Flags.Usage = func() {}
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		c.printHelp(stderr)

		return 1
	}

	if help, _ := c.Flags.GetBool("help"); help {
		c.printHelp(stdout)

		return 0
	}

	err = c.Exec(ctx, stdin, stdout, stderr, c.Flags.Args())
	if err == nil {
		return 0
	}

	if errors.Is(err, ErrSilentExit) {
		return 1
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	fprintError(stderr, err)

	return 1
}

func (c *Command) printHelp(output io.Writer) {
	fprintln(output, c.Long)
	fprintln(output)
	fprintln(output, "Usage: flatpak-harness", c.Usage)
	fprintln(output)
	fprintln(output, "Flags:")
	fprintf(output, "%s", c.Flags.FlagUsages())
}
