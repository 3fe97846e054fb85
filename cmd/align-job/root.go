package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/book-expert/align-service/internal/job"
)

// exitUsage is returned for malformed command lines.
const exitUsage = 2

// exitError carries the process exit code of a command that ran.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func failed(code int, err error) error {
	return &exitError{code: code, err: err}
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errCommandRequired = errors.New("a command is required")

// execute runs the command line and returns the process exit code. Errors cobra
// raises before a command runs are usage errors, and so are help and version
// requests, which never run a job.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	helpShown := false
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, helpArgs []string) {
		helpShown = true

		defaultHelp(cmd, helpArgs)
	})

	err := root.ExecuteContext(ctx)
	if err == nil {
		if helpShown || root.Flags().Changed("version") {
			return exitUsage
		}

		return job.ExitSucceeded
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(stderr, exit.err)
		}

		return exit.code
	}

	fmt.Fprintln(stderr, err)
	fmt.Fprintln(stderr, root.UsageString())

	return exitUsage
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "align-job",
		Short:         "Align audio recordings with their text fragments",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errCommandRequired
		},
	}

	root.AddCommand(newRunCommand())

	return root
}
