// Package cli implements the ekaya-reconcile command line: the five pipeline
// operations over files, plus the HTTP/MCP server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
)

// shutdownTimeout bounds draining the work queue after a command finishes.
const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	envFile    string
	configPath string
	output     string
	logLevel   string
	noColor    bool
}

// exitError ends the process with a status code without printing an error
// document; the command already wrote its output.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ekaya-reconcile",
		Short: "Compare, reconcile and apply schema differences between data sources",
		Long: `ekaya-reconcile builds a canonical schema snapshot (IR) from files, databases
or inline documents, compares two snapshots, proposes a resolution plan for the
differences, and applies that plan to a schema store with dry-run and backup
safety modes.

Every command reads documents from files ("-" for stdin) and writes a document
to stdout. Failures are written to stderr as {"code","message"} documents.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			_, err := ParseFormat(opts.output)
			return err
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Config file (optional)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", string(FormatJSON), "Output format: json, yaml or table")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored table output")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), err)
	})

	root.AddCommand(
		newBuildCommand(opts, version),
		newCompareCommand(opts, version),
		newProposeCommand(opts, version),
		newApplyCommand(opts, version),
		newValidateCommand(opts, version),
		newRollbackCommand(opts, version),
		newSourcesCommand(opts, version),
		newServeCommand(opts, version),
		newVersionCommand(version),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, version string, args []string) int {
	root := NewRootCommand(version)
	root.SetArgs(args)
	return run(ctx, root)
}

func run(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	writeError(root.ErrOrStderr(), err)
	return 1
}

// withApp wires an app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, version string, fn func(ctx context.Context, rt *app, p *printer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newApp(ctx, opts, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = rt.close(shutdownCtx)
	}()

	format, err := ParseFormat(opts.output)
	if err != nil {
		return err
	}
	return fn(ctx, rt, &printer{w: cmd.OutOrStdout(), format: format})
}

// exactArgs is cobra.ExactArgs with a coded error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return apperrors.Newf(apperrors.CodeInvalidInput, "%s expects %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

// readDocument reads a document from path; "-" reads stdin.
func readDocument(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, fmt.Sprintf("failed to read %s", path), err)
	}
	return data, nil
}
