package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/report"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Run a single resolution pass",
		Long: `Resolves every unresolved listing once through the fallback chain,
writes a run report and, with --write, merges the results into the dataset.
Exits 3 when listings remain unresolved.`,
		Args: cobra.NoArgs,
		RunE: runResolve,
	}
}

func runResolve(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer closeApp(cmd, a)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := a.Runner().RunPass(ctx)
	if rep.RunID != "" {
		if rerr := report.Render(cmd.OutOrStdout(), rep); rerr != nil && err == nil {
			err = rerr
		}
	}
	return passExit(rep, err)
}

// passExit classifies a pass result into an exit code.
func passExit(rep report.Report, err error) error {
	var verr *catalog.VerifyError
	switch {
	case errors.Is(err, context.Canceled):
		return &ExitError{Code: ExitPartial, Err: err}
	case errors.As(err, &verr):
		return &ExitError{Code: ExitVerification, Err: err}
	case err != nil:
		return &ExitError{Code: ExitFatal, Err: err}
	case rep.Dataset.UnresolvedAfter > 0:
		return &ExitError{Code: ExitPartial}
	}
	return nil
}
