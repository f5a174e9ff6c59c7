package cmd

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/merge"
)

func newReconcileCmd() *cobra.Command {
	var includeDryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay stored run reports onto the dataset",
		Long: `Applies the outcomes of every stored run report to the dataset in
generation order, reproducing the state the original merges produced. Dry-run
reports are skipped unless --include-dry-run is given. Without --write the
result is only verified and summarized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, includeDryRun)
		},
	}
	cmd.Flags().BoolVar(&includeDryRun, "include-dry-run", false, "also replay reports from dry runs")
	return cmd
}

func runReconcile(cmd *cobra.Command, includeDryRun bool) error {
	a, err := buildApp(cmd)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer closeApp(cmd, a)
	cfg := a.Config()

	ds, err := catalog.Load(cfg.Data.Listings, cfg.Data.Licenses)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	reports, err := a.Reports().List(cmd.Context())
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("list reports: %w", err)}
	}

	res, err := merge.Replay(ds, reports, merge.ReplayOptions{IncludeDryRun: includeDryRun})
	if err != nil {
		var verr *catalog.VerifyError
		if errors.As(err, &verr) {
			return &ExitError{Code: ExitVerification, Err: err}
		}
		return &ExitError{Code: ExitFatal, Err: err}
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Reconcile")
	t.AppendHeader(table.Row{"Reports", "Skipped", "Applied", "Mapped", "Rewritten", "Dead", "Unmatched", "Unresolved"})
	t.AppendRow(table.Row{res.Reports, res.Skipped, res.Applied, res.Mapped, res.Rewritten, res.Dead, res.Unmatched, ds.Snapshot().Unresolved})
	t.Render()

	if !cfg.Resolver.Write {
		return nil
	}
	if err := catalog.Save(ds, cfg.Data.Listings, cfg.Data.Licenses); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	a.Logger().Info("reconciled dataset written", zap.Int("reports", res.Reports))
	return nil
}
