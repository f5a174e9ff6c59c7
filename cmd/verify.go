package cmd

import (
	"errors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/license-resolver/internal/catalog"
)

func newVerifyCmd() *cobra.Command {
	var recount bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the dataset invariants",
		Long: `Checks that every active listing references a known license and that
license counts match the active listings. --recount recomputes counts first;
combine with --write to persist them. Exits 2 on any violation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, recount)
		},
	}
	cmd.Flags().BoolVar(&recount, "recount", false, "recompute license counts before verifying")
	return cmd
}

func runVerify(cmd *cobra.Command, recount bool) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	ds, err := catalog.Load(cfg.Data.Listings, cfg.Data.Licenses)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	if recount {
		ds.Recount()
	}

	verr := ds.Verify()
	var violations *catalog.VerifyError
	if verr != nil && !errors.As(verr, &violations) {
		return &ExitError{Code: ExitFatal, Err: verr}
	}

	snap := ds.Snapshot()
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Dataset")
	t.AppendHeader(table.Row{"Total", "Active", "Dead", "Unverified", "Unresolved"})
	t.AppendRow(table.Row{snap.Total, snap.Active, snap.Dead, snap.Unverified, snap.Unresolved})
	t.Render()

	if violations != nil {
		vt := table.NewWriter()
		vt.SetOutputMirror(cmd.OutOrStdout())
		vt.AppendHeader(table.Row{"Listing", "License", "Violation"})
		for _, v := range violations.Violations {
			vt.AppendRow(table.Row{v.URLID, v.License, v.Message})
		}
		vt.Render()
		return &ExitError{Code: ExitVerification, Err: verr}
	}

	if recount && cfg.Resolver.Write {
		if err := catalog.Save(ds, cfg.Data.Listings, cfg.Data.Licenses); err != nil {
			return &ExitError{Code: ExitFatal, Err: err}
		}
	}
	return nil
}
