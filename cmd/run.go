package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/orchestrator"
	"github.com/JakeFAU/license-resolver/internal/report"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run passes until everything resolves or progress stalls",
		Long: `Repeats resolution passes with a delay between them. The loop ends when
no listing is unresolved, after orchestrator.stall_threshold passes map nothing,
or at orchestrator.max_passes. When server.addr is set the status API is served
for the duration of the run. Exits 3 unless every listing resolved.`,
		Args: cobra.NoArgs,
		RunE: runOrchestrated,
	}
}

func runOrchestrated(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer closeApp(cmd, a)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o, err := a.Orchestrator()
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	shutdown := a.Serve(ctx, o)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			a.Logger().Warn("server shutdown error", zap.Error(err))
		}
	}()

	res, err := o.Run(ctx)
	renderPasses(cmd, res)
	if err != nil {
		var last report.Report
		if n := len(res.Reports); n > 0 {
			last = res.Reports[n-1]
		}
		return passExit(last, err)
	}
	if res.Reason != orchestrator.ReasonSuccess {
		return &ExitError{Code: ExitPartial}
	}
	return nil
}

func renderPasses(cmd *cobra.Command, res orchestrator.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("Orchestration: " + string(res.Reason))
	t.AppendHeader(table.Row{"#", "Run", "Processed", "Mapped", "Dead", "Unresolved after"})
	for i, rep := range res.Reports {
		t.AppendRow(table.Row{i + 1, rep.RunID, rep.Summary.Processed, rep.Summary.Mapped, rep.Summary.Dead, rep.Dataset.UnresolvedAfter})
	}
	t.Render()
}
