package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
)

const timestampLayout = "20060102T150405Z"

// Render writes a human-readable summary of r.
func Render(w io.Writer, r Report) error {
	if _, err := fmt.Fprintf(w, "run %s (%s) generated %s dry_run=%t\n\n",
		r.RunID, r.Kind, r.GeneratedAt.UTC().Format(timestampLayout), r.Options.DryRun()); err != nil {
		return fmt.Errorf("render header: %w", err)
	}

	totals := table.NewWriter()
	totals.SetOutputMirror(w)
	totals.SetTitle("Pass")
	totals.AppendHeader(table.Row{"Processed", "Mapped", "Unresolved", "Dead", "Alias rewrites"})
	totals.AppendRow(table.Row{r.Summary.Processed, r.Summary.Mapped, r.Summary.Unresolved, r.Summary.Dead, r.Summary.AliasRewrites})
	totals.Render()

	dataset := table.NewWriter()
	dataset.SetOutputMirror(w)
	dataset.SetTitle("Dataset")
	dataset.AppendHeader(table.Row{"Total", "Unresolved before", "Unresolved after", "Active", "Dead", "Unverified"})
	dataset.AppendRow(table.Row{
		r.Dataset.Total,
		r.Dataset.UnresolvedBefore,
		r.Dataset.UnresolvedAfter,
		r.Dataset.Active,
		r.Dataset.Dead,
		r.Dataset.Unverified,
	})
	dataset.Render()

	renderCounts(w, "By provenance", r.Summary.ByProvenance)
	renderCounts(w, "By reason", r.Summary.ByReason)
	return nil
}

func renderCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{"Label", "Records"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, counts[k]})
	}
	tw.Render()
}
