package merge

import (
	"fmt"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/report"
)

// ReplayOptions selects which reports take part in a replay.
type ReplayOptions struct {
	IncludeDryRun bool
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Reports int
	Skipped int
	Result
}

// Replay applies the reports' outcomes in generation order, one report at a
// time with the same rule as Apply, so the final state equals the state left
// by the original sequence of merges. ds is untouched when any report fails.
func Replay(ds *catalog.Dataset, reports []report.Report, opts ReplayOptions) (ReplayResult, error) {
	ordered := append([]report.Report(nil), reports...)
	report.Sort(ordered)

	work := ds.Clone()
	var out ReplayResult
	for _, r := range ordered {
		if r.Options.DryRun() && !opts.IncludeDryRun {
			out.Skipped++
			continue
		}
		res, err := Apply(work, r.Outcomes)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay report %s: %w", r.RunID, err)
		}
		out.Reports++
		out.Applied += res.Applied
		out.Mapped += res.Mapped
		out.Rewritten += res.Rewritten
		out.Dead += res.Dead
		out.Unmatched += res.Unmatched
	}
	*ds = *work
	return out, nil
}
