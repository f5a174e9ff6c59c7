// Package merge folds resolution outcomes into the canonical dataset and
// replays stored reports onto it.
package merge

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/resolver"
)

// ErrUnknownLicense marks an outcome that maps to an id absent from the license collection.
var ErrUnknownLicense = errors.New("unknown license id")

// Result counts what a merge changed.
type Result struct {
	Applied   int
	Mapped    int
	Rewritten int
	Dead      int
	Unmatched int
}

// Apply merges outcomes into ds. Nothing is committed unless every mapped id
// is known and the merged dataset passes Verify. Outcomes for ids absent from
// ds are counted and ignored. Within one batch the last outcome for an id wins.
func Apply(ds *catalog.Dataset, outcomes []resolver.Outcome) (Result, error) {
	known := ds.KnownIDs()
	latest := make(map[string]resolver.Outcome, len(outcomes))
	for _, o := range outcomes {
		if o.Mapped != nil {
			if _, ok := known[o.Mapped.LicenseID]; !ok {
				return Result{}, fmt.Errorf("%w: %s maps to %d", ErrUnknownLicense, o.URLID, o.Mapped.LicenseID)
			}
		}
		latest[o.URLID] = o
	}

	work := ds.Clone()
	var res Result
	for i := range work.Listings {
		l := &work.Listings[i]
		o, ok := latest[l.URLID]
		if !ok {
			continue
		}
		delete(latest, l.URLID)
		applyOne(l, o, &res)
	}
	res.Unmatched = len(latest)

	work.Recount()
	if err := work.Verify(); err != nil {
		return Result{}, fmt.Errorf("merge: %w", err)
	}
	*ds = *work
	return res, nil
}

func applyOne(l *catalog.Listing, o resolver.Outcome, res *Result) {
	res.Applied++
	checked := o.CheckedAt.UTC()
	l.HealthCheckedAt = &checked
	if o.Mapped != nil {
		id := o.Mapped.LicenseID
		l.License = &id
		res.Mapped++
	}
	if o.AliasURL != "" && o.AliasURL != l.URL {
		l.URL = o.AliasURL
		res.Rewritten++
	}
	l.Status, l.HealthReason = resolver.Health(o)
	if l.Status == catalog.StatusDead {
		res.Dead++
	}
}
