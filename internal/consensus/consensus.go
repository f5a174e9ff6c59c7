// Package consensus infers a listing's license from the majority license of
// already-resolved listings on the same publishing domain.
package consensus

import (
	"github.com/JakeFAU/license-resolver/internal/catalog"
)

// Entry summarizes one domain.
type Entry struct {
	Domain        string  `json:"domain"`
	Known         int     `json:"known"`
	Majority      int     `json:"majority"`
	MajorityCount int     `json:"majority_count"`
	Purity        float64 `json:"purity"`
}

// Table is an immutable per-domain lookup. It is safe for concurrent reads.
type Table struct {
	entries map[string]Entry
}

// Build tallies every listing that carries a known license. Ties for the
// majority go to the lower id.
func Build(listings []catalog.Listing, known map[int]struct{}) *Table {
	tallies := make(map[string]map[int]int)
	for _, l := range listings {
		if l.License == nil {
			continue
		}
		if _, ok := known[*l.License]; !ok {
			continue
		}
		domain := catalog.Host(l.URL)
		if domain == "" {
			continue
		}
		counts, ok := tallies[domain]
		if !ok {
			counts = make(map[int]int)
			tallies[domain] = counts
		}
		counts[*l.License]++
	}

	entries := make(map[string]Entry, len(tallies))
	for domain, counts := range tallies {
		e := Entry{Domain: domain}
		for id, n := range counts {
			e.Known += n
			if n > e.MajorityCount || (n == e.MajorityCount && id < e.Majority) {
				e.Majority = id
				e.MajorityCount = n
			}
		}
		e.Purity = float64(e.MajorityCount) / float64(e.Known)
		entries[domain] = e
	}
	return &Table{entries: entries}
}

// Len returns the number of domains with at least one known license.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the entry for domain.
func (t *Table) Lookup(domain string) (Entry, bool) {
	e, ok := t.entries[domain]
	return e, ok
}

// Decide returns the domain majority when the sample size and purity both
// meet the thresholds.
func (t *Table) Decide(domain string, minKnown int, minPurity float64) (Entry, bool) {
	e, ok := t.entries[domain]
	if !ok {
		return Entry{}, false
	}
	if e.Known < minKnown || e.Purity < minPurity {
		return e, false
	}
	return e, true
}
