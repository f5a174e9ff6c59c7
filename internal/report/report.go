// Package report builds, renders and persists run reports. Reports are
// immutable once written and form the replay log for the report reconciler.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/resolver"
)

// KindPass marks a report produced by one resolution pass.
const KindPass = "pass"

// Options records the operator controls a pass ran with.
type Options struct {
	Write              bool          `json:"write"`
	Concurrency        int           `json:"concurrency"`
	Limit              int           `json:"limit"`
	Timeout            time.Duration `json:"timeout_ns"`
	MaxRetries         int           `json:"max_retries"`
	RetryStatuses      []int         `json:"retry_statuses"`
	BackoffBase        time.Duration `json:"backoff_base_ns"`
	BackoffMax         time.Duration `json:"backoff_max_ns"`
	Archive            bool          `json:"archive"`
	Alias              bool          `json:"alias"`
	Consensus          bool          `json:"consensus"`
	ConsensusMinKnown  int           `json:"consensus_min_known"`
	ConsensusMinPurity float64       `json:"consensus_min_purity"`
}

// DryRun reports whether the pass left the canonical dataset untouched.
func (o Options) DryRun() bool { return !o.Write }

// DatasetCounts snapshots the dataset around a pass.
type DatasetCounts struct {
	Total            int    `json:"total"`
	UnresolvedBefore int    `json:"unresolved_before"`
	UnresolvedAfter  int    `json:"unresolved_after"`
	Active           int    `json:"active"`
	Dead             int    `json:"dead"`
	Unverified       int    `json:"unverified"`
	DigestBefore     string `json:"digest_before"`
	DigestAfter      string `json:"digest_after"`
}

// Summary aggregates the outcomes of a pass.
type Summary struct {
	Processed     int            `json:"processed"`
	Mapped        int            `json:"mapped"`
	Unresolved    int            `json:"unresolved"`
	Dead          int            `json:"dead"`
	AliasRewrites int            `json:"alias_rewrites"`
	ByProvenance  map[string]int `json:"by_provenance"`
	ByReason      map[string]int `json:"by_reason"`
}

// Report is the immutable artifact of one pass.
type Report struct {
	RunID       string             `json:"run_id"`
	Kind        string             `json:"kind"`
	GeneratedAt time.Time          `json:"generated_at"`
	Options     Options            `json:"options"`
	Dataset     DatasetCounts      `json:"dataset"`
	Summary     Summary            `json:"summary"`
	Outcomes    []resolver.Outcome `json:"outcomes"`
}

// Summarize counts outcomes by provenance and unresolved reason.
func Summarize(outcomes []resolver.Outcome) Summary {
	s := Summary{
		Processed:    len(outcomes),
		ByProvenance: map[string]int{},
		ByReason:     map[string]int{},
	}
	for _, o := range outcomes {
		if o.Mapped != nil {
			s.Mapped++
			s.ByProvenance[o.Mapped.Provenance]++
		} else {
			s.Unresolved++
			s.ByReason[ReasonBucket(o.Reason)]++
		}
		if o.Dead() {
			s.Dead++
		}
		if o.AliasURL != "" {
			s.AliasRewrites++
		}
	}
	return s
}

// ReasonBucket drops free-form detail after the first colon, so fetch errors
// group under "fetch_error".
func ReasonBucket(reason string) string {
	bucket, _, _ := strings.Cut(reason, ":")
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "unknown"
	}
	return bucket
}

// Counts fills the dataset snapshot from the before and after states.
func Counts(before, after catalog.Snapshot, digestBefore, digestAfter string) DatasetCounts {
	return DatasetCounts{
		Total:            after.Total,
		UnresolvedBefore: before.Unresolved,
		UnresolvedAfter:  after.Unresolved,
		Active:           after.Active,
		Dead:             after.Dead,
		Unverified:       after.Unverified,
		DigestBefore:     digestBefore,
		DigestAfter:      digestAfter,
	}
}

// Sort orders reports by generation time, then run id.
func Sort(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].GeneratedAt.Equal(reports[j].GeneratedAt) {
			return reports[i].GeneratedAt.Before(reports[j].GeneratedAt)
		}
		return reports[i].RunID < reports[j].RunID
	})
}
