// Package resolver runs the fallback chain for one listing: live page,
// archived snapshot, alternate URL, then domain consensus.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/alias"
	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/consensus"
	"github.com/JakeFAU/license-resolver/internal/evidence"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
	"github.com/JakeFAU/license-resolver/internal/logging"
	"github.com/JakeFAU/license-resolver/internal/wayback"
)

// Fetcher retrieves pages, reporting failures through the response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetcher.Response
}

// Extractor finds candidate ids in a page.
type Extractor interface {
	Extract(page []byte) evidence.Evidence
}

// Archive finds archived snapshots.
type Archive interface {
	Closest(ctx context.Context, pageURL string) (wayback.Snapshot, error)
}

// AliasFinder discovers alternate listing URLs.
type AliasFinder interface {
	Find(ctx context.Context, listingURL string) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Options toggle the fallbacks and gate consensus.
type Options struct {
	Archive            bool
	Alias              bool
	Consensus          bool
	ConsensusMinKnown  int
	ConsensusMinPurity float64
}

// Resolver resolves single listings. It holds no per-pass state and is safe
// for concurrent use.
type Resolver struct {
	fetcher   Fetcher
	extractor Extractor
	archive   Archive
	alias     AliasFinder
	clock     Clock
	opts      Options
	logger    *zap.Logger
}

// Deps collects the resolver's collaborators. Archive and Alias may be nil
// when the matching fallback is disabled.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Archive   Archive
	Alias     AliasFinder
	Clock     Clock
	Logger    *zap.Logger
}

// New builds a Resolver.
func New(deps Deps, opts Options) (*Resolver, error) {
	if deps.Fetcher == nil || deps.Extractor == nil || deps.Clock == nil {
		return nil, errors.New("resolver: fetcher, extractor and clock are required")
	}
	if opts.Archive && deps.Archive == nil {
		return nil, errors.New("resolver: archive fallback enabled without an archive client")
	}
	if opts.Alias && deps.Alias == nil {
		return nil, errors.New("resolver: alias fallback enabled without a finder")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		archive:   deps.Archive,
		alias:     deps.Alias,
		clock:     deps.Clock,
		opts:      opts,
		logger:    logger.Named("resolver"),
	}, nil
}

// Resolve runs the fallback chain for l, stopping at the first decision.
// table may be nil when consensus is disabled.
func (r *Resolver) Resolve(ctx context.Context, l catalog.Listing, table *consensus.Table) Outcome {
	out := Outcome{URLID: l.URLID, URL: l.URL, CheckedAt: r.clock.Now()}
	log := r.logger.With(logging.Record(l.URLID, l.URL)...)

	live := r.fetcher.Fetch(ctx, l.URL)
	out.FetchStatus = live.Status
	out.FetchError = live.Err
	if live.OK() {
		decision := evidence.Reconcile(r.extractor.Extract(live.Body))
		if decision.Decided {
			return r.decided(log, out, decision.LicenseID, string(decision.Rule))
		}
		out.Reason = decision.Reason
	} else {
		out.Reason = failureReason(live)
	}
	out.trail("live", out.Reason)

	if live.NotFound() && r.opts.Archive {
		if done, ok := r.tryArchive(ctx, &out); ok {
			return r.decided(log, done, done.Mapped.LicenseID, done.Mapped.Provenance)
		}
	}

	if r.opts.Alias {
		if done, ok := r.tryAlias(ctx, l, live, &out); ok {
			return r.decided(log, done, done.Mapped.LicenseID, done.Mapped.Provenance)
		}
	}

	if r.opts.Consensus && table != nil {
		domain := catalog.Host(l.URL)
		entry, ok := table.Decide(domain, r.opts.ConsensusMinKnown, r.opts.ConsensusMinPurity)
		if ok {
			out.trail("consensus", fmt.Sprintf("known=%d purity=%.3f", entry.Known, entry.Purity))
			return r.decided(log, out, entry.Majority, ProvenanceConsensus)
		}
		if entry.Known == 0 {
			out.trail("consensus", ReasonNoDomain)
		} else {
			out.trail("consensus", fmt.Sprintf("%s known=%d purity=%.3f", ReasonBelowGate, entry.Known, entry.Purity))
		}
	}

	log.Debug("listing unresolved", zap.String("reason", out.Reason), zap.Strings("trail", out.Trail))
	return out
}

func (r *Resolver) decided(log *zap.Logger, out Outcome, id int, provenance string) Outcome {
	out.Mapped = &Mapping{LicenseID: id, Provenance: provenance}
	out.Reason = ""
	log.Debug("listing resolved", zap.Int("license", id), zap.String("provenance", provenance))
	return out
}

// tryArchive fetches the closest snapshot. The returned outcome carries the
// mapping when the snapshot decides.
func (r *Resolver) tryArchive(ctx context.Context, out *Outcome) (Outcome, bool) {
	snap, err := r.archive.Closest(ctx, out.URL)
	if err != nil {
		if errors.Is(err, wayback.ErrNoSnapshot) {
			out.trail("wayback", ReasonNoSnapshot)
		} else {
			out.trail("wayback", err.Error())
		}
		return Outcome{}, false
	}
	out.ArchiveURL = snap.URL

	resp := r.fetcher.Fetch(ctx, snap.RawURL)
	if !resp.OK() {
		out.trail("wayback", failureReason(resp))
		return Outcome{}, false
	}
	decision := evidence.Reconcile(r.extractor.Extract(resp.Body))
	if !decision.Decided {
		out.trail("wayback", decision.Reason)
		return Outcome{}, false
	}
	done := *out
	done.Mapped = &Mapping{LicenseID: decision.LicenseID, Provenance: PrefixArchive + string(decision.Rule)}
	return done, true
}

// tryAlias searches for an alternate URL. A working alternate for a broken live
// URL is recorded as a rewrite even when its page does not decide.
func (r *Resolver) tryAlias(ctx context.Context, l catalog.Listing, live fetcher.Response, out *Outcome) (Outcome, bool) {
	candidate, err := r.alias.Find(ctx, l.URL)
	switch {
	case errors.Is(err, alias.ErrNotFound):
		out.trail("alias", ReasonAliasNotFound)
		return Outcome{}, false
	case errors.Is(err, alias.ErrAmbiguous):
		out.trail("alias", ReasonAliasAmbig)
		return Outcome{}, false
	case err != nil:
		out.trail("alias", err.Error())
		return Outcome{}, false
	}
	if catalog.NormalizeURL(candidate) == catalog.NormalizeURL(l.URL) {
		out.trail("alias", ReasonAliasSameURL)
		return Outcome{}, false
	}

	resp := r.fetcher.Fetch(ctx, candidate)
	if !resp.OK() {
		out.trail("alias", failureReason(resp))
		return Outcome{}, false
	}
	if !live.OK() {
		out.AliasURL = candidate
	}
	decision := evidence.Reconcile(r.extractor.Extract(resp.Body))
	if !decision.Decided {
		out.trail("alias", decision.Reason)
		return Outcome{}, false
	}
	done := *out
	done.AliasURL = candidate
	done.Mapped = &Mapping{LicenseID: decision.LicenseID, Provenance: PrefixAlias + string(decision.Rule)}
	return done, true
}

func (o *Outcome) trail(step, detail string) {
	o.Trail = append(o.Trail, step+": "+detail)
}

func failureReason(resp fetcher.Response) string {
	if resp.Err != "" {
		return "fetch_error: " + resp.Err
	}
	return "http_" + strconv.Itoa(resp.Status)
}
