package resolver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
)

// Provenance tags beyond the evidence rules.
const (
	ProvenanceConsensus = "domain_consensus"
	PrefixArchive       = "wayback_"
	PrefixAlias         = "alias_"
)

// Fallback step reasons recorded in an outcome's trail.
const (
	ReasonNoSnapshot    = "no_snapshot"
	ReasonAliasNotFound = "alias_not_found"
	ReasonAliasAmbig    = "alias_ambiguous"
	ReasonAliasSameURL  = "alias_same_url"
	ReasonBelowGate     = "consensus_below_threshold"
	ReasonNoDomain      = "consensus_no_domain"
)

// Mapping is a decided license with the strategy that decided it.
type Mapping struct {
	LicenseID  int    `json:"license_id"`
	Provenance string `json:"provenance"`
}

// Outcome is the result of resolving one listing in one pass.
type Outcome struct {
	URLID       string    `json:"url_id"`
	URL         string    `json:"url"`
	CheckedAt   time.Time `json:"checked_at"`
	FetchStatus int       `json:"fetch_status"`
	FetchError  string    `json:"fetch_error,omitempty"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
	AliasURL    string    `json:"alias_url,omitempty"`
	Mapped      *Mapping  `json:"mapped"`
	Reason      string    `json:"reason,omitempty"`
	Trail       []string  `json:"trail,omitempty"`
}

// Dead reports that the live URL definitively no longer serves the listing and
// no alternate URL replaced it.
func (o Outcome) Dead() bool {
	notFound := o.FetchStatus == http.StatusNotFound || o.FetchStatus == http.StatusGone
	return notFound && o.FetchError == "" && o.AliasURL == ""
}

// Interrupted reports that the live check was cut short by cancellation, so
// the outcome says nothing about the listing.
func (o Outcome) Interrupted() bool {
	return strings.HasPrefix(o.FetchError, fetcher.CanceledPrefix)
}

// Health maps an outcome to the listing status and health reason it implies.
// The merger and the report reconciler share this policy.
func Health(o Outcome) (catalog.Status, string) {
	dead := o.Dead()
	switch {
	case dead && o.Mapped != nil:
		return catalog.StatusDead, o.Mapped.Provenance + ";http_" + strconv.Itoa(o.FetchStatus)
	case dead:
		return catalog.StatusDead, o.Reason
	case o.Mapped != nil:
		return catalog.StatusActive, o.Mapped.Provenance
	default:
		return catalog.StatusUnverified, o.Reason
	}
}
