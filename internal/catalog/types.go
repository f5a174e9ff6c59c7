// Package catalog holds the canonical listing and license collections and the
// invariants that must hold across them after every write.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the health state of a listing.
type Status string

// Listing status values. Absent or unrecognized values decode as StatusActive.
const (
	StatusActive     Status = "active"
	StatusDead       Status = "dead"
	StatusUnverified Status = "unverified"
)

// ParseStatus normalizes a raw status string.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusDead:
		return StatusDead
	case StatusUnverified:
		return StatusUnverified
	default:
		return StatusActive
	}
}

// Listing is one catalog record. Only License, Status, HealthCheckedAt,
// HealthReason and URL are ever written by the resolver.
type Listing struct {
	URLID           string     `json:"url_id"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	License         *int       `json:"license"`
	Tags            []string   `json:"tags"`
	Favorite        bool       `json:"favorite"`
	Status          Status     `json:"status"`
	HealthCheckedAt *time.Time `json:"health_checked_at"`
	HealthReason    string     `json:"health_reason"`

	// Extra keeps fields owned by other collaborators so a save round-trips them.
	Extra map[string]json.RawMessage `json:"-"`
}

var listingKeys = map[string]struct{}{
	"url_id": {}, "url": {}, "title": {}, "license": {}, "tags": {},
	"favorite": {}, "status": {}, "health_checked_at": {}, "health_reason": {},
}

type listingAlias Listing

// UnmarshalJSON decodes a listing, normalizing status and retaining unknown fields.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var alias listingAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("decode listing: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode listing fields: %w", err)
	}
	for key := range listingKeys {
		delete(raw, key)
	}
	*l = Listing(alias)
	l.Status = ParseStatus(string(alias.Status))
	if len(raw) > 0 {
		l.Extra = raw
	}
	return nil
}

// MarshalJSON encodes a listing, merging back any retained unknown fields.
func (l Listing) MarshalJSON() ([]byte, error) {
	alias := listingAlias(l)
	alias.Status = ParseStatus(string(l.Status))
	data, err := json.Marshal(alias)
	if err != nil {
		return nil, fmt.Errorf("encode listing: %w", err)
	}
	if len(l.Extra) == 0 {
		return data, nil
	}
	merged := make(map[string]json.RawMessage, len(l.Extra)+len(listingKeys))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, fmt.Errorf("merge listing fields: %w", err)
	}
	for key, value := range l.Extra {
		if _, known := listingKeys[key]; !known {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// HasLicense reports whether the listing carries a license reference.
func (l Listing) HasLicense() bool {
	return l.License != nil
}

// Pending reports whether the listing awaits its first resolution attempt.
func (l Listing) Pending() bool {
	return l.License == nil && l.HealthCheckedAt == nil
}

// License is a license category. Count is derived and recomputed after every merge.
type License struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	BCID  int    `json:"bc_id"`
	Count int    `json:"count"`
}

// Snapshot summarizes dataset health counts.
type Snapshot struct {
	Total      int `json:"total"`
	Unresolved int `json:"unresolved"`
	Active     int `json:"active"`
	Dead       int `json:"dead"`
	Unverified int `json:"unverified"`
}
