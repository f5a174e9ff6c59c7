package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JakeFAU/license-resolver/internal/hash/sha256"
)

// ErrIntegrity marks malformed or inconsistent input data.
var ErrIntegrity = errors.New("dataset integrity")

// Dataset is the single-owner canonical record set. Callers own its lifetime
// and persistence; nothing in this module keeps a shared copy.
type Dataset struct {
	Listings []Listing
	Licenses []License
}

// Load reads the listing and license collections from disk.
func Load(listingsPath, licensesPath string) (*Dataset, error) {
	var ds Dataset
	if err := readJSON(listingsPath, &ds.Listings); err != nil {
		return nil, err
	}
	if err := readJSON(licensesPath, &ds.Licenses); err != nil {
		return nil, err
	}
	if err := ds.checkKeys(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Save atomically rewrites both collections.
func Save(ds *Dataset, listingsPath, licensesPath string) error {
	if err := writeJSONAtomic(listingsPath, ds.Listings); err != nil {
		return err
	}
	return writeJSONAtomic(licensesPath, ds.Licenses)
}

func (d *Dataset) checkKeys() error {
	seen := make(map[string]struct{}, len(d.Listings))
	for _, l := range d.Listings {
		if l.URLID == "" {
			return fmt.Errorf("%w: listing with empty url_id", ErrIntegrity)
		}
		if _, dup := seen[l.URLID]; dup {
			return fmt.Errorf("%w: duplicate url_id %q", ErrIntegrity, l.URLID)
		}
		seen[l.URLID] = struct{}{}
	}
	ids := make(map[int]struct{}, len(d.Licenses))
	for _, lic := range d.Licenses {
		if _, dup := ids[lic.BCID]; dup {
			return fmt.Errorf("%w: duplicate license bc_id %d", ErrIntegrity, lic.BCID)
		}
		ids[lic.BCID] = struct{}{}
	}
	return nil
}

// KnownIDs returns the set of license category ids.
func (d *Dataset) KnownIDs() map[int]struct{} {
	ids := make(map[int]struct{}, len(d.Licenses))
	for _, lic := range d.Licenses {
		ids[lic.BCID] = struct{}{}
	}
	return ids
}

// Unresolved returns copies of the listings still awaiting a license.
// Dead listings are excluded; their live URL no longer serves content.
func (d *Dataset) Unresolved() []Listing {
	out := make([]Listing, 0)
	for _, l := range d.Listings {
		if !l.HasLicense() && l.Status != StatusDead {
			out = append(out, l)
		}
	}
	return out
}

// Snapshot counts listings by health state.
func (d *Dataset) Snapshot() Snapshot {
	snap := Snapshot{Total: len(d.Listings)}
	for _, l := range d.Listings {
		switch l.Status {
		case StatusDead:
			snap.Dead++
		case StatusUnverified:
			snap.Unverified++
		default:
			snap.Active++
		}
		if !l.HasLicense() && l.Status != StatusDead {
			snap.Unresolved++
		}
	}
	return snap
}

// Recount recomputes every license count from active listings with a known license.
func (d *Dataset) Recount() {
	counts := make(map[int]int, len(d.Licenses))
	for _, l := range d.Listings {
		if l.Status == StatusActive && l.License != nil {
			counts[*l.License]++
		}
	}
	for i := range d.Licenses {
		d.Licenses[i].Count = counts[d.Licenses[i].BCID]
	}
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Listings: make([]Listing, len(d.Listings)),
		Licenses: append([]License(nil), d.Licenses...),
	}
	for i, l := range d.Listings {
		out.Listings[i] = cloneListing(l)
	}
	return out
}

func cloneListing(l Listing) Listing {
	if l.License != nil {
		id := *l.License
		l.License = &id
	}
	if l.HealthCheckedAt != nil {
		ts := *l.HealthCheckedAt
		l.HealthCheckedAt = &ts
	}
	if l.Tags != nil {
		l.Tags = append([]string(nil), l.Tags...)
	}
	if l.Extra != nil {
		extra := make(map[string]json.RawMessage, len(l.Extra))
		for k, v := range l.Extra {
			extra[k] = append(json.RawMessage(nil), v...)
		}
		l.Extra = extra
	}
	return l
}

// Digest fingerprints the canonical serialization of both collections.
func (d *Dataset) Digest() (string, error) {
	payload, err := json.Marshal(struct {
		Listings []Listing `json:"listings"`
		Licenses []License `json:"licenses"`
	}{d.Listings, d.Licenses})
	if err != nil {
		return "", fmt.Errorf("digest dataset: %w", err)
	}
	return sha256.Sum(payload), nil
}

func readJSON(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrIntegrity, path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrIntegrity, path, err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	payload = append(payload, '\n')
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-"+time.Now().UTC().Format("150405")+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
