package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/license-resolver/internal/storage"
)

const maxNameAttempts = 1000

// Store persists reports and lists them in replay order.
type Store interface {
	Save(ctx context.Context, r Report) (string, error)
	List(ctx context.Context) ([]Report, error)
}

// Archive keeps each report as a JSON document plus a rendered .txt summary
// in a blob store.
type Archive struct {
	blobs  storage.BlobStore
	prefix string
}

// NewArchive stores reports under prefix in blobs.
func NewArchive(blobs storage.BlobStore, prefix string) *Archive {
	return &Archive{blobs: blobs, prefix: strings.Trim(prefix, "/")}
}

// Stem names a report file without extension: <kind>-<timestamp>, with a
// numeric suffix for the n-th collision.
func Stem(r Report, n int) string {
	kind := r.Kind
	if kind == "" {
		kind = KindPass
	}
	stem := kind + "-" + r.GeneratedAt.UTC().Format(timestampLayout)
	if n > 0 {
		stem = fmt.Sprintf("%s-%d", stem, n)
	}
	return stem
}

func (a *Archive) objectPath(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Save writes the report create-only and returns the JSON object's URI.
// A name collision moves to the next numeric suffix; nothing is overwritten.
func (a *Archive) Save(ctx context.Context, r Report) (string, error) {
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report %s: %w", r.RunID, err)
	}
	var summary bytes.Buffer
	if err := Render(&summary, r); err != nil {
		return "", err
	}

	for n := range maxNameAttempts {
		stem := a.objectPath(Stem(r, n))
		uri, err := a.blobs.Create(ctx, stem+".json", "application/json", bytes.NewReader(payload))
		if errors.Is(err, storage.ErrObjectExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("save report %s: %w", r.RunID, err)
		}
		if _, err := a.blobs.Create(ctx, stem+".txt", "text/plain; charset=utf-8", &summary); err != nil {
			return uri, fmt.Errorf("save report summary %s: %w", r.RunID, err)
		}
		return uri, nil
	}
	return "", fmt.Errorf("save report %s: no free name after %d attempts", r.RunID, maxNameAttempts)
}

// List decodes every stored report, ordered by generation time.
func (a *Archive) List(ctx context.Context) ([]Report, error) {
	prefix := ""
	if a.prefix != "" {
		prefix = a.prefix + "/"
	}
	paths, err := a.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var reports []Report
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") || strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		data, err := a.blobs.Get(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", p, err)
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode report %s: %w", p, err)
		}
		reports = append(reports, r)
	}
	Sort(reports)
	return reports, nil
}

// Multi writes to every store and reads from the first.
type Multi []Store

// Save persists r in every store and returns the first store's location.
func (m Multi) Save(ctx context.Context, r Report) (string, error) {
	var first string
	for i, s := range m {
		loc, err := s.Save(ctx, r)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}

// List returns the first store's reports.
func (m Multi) List(ctx context.Context) ([]Report, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].List(ctx)
}
