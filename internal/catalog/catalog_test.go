package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadNormalizesStatusAndKeepsExtraFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	listings := writeFile(t, dir, "listings.json", `[
		{"url_id":"a","url":"https://x.bandcamp.com/album/one","title":"One","license":4,"status":"DEAD","artwork":"cover.jpg"},
		{"url_id":"b","url":"https://x.bandcamp.com/album/two","title":"Two","license":null},
		{"url_id":"c","url":"https://y.bandcamp.com/album/three","status":"bogus"}
	]`)
	licenses := writeFile(t, dir, "licenses.json", `[{"name":"attribution-noncommercial","url":"u","bc_id":4,"count":9}]`)

	ds, err := Load(listings, licenses)
	require.NoError(t, err)
	require.Len(t, ds.Listings, 3)
	require.Equal(t, StatusDead, ds.Listings[0].Status)
	require.Equal(t, StatusActive, ds.Listings[1].Status)
	require.Equal(t, StatusActive, ds.Listings[2].Status)
	require.JSONEq(t, `"cover.jpg"`, string(ds.Listings[0].Extra["artwork"]))

	encoded, err := json.Marshal(ds.Listings[0])
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(encoded, &back))
	require.Equal(t, "cover.jpg", back["artwork"])
	require.Equal(t, "dead", back["status"])
}

func TestLoadRejectsMalformedAndDuplicateInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	licenses := writeFile(t, dir, "licenses.json", `[]`)

	bad := writeFile(t, dir, "bad.json", `[{"url_id":`)
	_, err := Load(bad, licenses)
	require.ErrorIs(t, err, ErrIntegrity)

	dup := writeFile(t, dir, "dup.json", `[{"url_id":"a"},{"url_id":"a"}]`)
	_, err = Load(dup, licenses)
	require.ErrorIs(t, err, ErrIntegrity)

	_, err = Load(filepath.Join(dir, "missing.json"), licenses)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ds := &Dataset{
		Listings: []Listing{{URLID: "a", URL: "https://x.bandcamp.com/album/one", License: intPtr(5), Status: StatusActive}},
		Licenses: []License{{Name: "attribution", BCID: 5, Count: 1}},
	}
	listings := filepath.Join(dir, "data", "listings.json")
	licenses := filepath.Join(dir, "data", "licenses.json")
	require.NoError(t, Save(ds, listings, licenses))

	loaded, err := Load(listings, licenses)
	require.NoError(t, err)
	require.Equal(t, ds.Listings[0].URLID, loaded.Listings[0].URLID)
	require.Equal(t, 5, *loaded.Listings[0].License)

	d1, err := ds.Digest()
	require.NoError(t, err)
	d2, err := loaded.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestSnapshotAndUnresolved(t *testing.T) {
	t.Parallel()

	ds := &Dataset{Listings: []Listing{
		{URLID: "a", License: intPtr(1), Status: StatusActive},
		{URLID: "b", Status: StatusActive},
		{URLID: "c", Status: StatusDead},
		{URLID: "d", Status: StatusUnverified},
	}}
	snap := ds.Snapshot()
	require.Equal(t, Snapshot{Total: 4, Unresolved: 2, Active: 2, Dead: 1, Unverified: 1}, snap)

	pending := ds.Unresolved()
	require.Len(t, pending, 2)
	require.Equal(t, "b", pending[0].URLID)
	require.Equal(t, "d", pending[1].URLID)
}

func TestRecountAndVerify(t *testing.T) {
	t.Parallel()

	ds := &Dataset{
		Listings: []Listing{
			{URLID: "a", License: intPtr(1), Status: StatusActive},
			{URLID: "b", License: intPtr(1), Status: StatusActive},
			{URLID: "c", License: intPtr(2), Status: StatusDead},
			{URLID: "d", License: intPtr(2), Status: StatusUnverified},
		},
		Licenses: []License{{BCID: 1, Count: 7}, {BCID: 2, Count: 7}},
	}
	err := ds.Verify()
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Violations, 2)

	ds.Recount()
	require.NoError(t, ds.Verify())
	require.Equal(t, 2, ds.Licenses[0].Count)
	require.Equal(t, 0, ds.Licenses[1].Count)
}

func TestVerifyFlagsActiveWithoutKnownLicense(t *testing.T) {
	t.Parallel()

	checked := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{
		Listings: []Listing{
			{URLID: "pending", Status: StatusActive},
			{URLID: "a", Status: StatusActive, HealthCheckedAt: &checked},
			{URLID: "b", License: intPtr(99), Status: StatusActive},
		},
		Licenses: []License{{BCID: 1}},
	}
	err := ds.Verify()
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Violations, 2)
	require.Equal(t, "a", verr.Violations[0].URLID)
	require.Equal(t, 99, verr.Violations[1].License)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	ds := &Dataset{
		Listings: []Listing{{URLID: "a", License: intPtr(1), Tags: []string{"ambient"}}},
		Licenses: []License{{BCID: 1}},
	}
	cp := ds.Clone()
	*cp.Listings[0].License = 2
	cp.Listings[0].Tags[0] = "noise"
	cp.Licenses[0].Count = 5

	require.Equal(t, 1, *ds.Listings[0].License)
	require.Equal(t, "ambient", ds.Listings[0].Tags[0])
	require.Equal(t, 0, ds.Licenses[0].Count)
}

func TestURLHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "artist.bandcamp.com", Host("https://WWW.Artist.Bandcamp.com/album/x"))
	require.Equal(t, "artist.bandcamp.com", Host("artist.bandcamp.com/album/x"))
	require.Equal(t, "artist", Account("https://artist.bandcamp.com/album/x"))
	require.Equal(t, "night-drive", ItemSlug("https://artist.bandcamp.com/album/Night-Drive/"))
	require.Equal(t, "https://artist.bandcamp.com/album/x", NormalizeURL("https://Artist.bandcamp.com/album/x/?from=search#top"))
}
