package cmd

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/app"
	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/config"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
)

type pages map[string]string

func (p pages) Fetch(_ context.Context, url string) fetcher.Response {
	body, ok := p[url]
	if !ok {
		return fetcher.Response{Status: http.StatusNotFound, FinalURL: url, Attempts: 1}
	}
	return fetcher.Response{Status: http.StatusOK, FinalURL: url, Body: []byte(body), Attempts: 1}
}

type workspace struct {
	dir      string
	config   string
	listings string
	licenses string
}

func newWorkspace(t *testing.T, listings, licenses string) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:      dir,
		config:   filepath.Join(dir, "resolver.yaml"),
		listings: filepath.Join(dir, "listings.json"),
		licenses: filepath.Join(dir, "licenses.json"),
	}
	require.NoError(t, os.WriteFile(ws.listings, []byte(listings), 0o600))
	require.NoError(t, os.WriteFile(ws.licenses, []byte(licenses), 0o600))
	cfg := "data:\n" +
		"  listings: " + ws.listings + "\n" +
		"  licenses: " + ws.licenses + "\n" +
		"fallback:\n  archive: false\n  alias: false\n  consensus: false\n" +
		"reports:\n  backend: local\n  dir: " + filepath.Join(dir, "reports") + "\n"
	require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0o600))
	return ws
}

func (ws workspace) run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), append(args, "--config", ws.config), &out, &errOut)
	return code, out.String() + errOut.String()
}

// useFetcher swaps the app factory for one that serves canned pages.
func useFetcher(t *testing.T, f pages) {
	t.Helper()
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		return app.Build(ctx, cfg, app.WithLogger(zap.NewNop()), app.WithFetcher(f))
	}
	t.Cleanup(func() { newApp = prev })
}

const twoPending = `[
  {"url_id":"one","url":"https://a.bandcamp.com/album/one","license":null},
  {"url_id":"two","url":"https://a.bandcamp.com/album/two","license":null}
]`

const oneLicense = `[{"name":"attribution","url":"https://creativecommons.org/licenses/by/3.0/","bc_id":2,"count":0}]`

const typedPage = `<div data-tralbum="{&quot;license_type&quot;:2}"></div>`

func TestVerifyReportsViolations(t *testing.T) {
	ws := newWorkspace(t,
		`[{"url_id":"a","url":"https://a.bandcamp.com/album/a","license":2,"status":"active"}]`,
		`[{"name":"attribution","bc_id":2,"count":5}]`,
	)

	code, out := ws.run(t, "verify")
	require.Equal(t, ExitVerification, code)
	require.Contains(t, out, "count 5 but 1 active listings")

	code, _ = ws.run(t, "verify", "--recount", "--write")
	require.Equal(t, ExitOK, code)

	code, out = ws.run(t, "verify")
	require.Equal(t, ExitOK, code, out)
}

func TestInvalidConfigIsFatal(t *testing.T) {
	ws := newWorkspace(t, twoPending, oneLicense)
	code, out := ws.run(t, "verify", "--concurrency=-1")
	require.Equal(t, ExitFatal, code)
	require.Contains(t, out, "resolver.concurrency")
}

func TestResolveWritesAndExitsCleanWhenEverythingResolves(t *testing.T) {
	useFetcher(t, pages{"https://a.bandcamp.com/album/one": typedPage})
	ws := newWorkspace(t, twoPending, oneLicense)

	code, out := ws.run(t, "resolve", "--write")
	require.Equal(t, ExitOK, code, out)
	require.Contains(t, out, "Pass")

	ds, err := catalog.Load(ws.listings, ws.licenses)
	require.NoError(t, err)
	require.NoError(t, ds.Verify())
	require.Equal(t, 2, *ds.Listings[0].License)
	require.Equal(t, catalog.StatusDead, ds.Listings[1].Status)
	require.Equal(t, 1, ds.Licenses[0].Count)
}

func TestResolveExitsPartialWhenListingsRemain(t *testing.T) {
	useFetcher(t, pages{
		"https://a.bandcamp.com/album/one": typedPage,
		"https://a.bandcamp.com/album/two": `<p>nothing useful</p>`,
	})
	ws := newWorkspace(t, twoPending, oneLicense)

	code, out := ws.run(t, "resolve")
	require.Equal(t, ExitPartial, code, out)

	raw, err := os.ReadFile(ws.listings)
	require.NoError(t, err)
	require.Equal(t, twoPending, string(raw))
}

func TestReconcileReplaysStoredDryRun(t *testing.T) {
	useFetcher(t, pages{"https://a.bandcamp.com/album/one": typedPage})
	ws := newWorkspace(t, twoPending, oneLicense)

	code, out := ws.run(t, "resolve")
	require.Equal(t, ExitOK, code, out)

	code, out = ws.run(t, "reconcile", "--write")
	require.Equal(t, ExitOK, code, out)
	ds, err := catalog.Load(ws.listings, ws.licenses)
	require.NoError(t, err)
	require.Nil(t, ds.Listings[0].License)

	code, out = ws.run(t, "reconcile", "--include-dry-run", "--write")
	require.Equal(t, ExitOK, code, out)
	ds, err = catalog.Load(ws.listings, ws.licenses)
	require.NoError(t, err)
	require.Equal(t, 2, *ds.Listings[0].License)
	require.Equal(t, 1, ds.Licenses[0].Count)
}

func TestRunStopsWhenEverythingResolves(t *testing.T) {
	useFetcher(t, pages{"https://a.bandcamp.com/album/one": typedPage})
	ws := newWorkspace(t, twoPending, oneLicense)

	code, out := ws.run(t, "run", "--write")
	require.Equal(t, ExitOK, code, out)
	require.Contains(t, out, "Orchestration: success")
}
