package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/config"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
	"github.com/JakeFAU/license-resolver/internal/orchestrator"
	"github.com/JakeFAU/license-resolver/internal/publisher/memory"
)

type stubFetcher map[string]string

func (s stubFetcher) Fetch(_ context.Context, url string) fetcher.Response {
	body, ok := s[url]
	if !ok {
		return fetcher.Response{Status: http.StatusNotFound, FinalURL: url, Attempts: 1}
	}
	return fetcher.Response{Status: http.StatusOK, FinalURL: url, Body: []byte(body), Attempts: 1}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	listings := filepath.Join(dir, "listings.json")
	licenses := filepath.Join(dir, "licenses.json")
	require.NoError(t, os.WriteFile(listings, []byte(`[
		{"url_id":"one","url":"https://a.bandcamp.com/album/one","license":null},
		{"url_id":"two","url":"https://a.bandcamp.com/album/two","license":null}
	]`), 0o600))
	require.NoError(t, os.WriteFile(licenses, []byte(`[{"name":"attribution","bc_id":2,"count":0}]`), 0o600))

	return config.Config{
		Data:     config.DataConfig{Listings: listings, Licenses: licenses},
		Resolver: config.ResolverConfig{Concurrency: 2, Write: true},
		HTTP:     config.HTTPConfig{Timeout: time.Second},
		Fallback: config.FallbackConfig{ConsensusMinKnown: 20, ConsensusMinPurity: 0.95},
		Orchestrator: config.OrchestratorConfig{
			MaxPasses:      2,
			StallThreshold: 1,
		},
		Reports: config.ReportsConfig{Backend: config.BackendMemory, Prefix: "reports"},
		PubSub:  config.PubSubConfig{TopicName: "passes"},
	}
}

func TestBuildRunsPassAndTracksProgress(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	a, err := Build(context.Background(), testConfig(t),
		WithLogger(zap.NewNop()),
		WithPublisher(pub),
		WithFetcher(stubFetcher{
			"https://a.bandcamp.com/album/one": `<meta data-tralbum="{&quot;license_type&quot;:2}">`,
		}),
	)
	require.NoError(t, err)

	rep, err := a.Runner().RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Summary.Mapped)
	require.Equal(t, 1, rep.Summary.Dead)
	require.Equal(t, time.Second, rep.Options.Timeout)

	stored, err := a.Reports().List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, pub.Messages(), 1)

	require.NoError(t, a.Close(context.Background()))
	latest, ok := a.Board().Latest()
	require.True(t, ok)
	require.Equal(t, rep.RunID, latest.RunID)
	require.False(t, latest.Running)
}

func TestOrchestratorStopsOnceEverythingIsResolved(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()), WithFetcher(stubFetcher{}))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	o, err := a.Orchestrator()
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, orchestrator.ReasonSuccess, res.Reason)
	require.Len(t, res.Reports, 1)
	require.Equal(t, 2, res.Reports[0].Summary.Dead)
	require.Equal(t, orchestrator.StateDone, o.Status().State)
}

func TestServeIsNoopWithoutAddress(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), testConfig(t), WithLogger(zap.NewNop()), WithFetcher(stubFetcher{}))
	require.NoError(t, err)
	shutdown := a.Serve(context.Background(), nil)
	require.NoError(t, shutdown(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildFailsOnUnwritableReportDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Reports = config.ReportsConfig{Backend: config.BackendLocal, Dir: blocker}

	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithFetcher(stubFetcher{}))
	require.Error(t, err)
}
