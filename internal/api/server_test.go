package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/metrics"
	"github.com/JakeFAU/license-resolver/internal/orchestrator"
	"github.com/JakeFAU/license-resolver/internal/progress/sinks"
	"github.com/JakeFAU/license-resolver/internal/report"
)

type fakeStatus struct{ st orchestrator.Status }

func (f fakeStatus) Status() orchestrator.Status { return f.st }

type fakeBoard []sinks.PassStatus

func (f fakeBoard) Recent() []sinks.PassStatus { return f }

type fakeReports struct {
	reports []report.Report
	err     error
}

func (f *fakeReports) Save(context.Context, report.Report) (string, error) { return "", nil }

func (f *fakeReports) List(context.Context) ([]report.Report, error) {
	return f.reports, f.err
}

func storedReports() *fakeReports {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &fakeReports{reports: []report.Report{
		{RunID: "r1", Kind: report.KindPass, GeneratedAt: base, Summary: report.Summary{Mapped: 1}},
		{RunID: "r2", Kind: report.KindPass, GeneratedAt: base.Add(time.Hour), Options: report.Options{Write: true}},
		{RunID: "r3", Kind: report.KindPass, GeneratedAt: base.Add(2 * time.Hour)},
	}}
}

func serve(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	bare := NewServer(Deps{Gatherer: prometheus.NewRegistry()})
	rec := serve(t, bare, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, http.StatusServiceUnavailable, serve(t, bare, http.MethodGet, "/readyz", nil).Code)

	ready := NewServer(Deps{Status: fakeStatus{}, Gatherer: prometheus.NewRegistry()})
	require.Equal(t, http.StatusOK, serve(t, ready, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_StatusCombinesOrchestratorAndPasses(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{
		Status: fakeStatus{st: orchestrator.Status{State: orchestrator.StateSleeping, Passes: 2, LastRunID: "r2"}},
		Passes: fakeBoard{{RunID: "r2", Running: false}, {RunID: "r1"}},
	})
	rec := serve(t, s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Orchestrator orchestrator.Status `json:"orchestrator"`
		Passes       []sinks.PassStatus  `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, orchestrator.StateSleeping, body.Orchestrator.State)
	require.Equal(t, 2, body.Orchestrator.Passes)
	require.Len(t, body.Passes, 2)
	require.Equal(t, "r2", body.Passes[0].RunID)
}

func TestServer_StatusWithoutSources(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}), http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"passes":[]}`, rec.Body.String())
}

func TestServer_APIKeyGuardsV1(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{APIKey: "secret", Reports: storedReports()})
	require.Equal(t, http.StatusForbidden, serve(t, s, http.MethodGet, "/v1/status", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/v1/status?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/v1/reports", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestReportHandler_ListNewestFirstWithPaging(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Reports: storedReports()})
	rec := serve(t, s, http.MethodGet, "/v1/reports?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reports []reportDTO `json:"reports"`
		Total   int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Reports, 2)
	require.Equal(t, "r2", body.Reports[0].RunID)
	require.False(t, body.Reports[0].DryRun)
	require.Equal(t, "r1", body.Reports[1].RunID)
	require.True(t, body.Reports[1].DryRun)
}

func TestReportHandler_RejectsBadPaging(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Reports: storedReports()})
	require.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/v1/reports?limit=0", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/v1/reports?offset=-1", nil).Code)
}

func TestReportHandler_GetReport(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Reports: storedReports()})
	rec := serve(t, s, http.MethodGet, "/v1/reports/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Equal(t, 1, rep.Summary.Mapped)

	require.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/v1/reports/missing", nil).Code)
}

func TestReportHandler_StoreFailures(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(Deps{}), http.MethodGet, "/v1/reports", nil).Code)

	broken := NewServer(Deps{Reports: &fakeReports{err: errors.New("bucket gone")}})
	require.Equal(t, http.StatusInternalServerError, serve(t, broken, http.MethodGet, "/v1/reports", nil).Code)
	require.Equal(t, http.StatusInternalServerError, serve(t, broken, http.MethodGet, "/v1/reports/r1", nil).Code)
}

func TestServer_MetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	metrics.ObservePass(time.Second, 3)

	rec := serve(t, NewServer(Deps{Gatherer: reg}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "resolver_unresolved_records")
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
