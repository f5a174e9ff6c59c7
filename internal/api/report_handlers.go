package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/report"
)

const (
	defaultReportLimit = 20
	maxReportLimit     = 200
	reportTimeout      = 5 * time.Second
)

// ReportHandler exposes archived run reports.
type ReportHandler struct {
	store   report.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewReportHandler wires the report store and logger.
func NewReportHandler(store report.Store, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{store: store, timeout: reportTimeout, logger: logger}
}

type reportDTO struct {
	RunID       string               `json:"run_id"`
	Kind        string               `json:"kind"`
	GeneratedAt time.Time            `json:"generated_at"`
	DryRun      bool                 `json:"dry_run"`
	Dataset     report.DatasetCounts `json:"dataset"`
	Summary     report.Summary       `json:"summary"`
}

func toReportDTO(r report.Report) reportDTO {
	return reportDTO{
		RunID:       r.RunID,
		Kind:        r.Kind,
		GeneratedAt: r.GeneratedAt,
		DryRun:      r.Options.DryRun(),
		Dataset:     r.Dataset,
		Summary:     r.Summary,
	}
}

// ListReports handles GET /v1/reports?limit=&offset=. Reports are listed
// newest first without their per-record outcomes.
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "report store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultReportLimit, maxReportLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	reports, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("list reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	out := make([]reportDTO, 0, limit)
	for i := len(reports) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, toReportDTO(reports[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out, "total": len(reports)})
}

// GetReport handles GET /v1/reports/{run_id}, returning the full report with
// outcomes or 404 when no stored report carries the id.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "report store unavailable")
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	reports, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("list reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	for _, rep := range reports {
		if rep.RunID == runID {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}
	writeError(w, http.StatusNotFound, "report not found")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
