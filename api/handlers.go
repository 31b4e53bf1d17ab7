/*
handlers.go - HTTP API handlers for the metrics engine

PURPOSE:
  Exposes computed metric reports, indicator evaluation and the catalog
  over REST. Handlers parse the request, call the report service or the
  store, and serialize the result.

ENDPOINTS:
  Clients:
    GET    /api/clients                         List clients
    GET    /api/clients/{id}                    Client details
    DELETE /api/clients/{id}                    Delete a client and its books

  Metrics:
    GET    /api/clients/{id}/metrics            Full report (JSON)
    GET    /api/clients/{id}/metrics.xlsx       Spreadsheet export
    GET    /api/clients/{id}/metrics.csv        CSV export
    POST   /api/clients/{id}/metrics/refresh    Drop cache and recompute

  Indicators:
    GET    /api/clients/{id}/kpis               Evaluate every family
    POST   /api/clients/{id}/kpis/{family}      Save criteria, evaluate one
    POST   /api/clients/{id}/opportunity-score  Score plus clamped targets

  Catalog:
    GET    /api/catalog                         Raw specs and ordered rules

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status chosen by statusFor:
  - 400: Malformed body, unknown family, invalid criteria
  - 404: Unknown client
  - 503: Retryable data-access failure (timeout, lost connection)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo client ledgers
  - warmer.go: Background cache warmer
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/kpi"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/metrics"
	"github.com/warp/finance-metrics/report"
	"github.com/warp/finance-metrics/store/sqlite"
	"golang.org/x/time/rate"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Reports *report.Service
	Catalog *catalog.Catalog
	Warmer  *CacheWarmer

	// Recompute limits requests that bypass the report cache.
	Recompute *rate.Limiter

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler. The warmer is created stopped.
func NewHandler(store *sqlite.Store, reports *report.Service, cat *catalog.Catalog) *Handler {
	return &Handler{
		Store:     store,
		Reports:   reports,
		Catalog:   cat,
		Warmer:    NewCacheWarmer(store, reports),
		Recompute: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientParam(w, r)
	if !ok {
		return
	}

	c, err := h.Store.Client(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientParam(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteClient(r.Context(), id); err != nil {
		writeServiceError(w, r, "Failed to delete client", err)
		return
	}
	h.Reports.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// METRIC HANDLERS
// =============================================================================

// GetMetrics returns the client's full metric report.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

// RefreshMetrics drops the client's cached reports and recomputes.
func (h *Handler) RefreshMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := clientParam(w, r)
	if !ok {
		return
	}
	h.Reports.Invalidate(id)

	rep, err := h.Reports.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to compute metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", contentTypeXLSX, report.WriteXLSX)
}

func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "csv", "text/csv; charset=utf-8", report.WriteCSV)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, write func(io.Writer, *report.Report) error) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}

	// Rendered into a buffer so a failed export still gets a JSON error.
	var buf bytes.Buffer
	if err := write(&buf, rep); err != nil {
		writeServiceError(w, r, "Failed to export metrics", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(rep, ext)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) (*report.Report, bool) {
	id, ok := clientParam(w, r)
	if !ok {
		return nil, false
	}
	rep, err := h.Reports.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to compute metrics", err)
		return nil, false
	}
	return rep, true
}

// =============================================================================
// KPI HANDLERS
// =============================================================================

// ListKPIs evaluates every family with the client's saved criteria.
func (h *Handler) ListKPIs(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}

	dtos, _, err := h.evaluateAll(r.Context(), rep)
	if err != nil {
		writeServiceError(w, r, "Failed to evaluate indicators", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveKPI validates and stores one family's criteria, then evaluates it.
// Invalid criteria are rejected before any metric is read.
func (h *Handler) SaveKPI(w http.ResponseWriter, r *http.Request) {
	id, ok := clientParam(w, r)
	if !ok {
		return
	}

	family, err := kpi.ParseFamily(chi.URLParam(r, "family"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown indicator family", err)
		return
	}

	var raw kpi.RawCriteria
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := raw.Parse()
	if err != nil {
		writeServiceError(w, r, "Invalid criteria", err)
		return
	}

	if err := h.Store.SaveCriteria(r.Context(), id, family, raw); err != nil {
		writeServiceError(w, r, "Failed to save criteria", err)
		return
	}

	rep, err := h.Reports.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to compute metrics", err)
		return
	}
	res, err := kpi.Evaluate(rep, family, c)
	if err != nil {
		writeServiceError(w, r, "Failed to evaluate indicator", err)
		return
	}
	writeJSON(w, http.StatusOK, toKPIResultDTO(res, raw))
}

// OpportunityScore scores the client and echoes clamped discussion
// targets. An empty body uses the default targets.
func (h *Handler) OpportunityScore(w http.ResponseWriter, r *http.Request) {
	var req OpportunityScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rep, ok := h.report(w, r)
	if !ok {
		return
	}

	dtos, results, err := h.evaluateAll(r.Context(), rep)
	if err != nil {
		writeServiceError(w, r, "Failed to evaluate indicators", err)
		return
	}

	resp := OpportunityScoreDTO{
		Targets: kpi.Targets{
			Suitability: kpi.ClampTarget(req.Suitability),
			Opportunity: kpi.ClampTarget(req.Opportunity),
			Readiness:   kpi.ClampTarget(req.Readiness),
		},
		KPIs: dtos,
	}
	resp.Score, resp.HasScore = kpi.OpportunityScore(results)
	for _, res := range results {
		if res.Enabled {
			resp.Enabled++
			if res.Flag {
				resp.Flagged++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// evaluateAll evaluates every family in report order. A saved row that no
// longer parses falls back to the defaults and is logged.
func (h *Handler) evaluateAll(ctx context.Context, rep *report.Report) ([]KPIResultDTO, []kpi.Result, error) {
	saved, err := h.Store.LoadCriteria(ctx, rep.Client.ID)
	if err != nil {
		return nil, nil, err
	}

	dtos := make([]KPIResultDTO, 0, len(kpi.Families))
	results := make([]kpi.Result, 0, len(kpi.Families))
	for _, f := range kpi.Families {
		raw := saved[f]
		c, err := raw.Parse()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("family", string(f)).Msg("ignoring saved criteria")
			c, raw = kpi.DefaultCriteria(), kpi.RawCriteria{}
		}
		res, err := kpi.Evaluate(rep, f, c)
		if err != nil {
			return nil, nil, err
		}
		dtos = append(dtos, toKPIResultDTO(res, raw))
		results = append(results, res)
	}
	return dtos, results, nil
}

// =============================================================================
// CATALOG / ADMIN
// =============================================================================

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCatalogDTO(h.Catalog))
}

// WarmCache computes every client's report now.
func (h *Handler) WarmCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Warmer.RunNow(r.Context()))
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.Reports.Flush()

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// throttle rejects requests beyond h.Recompute's rate with 429.
func (h *Handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Recompute.Allow() {
			zerolog.Ctx(r.Context()).Warn().Msg("recompute rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "Too many recompute requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a domain error to its status and logs server-side
// failures with the request logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case kpi.IsValidationError(err), errors.Is(err, kpi.ErrUnknownFamily):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientParam(w http.ResponseWriter, r *http.Request) (ledger.ClientID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid client id", fmt.Errorf("%q is not a positive integer", raw))
		return 0, false
	}
	return ledger.ClientID(id), true
}

func keyStrings(keys []metrics.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
