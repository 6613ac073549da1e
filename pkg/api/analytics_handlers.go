package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/playerpulse/pkg/analytics"
	"github.com/platinummonkey/playerpulse/pkg/cohort"
	"github.com/platinummonkey/playerpulse/pkg/counters"
	"github.com/platinummonkey/playerpulse/pkg/httputil"
	"github.com/platinummonkey/playerpulse/pkg/observability"
	"github.com/platinummonkey/playerpulse/pkg/rollup"
	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// AnalyticsService is the read side of analytics.Service
type AnalyticsService interface {
	GetPlayerCounters(ctx context.Context, playerID string) (counters.PlayerCounters, error)
	QueryDailyRollup(ctx context.Context, family string, r analytics.DateRange) (*analytics.Result[rollup.DailyRow], error)
	QueryCohortRetention(ctx context.Context, r analytics.WeekRange) (*analytics.Result[cohort.Row], error)
}

// AnalyticsHandlers serves the dashboard query endpoints
type AnalyticsHandlers struct {
	service AnalyticsService
}

// NewAnalyticsHandlers creates the query handlers
func NewAnalyticsHandlers(service AnalyticsService) *AnalyticsHandlers {
	return &AnalyticsHandlers{service: service}
}

// RegisterRoutes registers the query routes under /api/v1
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/players/{id}/counters", h.getPlayerCounters).Methods(http.MethodGet)
	v1.HandleFunc("/rollups/{family}", h.getRollup).Methods(http.MethodGet)
	v1.HandleFunc("/cohorts", h.getCohorts).Methods(http.MethodGet)
}

// getPlayerCounters handles GET /api/v1/players/{id}/counters
func (h *AnalyticsHandlers) getPlayerCounters(w http.ResponseWriter, r *http.Request) {
	playerID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	pc, err := h.service.GetPlayerCounters(r.Context(), playerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pc)
}

// getRollup handles GET /api/v1/rollups/{family}?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AnalyticsHandlers) getRollup(w http.ResponseWriter, r *http.Request) {
	family, ok := httputil.ParsePathStringOrError(w, r, "family")
	if !ok {
		return
	}
	from, to, ok := httputil.ParseQueryDateRange(w, r)
	if !ok {
		return
	}

	res, err := h.service.QueryDailyRollup(r.Context(), family, analytics.DateRange{From: from, To: to})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, RollupResponse{
		Family:      family,
		From:        formatDate(from),
		To:          formatDate(to),
		Version:     res.Version,
		GeneratedAt: res.GeneratedAt,
		Rows:        res.Rows,
	})
}

// getCohorts handles GET /api/v1/cohorts?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AnalyticsHandlers) getCohorts(w http.ResponseWriter, r *http.Request) {
	from, to, ok := httputil.ParseQueryDateRange(w, r)
	if !ok {
		return
	}

	res, err := h.service.QueryCohortRetention(r.Context(), analytics.WeekRange{From: from, To: to})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, CohortResponse{
		From:        formatDate(from),
		To:          formatDate(to),
		Version:     res.Version,
		GeneratedAt: res.GeneratedAt,
		Cohorts:     res.Rows,
	})
}

// writeServiceError maps service errors to HTTP statuses. Unexpected errors are logged
// and answered with an opaque 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidRange):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, rollup.ErrUnknownFamily):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, counters.ErrNotFound):
		httputil.WriteNotFoundError(w, "player not found")
	case errors.Is(err, rollup.ErrNoSnapshot):
		httputil.WriteServiceUnavailable(w, err.Error())
	case errors.Is(err, storage.ErrStorageUnavailable):
		observability.FromContext(r.Context()).WithError(err).Warn("Storage unavailable")
		httputil.WriteServiceUnavailable(w, "storage unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteServiceUnavailable(w, "request cancelled")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Query failed")
		httputil.WriteInternalError(w)
	}
}
