package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/intent"
	"github.com/railquery-data/internal/schedule"
	"github.com/railquery-data/pkg/gtfs/models"
)

// Planner is the query surface the handlers need
type Planner interface {
	FindDepartures(ctx context.Context, req schedule.DepartureQuery) (*schedule.Result, error)
	NextDepartures(ctx context.Context, req schedule.StationQuery) (*schedule.Result, error)
	RouteStops(ctx context.Context, tripID string) (*schedule.Result, error)
	StationSearch(ctx context.Context, query string, limit int) (*schedule.Result, error)
	ServicesOn(ctx context.Context, date string) (*schedule.Result, error)
	ActiveSnapshot(ctx context.Context) (*models.SnapshotInfo, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	planner   Planner
	store     Pinger
	extractor *intent.Extractor
	validate  *validator.Validate
	maxLimit  int
	logger    logger.Logger
}

func NewHandler(planner Planner, store Pinger, extractor *intent.Extractor, maxLimit int, logger logger.Logger) *Handler {
	return &Handler{
		planner:   planner,
		store:     store,
		extractor: extractor,
		validate:  validator.New(),
		maxLimit:  maxLimit,
		logger:    logger.With("component", "api"),
	}
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type departuresRequest struct {
	From  string `validate:"required,max=200"`
	To    string `validate:"required,max=200"`
	Date  string
	Time  string
	Limit int
}

type stationRequest struct {
	Station string `validate:"required,max=200"`
	Date    string
	Time    string
	Limit   int
}

type stopsRequest struct {
	Query string `validate:"required,max=200"`
	Limit int
}

type queryRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
}

// QueryResponse answers a free-text question
type QueryResponse struct {
	Summary  string             `json:"summary"`
	Intent   intent.Intent      `json:"intent"`
	Tables   []*schedule.Result `json:"tables"`
	Warnings []string           `json:"warnings"`
}

type healthResponse struct {
	Status    string               `json:"status"`
	Database  string               `json:"database"`
	Snapshot  *models.SnapshotInfo `json:"snapshot,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Error     string               `json:"error,omitempty"`
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "connected", Timestamp: time.Now().UTC()}

	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	snap, err := h.planner.ActiveSnapshot(ctx)
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		if errors.Is(err, db.ErrNoSnapshot) {
			resp.Status = "no-snapshot"
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Snapshot = snap
	writeJSON(w, http.StatusOK, resp)
}

// SearchStops handles GET /stops?q=&limit=
func (h *Handler) SearchStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := h.parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	req := stopsRequest{Query: strings.TrimSpace(q.Get("q")), Limit: limit}
	if !h.check(w, req) {
		return
	}

	result, err := h.planner.StationSearch(r.Context(), req.Query, req.Limit)
	h.respond(w, r, result, err)
}

// Departures handles GET /departures?from=&to=&date=&time=&limit=
func (h *Handler) Departures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := h.parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	req := departuresRequest{
		From:  strings.TrimSpace(q.Get("from")),
		To:    strings.TrimSpace(q.Get("to")),
		Date:  q.Get("date"),
		Time:  q.Get("time"),
		Limit: limit,
	}
	if !h.check(w, req) {
		return
	}

	result, err := h.planner.FindDepartures(r.Context(), schedule.DepartureQuery{
		Origin:      req.From,
		Destination: req.To,
		Date:        req.Date,
		After:       req.Time,
		Limit:       req.Limit,
	})
	h.respond(w, r, result, err)
}

// StationDepartures handles GET /stations/{name}/departures
func (h *Handler) StationDepartures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := h.parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	req := stationRequest{
		Station: strings.TrimSpace(chi.URLParam(r, "name")),
		Date:    q.Get("date"),
		Time:    q.Get("time"),
		Limit:   limit,
	}
	if !h.check(w, req) {
		return
	}

	result, err := h.planner.NextDepartures(r.Context(), schedule.StationQuery{
		Station: req.Station,
		Date:    req.Date,
		After:   req.Time,
		Limit:   req.Limit,
	})
	h.respond(w, r, result, err)
}

// TripStops handles GET /trips/{tripID}/stops
func (h *Handler) TripStops(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	if err := h.validate.Var(tripID, "required,max=200"); err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := h.planner.RouteStops(r.Context(), tripID)
	h.respond(w, r, result, err)
}

// Services handles GET /calendar/{date}/services
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	result, err := h.planner.ServicesOn(r.Context(), chi.URLParam(r, "date"))
	h.respond(w, r, result, err)
}

// Query handles POST /query with a free-text message
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if !h.check(w, req) {
		return
	}

	parsed := h.extractor.Parse(req.Message)
	resp := QueryResponse{Intent: parsed, Tables: []*schedule.Result{}, Warnings: []string{}}

	if parsed.Origin == "" || parsed.Destination == "" {
		resp.Summary = "Please specify both origin and destination stops (e.g., 'from Stockholm C to Göteborg')."
		resp.Warnings = append(resp.Warnings, "Missing origin or destination.")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	result, err := h.planner.FindDepartures(r.Context(), schedule.DepartureQuery{
		Origin:      parsed.Origin,
		Destination: parsed.Destination,
		Date:        parsed.Date,
		After:       parsed.Time,
	})
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	resp.Tables = append(resp.Tables, result)

	if result.Empty() {
		resp.Summary = "I could not find departures for that query. Try adjusting the time or stop names."
		if result.Message != "" {
			resp.Warnings = append(resp.Warnings, result.Message)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Summary = fmt.Sprintf("Departures from %s to %s", parsed.Origin, parsed.Destination)
	if parsed.Date != "" {
		resp.Summary += " on " + parsed.Date
	}
	if parsed.Time != "" {
		resp.Summary += " after " + parsed.Time[:5]
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseLimit reads the optional limit parameter; 0 means the planner default
func (h *Handler) parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Details: map[string]interface{}{"Limit": "integer"},
		})
		return 0, false
	}
	if err := h.validate.Var(n, fmt.Sprintf("gte=0,lte=%d", h.maxLimit)); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Details: map[string]interface{}{"Limit": fmt.Sprintf("between 0 and %d", h.maxLimit)},
		})
		return 0, false
	}
	return n, true
}

func (h *Handler) check(w http.ResponseWriter, req interface{}) bool {
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, result *schedule.Result, err error) {
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("Query failed", "path", r.URL.Path, "error", err)

	msg := "Query failed"
	if errors.Is(err, db.ErrNoSnapshot) {
		msg = "No active rail snapshot"
	}
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
		Error:   msg,
		Details: map[string]interface{}{"internal": err.Error()},
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	details := map[string]interface{}{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := fe.Field()
			if field == "" {
				field = "value"
			}
			details[field] = fe.Tag()
		}
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Details: details})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
