package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"charging-planner/internal/models"
	"charging-planner/internal/repository"
	"charging-planner/internal/services"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// PlanHandler serves persisted planning runs. It never starts a run.
type PlanHandler struct {
	runService *services.RunService
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewPlanHandler creates a new plan handler
func NewPlanHandler(
	runService *services.RunService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *PlanHandler {
	return &PlanHandler{
		runService: runService,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

type pagination struct {
	page, limit int
}

func (p pagination) offset() int { return (p.page - 1) * p.limit }

func (p pagination) response(data interface{}, total int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       p.page,
		Limit:      p.limit,
		TotalPages: (total + p.limit - 1) / p.limit,
	}
}

// parsePagination reads page and limit, falling back to the defaults on
// anything out of range.
func parsePagination(r *http.Request) pagination {
	p := pagination{page: 1, limit: 100}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			p.limit = n
		}
	}
	return p
}

func (h *PlanHandler) observe(endpoint string) func() {
	startTime := time.Now()
	return func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}
}

// ListRuns handles GET /api/runs
func (h *PlanHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs"
	defer h.observe(endpoint)()
	ctx := r.Context()

	page := parsePagination(r)
	filter := repository.RunFilter{
		Limit:  page.limit,
		Offset: page.offset(),
	}

	if v := r.URL.Query().Get("status"); v != "" {
		status := models.SolveStatus(v)
		switch status {
		case models.StatusOptimal, models.StatusInfeasible, models.StatusTimeLimit, models.StatusError:
		default:
			h.sendError(w, r, endpoint, "invalid status, expected optimal, infeasible, time-limit-reached or error", http.StatusBadRequest)
			return
		}
		filter.Status = &status
	}

	runs, total, err := h.runService.ListRuns(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_RUNS_ERROR] Failed to list runs", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, endpoint, "failed to retrieve runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, page.response(runs, total), http.StatusOK)
}

// GetRun handles GET /api/runs/{id}
func (h *PlanHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}"
	defer h.observe(endpoint)()
	ctx := r.Context()
	runID, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	detail, err := h.runService.GetRun(ctx, runID)
	if err != nil {
		h.handleLookupError(w, r, endpoint, runID, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, detail, http.StatusOK)
}

// GetComunas handles GET /api/runs/{id}/comunas
func (h *PlanHandler) GetComunas(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}/comunas"
	defer h.observe(endpoint)()
	ctx := r.Context()
	runID, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	summaries, err := h.runService.GetComunaSummaries(ctx, runID)
	if err != nil {
		h.handleLookupError(w, r, endpoint, runID, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, summaries, http.StatusOK)
}

// GetSites handles GET /api/runs/{id}/sites
func (h *PlanHandler) GetSites(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}/sites"
	defer h.observe(endpoint)()
	ctx := r.Context()
	runID, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	page := parsePagination(r)
	filter := repository.InstallationFilter{
		RunID:  runID,
		Limit:  page.limit,
		Offset: page.offset(),
	}

	if comuna := r.URL.Query().Get("comuna"); comuna != "" {
		filter.Comuna = &comuna
	}

	if v := r.URL.Query().Get("period"); v != "" {
		period, err := strconv.Atoi(v)
		if err != nil || period < 1 {
			h.sendError(w, r, endpoint, "invalid period, expected a positive integer", http.StatusBadRequest)
			return
		}
		filter.Period = &period
	}

	installations, total, err := h.runService.GetInstallations(ctx, filter)
	if err != nil {
		h.handleLookupError(w, r, endpoint, runID, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, page.response(installations, total), http.StatusOK)
}

// GetConflicts handles GET /api/runs/{id}/conflicts
func (h *PlanHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}/conflicts"
	defer h.observe(endpoint)()
	ctx := r.Context()
	runID, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	conflicts, err := h.runService.GetConflicts(ctx, runID)
	if err != nil {
		h.handleLookupError(w, r, endpoint, runID, err)
		return
	}
	if conflicts == nil {
		conflicts = []*models.Conflict{}
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, conflicts, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *PlanHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.runService.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Database unreachable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// runID reads the {id} path variable. Run ids are UUIDs, so anything else is
// rejected before it reaches the database.
func (h *PlanHandler) runID(w http.ResponseWriter, r *http.Request, endpoint string) (string, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, endpoint, "invalid run id, expected a UUID", http.StatusBadRequest)
		return "", false
	}
	return id.String(), true
}

func (h *PlanHandler) handleLookupError(w http.ResponseWriter, r *http.Request, endpoint, runID string, err error) {
	var nf *repository.NotFoundError
	if errors.As(err, &nf) {
		h.sendError(w, r, endpoint, nf.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error(r.Context(), "[API_RUN_LOOKUP_ERROR] Failed to read run", logging.Fields{
		"run_id":   runID,
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, endpoint, "failed to retrieve run", http.StatusInternalServerError)
}

// sendJSON sends a JSON response
func (h *PlanHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *PlanHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all run API routes
func (h *PlanHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}", h.GetRun).Methods("GET")
	router.HandleFunc("/api/runs/{id}/comunas", h.GetComunas).Methods("GET")
	router.HandleFunc("/api/runs/{id}/sites", h.GetSites).Methods("GET")
	router.HandleFunc("/api/runs/{id}/conflicts", h.GetConflicts).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}
