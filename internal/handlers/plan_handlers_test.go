package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charging-planner/internal/models"
	"charging-planner/internal/repository"
	"charging-planner/internal/services"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

type fakeRepo struct {
	runs          map[string]*models.PlanRun
	comunas       map[string][]*models.ComunaSummary
	installations map[string][]*models.SiteInstallation
	conflicts     map[string][]*models.Conflict
	err           error

	lastRunFilter  repository.RunFilter
	lastSiteFilter repository.InstallationFilter
}

func (f *fakeRepo) SaveRun(context.Context, *repository.RunRecord) error { return f.err }

func (f *fakeRepo) GetRun(_ context.Context, id string) (*models.PlanRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.runs[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "plan_run", ID: id}
	}
	return run, nil
}

func (f *fakeRepo) ListRuns(_ context.Context, filter repository.RunFilter) ([]*models.PlanRun, int, error) {
	f.lastRunFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	var out []*models.PlanRun
	for _, r := range f.runs {
		if filter.Status == nil || r.Status == *filter.Status {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetComunaSummaries(_ context.Context, id string) ([]*models.ComunaSummary, error) {
	return f.comunas[id], nil
}

func (f *fakeRepo) GetInstallations(_ context.Context, filter repository.InstallationFilter) ([]*models.SiteInstallation, int, error) {
	f.lastSiteFilter = filter
	all := f.installations[filter.RunID]
	return all, len(all), nil
}

func (f *fakeRepo) GetConflicts(_ context.Context, id string) ([]*models.Conflict, error) {
	return f.conflicts[id], nil
}

func (f *fakeRepo) HealthCheck(context.Context) error { return f.err }

const (
	optimalID    = "7d1f6a52-3b0e-4c59-9a43-0f3b8c7e2a11"
	infeasibleID = "c2a9e0b4-58d1-4f7e-b6a3-91d0e4f5a822"
)

func newFakeRepo() *fakeRepo {
	objective := 1250.5
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &fakeRepo{
		runs: map[string]*models.PlanRun{
			optimalID:    {ID: optimalID, Status: models.StatusOptimal, Objective: &objective, Horizon: 2, SiteCount: 3, StartedAt: started},
			infeasibleID: {ID: infeasibleID, Status: models.StatusInfeasible, Horizon: 1, SiteCount: 2, ConflictCount: 2, StartedAt: started},
		},
		comunas: map[string][]*models.ComunaSummary{
			optimalID: {
				{Comuna: "maipu", TotalCost: 800, DemandServed: 12},
				{Comuna: "ALL", TotalCost: 800, DemandServed: 12},
			},
		},
		installations: map[string][]*models.SiteInstallation{
			optimalID: {{Comuna: "maipu", SiteID: "1", Period: 1, NewSlow: 3, TotalSlow: 5}},
		},
		conflicts: map[string][]*models.Conflict{
			infeasibleID: {
				{ID: "floor_slow_s1", Description: "site maipu/1: existing slow chargers"},
				{ID: "budget_p1", Description: "period 1: budget"},
			},
		},
	}
}

func newTestRouter(repo *fakeRepo) (*mux.Router, *metrics.Collector) {
	m := metrics.NewNopCollector()
	logger := logging.NewNopLogger()
	h := NewPlanHandler(services.NewRunService(repo, logger, m), logger, m)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router, m
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListRuns(t *testing.T) {
	repo := newFakeRepo()
	router, m := newTestRouter(repo)

	rec := get(t, router, "/api/runs?status=infeasible&page=2&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Data       []models.PlanRun `json:"data"`
		Total      int              `json:"total"`
		Page       int              `json:"page"`
		Limit      int              `json:"limit"`
		TotalPages int              `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, infeasibleID, body.Data[0].ID)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 1, body.TotalPages)

	assert.Equal(t, 10, repo.lastRunFilter.Limit)
	assert.Equal(t, 10, repo.lastRunFilter.Offset)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("/api/runs", "GET", "200")))
}

func TestListRuns_Validation(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantLimit  int
	}{
		{"unknown status", "/api/runs?status=done", http.StatusBadRequest, 0},
		{"limit too large falls back", "/api/runs?limit=5000", http.StatusOK, 100},
		{"bad page falls back", "/api/runs?page=-1", http.StatusOK, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			router, _ := newTestRouter(repo)
			rec := get(t, router, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLimit, repo.lastRunFilter.Limit)
			assert.Equal(t, 0, repo.lastRunFilter.Offset)
		})
	}
}

func TestGetRun(t *testing.T) {
	router, _ := newTestRouter(newFakeRepo())

	rec := get(t, router, "/api/runs/"+optimalID)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		ID        string                  `json:"id"`
		Status    string                  `json:"status"`
		Objective *float64                `json:"objective"`
		Comunas   []*models.ComunaSummary `json:"comunas"`
		Conflicts []*models.Conflict      `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, optimalID, detail.ID)
	assert.Equal(t, "optimal", detail.Status)
	require.NotNil(t, detail.Objective)
	assert.Equal(t, 1250.5, *detail.Objective)
	assert.Len(t, detail.Comunas, 2)
	assert.Empty(t, detail.Conflicts)

	rec = get(t, router, "/api/runs/"+infeasibleID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Nil(t, detail.Objective)
	require.Len(t, detail.Conflicts, 2)
	assert.Equal(t, "floor_slow_s1", detail.Conflicts[0].ID)
}

func TestRunSubresources(t *testing.T) {
	repo := newFakeRepo()
	router, _ := newTestRouter(repo)

	rec := get(t, router, "/api/runs/"+optimalID+"/comunas")
	require.Equal(t, http.StatusOK, rec.Code)
	var comunas []models.ComunaSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comunas))
	assert.Equal(t, "ALL", comunas[1].Comuna)

	rec = get(t, router, "/api/runs/"+optimalID+"/sites?comuna=maipu&period=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastSiteFilter.Comuna)
	assert.Equal(t, "maipu", *repo.lastSiteFilter.Comuna)
	require.NotNil(t, repo.lastSiteFilter.Period)
	assert.Equal(t, 1, *repo.lastSiteFilter.Period)
	assert.Equal(t, optimalID, repo.lastSiteFilter.RunID)

	rec = get(t, router, "/api/runs/"+optimalID+"/sites?period=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, router, "/api/runs/"+optimalID+"/conflicts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = get(t, router, "/api/runs/"+infeasibleID+"/conflicts")
	require.Equal(t, http.StatusOK, rec.Code)
	var conflicts []models.Conflict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflicts))
	assert.Equal(t, "budget_p1", conflicts[1].ID)
}

func TestUnknownRun(t *testing.T) {
	router, m := newTestRouter(newFakeRepo())
	const missingID = "0b6f2c1e-9d4a-4e2b-8f11-5a7c3d9e0f42"

	for _, suffix := range []string{"", "/comunas", "/sites", "/conflicts"} {
		path := "/api/runs/" + missingID + suffix
		rec := get(t, router, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 404, body.Code)
		assert.Contains(t, body.Message, missingID)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("/api/runs/{id}", "GET", "404")))
}

func TestMalformedRunID(t *testing.T) {
	repo := newFakeRepo()
	// any lookup that slipped through would turn into a 500
	repo.err = errors.New("invalid input syntax for type uuid")
	router, m := newTestRouter(repo)

	for _, suffix := range []string{"", "/comunas", "/sites", "/conflicts"} {
		path := "/api/runs/not-a-uuid" + suffix
		rec := get(t, router, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Message, "UUID")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("/api/runs/{id}", "GET", "400")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("internal_error", "/api/runs/{id}")))
}

func TestRepositoryFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("connection refused")
	router, m := newTestRouter(repo)

	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/api/runs").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/api/runs/"+optimalID).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("internal_error", "/api/runs")))

	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestHealthAndDocs(t *testing.T) {
	router, _ := newTestRouter(newFakeRepo())

	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = get(t, router, "/api/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	paths, ok := spec["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/api/runs/{id}/sites")

	rec = get(t, router, "/api/docs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Charging Planner API</title>")
}

func TestPostNotAllowed(t *testing.T) {
	router, _ := newTestRouter(newFakeRepo())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
