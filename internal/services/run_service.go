package services

import (
	"context"

	"charging-planner/internal/models"
	"charging-planner/internal/repository"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// RunService handles read access to persisted planning runs
type RunService struct {
	repo    repository.PlanRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRunService creates a new run service
func NewRunService(repo repository.PlanRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RunService {
	return &RunService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// RunDetail is a run with its comuna summaries and conflict set.
type RunDetail struct {
	*models.PlanRun
	Comunas   []*models.ComunaSummary `json:"comunas"`
	Conflicts []*models.Conflict      `json:"conflicts,omitempty"`
}

// ListRuns retrieves runs with filtering
func (s *RunService) ListRuns(ctx context.Context, filter repository.RunFilter) ([]*models.PlanRun, int, error) {
	return s.repo.ListRuns(ctx, filter)
}

// GetRun retrieves a run together with its summaries
func (s *RunService) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	comunas, err := s.repo.GetComunaSummaries(ctx, runID)
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{PlanRun: run, Comunas: comunas}
	if run.Status == models.StatusInfeasible {
		detail.Conflicts, err = s.repo.GetConflicts(ctx, runID)
		if err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// GetComunaSummaries retrieves the per-comuna summary of an existing run
func (s *RunService) GetComunaSummaries(ctx context.Context, runID string) ([]*models.ComunaSummary, error) {
	if _, err := s.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.GetComunaSummaries(ctx, runID)
}

// GetInstallations retrieves site installations of an existing run
func (s *RunService) GetInstallations(ctx context.Context, filter repository.InstallationFilter) ([]*models.SiteInstallation, int, error) {
	if _, err := s.repo.GetRun(ctx, filter.RunID); err != nil {
		return nil, 0, err
	}
	return s.repo.GetInstallations(ctx, filter)
}

// GetConflicts retrieves the conflict set of an existing run
func (s *RunService) GetConflicts(ctx context.Context, runID string) ([]*models.Conflict, error) {
	if _, err := s.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.GetConflicts(ctx, runID)
}

// HealthCheck checks the backing store
func (s *RunService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
