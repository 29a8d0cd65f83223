package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"charging-planner/internal/models"
	"charging-planner/pkg/database"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// PlanRepository provides data access for persisted planning runs
type PlanRepository interface {
	// Run operations
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*models.PlanRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.PlanRun, int, error)

	// Result operations
	GetComunaSummaries(ctx context.Context, runID string) ([]*models.ComunaSummary, error)
	GetInstallations(ctx context.Context, filter InstallationFilter) ([]*models.SiteInstallation, int, error)
	GetConflicts(ctx context.Context, runID string) ([]*models.Conflict, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// RunRecord is everything stored for one run.
type RunRecord struct {
	Run           *models.PlanRun
	Comunas       []models.ComunaSummary
	Installations []models.SiteInstallation
	Conflicts     []models.Conflict
}

// RunFilter defines filters for listing runs
type RunFilter struct {
	Status *models.SolveStatus
	Limit  int
	Offset int
}

// InstallationFilter defines filters for querying site installations
type InstallationFilter struct {
	RunID  string
	Comuna *string
	Period *int
	Limit  int
	Offset int
}

// planRepository implements PlanRepository
type planRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) PlanRepository {
	return &planRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// SaveRun stores a run with its summaries in a single transaction
func (r *planRepository) SaveRun(ctx context.Context, rec *RunRecord) error {
	timer := r.metrics.StageTimer("persist")
	defer func() {
		duration := timer.ObserveDuration()
		r.logger.Debug(ctx, "[REPO_SAVE_RUN] Run stored", logging.Fields{
			"run_id":        rec.Run.ID,
			"comunas":       len(rec.Comunas),
			"installations": len(rec.Installations),
			"duration_ms":   duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	run := rec.Run
	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_runs (
			id, status, objective, horizon,
			site_count, variable_count, constraint_count, conflict_count,
			artifact_dir, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.Status,
		run.Objective,
		run.Horizon,
		run.SiteCount,
		run.VariableCount,
		run.ConstraintCount,
		run.ConflictCount,
		run.ArtifactDir,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	comunaStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comuna_summaries (
			run_id, comuna, total_cost, demand_served, demand_total, co2_benefit,
			solar_output, energy_savings, utilization, coverage, new_chargers, new_panels
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer comunaStmt.Close()

	for _, c := range rec.Comunas {
		_, err := comunaStmt.ExecContext(ctx,
			run.ID, c.Comuna, c.TotalCost, c.DemandServed, c.DemandTotal, c.CO2Benefit,
			c.SolarOutput, c.EnergySavings, c.Utilization, c.Coverage, c.NewChargers, c.NewPanels,
		)
		if err != nil {
			return fmt.Errorf("failed to insert comuna summary %s: %w", c.Comuna, err)
		}
	}

	siteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO site_installations (
			run_id, comuna, site_id, period,
			new_slow, new_fast, new_panels, total_slow, total_fast, total_panels, demand_served
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer siteStmt.Close()

	for _, in := range rec.Installations {
		_, err := siteStmt.ExecContext(ctx,
			run.ID, in.Comuna, in.SiteID, in.Period,
			in.NewSlow, in.NewFast, in.NewPanels, in.TotalSlow, in.TotalFast, in.TotalPanels, in.DemandServed,
		)
		if err != nil {
			return fmt.Errorf("failed to insert installation %s/%s: %w", in.Comuna, in.SiteID, err)
		}
	}

	for i, c := range rec.Conflicts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_conflicts (run_id, position, id, description) VALUES ($1, $2, $3, $4)`,
			run.ID, i, c.ID, c.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to insert conflict %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `
	id, status, objective, horizon,
	site_count, variable_count, constraint_count, conflict_count,
	artifact_dir, started_at, finished_at
`

// GetRun retrieves a run by ID
func (r *planRepository) GetRun(ctx context.Context, runID string) (*models.PlanRun, error) {
	query := `SELECT ` + runColumns + ` FROM plan_runs WHERE id = $1`

	var run models.PlanRun
	err := r.db.GetContext(ctx, "get_run", &run, query, runID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "plan_run",
			ID:       runID,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves runs, newest first, with filtering and pagination
func (r *planRepository) ListRuns(ctx context.Context, filter RunFilter) ([]*models.PlanRun, int, error) {
	query := `SELECT ` + runColumns + ` FROM plan_runs WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_runs", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query += " ORDER BY started_at DESC, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var runs []*models.PlanRun
	err = r.db.SelectContext(ctx, "list_runs", &runs, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, totalCount, nil
}

// GetComunaSummaries retrieves the per-comuna summary of a run
func (r *planRepository) GetComunaSummaries(ctx context.Context, runID string) ([]*models.ComunaSummary, error) {
	query := `
		SELECT run_id, comuna, total_cost, demand_served, demand_total, co2_benefit,
		       solar_output, energy_savings, utilization, coverage, new_chargers, new_panels
		FROM comuna_summaries
		WHERE run_id = $1
		ORDER BY comuna
	`

	var summaries []*models.ComunaSummary
	if err := r.db.SelectContext(ctx, "get_comuna_summaries", &summaries, query, runID); err != nil {
		return nil, fmt.Errorf("failed to get comuna summaries: %w", err)
	}
	return summaries, nil
}

// GetInstallations retrieves site installations with filtering and pagination
func (r *planRepository) GetInstallations(ctx context.Context, filter InstallationFilter) ([]*models.SiteInstallation, int, error) {
	query := `
		SELECT run_id, comuna, site_id, period,
		       new_slow, new_fast, new_panels, total_slow, total_fast, total_panels, demand_served
		FROM site_installations
		WHERE run_id = $1
	`
	args := []interface{}{filter.RunID}
	argNum := 2

	if filter.Comuna != nil {
		query += fmt.Sprintf(" AND comuna = $%d", argNum)
		args = append(args, *filter.Comuna)
		argNum++
	}

	if filter.Period != nil {
		query += fmt.Sprintf(" AND period = $%d", argNum)
		args = append(args, *filter.Period)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_installations", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count installations: %w", err)
	}

	query += " ORDER BY comuna, site_id, period"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var installations []*models.SiteInstallation
	err = r.db.SelectContext(ctx, "get_installations", &installations, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get installations: %w", err)
	}

	return installations, totalCount, nil
}

// GetConflicts retrieves the conflict set of an infeasible run
func (r *planRepository) GetConflicts(ctx context.Context, runID string) ([]*models.Conflict, error) {
	query := `SELECT id, description FROM run_conflicts WHERE run_id = $1 ORDER BY position`

	rows, err := r.db.QueryContext(ctx, "get_conflicts", query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		c := &models.Conflict{}
		if err := rows.StructScan(c); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conflicts: %w", err)
	}
	return conflicts, nil
}

// HealthCheck performs a repository health check
func (r *planRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
