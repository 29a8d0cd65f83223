package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"charging-planner/internal/aggregate"
	"charging-planner/internal/builder"
	"charging-planner/internal/catalog"
	"charging-planner/internal/config"
	"charging-planner/internal/decoder"
	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/params"
	"charging-planner/internal/repository"
	"charging-planner/internal/solver"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// Pipeline stage names, used as log stages and metric labels.
const (
	StageLoadCatalog    = "load_catalog"
	StageLoadParameters = "load_parameters"
	StageLoadTravel     = "load_travel_times"
	StageBuild          = "build"
	StageSolve          = "solve"
	StageDecode         = "decode"
	StageSummarize      = "summarize"
)

// PlanningService runs the planning pipeline from site sources to summary
// files. It holds no state between runs.
type PlanningService struct {
	cfg     config.PlannerConfig
	backend solver.Backend
	repo    repository.PlanRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPlanningService creates a planning service. repo may be nil, in which
// case runs are only logged.
func NewPlanningService(cfg config.PlannerConfig, backend solver.Backend, repo repository.PlanRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PlanningService {
	return &PlanningService{
		cfg:     cfg,
		backend: backend,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Inputs are the loaded inputs of one run. Travel is nil when coverage is off.
type Inputs struct {
	Catalog *models.Catalog
	Table   *params.Table
	Travel  *models.TravelTimes
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	Run     *models.PlanRun
	Record  *models.SolutionRecord
	Summary *aggregate.Summary
	// Outputs are the summary files written into the run directory.
	Outputs []string
}

// ValidationReport describes inputs that loaded and built cleanly.
type ValidationReport struct {
	Sites       int            `json:"sites"`
	Comunas     []string       `json:"comunas"`
	UnknownTags map[string]int `json:"unknown_tags,omitempty"`
	Horizon     int            `json:"horizon"`
	Coverage    bool           `json:"coverage"`
	Variables   int            `json:"variables"`
	Discrete    int            `json:"discrete"`
	Constraints int            `json:"constraints"`
}

// LoadCatalog discovers and loads the site sources.
func (s *PlanningService) LoadCatalog(ctx context.Context) (*models.Catalog, error) {
	sources, err := catalog.Discover(s.cfg.SourcesDir)
	if err != nil {
		return nil, &models.ConfigurationError{Name: "sources_dir", Message: err.Error()}
	}
	loader := catalog.NewLoader(catalog.Options{
		PcapDefault:   s.cfg.PcapDefault,
		ZmaxDefault:   s.cfg.ZmaxDefault,
		BaseDemand:    s.cfg.BaseDemand,
		TypeWeights:   s.cfg.TypeWeights,
		DefaultWeight: s.cfg.DefaultTypeWeight,
	}, s.logger, s.metrics)
	return loader.Load(ctx, sources)
}

// LoadParameters reads the parameter table.
func (s *PlanningService) LoadParameters(ctx context.Context) (*params.Table, error) {
	table, err := params.Load(s.cfg.ParamsFile)
	if err != nil {
		var ce *models.ConfigurationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &models.ConfigurationError{Name: "params_file", Message: err.Error()}
	}
	s.logger.Info(ctx, "[PARAMS_LOADED] Parameter table loaded", logging.Fields{
		"path":    s.cfg.ParamsFile,
		"horizon": table.Horizon(),
	})
	return table, nil
}

// LoadTravelTimes reads the travel-time table. It returns nil when none is
// configured.
func (s *PlanningService) LoadTravelTimes(ctx context.Context) (*models.TravelTimes, error) {
	if s.cfg.TravelTimes == "" {
		return nil, nil
	}
	if s.cfg.CoverageThreshold <= 0 {
		return nil, &models.ConfigurationError{Name: "coverage_threshold", Message: "required when a travel-time table is given"}
	}
	tt, err := catalog.LoadTravelTimes(s.cfg.TravelTimes, s.cfg.CoverageThreshold)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "[TRAVEL_LOADED] Travel-time table loaded", logging.Fields{
		"path":      s.cfg.TravelTimes,
		"entries":   tt.Len(),
		"threshold": tt.Threshold,
	})
	return tt, nil
}

// LoadInputs runs the three load stages.
func (s *PlanningService) LoadInputs(ctx context.Context) (*Inputs, error) {
	in := &Inputs{}
	err := s.stage(ctx, StageLoadCatalog, func(ctx context.Context) (err error) {
		in.Catalog, err = s.LoadCatalog(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = s.stage(ctx, StageLoadParameters, func(ctx context.Context) (err error) {
		in.Table, err = s.LoadParameters(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = s.stage(ctx, StageLoadTravel, func(ctx context.Context) (err error) {
		in.Travel, err = s.LoadTravelTimes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}

// BuildProblem translates the inputs into a MILP.
func (s *PlanningService) BuildProblem(ctx context.Context, in *Inputs) (*milp.Problem, error) {
	problem, err := builder.New(builder.Options{MinCoverage: s.cfg.MinCoverage}).Build(in.Catalog, in.Table, in.Travel)
	if err != nil {
		return nil, err
	}
	s.metrics.SetProblemSize(problem.NumVariables(), problem.NumConstraints())
	s.logger.Info(ctx, "[MODEL_BUILT] Problem built", logging.Fields{
		"variables":   problem.NumVariables(),
		"discrete":    problem.NumDiscrete(),
		"constraints": problem.NumConstraints(),
		"coverage":    in.Travel != nil,
	})
	return problem, nil
}

// Solve runs the backend with its artifacts written to runDir. An empty
// runDir keeps no artifacts.
func (s *PlanningService) Solve(ctx context.Context, problem *milp.Problem, runDir string) (*solver.RawResult, error) {
	adapter := solver.NewAdapter(s.backend, solver.Options{
		ArtifactDir: runDir,
		MIPGap:      s.cfg.MIPGap,
		Grace:       s.cfg.Grace,
	}, s.logger, s.metrics)
	return adapter.Solve(ctx, problem, s.cfg.TimeLimit)
}

// Decode validates the raw listing against the problem.
func (s *PlanningService) Decode(raw *solver.RawResult, problem *milp.Problem) (*models.SolutionRecord, error) {
	return decoder.New(s.cfg.Tolerance).Decode(raw, problem)
}

// Summarize aggregates the record and writes the summary files into runDir.
func (s *PlanningService) Summarize(ctx context.Context, record *models.SolutionRecord, in *Inputs, problem *milp.Problem, runDir string) (*aggregate.Summary, []string, error) {
	summary, err := aggregate.Aggregate(record, in.Catalog, in.Table, problem)
	if err != nil {
		return nil, nil, err
	}
	outputs, err := summary.WriteFiles(runDir, s.cfg.Reports)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info(ctx, "[SUMMARY_WRITTEN] Summary files written", logging.Fields{
		"flag":    summary.Flag(),
		"comunas": len(summary.Comunas),
		"files":   len(outputs),
	})
	return summary, outputs, nil
}

// Run executes one full planning run in its own artifact directory.
// Infeasibility is a result, not an error. A failed run is still recorded
// with the error status.
func (s *PlanningService) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(s.cfg.ArtifactRoot, runID)
	ctx = logging.WithRunID(ctx, runID)

	run := &models.PlanRun{
		ID:          runID,
		Status:      models.StatusError,
		ArtifactDir: runDir,
		StartedAt:   time.Now().UTC(),
	}
	rec := &repository.RunRecord{Run: run}

	s.logger.Info(ctx, "[PIPELINE_START] Starting planning run", logging.Fields{
		"artifact_dir": runDir,
		"backend":      s.backend.Name(),
		"time_limit":   s.cfg.TimeLimit.String(),
	})

	result, err := s.run(ctx, run, rec, runDir)
	run.FinishedAt = time.Now().UTC()
	s.persist(ctx, rec)

	if err != nil {
		s.logger.Error(ctx, "[PIPELINE_FAILED] Planning run failed", logging.Fields{
			"duration_ms": run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		}, err)
		return nil, err
	}

	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Planning run finished", logging.Fields{
		"status":      run.Status,
		"objective":   run.Objective,
		"conflicts":   run.ConflictCount,
		"duration_ms": run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	})
	return result, nil
}

func (s *PlanningService) run(ctx context.Context, run *models.PlanRun, rec *repository.RunRecord, runDir string) (*RunResult, error) {
	in, err := s.LoadInputs(ctx)
	if err != nil {
		return nil, err
	}
	run.Horizon = in.Table.Horizon()
	run.SiteCount = in.Catalog.Len()

	var problem *milp.Problem
	err = s.stage(ctx, StageBuild, func(ctx context.Context) (err error) {
		problem, err = s.BuildProblem(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	run.VariableCount = problem.NumVariables()
	run.ConstraintCount = problem.NumConstraints()

	var raw *solver.RawResult
	err = s.stage(ctx, StageSolve, func(ctx context.Context) (err error) {
		raw, err = s.Solve(ctx, problem, runDir)
		return err
	})
	if err != nil {
		return nil, err
	}

	var record *models.SolutionRecord
	err = s.stage(ctx, StageDecode, func(ctx context.Context) (err error) {
		record, err = s.Decode(raw, problem)
		return err
	})
	if err != nil {
		return nil, err
	}

	var summary *aggregate.Summary
	var outputs []string
	err = s.stage(ctx, StageSummarize, func(ctx context.Context) (err error) {
		summary, outputs, err = s.Summarize(ctx, record, in, problem, runDir)
		return err
	})
	if err != nil {
		return nil, err
	}

	run.Status = record.Status
	run.ConflictCount = len(record.Conflicts)
	if record.Status.HasSolution() {
		objective := record.Objective
		run.Objective = &objective
	}
	rec.Comunas = summary.Comunas
	if summary.Global != nil {
		rec.Comunas = append(append([]models.ComunaSummary(nil), summary.Comunas...), *summary.Global)
	}
	rec.Installations = summary.Installations
	rec.Conflicts = record.Conflicts

	return &RunResult{Run: run, Record: record, Summary: summary, Outputs: outputs}, nil
}

// persist stores the run when a repository is configured. Failures are
// logged; the files in the run directory remain the primary output.
func (s *PlanningService) persist(ctx context.Context, rec *repository.RunRecord) {
	if s.repo == nil {
		s.logger.Debug(ctx, "[RUN_RECORD] No database configured, run not persisted", logging.Fields{
			"status": rec.Run.Status,
		})
		return
	}
	if err := s.repo.SaveRun(ctx, rec); err != nil {
		s.metrics.RecordDBError("save_run")
		s.logger.Warn(ctx, "[RUN_PERSIST_FAILED] Could not store run", logging.Fields{
			"error": err.Error(),
		})
	}
}

// Validate loads and builds without solving.
func (s *PlanningService) Validate(ctx context.Context) (*ValidationReport, error) {
	in, err := s.LoadInputs(ctx)
	if err != nil {
		return nil, err
	}
	var problem *milp.Problem
	err = s.stage(ctx, StageBuild, func(ctx context.Context) (err error) {
		problem, err = s.BuildProblem(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		Sites:       in.Catalog.Len(),
		Comunas:     in.Catalog.Comunas(),
		Horizon:     in.Table.Horizon(),
		Coverage:    in.Travel != nil,
		Variables:   problem.NumVariables(),
		Discrete:    problem.NumDiscrete(),
		Constraints: problem.NumConstraints(),
	}
	if len(in.Catalog.UnknownTags) > 0 {
		report.UnknownTags = make(map[string]int, len(in.Catalog.UnknownTags))
		for tag, n := range in.Catalog.UnknownTags {
			report.UnknownTags[tag] = n
		}
	}
	return report, nil
}

// ExportLP loads and builds, then writes the model in LP format to w.
func (s *PlanningService) ExportLP(ctx context.Context, w io.Writer) (*milp.Problem, error) {
	in, err := s.LoadInputs(ctx)
	if err != nil {
		return nil, err
	}
	problem, err := s.BuildProblem(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := problem.WriteLP(w); err != nil {
		return nil, fmt.Errorf("failed to write model: %w", err)
	}
	return problem, nil
}

func (s *PlanningService) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx = logging.WithStage(ctx, name)
	timer := s.metrics.StageTimer(name)
	err := fn(ctx)
	duration := timer.ObserveDuration()
	if err != nil {
		s.metrics.RecordStageError(name, ErrorType(err))
		s.logger.Error(ctx, "[PIPELINE_STAGE_ERROR] Stage failed", logging.Fields{
			"stage":       name,
			"error_type":  ErrorType(err),
			"duration_ms": duration.Milliseconds(),
		}, err)
		return err
	}
	s.logger.Debug(ctx, "[PIPELINE_STAGE] Stage finished", logging.Fields{
		"stage":       name,
		"duration_ms": duration.Milliseconds(),
	})
	return nil
}

// ErrorType classifies a pipeline error for metrics and exit handling.
func ErrorType(err error) string {
	var (
		dv *models.DataValidationError
		ce *models.ConfigurationError
		se *models.SolverError
		de *models.DecodingError
	)
	switch {
	case errors.As(err, &dv):
		return "data_validation"
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &se):
		return "solver"
	case errors.As(err, &de):
		return "decoding"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// SortedTags returns the unknown tags of a report in name order.
func (r *ValidationReport) SortedTags() []string {
	tags := make([]string, 0, len(r.UnknownTags))
	for tag := range r.UnknownTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
