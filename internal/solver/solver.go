// Package solver runs an external MILP solver over a built problem and
// returns its raw variable listing.
package solver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// Artifact file names inside a run directory.
const (
	ModelFile     = "model.lp"
	SolutionFile  = "solution.txt"
	ConflictsFile = "conflicts.txt"
)

// ErrNoIncumbent is wrapped when the time limit hits before any feasible solution.
var ErrNoIncumbent = errors.New("solver: time limit reached without an incumbent")

// Job is one backend invocation.
type Job struct {
	Problem   *milp.Problem
	ModelPath string // the problem already written in LP format
	WorkDir   string
	TimeLimit time.Duration
	MIPGap    float64
}

// RawResult is the unvalidated outcome of a solve.
type RawResult struct {
	Backend      string
	Status       models.SolveStatus
	HasIncumbent bool

	// Objective is the full objective of the incumbent, constant included.
	Objective float64
	// ReportedObjective is what the backend printed, if anything.
	ReportedObjective float64

	Values    map[string]float64
	Conflicts []models.Conflict
	Duration  time.Duration
}

// Backend runs one solver process.
type Backend interface {
	Name() string
	Solve(ctx context.Context, job Job) (*RawResult, error)
}

// ConflictFinder is implemented by backends that compute an irreducible
// inconsistent subsystem natively. It returns constraint names.
type ConflictFinder interface {
	FindConflicts(ctx context.Context, job Job) ([]string, error)
}

// Options configure an Adapter.
type Options struct {
	// ArtifactDir receives model.lp, solution.txt and conflicts.txt.
	// Empty disables artifacts.
	ArtifactDir string
	MIPGap      float64
	// Grace is added to the time limit to form the process deadline.
	Grace time.Duration
}

// Adapter wraps a backend with artifact handling and conflict search.
type Adapter struct {
	backend Backend
	opts    Options
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAdapter creates an adapter.
func NewAdapter(backend Backend, opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Adapter {
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	return &Adapter{
		backend: backend,
		opts:    opts,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Solve runs the backend on problem within timeLimit. The problem is never
// modified. Infeasibility is reported as a status with its conflict set, not
// as an error.
func (a *Adapter) Solve(ctx context.Context, problem *milp.Problem, timeLimit time.Duration) (*RawResult, error) {
	if timeLimit <= 0 {
		return nil, &models.ConfigurationError{Name: "time_limit", Message: "must be positive"}
	}
	startTime := time.Now()
	backend := a.backend.Name()

	a.logger.Info(ctx, "[SOLVER_START] Solving problem", logging.Fields{
		"backend":     backend,
		"variables":   problem.NumVariables(),
		"constraints": problem.NumConstraints(),
		"time_limit":  timeLimit.String(),
	})

	workDir, cleanup, err := a.workDir()
	if err != nil {
		return nil, &models.SolverError{Backend: backend, Message: "cannot prepare working directory", Err: err}
	}
	defer cleanup()

	modelPath := filepath.Join(workDir, ModelFile)
	if err := writeModel(modelPath, problem); err != nil {
		return nil, &models.SolverError{Backend: backend, Message: "cannot write model", Err: err}
	}

	job := Job{Problem: problem, ModelPath: modelPath, WorkDir: workDir, TimeLimit: timeLimit, MIPGap: a.opts.MIPGap}
	result, err := a.run(ctx, job)
	if err != nil {
		a.metrics.RecordSolverRun(backend, string(models.StatusError), time.Since(startTime))
		a.logger.Error(ctx, "[SOLVER_ERROR] Solver failed", logging.Fields{"backend": backend}, err)
		return nil, err
	}

	if result.Status == models.StatusInfeasible {
		result.Values = nil
		// the conflict search shares the solve's deadline
		names, err := a.conflicts(ctx, job, startTime.Add(timeLimit+a.opts.Grace))
		if err != nil {
			a.logger.Warn(ctx, "[SOLVER_IIS_FAILED] Conflict search failed, reporting infeasible without a conflict set", logging.Fields{
				"backend": backend,
				"error":   err.Error(),
			})
		}
		result.Conflicts = describe(problem, names)
		a.metrics.ConflictSetSize.Observe(float64(len(result.Conflicts)))
	}

	result.Duration = time.Since(startTime)
	a.metrics.RecordSolverRun(backend, string(result.Status), result.Duration)
	a.writeArtifacts(ctx, problem, result)

	a.logger.Info(ctx, "[SOLVER_COMPLETE] Solve finished", logging.Fields{
		"backend":     backend,
		"status":      result.Status,
		"objective":   result.Objective,
		"conflicts":   len(result.Conflicts),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

// run invokes the backend once under the process deadline and normalizes
// its status.
func (a *Adapter) run(ctx context.Context, job Job) (*RawResult, error) {
	backend := a.backend.Name()
	runCtx, cancel := context.WithTimeout(ctx, job.TimeLimit+a.opts.Grace)
	defer cancel()

	result, err := a.backend.Solve(runCtx, job)
	if err != nil {
		var se *models.SolverError
		if errors.As(err, &se) {
			return nil, err
		}
		if runCtx.Err() != nil {
			return nil, &models.SolverError{Backend: backend, Message: "process deadline exceeded", Err: runCtx.Err()}
		}
		return nil, &models.SolverError{Backend: backend, Message: "process failed", Err: err}
	}
	result.Backend = backend

	switch result.Status {
	case models.StatusOptimal, models.StatusTimeLimit:
		if !result.HasIncumbent {
			if result.Status == models.StatusTimeLimit {
				return nil, &models.SolverError{Backend: backend, Message: "no solution", Err: ErrNoIncumbent}
			}
			return nil, &models.SolverError{Backend: backend, Message: "optimal status without a solution listing"}
		}
		result.Objective = job.Problem.Evaluate(result.Values)
	case models.StatusInfeasible:
	default:
		return nil, &models.SolverError{Backend: backend, Message: fmt.Sprintf("unexpected status %q", result.Status)}
	}
	return result, nil
}

// conflicts runs the conflict search until deadline. When the deadline hits
// first, the still-infeasible remainder is returned instead of a minimal set.
func (a *Adapter) conflicts(ctx context.Context, job Job, deadline time.Time) ([]string, error) {
	searchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		names   []string
		partial bool
		err     error
	)
	if cf, ok := a.backend.(ConflictFinder); ok {
		names, err = cf.FindConflicts(searchCtx, job)
		if err != nil && ctx.Err() == nil && searchCtx.Err() != nil {
			names, partial, err = constraintNames(job.Problem, nil), true, nil
		}
	} else {
		names, partial, err = a.deletionFilter(ctx, searchCtx, job)
	}
	if err != nil {
		return nil, err
	}

	if partial {
		a.logger.Warn(ctx, "[SOLVER_IIS_PARTIAL] Conflict search deadline reached, conflict set is not minimal", logging.Fields{
			"backend":   a.backend.Name(),
			"conflicts": len(names),
		})
	}
	return names, nil
}

// constraintNames lists the constraints of problem not in dropped, in
// declaration order.
func constraintNames(problem *milp.Problem, dropped map[string]bool) []string {
	var names []string
	for _, c := range problem.Constraints() {
		if !dropped[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

func (a *Adapter) workDir() (string, func(), error) {
	if a.opts.ArtifactDir != "" {
		if err := os.MkdirAll(a.opts.ArtifactDir, 0o755); err == nil {
			return a.opts.ArtifactDir, func() {}, nil
		}
	}
	dir, err := os.MkdirTemp("", "planner-solve-*")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func writeModel(path string, problem *milp.Problem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := problem.WriteLP(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func describe(problem *milp.Problem, names []string) []models.Conflict {
	out := make([]models.Conflict, 0, len(names))
	for _, n := range names {
		c := models.Conflict{ID: n}
		if con, ok := problem.Constraint(n); ok {
			c.Description = con.Description
		}
		out = append(out, c)
	}
	return out
}

// NewBackend returns the backend registered under name.
func NewBackend(name, binary string) (Backend, error) {
	switch name {
	case "gurobi":
		return NewGurobi(binary), nil
	case "cbc":
		return NewCBC(binary), nil
	default:
		return nil, &models.ConfigurationError{Name: "solver", Message: fmt.Sprintf("unknown backend %q, want gurobi or cbc", name)}
	}
}
