package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/pkg/logging"
)

// deletionFilter finds an irreducible inconsistent subsystem by dropping one
// constraint at a time and re-solving. A constraint whose removal keeps the
// remainder infeasible is discarded for good; whatever survives the pass is
// irreducible. Variable bounds are always kept. Trials are feasibility-only
// copies, so dropping a row never makes them unbounded.
//
// Every trial runs under searchCtx. Once it expires the constraints not yet
// discarded are returned with partial set; they are still infeasible together.
func (a *Adapter) deletionFilter(ctx, searchCtx context.Context, job Job) ([]string, bool, error) {
	dir, err := os.MkdirTemp("", "planner-iis-*")
	if err != nil {
		return nil, false, fmt.Errorf("failed to create iis directory: %w", err)
	}
	defer os.RemoveAll(dir)

	problem := job.Problem
	dropped := make(map[string]bool)

	a.logger.Info(ctx, "[SOLVER_IIS] Searching conflict set by deletion filter", logging.Fields{
		"backend":     a.backend.Name(),
		"constraints": problem.NumConstraints(),
	})

	partial := false
	for step, c := range problem.Constraints() {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if searchCtx.Err() != nil {
			partial = true
			break
		}

		dropped[c.Name] = true
		trial := problem.Without(dropped)
		trial.ClearObjective()
		infeasible, err := a.trialInfeasible(searchCtx, job, trial, filepath.Join(dir, fmt.Sprintf("trial_%d.lp", step)))
		if err != nil {
			delete(dropped, c.Name)
			if ctx.Err() == nil && searchCtx.Err() != nil {
				partial = true
				break
			}
			return nil, false, err
		}
		if !infeasible {
			// c is needed for the conflict
			delete(dropped, c.Name)
		}
	}

	return constraintNames(problem, dropped), partial, nil
}

// trialInfeasible reports whether the trial problem is proven infeasible. A
// trial that runs out of time without a verdict counts as feasible, which only
// makes the reported set larger.
func (a *Adapter) trialInfeasible(ctx context.Context, job Job, trial *milp.Problem, path string) (bool, error) {
	if err := writeModel(path, trial); err != nil {
		return false, fmt.Errorf("failed to write trial model: %w", err)
	}

	trialJob := job
	trialJob.Problem = trial
	trialJob.ModelPath = path
	trialJob.WorkDir = filepath.Dir(path)
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < trialJob.TimeLimit {
			trialJob.TimeLimit = left
		}
	}

	result, err := a.backend.Solve(ctx, trialJob)
	if err != nil {
		return false, err
	}
	return result.Status == models.StatusInfeasible, nil
}
