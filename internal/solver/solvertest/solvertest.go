// Package solvertest provides in-process solver backends for tests.
package solvertest

import (
	"context"
	"fmt"
	"math"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/solver"
)

// DefaultMaxCombinations bounds the integer assignments Enumerator will try.
const DefaultMaxCombinations = 2_000_000

// Enumerator solves tiny problems exactly by trying every integer assignment.
// Continuous variables are then pushed to whichever end of their feasible
// range the objective prefers, given the rows they appear in with all other
// variables fixed. That is exact when every continuous variable only meets
// single-sided rows, which holds for the planning model.
type Enumerator struct {
	MaxCombinations int
	// Calls counts Solve invocations, including conflict-search trials.
	Calls int
}

func (e *Enumerator) Name() string { return "enumerator" }

func (e *Enumerator) Solve(ctx context.Context, job solver.Job) (*solver.RawResult, error) {
	e.Calls++
	p := job.Problem

	var discrete, continuous []*milp.Variable
	total := 1
	limit := e.MaxCombinations
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}
	for _, v := range p.Variables() {
		if !v.Kind.IsDiscrete() {
			continuous = append(continuous, v)
			continue
		}
		if math.IsInf(v.Upper, 1) {
			return nil, fmt.Errorf("solvertest: unbounded integer variable %s", v.Name)
		}
		discrete = append(discrete, v)
		total *= int(v.Upper-v.Lower) + 1
		if total > limit {
			return nil, fmt.Errorf("solvertest: more than %d integer assignments", limit)
		}
	}

	rows := make(map[string][]*milp.Constraint)
	for _, c := range p.Constraints() {
		for _, t := range c.Terms {
			rows[t.Var] = append(rows[t.Var], c)
		}
	}
	objCoef := make(map[string]float64)
	for _, t := range p.Objective() {
		objCoef[t.Var] = t.Coef
	}

	values := make(map[string]float64, p.NumVariables())
	for _, v := range discrete {
		values[v.Name] = v.Lower
	}

	var best map[string]float64
	bestObj := math.Inf(-1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, v := range continuous {
			values[v.Name] = 0
		}
		for _, v := range continuous {
			values[v.Name] = settle(v, rows[v.Name], objCoef[v.Name], p.Maximize, values)
		}
		if len(p.Violations(values, 1e-9)) == 0 {
			obj := p.Evaluate(values)
			if !p.Maximize {
				obj = -obj
			}
			if obj > bestObj+1e-12 {
				bestObj = obj
				best = copyValues(values)
			}
		}

		if !advance(discrete, values) {
			break
		}
	}

	if best == nil {
		return &solver.RawResult{Status: models.StatusInfeasible}, nil
	}
	return &solver.RawResult{Status: models.StatusOptimal, HasIncumbent: true, Values: best}, nil
}

// advance steps the integer assignment like an odometer.
func advance(vars []*milp.Variable, values map[string]float64) bool {
	for i := len(vars) - 1; i >= 0; i-- {
		v := vars[i]
		if values[v.Name] < v.Upper {
			values[v.Name]++
			return true
		}
		values[v.Name] = v.Lower
	}
	return false
}

func settle(v *milp.Variable, rows []*milp.Constraint, objCoef float64, maximize bool, values map[string]float64) float64 {
	lo, hi := v.Lower, v.Upper
	for _, c := range rows {
		var coef, rest float64
		for _, t := range c.Terms {
			if t.Var == v.Name {
				coef += t.Coef
			} else {
				rest += t.Coef * values[t.Var]
			}
		}
		if coef == 0 {
			continue
		}
		bound := (c.RHS - rest) / coef
		upper := (c.Sense == milp.LessEqual) == (coef > 0)
		switch {
		case c.Sense == milp.Equal:
			lo, hi = math.Max(lo, bound), math.Min(hi, bound)
		case upper:
			hi = math.Min(hi, bound)
		default:
			lo = math.Max(lo, bound)
		}
	}
	if hi < lo {
		return lo
	}
	wantHigh := objCoef > 0
	if !maximize {
		wantHigh = objCoef < 0
	}
	if wantHigh && !math.IsInf(hi, 1) {
		return hi
	}
	return lo
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Static returns a canned result or error.
type Static struct {
	Result *solver.RawResult
	Err    error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Solve(context.Context, solver.Job) (*solver.RawResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := *s.Result
	out.Values = copyValues(s.Result.Values)
	return &out, nil
}
