// Package decoder turns a raw solver listing into a validated solution record.
package decoder

import (
	"fmt"
	"math"
	"sort"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/solver"
)

// DefaultTolerance is the largest accepted distance between a discrete
// variable's raw value and the nearest integer.
const DefaultTolerance = 1e-5

// Decoder validates raw listings against a problem registry.
type Decoder struct {
	Tolerance float64
}

// New creates a decoder. A non-positive tolerance means DefaultTolerance.
func New(tolerance float64) *Decoder {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Decoder{Tolerance: tolerance}
}

// Decode validates raw with the default tolerance.
func Decode(raw *solver.RawResult, problem *milp.Problem) (*models.SolutionRecord, error) {
	return New(DefaultTolerance).Decode(raw, problem)
}

// Decode maps every declared variable to its value. Integer and binary values
// are rounded. The objective is recomputed from the rounded values.
func (d *Decoder) Decode(raw *solver.RawResult, problem *milp.Problem) (*models.SolutionRecord, error) {
	if raw == nil {
		return nil, &models.DecodingError{Message: "no solver result"}
	}

	switch raw.Status {
	case models.StatusInfeasible:
		if len(raw.Values) > 0 {
			return nil, &models.DecodingError{Message: fmt.Sprintf("infeasible result lists %d values", len(raw.Values))}
		}
		return &models.SolutionRecord{
			Status:    raw.Status,
			Values:    map[string]float64{},
			Conflicts: append([]models.Conflict(nil), raw.Conflicts...),
		}, nil
	case models.StatusOptimal, models.StatusTimeLimit:
	default:
		return nil, &models.DecodingError{Message: fmt.Sprintf("cannot decode status %q", raw.Status)}
	}

	var extra []string
	for name := range raw.Values {
		if _, ok := problem.Variable(name); !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, &models.DecodingError{Variable: extra[0], Message: fmt.Sprintf("not declared (%d undeclared names)", len(extra))}
	}

	values := make(map[string]float64, problem.NumVariables())
	for _, v := range problem.Variables() {
		x, ok := raw.Values[v.Name]
		if !ok {
			return nil, &models.DecodingError{Variable: v.Name, Message: "missing from solver output"}
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &models.DecodingError{Variable: v.Name, Message: fmt.Sprintf("non-finite value %v", x)}
		}
		if v.Kind.IsDiscrete() {
			r := math.Round(x)
			if math.Abs(x-r) > d.Tolerance {
				return nil, &models.DecodingError{
					Variable: v.Name,
					Message:  fmt.Sprintf("value %v is not integral within %g", x, d.Tolerance),
				}
			}
			x = r
		}
		// normalize -0 from rounding
		if x == 0 {
			x = 0
		}
		values[v.Name] = x
	}

	return &models.SolutionRecord{
		Status:    raw.Status,
		Objective: problem.Evaluate(values),
		Values:    values,
	}, nil
}
