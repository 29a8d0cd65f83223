package milp

import (
	"fmt"
	"math"
)

// ViolationKind classifies a failed feasibility check.
type ViolationKind string

const (
	ViolationMissing     ViolationKind = "missing"
	ViolationBound       ViolationKind = "bound"
	ViolationIntegrality ViolationKind = "integrality"
	ViolationConstraint  ViolationKind = "constraint"
)

// Violation is one failed check of an assignment against the problem.
type Violation struct {
	Kind   ViolationKind
	Name   string
	Amount float64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s by %g", v.Kind, v.Name, v.Amount)
}

// Violations checks an assignment against bounds, integrality and every
// constraint, in declaration order. An empty result means feasible within tol.
func (p *Problem) Violations(values map[string]float64, tol float64) []Violation {
	var out []Violation
	for _, v := range p.variables {
		x, ok := values[v.Name]
		if !ok {
			out = append(out, Violation{Kind: ViolationMissing, Name: v.Name})
			continue
		}
		if x < v.Lower-tol {
			out = append(out, Violation{Kind: ViolationBound, Name: v.Name, Amount: v.Lower - x})
		}
		if !math.IsInf(v.Upper, 1) && x > v.Upper+tol {
			out = append(out, Violation{Kind: ViolationBound, Name: v.Name, Amount: x - v.Upper})
		}
		if v.Kind.IsDiscrete() {
			if d := math.Abs(x - math.Round(x)); d > tol {
				out = append(out, Violation{Kind: ViolationIntegrality, Name: v.Name, Amount: d})
			}
		}
	}
	for _, c := range p.constraints {
		if s := c.Slack(values); s < -tol {
			out = append(out, Violation{Kind: ViolationConstraint, Name: c.Name, Amount: -s})
		}
	}
	return out
}
