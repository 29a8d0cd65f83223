package milp

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallProblem(t *testing.T) *Problem {
	t.Helper()
	p := NewProblem("small", true)
	require.NoError(t, p.AddVariable(Variable{Name: "x", Kind: Integer, Lower: 0, Upper: 4}))
	require.NoError(t, p.AddVariable(Variable{Name: "y", Kind: Continuous, Lower: 0, Upper: math.Inf(1)}))
	require.NoError(t, p.AddVariable(Variable{Name: "z", Kind: Binary}))
	require.NoError(t, p.AddConstraint(Constraint{
		Name:        "link",
		Terms:       []Term{{Var: "y", Coef: 1}, {Var: "x", Coef: -2}},
		Sense:       LessEqual,
		RHS:         0,
		Description: "y is bounded by twice x",
	}))
	require.NoError(t, p.AddConstraint(Constraint{
		Name:  "floor",
		Terms: []Term{{Var: "x", Coef: 1}},
		Sense: GreaterEqual,
		RHS:   1,
	}))
	require.NoError(t, p.AddObjectiveTerm("y", 3))
	require.NoError(t, p.AddObjectiveTerm("x", -1))
	p.ObjectiveConstant = -5
	return p
}

func TestProblem_Registry(t *testing.T) {
	p := smallProblem(t)

	assert.Equal(t, 3, p.NumVariables())
	assert.Equal(t, 2, p.NumConstraints())
	assert.Equal(t, 2, p.NumDiscrete())

	z, ok := p.Variable("z")
	require.True(t, ok)
	assert.Equal(t, 1.0, z.Upper, "binary variables are forced to [0,1]")

	err := p.AddVariable(Variable{Name: "x"})
	assert.True(t, errors.Is(err, ErrDuplicateVariable))

	err = p.AddConstraint(Constraint{Name: "link"})
	assert.True(t, errors.Is(err, ErrDuplicateConstraint))

	err = p.AddConstraint(Constraint{Name: "bad", Terms: []Term{{Var: "w", Coef: 1}}})
	assert.True(t, errors.Is(err, ErrUnknownVariable))

	assert.True(t, errors.Is(p.AddObjectiveTerm("w", 1), ErrUnknownVariable))
}

func TestProblem_MergesRepeatedTerms(t *testing.T) {
	p := NewProblem("merge", false)
	require.NoError(t, p.AddVariable(Variable{Name: "a", Upper: 1}))
	require.NoError(t, p.AddConstraint(Constraint{
		Name:  "c",
		Terms: []Term{{Var: "a", Coef: 1}, {Var: "a", Coef: 2}},
		RHS:   3,
	}))
	require.NoError(t, p.AddObjectiveTerm("a", 1))
	require.NoError(t, p.AddObjectiveTerm("a", 1))

	c, _ := p.Constraint("c")
	assert.Equal(t, []Term{{Var: "a", Coef: 3}}, c.Terms)
	assert.Equal(t, []Term{{Var: "a", Coef: 2}}, p.Objective())
}

func TestProblem_WithoutIsDeepCopy(t *testing.T) {
	p := smallProblem(t)
	q := p.Without(map[string]bool{"floor": true})

	assert.Equal(t, 1, q.NumConstraints())
	assert.Equal(t, 2, p.NumConstraints())

	c, _ := q.Constraint("link")
	c.Terms[0].Coef = 99
	orig, _ := p.Constraint("link")
	assert.Equal(t, 1.0, orig.Terms[0].Coef)

	_, ok := q.Constraint("floor")
	assert.False(t, ok)
	assert.Equal(t, p.ObjectiveConstant, q.Clone().ObjectiveConstant)
}

func TestProblem_EvaluateAndViolations(t *testing.T) {
	p := smallProblem(t)

	feasible := map[string]float64{"x": 2, "y": 4, "z": 0}
	assert.Empty(t, p.Violations(feasible, 1e-6))
	assert.InDelta(t, -5+12-2, p.Evaluate(feasible), 1e-9)

	tests := []struct {
		name   string
		values map[string]float64
		kind   ViolationKind
		target string
	}{
		{"missing", map[string]float64{"x": 1, "y": 0}, ViolationMissing, "z"},
		{"upper bound", map[string]float64{"x": 5, "y": 0, "z": 0}, ViolationBound, "x"},
		{"fractional", map[string]float64{"x": 1.5, "y": 0, "z": 0}, ViolationIntegrality, "x"},
		{"row", map[string]float64{"x": 1, "y": 3, "z": 0}, ViolationConstraint, "link"},
		{"floor row", map[string]float64{"x": 0, "y": 0, "z": 1}, ViolationConstraint, "floor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Violations(tt.values, 1e-6)
			require.Len(t, got, 1, "violations: %v", got)
			assert.Equal(t, tt.kind, got[0].Kind)
			assert.Equal(t, tt.target, got[0].Name)
		})
	}
}

func TestProblem_WriteLP(t *testing.T) {
	p := smallProblem(t)

	var buf bytes.Buffer
	require.NoError(t, p.WriteLP(&buf))

	want := `\ Problem: small
\ Objective constant: -5
Maximize
 obj: 3 y - 1 x
Subject To
 link: 1 y - 2 x <= 0
 floor: 1 x >= 1
Bounds
 0 <= x <= 4
 y >= 0
General
 x
Binary
 z
End
`
	assert.Equal(t, want, buf.String())
}

func TestProblem_WriteLPWrapsLongRows(t *testing.T) {
	p := NewProblem("wide", false)
	var terms []Term
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, p.AddVariable(Variable{Name: n, Upper: 1}))
		terms = append(terms, Term{Var: n, Coef: 0.5})
	}
	require.NoError(t, p.AddConstraint(Constraint{Name: "sum", Terms: terms, Sense: Equal, RHS: 1.25}))

	var buf bytes.Buffer
	require.NoError(t, p.WriteLP(&buf))
	assert.Contains(t, buf.String(), " sum: 0.5 a + 0.5 b + 0.5 c + 0.5 d + 0.5 e + 0.5 f\n    + 0.5 g = 1.25\n")
	assert.Contains(t, buf.String(), "Minimize\n obj: 0 a\n")
}
