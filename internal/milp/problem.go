// Package milp holds the variable and constraint registry of a mixed-integer
// linear program, independent of any solver.
package milp

import (
	"errors"
	"fmt"
	"math"

	"charging-planner/internal/models"
)

var (
	ErrDuplicateVariable   = errors.New("milp: duplicate variable")
	ErrDuplicateConstraint = errors.New("milp: duplicate constraint")
	ErrUnknownVariable     = errors.New("milp: unknown variable")
)

// VarKind is the domain of a decision variable.
type VarKind int

const (
	Continuous VarKind = iota
	Integer
	Binary
)

func (k VarKind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	default:
		return "continuous"
	}
}

// IsDiscrete reports whether values of this kind must be integral.
func (k VarKind) IsDiscrete() bool {
	return k == Integer || k == Binary
}

// Family groups variables by what they model.
type Family string

const (
	FamilySlow   Family = "slow"
	FamilyFast   Family = "fast"
	FamilyPanels Family = "panels"
	FamilyServed Family = "served"
	FamilyReach  Family = "reach"
)

// Variable is a named unknown bound to a site and period.
type Variable struct {
	Name   string
	Kind   VarKind
	Lower  float64
	Upper  float64 // math.Inf(1) when unbounded
	Family Family
	Site   models.SiteKey
	Period int
}

// Sense is the relation of a linear constraint.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case GreaterEqual:
		return ">="
	case Equal:
		return "="
	default:
		return "<="
	}
}

// Term is one coefficient times variable product.
type Term struct {
	Var  string
	Coef float64
}

// Constraint is a named linear (in)equality.
type Constraint struct {
	Name        string
	Terms       []Term
	Sense       Sense
	RHS         float64
	Description string
}

// Problem is the registry of variables, constraints and the objective.
// Declaration order is preserved and drives every artifact.
type Problem struct {
	Name              string
	Maximize          bool
	ObjectiveConstant float64

	variables   []*Variable
	constraints []*Constraint
	objective   []Term
	varIndex    map[string]int
	conIndex    map[string]int
	objIndex    map[string]int
}

// NewProblem creates an empty problem.
func NewProblem(name string, maximize bool) *Problem {
	return &Problem{
		Name:     name,
		Maximize: maximize,
		varIndex: make(map[string]int),
		conIndex: make(map[string]int),
		objIndex: make(map[string]int),
	}
}

// AddVariable declares a variable.
func (p *Problem) AddVariable(v Variable) error {
	if _, exists := p.varIndex[v.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.Name)
	}
	if v.Kind == Binary {
		v.Lower, v.Upper = 0, 1
	}
	p.varIndex[v.Name] = len(p.variables)
	p.variables = append(p.variables, &v)
	return nil
}

// AddConstraint declares a constraint. Every referenced variable must exist.
// Repeated terms on the same variable are merged.
func (p *Problem) AddConstraint(c Constraint) error {
	if _, exists := p.conIndex[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConstraint, c.Name)
	}
	merged := make([]Term, 0, len(c.Terms))
	pos := make(map[string]int, len(c.Terms))
	for _, t := range c.Terms {
		if _, ok := p.varIndex[t.Var]; !ok {
			return fmt.Errorf("%w: %s in constraint %s", ErrUnknownVariable, t.Var, c.Name)
		}
		if i, ok := pos[t.Var]; ok {
			merged[i].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(merged)
		merged = append(merged, t)
	}
	c.Terms = merged
	p.conIndex[c.Name] = len(p.constraints)
	p.constraints = append(p.constraints, &c)
	return nil
}

// AddObjectiveTerm adds coef to the objective coefficient of a variable.
func (p *Problem) AddObjectiveTerm(name string, coef float64) error {
	if _, ok := p.varIndex[name]; !ok {
		return fmt.Errorf("%w: %s in objective", ErrUnknownVariable, name)
	}
	if i, ok := p.objIndex[name]; ok {
		p.objective[i].Coef += coef
		return nil
	}
	p.objIndex[name] = len(p.objective)
	p.objective = append(p.objective, Term{Var: name, Coef: coef})
	return nil
}

// Variable looks up a variable by name.
func (p *Problem) Variable(name string) (*Variable, bool) {
	i, ok := p.varIndex[name]
	if !ok {
		return nil, false
	}
	return p.variables[i], true
}

// Constraint looks up a constraint by name.
func (p *Problem) Constraint(name string) (*Constraint, bool) {
	i, ok := p.conIndex[name]
	if !ok {
		return nil, false
	}
	return p.constraints[i], true
}

// Variables returns the variables in declaration order.
func (p *Problem) Variables() []*Variable {
	return p.variables
}

// Constraints returns the constraints in declaration order.
func (p *Problem) Constraints() []*Constraint {
	return p.constraints
}

// Objective returns the objective terms in first-touch order.
func (p *Problem) Objective() []Term {
	return p.objective
}

func (p *Problem) NumVariables() int   { return len(p.variables) }
func (p *Problem) NumConstraints() int { return len(p.constraints) }

// NumDiscrete counts integer and binary variables.
func (p *Problem) NumDiscrete() int {
	n := 0
	for _, v := range p.variables {
		if v.Kind.IsDiscrete() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Problem) Clone() *Problem {
	return p.Without(nil)
}

// Without returns a deep copy that omits the named constraints.
func (p *Problem) Without(drop map[string]bool) *Problem {
	out := NewProblem(p.Name, p.Maximize)
	out.ObjectiveConstant = p.ObjectiveConstant
	for _, v := range p.variables {
		cp := *v
		out.varIndex[cp.Name] = len(out.variables)
		out.variables = append(out.variables, &cp)
	}
	for _, c := range p.constraints {
		if drop[c.Name] {
			continue
		}
		cp := *c
		cp.Terms = append([]Term(nil), c.Terms...)
		out.conIndex[cp.Name] = len(out.constraints)
		out.constraints = append(out.constraints, &cp)
	}
	for _, t := range p.objective {
		out.objIndex[t.Var] = len(out.objective)
		out.objective = append(out.objective, t)
	}
	return out
}

// ClearObjective turns the problem into a pure feasibility problem.
func (p *Problem) ClearObjective() {
	p.objective = nil
	p.objIndex = make(map[string]int)
	p.ObjectiveConstant = 0
}

// Evaluate returns the objective value of an assignment, constant included.
func (p *Problem) Evaluate(values map[string]float64) float64 {
	total := p.ObjectiveConstant
	for _, t := range p.objective {
		total += t.Coef * values[t.Var]
	}
	return total
}

// Activity returns the left-hand side of a constraint under an assignment.
func (c *Constraint) Activity(values map[string]float64) float64 {
	sum := 0.0
	for _, t := range c.Terms {
		sum += t.Coef * values[t.Var]
	}
	return sum
}

// Satisfied reports whether the constraint holds within tol.
func (c *Constraint) Satisfied(values map[string]float64, tol float64) bool {
	return c.Slack(values) >= -tol
}

// Slack is non-negative when the constraint holds.
func (c *Constraint) Slack(values map[string]float64) float64 {
	lhs := c.Activity(values)
	switch c.Sense {
	case GreaterEqual:
		return lhs - c.RHS
	case Equal:
		return -math.Abs(lhs - c.RHS)
	default:
		return c.RHS - lhs
	}
}
