// Package params exposes the per-period coefficients of a planning horizon.
package params

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"charging-planner/internal/models"
)

// Coefficient names.
const (
	SlowUnitCost     = "slow_unit_cost"
	FastUnitCost     = "fast_unit_cost"
	PanelUnitCost    = "panel_unit_cost"
	PanelYield       = "panel_yield"
	SlowMaintenance  = "slow_maintenance"
	FastMaintenance  = "fast_maintenance"
	PanelMaintenance = "panel_maintenance"
	Budget           = "budget"
	ClientValue      = "client_value"
	CO2Benefit       = "co2_benefit"
	SlowServiceRate  = "slow_service_rate"
	FastServiceRate  = "fast_service_rate"
	EnergyPrice      = "energy_price"
	DemandGrowth     = "demand_growth"
)

var required = []string{
	SlowUnitCost, FastUnitCost, PanelUnitCost, PanelYield,
	SlowMaintenance, FastMaintenance, Budget, ClientValue, CO2Benefit,
	SlowServiceRate, FastServiceRate,
}

var optional = []string{PanelMaintenance, EnergyPrice, DemandGrowth}

// Names that must never be negative.
var nonNegative = map[string]bool{
	SlowUnitCost: true, FastUnitCost: true, PanelUnitCost: true, PanelYield: true,
	SlowMaintenance: true, FastMaintenance: true, PanelMaintenance: true, Budget: true,
	SlowServiceRate: true, FastServiceRate: true, EnergyPrice: true,
}

// Value is a coefficient given either as one scalar for every period or as a
// list with one entry per period.
type Value struct {
	Scalar *float64
	List   []float64
}

// ScalarValue builds a Value repeated across the horizon.
func ScalarValue(v float64) Value {
	return Value{Scalar: &v}
}

// ListValue builds a per-period Value.
func ListValue(vs ...float64) Value {
	return Value{List: vs}
}

// UnmarshalYAML accepts a number or a sequence of numbers.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("line %d: expected a number: %w", node.Line, err)
		}
		v.Scalar = &f
		return nil
	case yaml.SequenceNode:
		var fs []float64
		if err := node.Decode(&fs); err != nil {
			return fmt.Errorf("line %d: expected a list of numbers: %w", node.Line, err)
		}
		v.List = fs
		return nil
	default:
		return fmt.Errorf("line %d: expected a number or a list of numbers", node.Line)
	}
}

// Document is the file form of a parameter table.
type Document struct {
	Horizon      int              `yaml:"horizon"`
	Coefficients map[string]Value `yaml:"coefficients"`
}

// Table is the validated, period-expanded coefficient table of one run.
type Table struct {
	horizon int
	values  map[string][]float64
}

// New validates coefficients against the horizon and expands scalars.
func New(horizon int, coefficients map[string]Value) (*Table, error) {
	if horizon < 1 {
		return nil, &models.ConfigurationError{Name: "horizon", Message: fmt.Sprintf("must be at least 1, got %d", horizon)}
	}

	known := make(map[string]bool, len(required)+len(optional))
	for _, n := range required {
		known[n] = true
	}
	for _, n := range optional {
		known[n] = true
	}

	names := make([]string, 0, len(coefficients))
	for name := range coefficients {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &Table{horizon: horizon, values: make(map[string][]float64, len(known))}
	for _, name := range names {
		if !known[name] {
			return nil, &models.ConfigurationError{Name: name, Message: "unknown coefficient"}
		}
		expanded, err := expand(name, coefficients[name], horizon)
		if err != nil {
			return nil, err
		}
		t.values[name] = expanded
	}

	for _, name := range required {
		if _, ok := t.values[name]; !ok {
			return nil, &models.ConfigurationError{Name: name, Message: "required coefficient is missing"}
		}
	}
	for _, name := range optional {
		if _, ok := t.values[name]; !ok {
			t.values[name] = make([]float64, horizon)
		}
	}
	return t, nil
}

func expand(name string, v Value, horizon int) ([]float64, error) {
	var out []float64
	switch {
	case v.Scalar != nil:
		out = make([]float64, horizon)
		for i := range out {
			out[i] = *v.Scalar
		}
	case v.List != nil:
		if len(v.List) != horizon {
			return nil, &models.ConfigurationError{
				Name:    name,
				Message: fmt.Sprintf("expected %d values, got %d", horizon, len(v.List)),
			}
		}
		out = append([]float64(nil), v.List...)
	default:
		return nil, &models.ConfigurationError{Name: name, Message: "empty value"}
	}

	for i, x := range out {
		switch {
		case math.IsNaN(x) || math.IsInf(x, 0):
			return nil, &models.ConfigurationError{Name: name, Message: fmt.Sprintf("period %d: not a finite number", i+1)}
		case nonNegative[name] && x < 0:
			return nil, &models.ConfigurationError{Name: name, Message: fmt.Sprintf("period %d: must be non-negative, got %g", i+1, x)}
		case name == DemandGrowth && x <= -1:
			return nil, &models.ConfigurationError{Name: name, Message: fmt.Sprintf("period %d: growth must exceed -1, got %g", i+1, x)}
		}
	}
	return out, nil
}

// Load reads a YAML parameter file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML parameter document.
func Parse(data []byte) (*Table, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &models.ConfigurationError{Message: fmt.Sprintf("invalid parameter document: %v", err)}
	}
	return New(doc.Horizon, doc.Coefficients)
}

// Horizon returns the number of periods M.
func (t *Table) Horizon() int {
	return t.horizon
}

// Coefficient returns the value of a named coefficient in period p (1-based).
func (t *Table) Coefficient(name string, period int) (float64, error) {
	vs, ok := t.values[name]
	if !ok {
		return 0, &models.ConfigurationError{Name: name, Message: "unknown coefficient"}
	}
	if period < 1 || period > t.horizon {
		return 0, &models.ConfigurationError{Name: name, Message: fmt.Sprintf("period %d outside 1..%d", period, t.horizon)}
	}
	return vs[period-1], nil
}

// Period returns every coefficient of period p.
func (t *Table) Period(p int) (models.Period, error) {
	if p < 1 || p > t.horizon {
		return models.Period{}, &models.ConfigurationError{Name: "period", Message: fmt.Sprintf("period %d outside 1..%d", p, t.horizon)}
	}
	at := func(name string) float64 { return t.values[name][p-1] }
	return models.Period{
		Index:            p,
		SlowUnitCost:     at(SlowUnitCost),
		FastUnitCost:     at(FastUnitCost),
		PanelUnitCost:    at(PanelUnitCost),
		SlowMaintenance:  at(SlowMaintenance),
		FastMaintenance:  at(FastMaintenance),
		PanelMaintenance: at(PanelMaintenance),
		PanelYield:       at(PanelYield),
		Budget:           at(Budget),
		EnergyPrice:      at(EnergyPrice),
		ClientValue:      at(ClientValue),
		CO2Benefit:       at(CO2Benefit),
		SlowServiceRate:  at(SlowServiceRate),
		FastServiceRate:  at(FastServiceRate),
		DemandGrowth:     at(DemandGrowth),
	}, nil
}

// Periods returns all periods in order.
func (t *Table) Periods() []models.Period {
	out := make([]models.Period, t.horizon)
	for p := 1; p <= t.horizon; p++ {
		out[p-1], _ = t.Period(p)
	}
	return out
}

// DemandFactor is the compound growth multiplier of period p,
// (1+g)^((p-1)/12) with g the annual growth rate of that period.
func (t *Table) DemandFactor(p int) float64 {
	if p < 1 || p > t.horizon {
		return 1
	}
	g := t.values[DemandGrowth][p-1]
	return math.Pow(1+g, float64(p-1)/12)
}
