package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charging-planner/internal/models"
)

func baseCoefficients() map[string]Value {
	out := make(map[string]Value)
	for _, name := range required {
		out[name] = ScalarValue(1)
	}
	return out
}

func TestNew_ExpandsScalarsAndLists(t *testing.T) {
	coeffs := baseCoefficients()
	coeffs[Budget] = ListValue(100, 200, 300)
	coeffs[EnergyPrice] = ScalarValue(0.12)

	table, err := New(3, coeffs)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Horizon())

	for p, want := range []float64{100, 200, 300} {
		got, err := table.Coefficient(Budget, p+1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	period, err := table.Period(2)
	require.NoError(t, err)
	assert.Equal(t, 2, period.Index)
	assert.Equal(t, 200.0, period.Budget)
	assert.Equal(t, 0.12, period.EnergyPrice)
	assert.Equal(t, 0.0, period.PanelMaintenance, "optional coefficients default to zero")
	assert.Len(t, table.Periods(), 3)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		horizon int
		mutate  func(map[string]Value)
		field   string
	}{
		{"list length mismatch", 12, func(c map[string]Value) { c[Budget] = ListValue(1, 2, 3) }, Budget},
		{"missing required", 1, func(c map[string]Value) { delete(c, ClientValue) }, ClientValue},
		{"negative cost", 1, func(c map[string]Value) { c[FastUnitCost] = ScalarValue(-1) }, FastUnitCost},
		{"negative budget in list", 2, func(c map[string]Value) { c[Budget] = ListValue(5, -5) }, Budget},
		{"unknown name", 1, func(c map[string]Value) { c["bugdet"] = ScalarValue(1) }, "bugdet"},
		{"bad growth", 1, func(c map[string]Value) { c[DemandGrowth] = ScalarValue(-1) }, DemandGrowth},
		{"zero horizon", 0, func(map[string]Value) {}, "horizon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coeffs := baseCoefficients()
			tt.mutate(coeffs)
			_, err := New(tt.horizon, coeffs)
			var ce *models.ConfigurationError
			require.True(t, errors.As(err, &ce), "want ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, ce.Name)
		})
	}
}

func TestTable_PeriodOutOfRange(t *testing.T) {
	table, err := New(2, baseCoefficients())
	require.NoError(t, err)

	_, err = table.Coefficient(Budget, 3)
	var ce *models.ConfigurationError
	assert.True(t, errors.As(err, &ce))

	_, err = table.Period(0)
	assert.True(t, errors.As(err, &ce))

	_, err = table.Coefficient("unknown", 1)
	assert.True(t, errors.As(err, &ce))
}

func TestTable_DemandFactor(t *testing.T) {
	coeffs := baseCoefficients()
	coeffs[DemandGrowth] = ScalarValue(0.21)
	table, err := New(13, coeffs)
	require.NoError(t, err)

	assert.Equal(t, 1.0, table.DemandFactor(1))
	assert.InDelta(t, 1.21, table.DemandFactor(13), 1e-12)
	assert.InDelta(t, 1.1, table.DemandFactor(7), 1e-12)
}

func TestLoad_YAML(t *testing.T) {
	doc := `
horizon: 2
coefficients:
  slow_unit_cost: 100
  fast_unit_cost: 250
  panel_unit_cost: 80
  panel_yield: 30
  slow_maintenance: 1
  fast_maintenance: 2
  budget: [500, 750.5]
  client_value: 150
  co2_benefit: 0.4
  slow_service_rate: 1
  fast_service_rate: 3
`
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	table, err := Load(path)
	require.NoError(t, err)

	got, err := table.Coefficient(Budget, 2)
	require.NoError(t, err)
	assert.Equal(t, 750.5, got)

	got, err = table.Coefficient(FastUnitCost, 1)
	require.NoError(t, err)
	assert.Equal(t, 250.0, got)
}

func TestParse_RejectsMalformedValue(t *testing.T) {
	_, err := Parse([]byte("horizon: 1\ncoefficients:\n  budget: {a: 1}\n"))
	var ce *models.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}
