package aggregate

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"charging-planner/internal/builder"
	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/params"
)

type fixture struct {
	cat     *models.Catalog
	table   *params.Table
	problem *milp.Problem
	record  *models.SolutionRecord
}

// Two sites over two periods with hand-checked figures.
func newFixture(t *testing.T) fixture {
	t.Helper()
	cat := models.NewCatalog()
	require.NoError(t, cat.Add(&models.Site{
		Key: models.SiteKey{Comuna: "nunoa", SiteID: "7"}, EpsilonFast: 1, Pcap: 2, Zmax: 1, Demand: 4, DemandWeight: 0.5,
	}))
	require.NoError(t, cat.Add(&models.Site{
		Key: models.SiteKey{Comuna: "maipu", SiteID: "1"}, EpsilonSlow: 1, Pcap: 4, Zmax: 2, Demand: 2, DemandWeight: 1,
	}))

	table, err := params.New(2, map[string]params.Value{
		params.SlowUnitCost:    params.ScalarValue(40),
		params.FastUnitCost:    params.ListValue(90, 60),
		params.PanelUnitCost:   params.ScalarValue(30),
		params.PanelYield:      params.ScalarValue(2),
		params.SlowMaintenance: params.ScalarValue(1),
		params.FastMaintenance: params.ScalarValue(2),
		params.Budget:          params.ListValue(200, 100),
		params.ClientValue:     params.ScalarValue(50),
		params.CO2Benefit:      params.ScalarValue(10),
		params.SlowServiceRate: params.ScalarValue(1),
		params.FastServiceRate: params.ScalarValue(2),
		params.EnergyPrice:     params.ScalarValue(3),
	})
	require.NoError(t, err)

	problem, err := builder.New(builder.Options{}).Build(cat, table, nil)
	require.NoError(t, err)

	// site 1 is maipu/1, site 2 is nunoa/7
	record := &models.SolutionRecord{
		Status:    models.StatusOptimal,
		Objective: 123,
		Values: map[string]float64{
			"slow_1_1": 2, "fast_1_1": 0, "panels_1_1": 1, "served_1_1": 2,
			"slow_1_2": 2, "fast_1_2": 1, "panels_1_2": 1, "served_1_2": 2,
			"slow_2_1": 0, "fast_2_1": 1, "panels_2_1": 0, "served_2_1": 2,
			"slow_2_2": 0, "fast_2_2": 1, "panels_2_2": 1, "served_2_2": 2,
		},
	}
	return fixture{cat: cat, table: table, problem: problem, record: record}
}

func TestAggregate_Figures(t *testing.T) {
	f := newFixture(t)
	s, err := Aggregate(f.record, f.cat, f.table, f.problem)
	require.NoError(t, err)

	assert.Equal(t, models.StatusOptimal, s.Status)
	assert.False(t, s.Partial)
	assert.Equal(t, "optimal", s.Flag())

	require.Len(t, s.Comunas, 2)
	maipu, nunoa := s.Comunas[0], s.Comunas[1]
	assert.Equal(t, "maipu", maipu.Comuna)
	assert.Equal(t, 136.0, maipu.TotalCost)
	assert.Equal(t, 4.0, maipu.DemandServed)
	assert.Equal(t, 40.0, maipu.CO2Benefit)
	assert.Equal(t, 4.0, maipu.SolarOutput)
	assert.Equal(t, 12.0, maipu.EnergySavings)
	assert.Equal(t, 0.75, maipu.Utilization)
	assert.Equal(t, 1.0, maipu.Coverage)
	assert.Equal(t, 2, maipu.NewChargers)
	assert.Equal(t, 1, maipu.NewPanels)

	assert.Equal(t, "nunoa", nunoa.Comuna)
	assert.Equal(t, 34.0, nunoa.TotalCost)
	assert.Equal(t, 20.0, nunoa.CO2Benefit)
	assert.Equal(t, 0.5, nunoa.Utilization)

	require.NotNil(t, s.Global)
	assert.Equal(t, GlobalComuna, s.Global.Comuna)
	assert.Equal(t, 170.0, s.Global.TotalCost)
	assert.Equal(t, 8.0, s.Global.DemandServed)
	assert.Equal(t, 60.0, s.Global.CO2Benefit)
	assert.Equal(t, 0.6667, s.Global.Utilization)

	assert.Equal(t, []models.PeriodBudget{
		{Period: 1, Spent: 74, Cap: 200, Utilization: 0.37},
		{Period: 2, Spent: 96, Cap: 100, Utilization: 0.96},
	}, s.Budget)

	require.Len(t, s.Installations, 4)
	assert.Equal(t, models.SiteInstallation{
		Comuna: "maipu", SiteID: "1", Period: 2,
		NewFast: 1, TotalSlow: 2, TotalFast: 1, TotalPanels: 1, DemandServed: 2,
	}, s.Installations[1])
	assert.Equal(t, 1, s.Installations[0].NewSlow, "net of the existing charger")
}

func TestAggregate_CSVOutput(t *testing.T) {
	f := newFixture(t)
	s, err := Aggregate(f.record, f.cat, f.table, f.problem)
	require.NoError(t, err)

	byComuna, err := s.ComunaCSV()
	require.NoError(t, err)
	assert.Equal(t, "comuna,total_cost,demand_served,co2_benefit,utilization,status\n"+
		"maipu,136.00,4.0000,40.00,0.7500,optimal\n"+
		"nunoa,34.00,4.0000,20.00,0.5000,optimal\n", string(byComuna))

	global, err := s.GlobalCSV()
	require.NoError(t, err)
	assert.Equal(t, "comuna,total_cost,demand_served,co2_benefit,utilization,status\n"+
		"ALL,170.00,8.0000,60.00,0.6667,optimal\n", string(global))

	budget, err := s.BudgetCSV()
	require.NoError(t, err)
	assert.Equal(t, "period,spent,cap,utilization\n1,74.00,200.00,0.3700\n2,96.00,100.00,0.9600\n", string(budget))
}

func TestAggregate_Idempotent(t *testing.T) {
	f := newFixture(t)
	render := func() []byte {
		s, err := Aggregate(f.record, f.cat, f.table, f.problem)
		require.NoError(t, err)
		var all bytes.Buffer
		for _, fn := range []func() ([]byte, error){s.ComunaCSV, s.GlobalCSV, s.InstallationsCSV, s.BudgetCSV} {
			data, err := fn()
			require.NoError(t, err)
			all.Write(data)
		}
		return all.Bytes()
	}
	assert.Equal(t, render(), render())
}

func TestAggregate_Infeasible(t *testing.T) {
	f := newFixture(t)
	record := &models.SolutionRecord{
		Status:    models.StatusInfeasible,
		Values:    map[string]float64{},
		Conflicts: []models.Conflict{{ID: "budget_p1", Description: "period 1: budget"}},
	}
	s, err := Aggregate(record, f.cat, f.table, f.problem)
	require.NoError(t, err)

	assert.True(t, s.Infeasible())
	assert.Contains(t, s.Flag(), "infeasible")
	assert.Empty(t, s.Comunas)
	assert.Empty(t, s.Installations)
	assert.Empty(t, s.Budget)
	assert.Nil(t, s.Global)
	assert.Equal(t, record.Conflicts, s.Conflicts)

	global, err := s.GlobalCSV()
	require.NoError(t, err)
	assert.Equal(t, "comuna,total_cost,demand_served,co2_benefit,utilization,status\n", string(global))
}

func TestAggregate_TimeLimitFlagged(t *testing.T) {
	f := newFixture(t)
	f.record.Status = models.StatusTimeLimit
	s, err := Aggregate(f.record, f.cat, f.table, f.problem)
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Contains(t, s.Flag(), "time limit")
	assert.Len(t, s.Comunas, 2)

	byComuna, err := s.ComunaCSV()
	require.NoError(t, err)
	assert.Equal(t, "comuna,total_cost,demand_served,co2_benefit,utilization,status\n"+
		"maipu,136.00,4.0000,40.00,0.7500,time-limit-reached\n"+
		"nunoa,34.00,4.0000,20.00,0.5000,time-limit-reached\n", string(byComuna))

	global, err := s.GlobalCSV()
	require.NoError(t, err)
	assert.Equal(t, "comuna,total_cost,demand_served,co2_benefit,utilization,status\n"+
		"ALL,170.00,8.0000,60.00,0.6667,time-limit-reached\n", string(global))
}

func TestAggregate_MissingValue(t *testing.T) {
	f := newFixture(t)
	delete(f.record.Values, "served_2_2")
	_, err := Aggregate(f.record, f.cat, f.table, f.problem)
	var de *models.DecodingError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "served_2_2", de.Variable)
}

func TestSummary_WriteFiles(t *testing.T) {
	f := newFixture(t)
	s, err := Aggregate(f.record, f.cat, f.table, f.problem)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := s.WriteFiles(dir, true)
	require.NoError(t, err)
	assert.Len(t, paths, 6)

	data, err := os.ReadFile(filepath.Join(dir, InstallationsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "maipu,1,1,1,0,1,2,0,1,2.0000", lines[1])

	pdf, err := os.ReadFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	wb, err := excelize.OpenFile(filepath.Join(dir, WorkbookFile))
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"run", "comunas", "sites", "budget"}, wb.GetSheetList())
	status, err := wb.GetCellValue("run", "B3")
	require.NoError(t, err)
	assert.Equal(t, "optimal", status)
	label, err := wb.GetCellValue("run", "A5")
	require.NoError(t, err)
	assert.Equal(t, "Objective", label)
	rows, err := wb.GetRows("comunas")
	require.NoError(t, err)
	assert.Len(t, rows, 4, "header, two comunas and ALL")
	assert.Equal(t, GlobalComuna, rows[3][0])
}
