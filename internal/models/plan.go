package models

import (
	"time"
)

// Period holds the coefficients of one planning month.
type Period struct {
	Index            int     `json:"index"`
	SlowUnitCost     float64 `json:"slow_unit_cost"`
	FastUnitCost     float64 `json:"fast_unit_cost"`
	PanelUnitCost    float64 `json:"panel_unit_cost"`
	SlowMaintenance  float64 `json:"slow_maintenance"`
	FastMaintenance  float64 `json:"fast_maintenance"`
	PanelMaintenance float64 `json:"panel_maintenance"`
	PanelYield       float64 `json:"panel_yield"`
	Budget           float64 `json:"budget"`
	EnergyPrice      float64 `json:"energy_price"`
	ClientValue      float64 `json:"client_value"`
	CO2Benefit       float64 `json:"co2_benefit"`
	SlowServiceRate  float64 `json:"slow_service_rate"`
	FastServiceRate  float64 `json:"fast_service_rate"`
	DemandGrowth     float64 `json:"demand_growth"`
}

// SolveStatus is the terminal status of a solver run.
type SolveStatus string

const (
	StatusOptimal    SolveStatus = "optimal"
	StatusInfeasible SolveStatus = "infeasible"
	StatusTimeLimit  SolveStatus = "time-limit-reached"
	StatusError      SolveStatus = "error"
)

// HasSolution reports whether the status carries variable values.
func (s SolveStatus) HasSolution() bool {
	return s == StatusOptimal || s == StatusTimeLimit
}

// Conflict is one member of an irreducible inconsistent subsystem.
type Conflict struct {
	ID          string `json:"id" db:"id"`
	Description string `json:"description" db:"description"`
}

// SolutionRecord pairs every declared variable with its decoded value.
type SolutionRecord struct {
	Status    SolveStatus        `json:"status"`
	Objective float64            `json:"objective"`
	Values    map[string]float64 `json:"values"`
	Conflicts []Conflict         `json:"conflicts,omitempty"`
}

// Value returns the decoded value of a variable and whether the record has one.
func (r *SolutionRecord) Value(name string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Values[name]
	return v, ok
}

// PlanRun is the persisted record of one optimization run.
type PlanRun struct {
	ID              string      `json:"id" db:"id"`
	Status          SolveStatus `json:"status" db:"status"`
	Objective       *float64    `json:"objective,omitempty" db:"objective"`
	Horizon         int         `json:"horizon" db:"horizon"`
	SiteCount       int         `json:"site_count" db:"site_count"`
	VariableCount   int         `json:"variable_count" db:"variable_count"`
	ConstraintCount int         `json:"constraint_count" db:"constraint_count"`
	ConflictCount   int         `json:"conflict_count" db:"conflict_count"`
	ArtifactDir     string      `json:"artifact_dir" db:"artifact_dir"`
	StartedAt       time.Time   `json:"started_at" db:"started_at"`
	FinishedAt      time.Time   `json:"finished_at" db:"finished_at"`
}

// ComunaSummary is one row of the per-comuna summary table.
type ComunaSummary struct {
	RunID         string  `json:"run_id,omitempty" db:"run_id"`
	Comuna        string  `json:"comuna" db:"comuna"`
	TotalCost     float64 `json:"total_cost" db:"total_cost"`
	DemandServed  float64 `json:"demand_served" db:"demand_served"`
	DemandTotal   float64 `json:"demand_total" db:"demand_total"`
	CO2Benefit    float64 `json:"co2_benefit" db:"co2_benefit"`
	SolarOutput   float64 `json:"solar_output" db:"solar_output"`
	EnergySavings float64 `json:"energy_savings" db:"energy_savings"`
	Utilization   float64 `json:"utilization" db:"utilization"`
	Coverage      float64 `json:"coverage" db:"coverage"`
	NewChargers   int     `json:"new_chargers" db:"new_chargers"`
	NewPanels     int     `json:"new_panels" db:"new_panels"`
}

// SiteInstallation is the net-new installation at one site in one period.
type SiteInstallation struct {
	RunID        string  `json:"run_id,omitempty" db:"run_id"`
	Comuna       string  `json:"comuna" db:"comuna"`
	SiteID       string  `json:"site_id" db:"site_id"`
	Period       int     `json:"period" db:"period"`
	NewSlow      int     `json:"new_slow" db:"new_slow"`
	NewFast      int     `json:"new_fast" db:"new_fast"`
	NewPanels    int     `json:"new_panels" db:"new_panels"`
	TotalSlow    int     `json:"total_slow" db:"total_slow"`
	TotalFast    int     `json:"total_fast" db:"total_fast"`
	TotalPanels  int     `json:"total_panels" db:"total_panels"`
	DemandServed float64 `json:"demand_served" db:"demand_served"`
}

// PeriodBudget reports spending against the cap of one period.
type PeriodBudget struct {
	Period      int     `json:"period"`
	Spent       float64 `json:"spent"`
	Cap         float64 `json:"cap"`
	Utilization float64 `json:"utilization"`
}
