// Package aggregate joins a decoded solution back onto the site catalog and
// produces per-site, per-comuna and global summaries.
package aggregate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"charging-planner/internal/builder"
	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/params"
)

// GlobalComuna labels the all-comunas summary row.
const GlobalComuna = "ALL"

// Fixed decimal places of every reported figure.
const (
	moneyPlaces  = 2
	amountPlaces = 4
	ratioPlaces  = 4
)

// Summary is the result of one aggregation. Rows are empty when the run was
// infeasible; nothing is filled with zeros.
type Summary struct {
	Status    models.SolveStatus
	Objective float64
	// Partial is set when the solver stopped at the time limit, so the
	// figures describe an incumbent rather than a proven optimum.
	Partial   bool
	Conflicts []models.Conflict

	Installations []models.SiteInstallation
	Comunas       []models.ComunaSummary
	Global        *models.ComunaSummary
	Budget        []models.PeriodBudget
}

// Infeasible reports whether the summary carries no plan.
func (s *Summary) Infeasible() bool {
	return s.Status == models.StatusInfeasible
}

// Flag describes how far the figures can be trusted.
func (s *Summary) Flag() string {
	switch {
	case s.Infeasible():
		return "infeasible: no plan"
	case s.Partial:
		return "time limit reached: best plan found, optimality not proven"
	default:
		return "optimal"
	}
}

type totals struct {
	cost, served, demand, co2, solar, savings decimal.Decimal
	chargers, pcap, newChargers, newPanels    int
}

func (t *totals) add(o *totals) {
	t.cost = t.cost.Add(o.cost)
	t.served = t.served.Add(o.served)
	t.demand = t.demand.Add(o.demand)
	t.co2 = t.co2.Add(o.co2)
	t.solar = t.solar.Add(o.solar)
	t.savings = t.savings.Add(o.savings)
	t.chargers += o.chargers
	t.pcap += o.pcap
	t.newChargers += o.newChargers
	t.newPanels += o.newPanels
}

func (t *totals) summary(comuna string) models.ComunaSummary {
	return models.ComunaSummary{
		Comuna:        comuna,
		TotalCost:     round(t.cost, moneyPlaces),
		DemandServed:  round(t.served, amountPlaces),
		DemandTotal:   round(t.demand, amountPlaces),
		CO2Benefit:    round(t.co2, moneyPlaces),
		SolarOutput:   round(t.solar, amountPlaces),
		EnergySavings: round(t.savings, moneyPlaces),
		Utilization:   ratio(decimal.NewFromInt(int64(t.chargers)), decimal.NewFromInt(int64(t.pcap))),
		Coverage:      ratio(t.served, t.demand),
		NewChargers:   t.newChargers,
		NewPanels:     t.newPanels,
	}
}

// Aggregate summarizes a decoded record. Sites are matched to variables by
// the same (comuna, site_id) numbering the builder uses.
func Aggregate(record *models.SolutionRecord, cat *models.Catalog, table *params.Table, problem *milp.Problem) (*Summary, error) {
	if record == nil {
		return nil, fmt.Errorf("aggregate: nil solution record")
	}
	summary := &Summary{
		Status:    record.Status,
		Objective: record.Objective,
		Partial:   record.Status == models.StatusTimeLimit,
		Conflicts: record.Conflicts,
	}
	if !record.Status.HasSolution() {
		return summary, nil
	}

	periods := table.Periods()
	spent := make([]decimal.Decimal, len(periods))
	for i := range spent {
		spent[i] = decimal.Zero
	}

	byComuna := make(map[string]*totals)
	var comunas []string
	global := newTotals()

	value := func(f milp.Family, site, p int) (float64, error) {
		name := builder.VarName(f, site, p)
		if _, ok := problem.Variable(name); !ok {
			return 0, &models.DecodingError{Variable: name, Message: "not declared by the problem"}
		}
		v, ok := record.Value(name)
		if !ok {
			return 0, &models.DecodingError{Variable: name, Message: "missing from solution record"}
		}
		return v, nil
	}

	for i, site := range cat.Sites() {
		idx := i + 1
		comuna := site.Key.Comuna
		t, ok := byComuna[comuna]
		if !ok {
			t = newTotals()
			byComuna[comuna] = t
			comunas = append(comunas, comuna)
		}
		st := newTotals()
		st.pcap = site.Pcap

		prev := [3]int{site.EpsilonSlow, site.EpsilonFast, site.QPanels}
		for j, per := range periods {
			p := per.Index
			var cur [3]int
			for k, f := range []milp.Family{milp.FamilySlow, milp.FamilyFast, milp.FamilyPanels} {
				v, err := value(f, idx, p)
				if err != nil {
					return nil, err
				}
				cur[k] = int(v)
			}
			served, err := value(milp.FamilyServed, idx, p)
			if err != nil {
				return nil, err
			}

			newSlow, newFast, newPanels := cur[0]-prev[0], cur[1]-prev[1], cur[2]-prev[2]
			cost := dec(float64(newSlow) * per.SlowUnitCost).
				Add(dec(float64(newFast) * per.FastUnitCost)).
				Add(dec(float64(newPanels) * per.PanelUnitCost)).
				Add(dec(float64(cur[0]) * per.SlowMaintenance)).
				Add(dec(float64(cur[1]) * per.FastMaintenance)).
				Add(dec(float64(cur[2]) * per.PanelMaintenance))
			spent[j] = spent[j].Add(cost)

			solar := dec(float64(cur[2]) * per.PanelYield)
			st.cost = st.cost.Add(cost)
			st.served = st.served.Add(dec(served))
			st.demand = st.demand.Add(dec(builder.Demand(site, table, p)))
			st.solar = st.solar.Add(solar)
			st.co2 = st.co2.Add(solar.Mul(dec(per.CO2Benefit)))
			st.savings = st.savings.Add(solar.Mul(dec(per.EnergyPrice)))
			st.newChargers += newSlow + newFast
			st.newPanels += newPanels
			st.chargers = cur[0] + cur[1]

			summary.Installations = append(summary.Installations, models.SiteInstallation{
				Comuna:       comuna,
				SiteID:       site.Key.SiteID,
				Period:       p,
				NewSlow:      newSlow,
				NewFast:      newFast,
				NewPanels:    newPanels,
				TotalSlow:    cur[0],
				TotalFast:    cur[1],
				TotalPanels:  cur[2],
				DemandServed: round(dec(served), amountPlaces),
			})
			prev = cur
		}
		t.add(st)
		global.add(st)
	}

	// catalog sites are sorted by comuna, so comunas already are
	for _, c := range comunas {
		summary.Comunas = append(summary.Comunas, byComuna[c].summary(c))
	}
	g := global.summary(GlobalComuna)
	summary.Global = &g

	for j, per := range periods {
		summary.Budget = append(summary.Budget, models.PeriodBudget{
			Period:      per.Index,
			Spent:       round(spent[j], moneyPlaces),
			Cap:         per.Budget,
			Utilization: ratio(spent[j], dec(per.Budget)),
		})
	}
	return summary, nil
}

func newTotals() *totals {
	return &totals{
		cost:    decimal.Zero,
		served:  decimal.Zero,
		demand:  decimal.Zero,
		co2:     decimal.Zero,
		solar:   decimal.Zero,
		savings: decimal.Zero,
	}
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func round(d decimal.Decimal, places int32) float64 {
	f, _ := d.Round(places).Float64()
	return f
}

// ratio is num/den rounded, or 0 when den is 0.
func ratio(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	return round(num.DivRound(den, ratioPlaces+2), ratioPlaces)
}
