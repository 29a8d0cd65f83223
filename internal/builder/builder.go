// Package builder translates a site catalog and a parameter table into the
// planning MILP.
package builder

import (
	"fmt"
	"math"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/internal/params"
)

// ProblemName labels every built problem.
const ProblemName = "charging_plan"

// Options are the optional constraint families.
type Options struct {
	// MinCoverage is the share of final-period demand each comuna must
	// serve. Zero disables the floor.
	MinCoverage float64
}

// Builder constructs problems. It holds no state between builds.
type Builder struct {
	opts Options
}

// New creates a builder.
func New(opts Options) *Builder {
	return &Builder{opts: opts}
}

// VarName returns the variable name of a family at a 1-based site index and period.
func VarName(f milp.Family, site, period int) string {
	return fmt.Sprintf("%s_%d_%d", f, site, period)
}

// Demand is the demand of a site in period p after growth.
func Demand(site *models.Site, table *params.Table, p int) float64 {
	return site.BaseDemand() * table.DemandFactor(p)
}

type build struct {
	opts     Options
	problem  *milp.Problem
	sites    []*models.Site
	index    map[models.SiteKey]int
	table    *params.Table
	periods  []models.Period
	travel   *models.TravelTimes
	coverage bool
}

// Build creates the problem for one run. Sites are numbered 1..N in
// (comuna, site_id) order, so the same inputs always give the same names.
// A nil distances table omits the coverage family entirely.
func (b *Builder) Build(cat *models.Catalog, table *params.Table, distances *models.TravelTimes) (*milp.Problem, error) {
	if cat == nil || cat.Len() == 0 {
		return nil, &models.DataValidationError{Field: "catalog", Message: "no sites to plan"}
	}
	if table == nil {
		return nil, &models.ConfigurationError{Name: "parameters", Message: "parameter table is required"}
	}
	if b.opts.MinCoverage < 0 || b.opts.MinCoverage > 1 || math.IsNaN(b.opts.MinCoverage) {
		return nil, &models.ConfigurationError{Name: "min_coverage", Message: fmt.Sprintf("must be within [0,1], got %g", b.opts.MinCoverage)}
	}

	st := &build{
		opts:    b.opts,
		problem: milp.NewProblem(ProblemName, true),
		sites:   cat.Sites(),
		index:   make(map[models.SiteKey]int),
		table:   table,
		periods: table.Periods(),
		travel:  distances,
	}
	for i, s := range st.sites {
		st.index[s.Key] = i + 1
	}

	if distances != nil {
		if distances.Threshold <= 0 || math.IsNaN(distances.Threshold) {
			return nil, &models.ConfigurationError{Name: "coverage_threshold", Message: "a travel-time table needs a positive threshold"}
		}
		for _, k := range distances.Keys() {
			if _, ok := st.index[k]; !ok {
				return nil, &models.DataValidationError{Source: "travel_times", Field: "site", Value: k.String(), Message: "site not in catalog"}
			}
		}
		st.coverage = true
	}

	steps := []func() error{
		st.declareVariables,
		st.siteConstraints,
		st.budgetConstraints,
		st.coverageFloor,
		st.objective,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return st.problem, nil
}

func (st *build) name(f milp.Family, site, p int) string {
	return VarName(f, site, p)
}

func (st *build) declareVariables() error {
	for i, s := range st.sites {
		idx := i + 1
		for _, per := range st.periods {
			p := per.Index
			vars := []milp.Variable{
				{Name: st.name(milp.FamilySlow, idx, p), Kind: milp.Integer, Upper: float64(s.Pcap), Family: milp.FamilySlow},
				{Name: st.name(milp.FamilyFast, idx, p), Kind: milp.Integer, Upper: float64(s.Pcap), Family: milp.FamilyFast},
				{Name: st.name(milp.FamilyPanels, idx, p), Kind: milp.Integer, Upper: float64(s.Zmax), Family: milp.FamilyPanels},
				{Name: st.name(milp.FamilyServed, idx, p), Kind: milp.Continuous, Upper: math.Inf(1), Family: milp.FamilyServed},
			}
			if st.coverage {
				vars = append(vars, milp.Variable{Name: st.name(milp.FamilyReach, idx, p), Kind: milp.Binary, Family: milp.FamilyReach})
			}
			for _, v := range vars {
				v.Site = s.Key
				v.Period = p
				if err := st.problem.AddVariable(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (st *build) add(c milp.Constraint) error {
	return st.problem.AddConstraint(c)
}

func (st *build) siteConstraints() error {
	kinds := []struct {
		family   milp.Family
		label    string
		existing func(*models.Site) int
	}{
		{milp.FamilySlow, "slow chargers", func(s *models.Site) int { return s.EpsilonSlow }},
		{milp.FamilyFast, "fast chargers", func(s *models.Site) int { return s.EpsilonFast }},
		{milp.FamilyPanels, "panels", func(s *models.Site) int { return s.QPanels }},
	}

	for i, s := range st.sites {
		idx := i + 1

		for _, k := range kinds {
			err := st.add(milp.Constraint{
				Name:        fmt.Sprintf("floor_%s_s%d", k.family, idx),
				Terms:       []milp.Term{{Var: st.name(k.family, idx, 1), Coef: 1}},
				Sense:       milp.GreaterEqual,
				RHS:         float64(k.existing(s)),
				Description: fmt.Sprintf("site %s keeps its %d existing %s", s.Key, k.existing(s), k.label),
			})
			if err != nil {
				return err
			}
		}

		for _, per := range st.periods {
			p := per.Index
			slow, fast := st.name(milp.FamilySlow, idx, p), st.name(milp.FamilyFast, idx, p)
			panels, served := st.name(milp.FamilyPanels, idx, p), st.name(milp.FamilyServed, idx, p)
			demand := Demand(s, st.table, p)

			rows := []milp.Constraint{
				{
					Name:        fmt.Sprintf("cap_chargers_s%d_p%d", idx, p),
					Terms:       []milp.Term{{Var: slow, Coef: 1}, {Var: fast, Coef: 1}},
					Sense:       milp.LessEqual,
					RHS:         float64(s.Pcap),
					Description: fmt.Sprintf("site %s period %d: chargers within capacity %d", s.Key, p, s.Pcap),
				},
				{
					Name:        fmt.Sprintf("cap_panels_s%d_p%d", idx, p),
					Terms:       []milp.Term{{Var: panels, Coef: 1}},
					Sense:       milp.LessEqual,
					RHS:         float64(s.Zmax),
					Description: fmt.Sprintf("site %s period %d: panels within capacity %d", s.Key, p, s.Zmax),
				},
			}

			if p >= 2 {
				for _, k := range kinds {
					rows = append(rows, milp.Constraint{
						Name: fmt.Sprintf("mono_%s_s%d_p%d", k.family, idx, p),
						Terms: []milp.Term{
							{Var: st.name(k.family, idx, p), Coef: 1},
							{Var: st.name(k.family, idx, p-1), Coef: -1},
						},
						Sense:       milp.GreaterEqual,
						Description: fmt.Sprintf("site %s period %d: installed %s never decrease", s.Key, p, k.label),
					})
				}
			}

			rows = append(rows, milp.Constraint{
				Name: fmt.Sprintf("serve_rate_s%d_p%d", idx, p),
				Terms: []milp.Term{
					{Var: served, Coef: 1},
					{Var: slow, Coef: -per.SlowServiceRate},
					{Var: fast, Coef: -per.FastServiceRate},
				},
				Sense:       milp.LessEqual,
				Description: fmt.Sprintf("site %s period %d: service limited by charger throughput", s.Key, p),
			})

			if st.coverage {
				reach := st.name(milp.FamilyReach, idx, p)
				rows = append(rows, milp.Constraint{
					Name:        fmt.Sprintf("serve_demand_s%d_p%d", idx, p),
					Terms:       []milp.Term{{Var: served, Coef: 1}, {Var: reach, Coef: -demand}},
					Sense:       milp.LessEqual,
					Description: fmt.Sprintf("site %s period %d: service limited to demand %g when reachable", s.Key, p, demand),
				})

				terms := []milp.Term{{Var: reach, Coef: 1}}
				for _, near := range st.travel.Within(s.Key) {
					j := st.index[near]
					terms = append(terms,
						milp.Term{Var: st.name(milp.FamilySlow, j, p), Coef: -1},
						milp.Term{Var: st.name(milp.FamilyFast, j, p), Coef: -1},
					)
				}
				rows = append(rows, milp.Constraint{
					Name:        fmt.Sprintf("reach_s%d_p%d", idx, p),
					Terms:       terms,
					Sense:       milp.LessEqual,
					Description: fmt.Sprintf("site %s period %d: reachable only with a charger within %g", s.Key, p, st.travel.Threshold),
				})
			} else {
				rows = append(rows, milp.Constraint{
					Name:        fmt.Sprintf("serve_demand_s%d_p%d", idx, p),
					Terms:       []milp.Term{{Var: served, Coef: 1}},
					Sense:       milp.LessEqual,
					RHS:         demand,
					Description: fmt.Sprintf("site %s period %d: service limited to demand %g", s.Key, p, demand),
				})
			}

			for _, c := range rows {
				if err := st.add(c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// budgetConstraints caps, per period, new-unit spending plus maintenance of
// every installed unit. New units are first differences of the cumulative
// counts; in period 1 the existing counts are moved to the right-hand side.
func (st *build) budgetConstraints() error {
	for _, per := range st.periods {
		p := per.Index
		var terms []milp.Term
		rhs := per.Budget

		for i, s := range st.sites {
			idx := i + 1
			for _, u := range unitCosts(per, s) {
				terms = append(terms, milp.Term{Var: st.name(u.family, idx, p), Coef: u.cost + u.maintenance})
				if p == 1 {
					rhs += u.cost * float64(u.existing)
				} else {
					terms = append(terms, milp.Term{Var: st.name(u.family, idx, p-1), Coef: -u.cost})
				}
			}
		}

		err := st.add(milp.Constraint{
			Name:        fmt.Sprintf("budget_p%d", p),
			Terms:       terms,
			Sense:       milp.LessEqual,
			RHS:         rhs,
			Description: fmt.Sprintf("period %d: installation and maintenance spending within budget %g", p, per.Budget),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type unitCost struct {
	family      milp.Family
	cost        float64
	maintenance float64
	existing    int
}

func unitCosts(per models.Period, s *models.Site) []unitCost {
	return []unitCost{
		{milp.FamilySlow, per.SlowUnitCost, per.SlowMaintenance, s.EpsilonSlow},
		{milp.FamilyFast, per.FastUnitCost, per.FastMaintenance, s.EpsilonFast},
		{milp.FamilyPanels, per.PanelUnitCost, per.PanelMaintenance, s.QPanels},
	}
}

func (st *build) coverageFloor() error {
	if st.opts.MinCoverage == 0 {
		return nil
	}
	last := st.periods[len(st.periods)-1].Index

	byComuna := make(map[string][]int)
	var comunas []string
	for i, s := range st.sites {
		if _, ok := byComuna[s.Key.Comuna]; !ok {
			comunas = append(comunas, s.Key.Comuna)
		}
		byComuna[s.Key.Comuna] = append(byComuna[s.Key.Comuna], i)
	}

	// sites are sorted, so comunas already are
	for j, comuna := range comunas {
		var terms []milp.Term
		total := 0.0
		for _, i := range byComuna[comuna] {
			terms = append(terms, milp.Term{Var: st.name(milp.FamilyServed, i+1, last), Coef: 1})
			total += Demand(st.sites[i], st.table, last)
		}
		err := st.add(milp.Constraint{
			Name:        fmt.Sprintf("coverage_c%d_p%d", j+1, last),
			Terms:       terms,
			Sense:       milp.GreaterEqual,
			RHS:         st.opts.MinCoverage * total,
			Description: fmt.Sprintf("comuna %s serves at least %g of its final-period demand", comuna, st.opts.MinCoverage),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// objective maximizes served demand value and solar CO2 benefit, net of
// new-unit and maintenance spending. The existing units' period-1 cost cancels
// out of the new-unit term and is kept as the objective constant.
func (st *build) objective() error {
	constant := 0.0
	for _, per := range st.periods {
		p := per.Index
		for i, s := range st.sites {
			idx := i + 1

			if err := st.problem.AddObjectiveTerm(st.name(milp.FamilyServed, idx, p), per.ClientValue); err != nil {
				return err
			}
			for _, u := range unitCosts(per, s) {
				coef := -u.cost - u.maintenance
				if u.family == milp.FamilyPanels {
					coef += per.PanelYield * per.CO2Benefit
				}
				if err := st.problem.AddObjectiveTerm(st.name(u.family, idx, p), coef); err != nil {
					return err
				}
				if p == 1 {
					constant += u.cost * float64(u.existing)
				} else if err := st.problem.AddObjectiveTerm(st.name(u.family, idx, p-1), u.cost); err != nil {
					return err
				}
			}
		}
	}
	st.problem.ObjectiveConstant = constant
	return nil
}
