package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"charging-planner/internal/config"
	"charging-planner/internal/repository"
	"charging-planner/internal/services"
	"charging-planner/internal/solver"
	"charging-planner/pkg/database"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// newBackend is replaced in tests.
var newBackend = solver.NewBackend

// loadConfig reads the config file and environment, then applies the flags
// that were set on the command line.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("PLANNER_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	p := &cfg.Planner
	if flags.Changed("sources") {
		p.SourcesDir = opts.sourcesDir
	}
	if flags.Changed("params") {
		p.ParamsFile = opts.paramsFile
	}
	if flags.Changed("artifact-root") {
		p.ArtifactRoot = opts.artifactRoot
	}
	if flags.Changed("travel-times") {
		p.TravelTimes = opts.travelTimes
	}
	if flags.Changed("coverage-threshold") {
		p.CoverageThreshold = opts.threshold
	}
	if flags.Changed("min-coverage") {
		p.MinCoverage = opts.minCoverage
	}
	if flags.Changed("solver") {
		p.Solver = opts.solver
	}
	if flags.Changed("solver-path") {
		p.SolverPath = opts.solverPath
	}
	if flags.Changed("time-limit") {
		p.TimeLimit = opts.timeLimit
	}
	if flags.Changed("mip-gap") {
		p.MIPGap = opts.mipGap
	}
	if flags.Changed("reports") {
		p.Reports = opts.reports
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	db      *database.PostgresDB
	service *services.PlanningService
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// setup wires the planning service. withDB connects to the database when
// one is configured; a failed connection only disables persistence.
func setup(ctx context.Context, cmd *cobra.Command, opts *options, withDB bool) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger := logging.NewStructuredLogger("charging-planner", version, logging.ParseLevel(cfg.Logging.Level))
	logger.SetOutput(cmd.ErrOrStderr())
	metricsCollector := metrics.NewCollector("planner", prometheus.NewRegistry())

	backend, err := newBackend(cfg.Planner.Solver, cfg.Planner.SolverPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metricsCollector}

	var repo repository.PlanRepository
	if withDB && cfg.Database.Enabled() {
		db, err := database.NewPostgresDB(&database.Config{
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger, metricsCollector)
		if err != nil {
			logger.Warn(ctx, "[PLANNER_DB_UNAVAILABLE] Database unreachable, run will not be persisted", logging.Fields{
				"error": err.Error(),
			})
		} else {
			a.db = db
			repo = repository.NewPlanRepository(db, logger, metricsCollector)
		}
	}

	a.service = services.NewPlanningService(cfg.Planner, backend, repo, logger, metricsCollector)
	return a, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runPlan(cmd *cobra.Command, opts *options) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := setup(ctx, cmd, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info(ctx, "[PLANNER_START] Starting planner", logging.Fields{
		"version":      version,
		"solver":       a.cfg.Planner.Solver,
		"sources_dir":  a.cfg.Planner.SourcesDir,
		"params_file":  a.cfg.Planner.ParamsFile,
		"artifact_dir": a.cfg.Planner.ArtifactRoot,
		"persistence":  a.db != nil,
	})

	result, err := a.service.Run(ctx)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	out := cmd.OutOrStdout()
	printRun(out, result)

	if result.Summary.Infeasible() {
		return &exitError{code: exitInfeasible}
	}
	return nil
}

func printRun(w io.Writer, result *services.RunResult) {
	run := result.Run
	rule := strings.Repeat("=", 80)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "PLANNING RUN COMPLETE")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run ID:       %s\n", run.ID)
	fmt.Fprintf(w, "Status:       %s\n", run.Status)
	fmt.Fprintf(w, "Result:       %s\n", result.Summary.Flag())
	if run.Objective != nil {
		fmt.Fprintf(w, "Objective:    %.2f\n", *run.Objective)
	}
	fmt.Fprintf(w, "Sites:        %d\n", run.SiteCount)
	fmt.Fprintf(w, "Periods:      %d\n", run.Horizon)
	fmt.Fprintf(w, "Model:        %d variables, %d constraints\n", run.VariableCount, run.ConstraintCount)
	fmt.Fprintf(w, "Duration:     %v\n", run.FinishedAt.Sub(run.StartedAt))
	fmt.Fprintf(w, "Artifacts:    %s\n", run.ArtifactDir)

	if g := result.Summary.Global; g != nil {
		fmt.Fprintf(w, "\nTotal cost:     %.2f\n", g.TotalCost)
		fmt.Fprintf(w, "Demand served:  %.4f of %.4f\n", g.DemandServed, g.DemandTotal)
		fmt.Fprintf(w, "New chargers:   %d\n", g.NewChargers)
		fmt.Fprintf(w, "New panels:     %d\n", g.NewPanels)
	}

	if conflicts := result.Record.Conflicts; len(conflicts) > 0 {
		fmt.Fprintf(w, "\nConflicting constraints (%d):\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(w, "  - %s: %s\n", c.ID, c.Description)
		}
	}
}

func runValidate(cmd *cobra.Command, opts *options) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := setup(ctx, cmd, opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.Validate(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Sites:        %d\n", report.Sites)
	fmt.Fprintf(w, "Comunas:      %s\n", strings.Join(report.Comunas, ", "))
	fmt.Fprintf(w, "Periods:      %d\n", report.Horizon)
	fmt.Fprintf(w, "Coverage:     %t\n", report.Coverage)
	fmt.Fprintf(w, "Variables:    %d (%d integer)\n", report.Variables, report.Discrete)
	fmt.Fprintf(w, "Constraints:  %d\n", report.Constraints)
	if len(report.UnknownTags) > 0 {
		fmt.Fprintln(w, "Unknown type tags (default weight applied):")
		for _, tag := range report.SortedTags() {
			fmt.Fprintf(w, "  - %s: %d\n", tag, report.UnknownTags[tag])
		}
	}
	return nil
}

func runExportLP(cmd *cobra.Command, opts *options, path string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := setup(ctx, cmd, opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if path == "-" {
		_, err := a.service.ExportLP(ctx, cmd.OutOrStdout())
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	problem, err := a.service.ExportLP(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "[EXPORT_LP] Model written", logging.Fields{
		"path":        path,
		"variables":   problem.NumVariables(),
		"constraints": problem.NumConstraints(),
	})
	return nil
}
