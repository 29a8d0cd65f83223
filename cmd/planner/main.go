package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitInfeasible = 2
)

// exitError carries a non-zero exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// options are the flags shared by every sub-command. Flags left unset keep
// the value from the config file or environment.
type options struct {
	configPath   string
	sourcesDir   string
	paramsFile   string
	artifactRoot string
	travelTimes  string
	threshold    float64
	minCoverage  float64
	solver       string
	solverPath   string
	timeLimit    time.Duration
	mipGap       float64
	reports      bool
	logLevel     string
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", ee.err)
			}
			return ee.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "planner",
		Short:         "Plan EV charger and solar panel installations across comunas",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	f := rootCmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $PLANNER_CONFIG)")
	f.StringVar(&opts.sourcesDir, "sources", "", "directory of per-comuna site files (.csv, .xlsx)")
	f.StringVar(&opts.paramsFile, "params", "", "parameter file (YAML)")
	f.StringVar(&opts.artifactRoot, "artifact-root", "", "directory that receives one sub-directory per run")
	f.StringVar(&opts.travelTimes, "travel-times", "", "site-to-site travel-time CSV; enables coverage constraints")
	f.Float64Var(&opts.threshold, "coverage-threshold", 0, "largest travel time still counted as reachable")
	f.Float64Var(&opts.minCoverage, "min-coverage", 0, "minimum served share of demand per comuna in the last period")
	f.StringVarP(&opts.solver, "solver", "s", "", "solver backend: gurobi or cbc")
	f.StringVar(&opts.solverPath, "solver-path", "", "solver binary (default gurobi_cl or cbc on PATH)")
	f.DurationVarP(&opts.timeLimit, "time-limit", "t", 0, "solver time limit")
	f.Float64Var(&opts.mipGap, "mip-gap", 0, "relative MIP gap")
	f.BoolVar(&opts.reports, "reports", false, "also write summary.xlsx and report.pdf")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(validateCmd(opts))
	rootCmd.AddCommand(exportLPCmd(opts))

	return rootCmd
}

func runCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build, solve and summarize one plan",
		Long: "Build, solve and summarize one plan. Exits 0 for an optimal or time-limited plan,\n" +
			"2 when the model is infeasible and 1 on any error.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, opts)
		},
	}
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the inputs and build the model without solving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}
}

func exportLPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export-lp [output-path]",
		Short: "Write the model in LP format to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runExportLP(cmd, opts, path)
		},
	}
}
