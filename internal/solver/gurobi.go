package solver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"charging-planner/internal/models"
)

// Gurobi drives the gurobi_cl command-line tool.
type Gurobi struct {
	Binary string
	run    runFunc
}

// NewGurobi creates a Gurobi backend. An empty binary means gurobi_cl on PATH.
func NewGurobi(binary string) *Gurobi {
	if binary == "" {
		binary = "gurobi_cl"
	}
	return &Gurobi{Binary: binary, run: execRun}
}

func (g *Gurobi) Name() string { return "gurobi" }

var gurobiBestObjective = regexp.MustCompile(`Best objective ([-+0-9.eE]+)`)

// Solve runs gurobi_cl with TimeLimit and ResultFile parameters.
func (g *Gurobi) Solve(ctx context.Context, job Job) (*RawResult, error) {
	solPath := filepath.Join(job.WorkDir, "gurobi.sol")
	os.Remove(solPath)

	args := []string{
		fmt.Sprintf("TimeLimit=%d", seconds(job.TimeLimit)),
		"DualReductions=0",
		"ResultFile=" + solPath,
		"LogFile=" + filepath.Join(job.WorkDir, "gurobi.log"),
	}
	if job.MIPGap > 0 {
		args = append(args, fmt.Sprintf("MIPGap=%g", job.MIPGap))
	}
	args = append(args, job.ModelPath)

	out, err := g.run(ctx, job.WorkDir, g.Binary, args...)
	if err != nil {
		return nil, err
	}

	result, err := parseGurobiOutput(string(out))
	if err != nil {
		return nil, &models.SolverError{Backend: g.Name(), Message: err.Error()}
	}
	if result.Status == models.StatusInfeasible {
		return result, nil
	}

	// gurobi_cl only writes the result file when it holds a solution
	if _, statErr := os.Stat(solPath); statErr != nil {
		return result, nil
	}
	values, err := readValueFile(solPath)
	if err != nil {
		return nil, &models.SolverError{Backend: g.Name(), Message: "unreadable solution file", Err: err}
	}
	result.Values = values
	result.HasIncumbent = len(values) > 0
	return result, nil
}

func parseGurobiOutput(out string) (*RawResult, error) {
	result := &RawResult{}
	switch {
	case strings.Contains(out, "Model is infeasible") || strings.Contains(out, "Infeasible model"):
		result.Status = models.StatusInfeasible
	case strings.Contains(out, "Optimal solution found"):
		result.Status = models.StatusOptimal
	case strings.Contains(out, "Time limit reached"):
		result.Status = models.StatusTimeLimit
	case strings.Contains(out, "Model is unbounded"):
		return nil, fmt.Errorf("model is unbounded")
	default:
		return nil, fmt.Errorf("unrecognized solver output: %s", tail(out, 256))
	}

	if m := gurobiBestObjective.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			result.ReportedObjective = v
		}
	}
	return result, nil
}

// FindConflicts asks gurobi_cl for an IIS by requesting an .ilp result file.
func (g *Gurobi) FindConflicts(ctx context.Context, job Job) ([]string, error) {
	ilpPath := filepath.Join(job.WorkDir, "model.ilp")
	os.Remove(ilpPath)

	_, err := g.run(ctx, job.WorkDir, g.Binary,
		fmt.Sprintf("TimeLimit=%d", seconds(job.TimeLimit)),
		"ResultFile="+ilpPath,
		job.ModelPath,
	)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(ilpPath)
	if err != nil {
		return nil, &models.SolverError{Backend: g.Name(), Message: "no IIS file produced", Err: err}
	}
	defer f.Close()
	return parseILPConstraintNames(bufio.NewScanner(f))
}

// parseILPConstraintNames returns the row names of the constraint section of
// an LP-format file.
func parseILPConstraintNames(sc *bufio.Scanner) ([]string, error) {
	var names []string
	inRows := false
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "\\") {
			continue
		}
		switch strings.ToLower(line) {
		case "subject to", "such that", "st", "s.t.":
			inRows = true
			continue
		case "bounds", "general", "generals", "integers", "binary", "binaries", "sos", "end":
			inRows = false
			continue
		}
		if !inRows {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name == "" || strings.ContainsAny(name, " \t<>=") {
			continue
		}
		names = append(names, name)
	}
	return names, sc.Err()
}
