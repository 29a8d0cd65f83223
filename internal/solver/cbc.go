package solver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
)

// CBC drives the COIN-OR cbc command-line solver.
type CBC struct {
	Binary string
	run    runFunc
}

// NewCBC creates a CBC backend. An empty binary means cbc on PATH.
func NewCBC(binary string) *CBC {
	if binary == "" {
		binary = "cbc"
	}
	return &CBC{Binary: binary, run: execRun}
}

func (c *CBC) Name() string { return "cbc" }

// Solve runs cbc and reads the full solution listing, zeros included.
func (c *CBC) Solve(ctx context.Context, job Job) (*RawResult, error) {
	solPath := filepath.Join(job.WorkDir, "cbc.sol")
	os.Remove(solPath)

	args := []string{job.ModelPath, "sec", strconv.Itoa(seconds(job.TimeLimit))}
	if job.MIPGap > 0 {
		args = append(args, "ratio", strconv.FormatFloat(job.MIPGap, 'g', -1, 64))
	}
	args = append(args, "solve", "printingOptions", "all", "solution", solPath)

	out, err := c.run(ctx, job.WorkDir, c.Binary, args...)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(solPath)
	if err != nil {
		// cbc skips the solution file when presolve proves infeasibility
		if strings.Contains(string(out), "infeasible") {
			return &RawResult{Status: models.StatusInfeasible}, nil
		}
		return nil, &models.SolverError{Backend: c.Name(), Message: "no solution file produced: " + tail(string(out), 256)}
	}

	result, err := parseCBCSolution(data, job.Problem)
	if err != nil {
		return nil, &models.SolverError{Backend: c.Name(), Message: err.Error()}
	}
	return result, nil
}

// parseCBCSolution reads a cbc solution file: one status line, then
// "index name value reduced_cost" rows, optionally prefixed by "**" when the
// value violates a bound. With printingOptions all the row activities come
// first and the index restarts at the column block; rows are dropped, as is
// any name problem declares as a constraint.
func parseCBCSolution(data []byte, problem *milp.Problem) (*RawResult, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty solution file")
	}
	header := strings.TrimSpace(sc.Text())

	result := &RawResult{}
	lower := strings.ToLower(header)
	switch {
	case strings.HasPrefix(lower, "optimal"):
		result.Status = models.StatusOptimal
	case strings.Contains(lower, "infeasible"):
		result.Status = models.StatusInfeasible
		return result, nil
	case strings.HasPrefix(lower, "stopped on time"):
		result.Status = models.StatusTimeLimit
		if strings.Contains(lower, "no integer solution") {
			return result, nil
		}
	case strings.Contains(lower, "unbounded"):
		return nil, fmt.Errorf("model is unbounded")
	default:
		return nil, fmt.Errorf("unrecognized solution status %q", header)
	}

	if i := strings.LastIndex(header, " "); i >= 0 {
		if v, err := strconv.ParseFloat(header[i+1:], 64); err == nil {
			result.ReportedObjective = v
		}
	}

	values := make(map[string]float64)
	last := -1
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 && fields[0] == "**" {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed solution row %q", sc.Text())
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("bad index in solution row %q", sc.Text())
		}
		if idx <= last {
			// everything read so far was the row block
			values = make(map[string]float64)
		}
		last = idx

		name := fields[1]
		if problem != nil {
			if _, isRow := problem.Constraint(name); isRow {
				continue
			}
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad value for %s: %w", name, err)
		}
		values[name] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	result.Values = values
	result.HasIncumbent = len(values) > 0
	return result, nil
}
