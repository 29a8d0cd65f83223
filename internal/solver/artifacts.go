package solver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"charging-planner/internal/milp"
	"charging-planner/internal/models"
	"charging-planner/pkg/logging"
)

// writeArtifacts persists solution.txt and, for infeasible runs,
// conflicts.txt. Failures are logged and never change the result.
func (a *Adapter) writeArtifacts(ctx context.Context, problem *milp.Problem, result *RawResult) {
	if a.opts.ArtifactDir == "" {
		return
	}
	write := func(name string, fn func(io.Writer) error) {
		path := filepath.Join(a.opts.ArtifactDir, name)
		if err := writeFile(path, fn); err != nil {
			a.logger.Warn(ctx, "[SOLVER_ARTIFACT_FAILED] Could not write artifact", logging.Fields{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	write(SolutionFile, func(w io.Writer) error { return WriteSolution(w, problem, result) })
	if len(result.Conflicts) > 0 || result.Status == models.StatusInfeasible {
		write(ConflictsFile, func(w io.Writer) error { return WriteConflicts(w, result) })
	}
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSolution writes the status and objective lines followed by one
// "name value" line per listed variable, declared variables first in
// declaration order, then any undeclared names sorted.
func WriteSolution(w io.Writer, problem *milp.Problem, result *RawResult) error {
	if _, err := fmt.Fprintf(w, "status: %s\nobjective: %s\n", result.Status, formatValue(result.Objective)); err != nil {
		return err
	}

	seen := make(map[string]bool, len(result.Values))
	for _, v := range problem.Variables() {
		x, ok := result.Values[v.Name]
		if !ok {
			continue
		}
		seen[v.Name] = true
		if _, err := fmt.Fprintf(w, "%s %s\n", v.Name, formatValue(x)); err != nil {
			return err
		}
	}

	var extra []string
	for name := range result.Values {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if _, err := fmt.Fprintf(w, "%s %s\n", name, formatValue(result.Values[name])); err != nil {
			return err
		}
	}
	return nil
}

// WriteConflicts writes one "id<TAB>description" line per conflicting constraint.
func WriteConflicts(w io.Writer, result *RawResult) error {
	for _, c := range result.Conflicts {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Description); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
