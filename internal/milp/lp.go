package milp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const termsPerLine = 6

// WriteLP serializes the problem in CPLEX LP format. The objective constant is
// not part of the grammar and is only recorded as a comment.
func (p *Problem) WriteLP(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "\\ Problem: %s\n", p.Name)
	if p.ObjectiveConstant != 0 {
		fmt.Fprintf(bw, "\\ Objective constant: %s\n", formatNumber(p.ObjectiveConstant))
	}

	if p.Maximize {
		bw.WriteString("Maximize\n")
	} else {
		bw.WriteString("Minimize\n")
	}
	bw.WriteString(" obj:")
	p.writeTerms(bw, p.objective)
	bw.WriteString("\n")

	bw.WriteString("Subject To\n")
	for _, c := range p.constraints {
		fmt.Fprintf(bw, " %s:", c.Name)
		p.writeTerms(bw, c.Terms)
		fmt.Fprintf(bw, " %s %s\n", c.Sense, formatNumber(c.RHS))
	}

	bw.WriteString("Bounds\n")
	for _, v := range p.variables {
		if v.Kind == Binary {
			continue
		}
		if math.IsInf(v.Upper, 1) {
			fmt.Fprintf(bw, " %s >= %s\n", v.Name, formatNumber(v.Lower))
			continue
		}
		fmt.Fprintf(bw, " %s <= %s <= %s\n", formatNumber(v.Lower), v.Name, formatNumber(v.Upper))
	}

	p.writeSection(bw, "General", Integer)
	p.writeSection(bw, "Binary", Binary)

	bw.WriteString("End\n")
	return bw.Flush()
}

func (p *Problem) writeTerms(bw *bufio.Writer, terms []Term) {
	if len(terms) == 0 {
		// The grammar needs at least one term.
		if len(p.variables) > 0 {
			fmt.Fprintf(bw, " 0 %s", p.variables[0].Name)
		}
		return
	}
	for i, t := range terms {
		if i > 0 && i%termsPerLine == 0 {
			bw.WriteString("\n   ")
		}
		sign := "+"
		coef := t.Coef
		if coef < 0 {
			sign = "-"
			coef = -coef
		}
		if i == 0 && sign == "+" {
			fmt.Fprintf(bw, " %s %s", formatNumber(coef), t.Var)
			continue
		}
		fmt.Fprintf(bw, " %s %s %s", sign, formatNumber(coef), t.Var)
	}
}

func (p *Problem) writeSection(bw *bufio.Writer, header string, kind VarKind) {
	var names []string
	for _, v := range p.variables {
		if v.Kind == kind {
			names = append(names, v.Name)
		}
	}
	if len(names) == 0 {
		return
	}
	bw.WriteString(header + "\n")
	for i := 0; i < len(names); i += termsPerLine * 2 {
		end := i + termsPerLine*2
		if end > len(names) {
			end = len(names)
		}
		bw.WriteString(" " + strings.Join(names[i:end], " ") + "\n")
	}
}

func formatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
