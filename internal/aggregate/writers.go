package aggregate

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"charging-planner/internal/models"
)

// Output file names inside a run directory.
const (
	ComunaFile        = "summary_by_comuna.csv"
	GlobalFile        = "summary_global.csv"
	InstallationsFile = "site_installations.csv"
	BudgetFile        = "budget_by_period.csv"
	WorkbookFile      = "summary.xlsx"
	ReportFile        = "report.pdf"
)

// The status column tells a time-limited plan apart from an optimal one.
var summaryHeader = []string{"comuna", "total_cost", "demand_served", "co2_benefit", "utilization", "status"}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// ComunaCSV renders the per-comuna table.
func (s *Summary) ComunaCSV() ([]byte, error) {
	rows := [][]string{summaryHeader}
	for _, c := range s.Comunas {
		rows = append(rows, []string{
			c.Comuna,
			fixed(c.TotalCost, moneyPlaces),
			fixed(c.DemandServed, amountPlaces),
			fixed(c.CO2Benefit, moneyPlaces),
			fixed(c.Utilization, ratioPlaces),
			string(s.Status),
		})
	}
	return encodeCSV(rows)
}

// GlobalCSV renders the single-row global table. An infeasible summary has
// the header only.
func (s *Summary) GlobalCSV() ([]byte, error) {
	rows := [][]string{summaryHeader}
	if g := s.Global; g != nil {
		rows = append(rows, []string{
			g.Comuna,
			fixed(g.TotalCost, moneyPlaces),
			fixed(g.DemandServed, amountPlaces),
			fixed(g.CO2Benefit, moneyPlaces),
			fixed(g.Utilization, ratioPlaces),
			string(s.Status),
		})
	}
	return encodeCSV(rows)
}

// InstallationsCSV renders net-new and cumulative units per site and period.
func (s *Summary) InstallationsCSV() ([]byte, error) {
	rows := [][]string{{
		"comuna", "site_id", "period", "new_slow", "new_fast", "new_panels",
		"total_slow", "total_fast", "total_panels", "demand_served",
	}}
	for _, in := range s.Installations {
		rows = append(rows, []string{
			in.Comuna,
			in.SiteID,
			strconv.Itoa(in.Period),
			strconv.Itoa(in.NewSlow),
			strconv.Itoa(in.NewFast),
			strconv.Itoa(in.NewPanels),
			strconv.Itoa(in.TotalSlow),
			strconv.Itoa(in.TotalFast),
			strconv.Itoa(in.TotalPanels),
			fixed(in.DemandServed, amountPlaces),
		})
	}
	return encodeCSV(rows)
}

// BudgetCSV renders spending against the cap of every period.
func (s *Summary) BudgetCSV() ([]byte, error) {
	rows := [][]string{{"period", "spent", "cap", "utilization"}}
	for _, b := range s.Budget {
		rows = append(rows, []string{
			strconv.Itoa(b.Period),
			fixed(b.Spent, moneyPlaces),
			fixed(b.Cap, moneyPlaces),
			fixed(b.Utilization, ratioPlaces),
		})
	}
	return encodeCSV(rows)
}

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Workbook renders every table into one XLSX file, with a run sheet that
// carries the status flag.
func (s *Summary) Workbook() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	runSheet := "run"
	if err := f.SetSheetName("Sheet1", runSheet); err != nil {
		return nil, err
	}
	cells := [][2]interface{}{
		{"A1", "Charging plan"},
		{"A3", "Status"}, {"B3", string(s.Status)},
		{"A4", "Flag"}, {"B4", s.Flag()},
	}
	if !s.Infeasible() {
		cells = append(cells, [2]interface{}{"A5", "Objective"}, [2]interface{}{"B5", s.Objective})
	}
	for i, c := range s.Conflicts {
		row := 7 + i
		cells = append(cells,
			[2]interface{}{fmt.Sprintf("A%d", row), c.ID},
			[2]interface{}{fmt.Sprintf("B%d", row), c.Description})
	}
	for _, cell := range cells {
		if err := f.SetCellValue(runSheet, cell[0].(string), cell[1]); err != nil {
			return nil, err
		}
	}

	comunaSheet := "comunas"
	if _, err := f.NewSheet(comunaSheet); err != nil {
		return nil, err
	}
	header := []interface{}{"comuna", "total_cost", "demand_served", "demand_total", "co2_benefit",
		"solar_output", "energy_savings", "utilization", "coverage", "new_chargers", "new_panels"}
	if err := f.SetSheetRow(comunaSheet, "A1", &header); err != nil {
		return nil, err
	}
	all := s.Comunas
	if s.Global != nil {
		all = append(append([]models.ComunaSummary(nil), all...), *s.Global)
	}
	for i, c := range all {
		row := []interface{}{c.Comuna, c.TotalCost, c.DemandServed, c.DemandTotal, c.CO2Benefit,
			c.SolarOutput, c.EnergySavings, c.Utilization, c.Coverage, c.NewChargers, c.NewPanels}
		if err := f.SetSheetRow(comunaSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	siteSheet := "sites"
	if _, err := f.NewSheet(siteSheet); err != nil {
		return nil, err
	}
	siteHeader := []interface{}{"comuna", "site_id", "period", "new_slow", "new_fast", "new_panels",
		"total_slow", "total_fast", "total_panels", "demand_served"}
	if err := f.SetSheetRow(siteSheet, "A1", &siteHeader); err != nil {
		return nil, err
	}
	for i, in := range s.Installations {
		row := []interface{}{in.Comuna, in.SiteID, in.Period, in.NewSlow, in.NewFast, in.NewPanels,
			in.TotalSlow, in.TotalFast, in.TotalPanels, in.DemandServed}
		if err := f.SetSheetRow(siteSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	budgetSheet := "budget"
	if _, err := f.NewSheet(budgetSheet); err != nil {
		return nil, err
	}
	budgetHeader := []interface{}{"period", "spent", "cap", "utilization"}
	if err := f.SetSheetRow(budgetSheet, "A1", &budgetHeader); err != nil {
		return nil, err
	}
	for i, b := range s.Budget {
		row := []interface{}{b.Period, b.Spent, b.Cap, b.Utilization}
		if err := f.SetSheetRow(budgetSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Report renders a one-page PDF with the status, the global figures and the
// per-comuna table.
func (s *Summary) Report() ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()
	// comuna names carry accents; the core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.Cell(0, 8, "Charging Infrastructure Plan")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", s.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, s.Flag())
	pdf.Ln(5)

	if s.Infeasible() {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Conflicting constraints")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		for _, c := range s.Conflicts {
			pdf.Cell(0, 5, tr(fmt.Sprintf("%s  %s", c.ID, c.Description)))
			pdf.Ln(5)
		}
		return outputPDF(pdf)
	}

	pdf.Cell(0, 6, fmt.Sprintf("Objective: %s", fixed(s.Objective, moneyPlaces)))
	pdf.Ln(5)
	if g := s.Global; g != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Total cost: %s", fixed(g.TotalCost, moneyPlaces)))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Demand served: %s of %s", fixed(g.DemandServed, amountPlaces), fixed(g.DemandTotal, amountPlaces)))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("New chargers: %d, new panels: %d", g.NewChargers, g.NewPanels))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	for _, h := range []string{"Comuna", "Cost", "Served", "CO2", "Utilization"} {
		pdf.CellFormat(36, 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, c := range s.Comunas {
		pdf.CellFormat(36, 6, tr(c.Comuna), "1", 0, "L", false, 0, "")
		pdf.CellFormat(36, 6, fixed(c.TotalCost, moneyPlaces), "1", 0, "R", false, 0, "")
		pdf.CellFormat(36, 6, fixed(c.DemandServed, amountPlaces), "1", 0, "R", false, 0, "")
		pdf.CellFormat(36, 6, fixed(c.CO2Benefit, moneyPlaces), "1", 0, "R", false, 0, "")
		pdf.CellFormat(36, 6, fixed(c.Utilization, ratioPlaces), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	return outputPDF(pdf)
}

func outputPDF(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type output struct {
	name   string
	render func() ([]byte, error)
}

// WriteFiles writes the four CSV tables into dir. With extras set it also
// writes summary.xlsx and report.pdf. It returns the written paths.
func (s *Summary) WriteFiles(dir string, extras bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs := []output{
		{ComunaFile, s.ComunaCSV},
		{GlobalFile, s.GlobalCSV},
		{InstallationsFile, s.InstallationsCSV},
		{BudgetFile, s.BudgetCSV},
	}
	if extras {
		outputs = append(outputs, output{WorkbookFile, s.Workbook}, output{ReportFile, s.Report})
	}

	var written []string
	for _, out := range outputs {
		data, err := out.render()
		if err != nil {
			return written, fmt.Errorf("failed to render %s: %w", out.name, err)
		}
		path := filepath.Join(dir, out.name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", out.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
