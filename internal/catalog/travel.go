package catalog

import (
	"fmt"

	"charging-planner/internal/models"
)

var travelColumns = map[string]string{
	"from_comuna":  "from_comuna",
	"from_site_id": "from_site_id",
	"from_site":    "from_site_id",
	"to_comuna":    "to_comuna",
	"to_site_id":   "to_site_id",
	"to_site":      "to_site_id",
	"travel_time":  "travel_time",
	"minutes":      "travel_time",
}

// LoadTravelTimes reads a directed site-to-site travel-time CSV with columns
// from_comuna, from_site_id, to_comuna, to_site_id, travel_time.
func LoadTravelTimes(path string, threshold float64) (*models.TravelTimes, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &models.DataValidationError{Source: path, Message: "travel-time table has no header row"}
	}

	index := make(map[string]int)
	for i, cell := range rows[0] {
		if col, ok := travelColumns[normalizeHeader(cell)]; ok {
			if _, taken := index[col]; !taken {
				index[col] = i
			}
		}
	}
	for _, col := range []string{"from_comuna", "from_site_id", "to_comuna", "to_site_id", "travel_time"} {
		if _, ok := index[col]; !ok {
			return nil, &models.DataValidationError{Source: path, Field: col, Message: "required column is missing"}
		}
	}

	h := header{index: index}
	tt := models.NewTravelTimes(threshold)
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		line := fmt.Sprint(i + 2)
		from := models.SiteKey{Comuna: h.cell(row, "from_comuna"), SiteID: h.cell(row, "from_site_id")}
		to := models.SiteKey{Comuna: h.cell(row, "to_comuna"), SiteID: h.cell(row, "to_site_id")}
		if from.SiteID == "" || to.SiteID == "" || from.Comuna == "" || to.Comuna == "" {
			return nil, &models.DataValidationError{Source: path, Row: line, Field: "site", Message: "incomplete site key"}
		}
		raw := h.cell(row, "travel_time")
		minutes, err := parseNonNegative(raw)
		if err != nil {
			return nil, &models.DataValidationError{Source: path, Row: line, Field: "travel_time", Value: raw, Message: err.Error()}
		}
		tt.Set(from, to, minutes)
	}
	return tt, nil
}
