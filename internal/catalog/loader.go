// Package catalog loads candidate and existing charging sites from per-comuna
// tabular sources.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"charging-planner/internal/models"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

// ErrNoSources is returned when there is nothing to load.
var ErrNoSources = errors.New("catalog: no site sources")

// Source is one tabular site file. An empty Comuna means the file stem.
type Source struct {
	Path   string
	Comuna string
}

// ComunaName returns the comuna the source describes.
func (s Source) ComunaName() string {
	if s.Comuna != "" {
		return s.Comuna
	}
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Options tune how blank or missing cells are resolved.
type Options struct {
	// PcapDefault and ZmaxDefault fill blank capacity cells. Nil means a
	// blank cell is an error.
	PcapDefault *int
	ZmaxDefault *int

	// BaseDemand is used as the demand of every site when the source has
	// no demand column. Nil makes the column required.
	BaseDemand *float64

	TypeWeights   map[string]float64
	DefaultWeight float64
}

// Loader reads site sources into a catalog.
type Loader struct {
	opts    Options
	weights *WeightTable
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLoader creates a loader.
func NewLoader(opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Loader {
	fallback := opts.DefaultWeight
	if fallback <= 0 {
		fallback = DefaultTypeWeight
	}
	return &Loader{
		opts:    opts,
		weights: NewWeightTable(opts.TypeWeights, fallback),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Discover lists the .csv and .xlsx files of a directory, sorted by name.
func Discover(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read site directory: %w", err)
	}

	var sources []Source
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".xlsx":
			sources = append(sources, Source{Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSources, dir)
	}
	return sources, nil
}

// Load reads every source into one catalog. The first invalid row aborts the
// load; duplicate (comuna, site_id) keys are rejected.
func (l *Loader) Load(ctx context.Context, sources []Source) (*models.Catalog, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	startTime := time.Now()

	l.logger.Info(ctx, "[CATALOG_LOAD] Loading site sources", logging.Fields{
		"source_count": len(sources),
	})

	cat := models.NewCatalog()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := l.logger.WithFields(logging.Fields{
			"path":   src.Path,
			"comuna": src.ComunaName(),
		})
		n, err := l.loadSource(ctx, log, cat, src)
		if err != nil {
			log.Error(ctx, "[CATALOG_SOURCE_ERROR] Site source rejected", logging.Fields{}, err)
			return nil, err
		}

		l.metrics.SitesLoadedTotal.WithLabelValues(src.ComunaName()).Add(float64(n))
		log.Info(ctx, "[CATALOG_SOURCE] Site source loaded", logging.Fields{"sites": n})
	}

	l.logger.Info(ctx, "[CATALOG_COMPLETE] Site catalog loaded", logging.Fields{
		"sites":        cat.Len(),
		"comunas":      len(cat.Comunas()),
		"unknown_tags": len(cat.UnknownTags),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	})
	return cat, nil
}

func (l *Loader) loadSource(ctx context.Context, log *logging.ContextLogger, cat *models.Catalog, src Source) (int, error) {
	comuna := src.ComunaName()
	rows, err := readRows(src.Path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, &models.DataValidationError{Source: comuna, Message: "source has no header row"}
	}

	h := parseHeader(rows[0])
	if err := l.checkColumns(comuna, h); err != nil {
		return 0, err
	}
	log.Debug(ctx, "[CATALOG_HEADER] Source header accepted", logging.Fields{
		"columns": len(rows[0]),
		"rows":    len(rows) - 1,
	})

	count := 0
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		line := strconv.Itoa(i + 2)
		site, err := l.parseRow(ctx, log, cat, comuna, line, h, row)
		if err != nil {
			return 0, err
		}
		if err := cat.Add(site); err != nil {
			var dve *models.DataValidationError
			if errors.As(err, &dve) {
				dve.Row = line
			}
			return 0, err
		}
		count++
	}
	return count, nil
}

func (l *Loader) checkColumns(comuna string, h header) error {
	for _, col := range requiredColumns {
		if h.has(col) {
			continue
		}
		switch {
		case col == colDemand && l.opts.BaseDemand != nil:
			continue
		case col == colEpsilonFast && h.spelling[colEpsilonSlow] == "cargadores_iniciales":
			// Legacy files carry one existing-charger count, read as slow.
			continue
		}
		return &models.DataValidationError{Source: comuna, Field: col, Message: "required column is missing"}
	}
	return nil
}

func (l *Loader) parseRow(ctx context.Context, log *logging.ContextLogger, cat *models.Catalog, comuna, line string, h header, row []string) (*models.Site, error) {
	fail := func(field, value, msg string) error {
		return &models.DataValidationError{Source: comuna, Row: line, Field: field, Value: value, Message: msg}
	}

	site := &models.Site{
		Key:     models.SiteKey{Comuna: comuna, SiteID: h.cell(row, colSiteID)},
		Name:    h.cell(row, colName),
		TypeTag: normalizeTag(h.cell(row, colType)),
	}
	if site.Key.SiteID == "" {
		return nil, fail(colSiteID, "", "empty site id")
	}
	if site.TypeTag == "" {
		site.TypeTag = "other"
	}

	var err error
	if site.EpsilonSlow, err = parseCount(h.cell(row, colEpsilonSlow), nil); err != nil {
		return nil, fail(colEpsilonSlow, h.cell(row, colEpsilonSlow), err.Error())
	}
	if h.has(colEpsilonFast) {
		if site.EpsilonFast, err = parseCount(h.cell(row, colEpsilonFast), nil); err != nil {
			return nil, fail(colEpsilonFast, h.cell(row, colEpsilonFast), err.Error())
		}
	}
	if site.QPanels, err = parseCount(h.cell(row, colQPanels), nil); err != nil {
		return nil, fail(colQPanels, h.cell(row, colQPanels), err.Error())
	}
	if site.Pcap, err = parseCount(h.cell(row, colPcap), l.opts.PcapDefault); err != nil {
		return nil, fail(colPcap, h.cell(row, colPcap), err.Error())
	}
	if site.Zmax, err = parseCount(h.cell(row, colZmax), l.opts.ZmaxDefault); err != nil {
		return nil, fail(colZmax, h.cell(row, colZmax), err.Error())
	}

	raw := h.cell(row, colDemand)
	switch {
	case h.has(colDemand) && raw != "":
		if site.Demand, err = parseNonNegative(raw); err != nil {
			return nil, fail(colDemand, raw, err.Error())
		}
	case l.opts.BaseDemand != nil:
		site.Demand = *l.opts.BaseDemand
	default:
		return nil, fail(colDemand, raw, "demand is required")
	}

	if raw := h.cell(row, colDemandWeight); raw != "" {
		if site.DemandWeight, err = parseNonNegative(raw); err != nil {
			return nil, fail(colDemandWeight, raw, err.Error())
		}
	} else {
		weight, known := l.weights.Lookup(site.TypeTag)
		if !known {
			cat.UnknownTags[site.TypeTag]++
			l.metrics.RecordUnknownTag(site.TypeTag)
			log.Warn(ctx, "[CATALOG_UNKNOWN_TAG] Type tag not in weight table, using default weight", logging.Fields{
				"site_id": site.Key.SiteID,
				"tag":     site.TypeTag,
				"weight":  weight,
			})
		}
		site.DemandWeight = weight
	}

	if site.Lat, err = parseOptionalFloat(h.cell(row, colLat)); err != nil {
		return nil, fail(colLat, h.cell(row, colLat), err.Error())
	}
	if site.Lon, err = parseOptionalFloat(h.cell(row, colLon)); err != nil {
		return nil, fail(colLon, h.cell(row, colLon), err.Error())
	}
	return site, nil
}

// parseCount reads a non-negative integer. Integral floats such as "3.0" are
// accepted since spreadsheet exports often write counts that way.
func parseCount(raw string, fallback *int) (int, error) {
	if raw == "" {
		if fallback != nil {
			return *fallback, nil
		}
		return 0, errors.New("value is required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return int(f), nil
}

func parseNonNegative(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if f < 0 {
		return 0, fmt.Errorf("%q is negative", raw)
	}
	return f, nil
}

func parseOptionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	return &f, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, &models.DataValidationError{Source: path, Message: "unsupported source format, want .csv or .xlsx"}
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open site source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &models.DataValidationError{Source: path, Message: fmt.Sprintf("malformed csv: %v", err)}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// readXLSX returns the rows of the first sheet.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open site workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &models.DataValidationError{Source: path, Message: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}
