package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"charging-planner/internal/models"
	"charging-planner/pkg/logging"
	"charging-planner/pkg/metrics"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(opts Options) (*Loader, *metrics.Collector) {
	m := metrics.NewNopCollector()
	return NewLoader(opts, logging.NewNopLogger(), m), m
}

func intPtr(v int) *int { return &v }

func TestLoader_LoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "maipu.csv",
		"Site_ID, TYPE ,epsilon_slow,epsilon_fast,q_panels,pcap,zmax,demand,name,lat,lon\n"+
			"2,mall,1,0,0,6,10,40,Plaza Oeste,-33.51,-70.75\n"+
			"1,parking,0,0,2,4,8,25,,,\n")

	loader, _ := newTestLoader(Options{})
	cat, err := loader.Load(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	require.Equal(t, 2, cat.Len())
	assert.Equal(t, []string{"maipu"}, cat.Comunas())

	mall, ok := cat.Get(models.SiteKey{Comuna: "maipu", SiteID: "2"})
	require.True(t, ok)
	assert.Equal(t, "mall", mall.TypeTag)
	assert.Equal(t, 1.5, mall.DemandWeight)
	assert.Equal(t, 60.0, mall.BaseDemand())
	assert.Equal(t, "Plaza Oeste", mall.Name)
	require.NotNil(t, mall.Lat)
	assert.Equal(t, -33.51, *mall.Lat)

	parking, _ := cat.Get(models.SiteKey{Comuna: "maipu", SiteID: "1"})
	assert.Nil(t, parking.Lat)
	assert.Equal(t, 2, parking.QPanels)
	assert.Empty(t, cat.UnknownTags)
}

func TestLoader_UnknownTagLogCarriesSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nunoa.csv",
		"site_id,type,epsilon_slow,epsilon_fast,q_panels,pcap,zmax,demand\n"+
			"7,kiosk,0,0,0,2,0,3\n")

	var buf bytes.Buffer
	logger := logging.NewStructuredLogger("catalog-test", "test", logging.WarnLevel)
	logger.SetOutput(&buf)
	loader := NewLoader(Options{}, logger, metrics.NewNopCollector())

	cat, err := loader.Load(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"kiosk": 1}, cat.UnknownTags)

	var entry struct {
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Contains(t, entry.Message, "[CATALOG_UNKNOWN_TAG]")
	assert.Equal(t, "nunoa", entry.Fields["comuna"])
	assert.Equal(t, path, entry.Fields["path"])
	assert.Equal(t, "7", entry.Fields["site_id"])
	assert.Equal(t, "kiosk", entry.Fields["tag"])
}

func TestLoader_LegacyAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nunoa.csv",
		"site_id,dpc_tipo_osm,cargadores_iniciales,paneles_iniciales,dpc_Pcap,dpc_Zmax,demand_estimated,dpc_name\n"+
			"10,hospital,2,0,5,3,12,Hospital\n")

	loader, _ := newTestLoader(Options{})
	cat, err := loader.Load(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	site, ok := cat.Get(models.SiteKey{Comuna: "nunoa", SiteID: "10"})
	require.True(t, ok)
	assert.Equal(t, 2, site.EpsilonSlow)
	assert.Equal(t, 0, site.EpsilonFast)
	assert.Equal(t, 5, site.Pcap)
	assert.Equal(t, 1.8, site.DemandWeight)
}

func TestLoader_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pudahuel.csv",
		"site_id,type,epsilon_slow,epsilon_fast,q_panels,pcap,zmax\n"+
			"1,kiosk,0,0,0,,\n"+
			"2,Kiosk,1,1,0,3.0,\n")

	base := 20.0
	loader, m := newTestLoader(Options{PcapDefault: intPtr(4), ZmaxDefault: intPtr(6), BaseDemand: &base})
	cat, err := loader.Load(context.Background(), []Source{{Path: path, Comuna: "Pudahuel"}})
	require.NoError(t, err)

	site, ok := cat.Get(models.SiteKey{Comuna: "Pudahuel", SiteID: "1"})
	require.True(t, ok)
	assert.Equal(t, 4, site.Pcap)
	assert.Equal(t, 6, site.Zmax)
	assert.Equal(t, 20.0, site.Demand)
	assert.Equal(t, DefaultTypeWeight, site.DemandWeight)

	other, _ := cat.Get(models.SiteKey{Comuna: "Pudahuel", SiteID: "2"})
	assert.Equal(t, 3, other.Pcap)

	assert.Equal(t, map[string]int{"kiosk": 2}, cat.UnknownTags)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UnknownTypeTags.WithLabelValues("kiosk")))
}

func TestLoader_ValidationErrors(t *testing.T) {
	const hdr = "site_id,type,epsilon_slow,epsilon_fast,q_panels,pcap,zmax,demand\n"
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing column", "site_id,type,epsilon_slow,epsilon_fast,q_panels,pcap,demand\n1,mall,0,0,0,2,5\n", colZmax},
		{"blank pcap without default", hdr + "1,mall,0,0,0,,2,5\n", colPcap},
		{"fractional count", hdr + "1,mall,0.5,0,0,2,2,5\n", colEpsilonSlow},
		{"negative count", hdr + "1,mall,0,-1,0,2,2,5\n", colEpsilonFast},
		{"existing over pcap", hdr + "1,mall,2,1,0,2,2,5\n", "pcap"},
		{"panels over zmax", hdr + "1,mall,0,0,3,2,2,5\n", "zmax"},
		{"duplicate key", hdr + "1,mall,0,0,0,2,2,5\n1,fuel,0,0,0,2,2,5\n", "site_id"},
		{"empty site id", hdr + ",mall,0,0,0,2,2,5\n", colSiteID},
		{"bad demand", hdr + "1,mall,0,0,0,2,2,lots\n", colDemand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "lo_prado.csv", tt.body)
			loader, _ := newTestLoader(Options{})
			_, err := loader.Load(context.Background(), []Source{{Path: path}})

			var dve *models.DataValidationError
			require.True(t, errors.As(err, &dve), "want DataValidationError, got %v", err)
			assert.Equal(t, tt.field, dve.Field)
			assert.Equal(t, "lo_prado", dve.Source)
		})
	}
}

func TestLoader_DuplicateAcrossSourcesSameComuna(t *testing.T) {
	dir := t.TempDir()
	const body = "site_id,type,epsilon_slow,epsilon_fast,q_panels,pcap,zmax,demand\n1,mall,0,0,0,2,2,5\n"
	a := writeFile(t, dir, "a.csv", body)
	b := writeFile(t, dir, "b.csv", body)

	loader, _ := newTestLoader(Options{})
	_, err := loader.Load(context.Background(), []Source{{Path: a, Comuna: "macul"}, {Path: b, Comuna: "macul"}})
	var dve *models.DataValidationError
	require.True(t, errors.As(err, &dve))
	assert.Contains(t, dve.Message, "duplicate")

	cat, err := loader.Load(context.Background(), []Source{{Path: a}, {Path: b}})
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len(), "same site id in different comunas is distinct")
}

func TestLoader_LoadXLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providencia.xlsx")

	f := excelize.NewFile()
	rows := [][]interface{}{
		{"site_id", "type", "epsilon_slow", "epsilon_fast", "q_panels", "pcap", "zmax", "demand"},
		{"A", "university", 0, 1, 0, 3, 4, 10},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	loader, _ := newTestLoader(Options{})
	cat, err := loader.Load(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	site, ok := cat.Get(models.SiteKey{Comuna: "providencia", SiteID: "A"})
	require.True(t, ok)
	assert.Equal(t, 1, site.EpsilonFast)
	assert.Equal(t, 1.6, site.DemandWeight)
}

func TestLoader_NoSourcesAndCancel(t *testing.T) {
	loader, _ := newTestLoader(Options{})
	_, err := loader.Load(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSources)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Load(ctx, []Source{{Path: "x.csv"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "")
	writeFile(t, dir, "a.XLSX", "")
	writeFile(t, dir, "notes.txt", "")

	sources, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "a", sources[0].ComunaName())
	assert.Equal(t, "b", sources[1].ComunaName())

	_, err = Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestWeightTable_Overrides(t *testing.T) {
	w := NewWeightTable(map[string]float64{"Mall": 3, "kiosk": 0.4}, 0.7)

	v, ok := w.Lookup("mall")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = w.Lookup(" KIOSK ")
	assert.True(t, ok)
	assert.Equal(t, 0.4, v)

	v, ok = w.Lookup("church")
	assert.False(t, ok)
	assert.Equal(t, 0.7, v)
}

func TestLoadTravelTimes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tt.csv",
		"from_comuna,from_site_id,to_comuna,to_site_id,minutes\n"+
			"maipu,1,maipu,2,4\n"+
			"maipu,1,nunoa,7,25\n")

	tt, err := LoadTravelTimes(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, tt.Len())

	within := tt.Within(models.SiteKey{Comuna: "maipu", SiteID: "1"})
	assert.Equal(t, []models.SiteKey{{Comuna: "maipu", SiteID: "1"}, {Comuna: "maipu", SiteID: "2"}}, within)

	bad := writeFile(t, t.TempDir(), "bad.csv", "from_comuna,from_site_id,to_comuna,to_site_id,minutes\nmaipu,1,maipu,2,-3\n")
	_, err = LoadTravelTimes(bad, 10)
	var dve *models.DataValidationError
	require.True(t, errors.As(err, &dve))
	assert.Equal(t, "travel_time", dve.Field)
}
