package catalog

import "strings"

// Canonical column names.
const (
	colSiteID       = "site_id"
	colType         = "type"
	colEpsilonSlow  = "epsilon_slow"
	colEpsilonFast  = "epsilon_fast"
	colQPanels      = "q_panels"
	colPcap         = "pcap"
	colZmax         = "zmax"
	colDemand       = "demand"
	colDemandWeight = "demand_weight"
	colName         = "name"
	colLat          = "lat"
	colLon          = "lon"
)

// aliases maps normalized header spellings to canonical columns. The legacy
// preprocessing output used the dpc_ prefixed and Spanish names.
var aliases = map[string]string{
	"site_id":              colSiteID,
	"id":                   colSiteID,
	"type":                 colType,
	"tipo":                 colType,
	"tipo_osm":             colType,
	"dpc_tipo_osm":         colType,
	"epsilon_slow":         colEpsilonSlow,
	"cargadores_iniciales": colEpsilonSlow,
	"epsilon_fast":         colEpsilonFast,
	"q_panels":             colQPanels,
	"paneles_iniciales":    colQPanels,
	"pcap":                 colPcap,
	"dpc_pcap":             colPcap,
	"zmax":                 colZmax,
	"dpc_zmax":             colZmax,
	"zcap":                 colZmax,
	"demand":               colDemand,
	"demand_estimated":     colDemand,
	"demand_weight":        colDemandWeight,
	"name":                 colName,
	"dpc_name":             colName,
	"lat":                  colLat,
	"dpc_lat":              colLat,
	"lon":                  colLon,
	"dpc_lon":              colLon,
}

var requiredColumns = []string{colSiteID, colType, colEpsilonSlow, colEpsilonFast, colQPanels, colPcap, colZmax, colDemand}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(h))
}

// header maps canonical column names to positions and remembers which
// spelling was used.
type header struct {
	index    map[string]int
	spelling map[string]string
}

func parseHeader(cells []string) header {
	h := header{index: make(map[string]int), spelling: make(map[string]string)}
	for i, cell := range cells {
		norm := normalizeHeader(cell)
		canonical, ok := aliases[norm]
		if !ok {
			continue
		}
		if _, taken := h.index[canonical]; taken {
			continue
		}
		h.index[canonical] = i
		h.spelling[canonical] = norm
	}
	return h
}

func (h header) has(col string) bool {
	_, ok := h.index[col]
	return ok
}

func (h header) cell(row []string, col string) string {
	i, ok := h.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
