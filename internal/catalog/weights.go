package catalog

import "strings"

// DefaultTypeWeight applies to any location type missing from the weight table.
const DefaultTypeWeight = 1.0

// DefaultTypeWeights are the demand multipliers per location type.
var DefaultTypeWeights = map[string]float64{
	"parking":          1.0,
	"fuel":             1.2,
	"charging_station": 1.1,
	"car_wash":         0.8,
	"hospital":         1.8,
	"university":       1.6,
	"supermarket":      1.3,
	"mall":             1.5,
	"retail":           1.2,
	"commercial":       1.1,
	"office":           1.0,
	"stadium":          2.0,
}

// WeightTable resolves a location type tag to its demand weight.
type WeightTable struct {
	weights  map[string]float64
	fallback float64
}

// NewWeightTable merges overrides over the default table.
func NewWeightTable(overrides map[string]float64, fallback float64) *WeightTable {
	w := make(map[string]float64, len(DefaultTypeWeights)+len(overrides))
	for k, v := range DefaultTypeWeights {
		w[k] = v
	}
	for k, v := range overrides {
		w[normalizeTag(k)] = v
	}
	return &WeightTable{weights: w, fallback: fallback}
}

// Lookup returns the weight of a tag and whether the tag is known.
func (t *WeightTable) Lookup(tag string) (float64, bool) {
	v, ok := t.weights[normalizeTag(tag)]
	if !ok {
		return t.fallback, false
	}
	return v, true
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
