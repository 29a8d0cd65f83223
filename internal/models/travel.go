package models

import "sort"

// TravelTimes is the precomputed site-to-site travel-time table that enables
// the coverage constraints. Entries are directed: Set(a, b, t) is the time to
// reach b from a.
type TravelTimes struct {
	// Threshold is the largest travel time still considered reachable.
	Threshold float64

	times map[SiteKey]map[SiteKey]float64
}

// NewTravelTimes creates an empty table.
func NewTravelTimes(threshold float64) *TravelTimes {
	return &TravelTimes{
		Threshold: threshold,
		times:     make(map[SiteKey]map[SiteKey]float64),
	}
}

// Set records the travel time from a to b.
func (t *TravelTimes) Set(from, to SiteKey, minutes float64) {
	row, ok := t.times[from]
	if !ok {
		row = make(map[SiteKey]float64)
		t.times[from] = row
	}
	row[to] = minutes
}

// Get returns the travel time from a to b.
func (t *TravelTimes) Get(from, to SiteKey) (float64, bool) {
	v, ok := t.times[from][to]
	return v, ok
}

// Len returns the number of entries.
func (t *TravelTimes) Len() int {
	n := 0
	for _, row := range t.times {
		n += len(row)
	}
	return n
}

// Keys returns every site referenced by the table, sorted.
func (t *TravelTimes) Keys() []SiteKey {
	seen := make(map[SiteKey]struct{})
	for from, row := range t.times {
		seen[from] = struct{}{}
		for to := range row {
			seen[to] = struct{}{}
		}
	}
	out := make([]SiteKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Within returns the sites reachable from s within the threshold, sorted.
// s itself is always included.
func (t *TravelTimes) Within(s SiteKey) []SiteKey {
	out := []SiteKey{s}
	for to, minutes := range t.times[s] {
		if to != s && minutes <= t.Threshold {
			out = append(out, to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
