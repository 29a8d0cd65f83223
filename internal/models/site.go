package models

import (
	"fmt"
	"sort"
)

// SiteKey identifies a site within the metropolitan area.
type SiteKey struct {
	Comuna string `json:"comuna" db:"comuna"`
	SiteID string `json:"site_id" db:"site_id"`
}

func (k SiteKey) String() string {
	return k.Comuna + "/" + k.SiteID
}

// Less orders keys by comuna, then site id.
func (k SiteKey) Less(other SiteKey) bool {
	if k.Comuna != other.Comuna {
		return k.Comuna < other.Comuna
	}
	return k.SiteID < other.SiteID
}

// Site is one candidate or existing charging location.
// Immutable for the duration of a run.
type Site struct {
	Key          SiteKey  `json:"key"`
	Name         string   `json:"name,omitempty"`
	TypeTag      string   `json:"type_tag"`
	EpsilonSlow  int      `json:"epsilon_slow"`
	EpsilonFast  int      `json:"epsilon_fast"`
	QPanels      int      `json:"q_panels"`
	Pcap         int      `json:"pcap"`
	Zmax         int      `json:"zmax"`
	Demand       float64  `json:"demand"`
	DemandWeight float64  `json:"demand_weight"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
}

// ExistingChargers returns the pre-installed slow plus fast chargers.
func (s *Site) ExistingChargers() int {
	return s.EpsilonSlow + s.EpsilonFast
}

// BaseDemand is the weighted monthly demand before growth is applied.
func (s *Site) BaseDemand() float64 {
	return s.Demand * s.DemandWeight
}

// Validate checks the capacity invariants of a site.
func (s *Site) Validate() error {
	switch {
	case s.Key.Comuna == "":
		return &DataValidationError{Source: s.Key.Comuna, Field: "comuna", Message: "empty comuna"}
	case s.Key.SiteID == "":
		return &DataValidationError{Source: s.Key.Comuna, Field: "site_id", Message: "empty site id"}
	case s.EpsilonSlow < 0 || s.EpsilonFast < 0 || s.QPanels < 0:
		return &DataValidationError{Source: s.Key.Comuna, Row: s.Key.SiteID, Field: "existing", Message: "existing counts must be non-negative"}
	case s.Pcap < 0 || s.Zmax < 0:
		return &DataValidationError{Source: s.Key.Comuna, Row: s.Key.SiteID, Field: "capacity", Message: "capacities must be non-negative"}
	case s.ExistingChargers() > s.Pcap:
		return &DataValidationError{
			Source:  s.Key.Comuna,
			Row:     s.Key.SiteID,
			Field:   "pcap",
			Value:   fmt.Sprint(s.Pcap),
			Message: fmt.Sprintf("existing chargers %d exceed pcap %d", s.ExistingChargers(), s.Pcap),
		}
	case s.QPanels > s.Zmax:
		return &DataValidationError{
			Source:  s.Key.Comuna,
			Row:     s.Key.SiteID,
			Field:   "zmax",
			Value:   fmt.Sprint(s.Zmax),
			Message: fmt.Sprintf("existing panels %d exceed zmax %d", s.QPanels, s.Zmax),
		}
	case s.Demand < 0 || s.DemandWeight < 0:
		return &DataValidationError{Source: s.Key.Comuna, Row: s.Key.SiteID, Field: "demand", Message: "demand and weight must be non-negative"}
	}
	return nil
}

// Catalog is the site registry of one run.
type Catalog struct {
	sites map[SiteKey]*Site
	order []SiteKey

	// UnknownTags counts sites whose type tag fell back to the default weight.
	UnknownTags map[string]int
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		sites:       make(map[SiteKey]*Site),
		UnknownTags: make(map[string]int),
	}
}

// Add registers a site. Duplicate keys are rejected.
func (c *Catalog) Add(site *Site) error {
	if _, exists := c.sites[site.Key]; exists {
		return &DataValidationError{
			Source:  site.Key.Comuna,
			Row:     site.Key.SiteID,
			Field:   "site_id",
			Value:   site.Key.SiteID,
			Message: fmt.Sprintf("duplicate site %s", site.Key),
		}
	}
	if err := site.Validate(); err != nil {
		return err
	}
	c.sites[site.Key] = site
	c.order = nil
	return nil
}

// Get returns the site for a key.
func (c *Catalog) Get(key SiteKey) (*Site, bool) {
	s, ok := c.sites[key]
	return s, ok
}

// Len returns the number of sites.
func (c *Catalog) Len() int {
	return len(c.sites)
}

// Keys returns site keys sorted by comuna then site id.
func (c *Catalog) Keys() []SiteKey {
	if c.order == nil {
		keys := make([]SiteKey, 0, len(c.sites))
		for k := range c.sites {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
		c.order = keys
	}
	out := make([]SiteKey, len(c.order))
	copy(out, c.order)
	return out
}

// Sites returns sites in key order.
func (c *Catalog) Sites() []*Site {
	keys := c.Keys()
	out := make([]*Site, len(keys))
	for i, k := range keys {
		out[i] = c.sites[k]
	}
	return out
}

// Comunas returns the sorted distinct comuna names.
func (c *Catalog) Comunas() []string {
	seen := make(map[string]struct{})
	var out []string
	for k := range c.sites {
		if _, ok := seen[k.Comuna]; ok {
			continue
		}
		seen[k.Comuna] = struct{}{}
		out = append(out, k.Comuna)
	}
	sort.Strings(out)
	return out
}
