package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSite_Validate(t *testing.T) {
	base := func() *Site {
		return &Site{
			Key:          SiteKey{Comuna: "maipu", SiteID: "1"},
			TypeTag:      "parking",
			EpsilonSlow:  1,
			EpsilonFast:  1,
			QPanels:      2,
			Pcap:         4,
			Zmax:         6,
			Demand:       100,
			DemandWeight: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Site)
		wantErr bool
		field   string
	}{
		{name: "valid site", mutate: func(*Site) {}},
		{name: "existing equals capacity", mutate: func(s *Site) { s.Pcap = 2; s.Zmax = 2 }},
		{name: "chargers exceed pcap", mutate: func(s *Site) { s.Pcap = 1 }, wantErr: true, field: "pcap"},
		{name: "panels exceed zmax", mutate: func(s *Site) { s.Zmax = 1 }, wantErr: true, field: "zmax"},
		{name: "negative existing", mutate: func(s *Site) { s.EpsilonSlow = -1 }, wantErr: true, field: "existing"},
		{name: "empty site id", mutate: func(s *Site) { s.Key.SiteID = "" }, wantErr: true, field: "site_id"},
		{name: "negative demand", mutate: func(s *Site) { s.Demand = -3 }, wantErr: true, field: "demand"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := s.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var dve *DataValidationError
			require.True(t, errors.As(err, &dve), "want DataValidationError, got %v", err)
			assert.Equal(t, tt.field, dve.Field)
			assert.False(t, dve.IsTransient())
		})
	}
}

func TestCatalog_RejectsDuplicates(t *testing.T) {
	c := NewCatalog()
	site := &Site{Key: SiteKey{Comuna: "nunoa", SiteID: "7"}, Pcap: 2, Zmax: 0, DemandWeight: 1}
	require.NoError(t, c.Add(site))

	dup := *site
	err := c.Add(&dup)
	var dve *DataValidationError
	require.True(t, errors.As(err, &dve))
	assert.Contains(t, dve.Message, "duplicate")
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_KeysSorted(t *testing.T) {
	c := NewCatalog()
	for _, k := range []SiteKey{{"santiago", "2"}, {"maipu", "9"}, {"santiago", "10"}, {"maipu", "1"}} {
		require.NoError(t, c.Add(&Site{Key: k, Pcap: 1, DemandWeight: 1}))
	}

	assert.Equal(t, []SiteKey{{"maipu", "1"}, {"maipu", "9"}, {"santiago", "10"}, {"santiago", "2"}}, c.Keys())
	assert.Equal(t, []string{"maipu", "santiago"}, c.Comunas())
}

func TestErrorMessages(t *testing.T) {
	dve := &DataValidationError{Source: "maipu", Row: "3", Field: "pcap", Message: "existing chargers 5 exceed pcap 4"}
	assert.Equal(t, "data validation [maipu row 3] pcap: existing chargers 5 exceed pcap 4", dve.Error())

	ce := &ConfigurationError{Name: "budget", Message: "expected 12 values, got 3"}
	assert.Equal(t, `configuration "budget": expected 12 values, got 3`, ce.Error())

	cause := errors.New("license expired")
	se := &SolverError{Backend: "gurobi", Message: "process failed", Err: cause}
	assert.ErrorIs(t, se, cause)
	assert.True(t, se.IsTransient())

	de := &DecodingError{Variable: "slow_1_1", Message: "missing from solver output"}
	assert.Equal(t, "decoding slow_1_1: missing from solver output", de.Error())
}

func TestSolutionRecord_Value(t *testing.T) {
	rec := &SolutionRecord{Values: map[string]float64{"slow_1_1": 3, "fast_1_1": 0}}

	v, ok := rec.Value("slow_1_1")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = rec.Value("fast_1_1")
	assert.True(t, ok, "a zero value is still present")

	_, ok = rec.Value("panels_1_1")
	assert.False(t, ok)

	var missing *SolutionRecord
	_, ok = missing.Value("slow_1_1")
	assert.False(t, ok)
}
