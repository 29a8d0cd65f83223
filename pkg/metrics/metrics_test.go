package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_PipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("planner", reg)

	c.RecordUnknownTag("kiosk")
	c.RecordUnknownTag("kiosk")
	c.RecordSolverRun("cbc", "optimal", 2*time.Second)
	c.SetProblemSize(40, 77)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.UnknownTypeTags.WithLabelValues("kiosk")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.SolverRunsTotal.WithLabelValues("cbc", "optimal")))
	assert.Equal(t, float64(40), testutil.ToFloat64(c.ProblemVariables))
	assert.Equal(t, float64(77), testutil.ToFloat64(c.ProblemConstraints))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewNopCollector()
		NewNopCollector()
	})
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewNopCollector()
	timer := c.StageTimer("build")
	d := timer.ObserveDuration()
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StageDuration))
}
