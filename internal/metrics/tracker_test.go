package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewTracker(reg)

	tr.RunCompleted()
	tr.RunCompleted()
	tr.NodesDiscovered("aws", 3)
	tr.NodesDiscovered("aws", 2)
	tr.NodesDiscovered("gcp", 0)
	tr.EdgesInferred("iam", 4)
	tr.ErrorsReported(PhaseProviders, 1)
	tr.ObservePhase(PhaseInference, 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(tr.runs))
	assert.Equal(t, 5.0, testutil.ToFloat64(tr.nodes.WithLabelValues("aws")))
	assert.Equal(t, 4.0, testutil.ToFloat64(tr.edges.WithLabelValues("iam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.errors.WithLabelValues(PhaseProviders)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "depmgr_phase_duration_seconds")
}

func TestTracker_Nil(t *testing.T) {
	var tr *Tracker
	assert.NotPanics(t, func() {
		tr.RunCompleted()
		tr.ObservePhase(PhaseWrite, time.Second)
		tr.NodesDiscovered("aws", 1)
		tr.EdgesInferred("dns", 1)
		tr.ErrorsReported(PhaseEnrichment, 1)
	})
}
