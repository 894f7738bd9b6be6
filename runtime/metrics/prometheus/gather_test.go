package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestRegister_GatheredFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "registering twice is a no-op")

	scoresTotal.Reset()
	scorerDuration.Reset()
	RecordScore("contains_string", StatusSuccess, 0.01)
	RecordScore("contains_string", StatusError, 0.02)

	families, err := reg.Gather()
	require.NoError(t, err)

	scores := findFamily(families, "lev_scores_total")
	require.NotNil(t, scores)
	assert.Equal(t, dto.MetricType_COUNTER, scores.GetType())
	require.Len(t, scores.GetMetric(), 2)
	for _, m := range scores.GetMetric() {
		assert.Equal(t, "contains_string", labelValue(m, "metric"))
		assert.Equal(t, 1.0, m.GetCounter().GetValue())
	}

	durations := findFamily(families, "lev_scorer_duration_seconds")
	require.NotNil(t, durations)
	assert.Equal(t, dto.MetricType_HISTOGRAM, durations.GetType())
	assert.Equal(t, uint64(2), durations.GetMetric()[0].GetHistogram().GetSampleCount())
}
