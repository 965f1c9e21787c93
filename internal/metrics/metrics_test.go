package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wifiparty/core/internal/metrics"
)

func TestCollectorsRegisterAndAcceptObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)

	m.JitterTargetFrames.WithLabelValues("10.0.0.1").Set(12)
	m.RealtimeLoss.WithLabelValues("10.0.0.1", "late").Inc()
	m.MixerUnderruns.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawJitter bool
	for _, fam := range families {
		if fam.GetName() == "wifiparty_jitter_target_frames" {
			sawJitter = true
			require.Len(t, fam.Metric, 1)
			require.Equal(t, float64(12), fam.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, sawJitter)
}

func TestDuplicateRegistererIsIsolated(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	metrics.NewWithRegisterer(regA)
	require.NotPanics(t, func() { metrics.NewWithRegisterer(regB) })
}
