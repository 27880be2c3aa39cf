package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestPollSetsGaugesFromSources(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.Poll(Sources{
		LiveTickets:     func() int { return 3 },
		LiveAtoms:       func() int { return 7 },
		InternCacheSize: func() int { return 42 },
	})

	require.Equal(t, 3.0, gaugeValue(t, reg.LiveTickets))
	require.Equal(t, 7.0, gaugeValue(t, reg.LiveAtoms))
	require.Equal(t, 42.0, gaugeValue(t, reg.InternCacheSize))
}

func TestPollIgnoresNilSources(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	require.NotPanics(t, func() {
		reg.Poll(Sources{})
	})
}

func TestRequestStartedAndFinishedTrackPendingCount(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.RequestStarted()
	reg.RequestStarted()
	require.Equal(t, 2.0, gaugeValue(t, reg.PendingRequests))

	reg.RequestFinished("ok")
	require.Equal(t, 1.0, gaugeValue(t, reg.PendingRequests))

	m := &dto.Metric{}
	require.NoError(t, reg.RequestsTotal.WithLabelValues("ok").Write(m))
	require.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestNewRegistryTwiceOnSeparateRegistriesDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		NewRegistry(prometheus.NewRegistry())
		NewRegistry(prometheus.NewRegistry())
	})
}
