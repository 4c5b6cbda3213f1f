// Package metrics declares the Prometheus collectors of the ring engine.
// They register with the default registry, served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts interpreted commands by name and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mioring_commands_total",
		Help: "Interpreted commands by command and result",
	}, []string{"command", "result"})

	// CommandDuration tracks command latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mioring_command_duration_seconds",
		Help:    "Command duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	}, []string{"command"})

	// ActualizationsTotal counts backend executions by operation kind and result.
	ActualizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mioring_actualizations_total",
		Help: "Operable executions by operation kind and result",
	}, []string{"kind", "result"})

	ActualizationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mioring_actualization_duration_seconds",
		Help:    "Operable execution time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"kind"})

	// MemoHits counts lazy specters found already on disk.
	MemoHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mioring_memo_hits_total",
		Help: "Lazy specters whose cached content already existed",
	})

	// RingNodes reports node counts per ring and map.
	RingNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mioring_ring_nodes",
		Help: "Nodes per ring (live, archived) and map (entities, specters, operations)",
	}, []string{"ring", "map"})

	// AllocatorCeiling is the next never-issued ordinal.
	AllocatorCeiling = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mioring_allocator_ceiling",
		Help: "Next never-issued ordinal",
	})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCommand records one interpreted command.
func ObserveCommand(name string, d time.Duration, err error) {
	CommandsTotal.WithLabelValues(name, result(err)).Inc()
	CommandDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveActualization records one backend execution.
func ObserveActualization(kind string, d time.Duration, err error) {
	ActualizationsTotal.WithLabelValues(kind, result(err)).Inc()
	ActualizationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetRing reports the node counts of one ring.
func SetRing(name string, entities, specters, operations int) {
	RingNodes.WithLabelValues(name, "entities").Set(float64(entities))
	RingNodes.WithLabelValues(name, "specters").Set(float64(specters))
	RingNodes.WithLabelValues(name, "operations").Set(float64(operations))
}
