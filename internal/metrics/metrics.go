package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of supervised process spawns.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of supervised process exits.",
		}, []string{"name"},
	)
	swaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "swap",
			Name:      "total",
			Help:      "Swap attempts by outcome (ok or the rejection reason).",
		}, []string{"outcome"},
	)
	swapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bluegreen",
			Subsystem: "swap",
			Name:      "duration_seconds",
			Help:      "Wall time of swap attempts that passed the single-flight guard.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	compensationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "swap",
			Name:      "compensation_failures_total",
			Help:      "Compensating cancel calls that did not return 200.",
		},
	)
	redeploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "redeploy",
			Name:      "total",
			Help:      "Redeploys of the non-active slot by slot and result.",
		}, []string{"slot", "result"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bluegreen",
			Subsystem: "redeploy",
			Name:      "step_duration_seconds",
			Help:      "Duration of redeploy pipeline steps.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step"},
	)
	activeSlot = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bluegreen",
			Name:      "active_slot",
			Help:      "1 for the slot currently receiving primary traffic, 0 otherwise.",
		}, []string{"slot"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processExits, swaps, swapDuration, compensationFailures, redeploys, stepDuration, activeSlot}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has succeeded.

func IncProcessStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncProcessExit(name string) {
	if regOK.Load() {
		processExits.WithLabelValues(name).Inc()
	}
}

func ObserveSwap(outcome string, seconds float64) {
	if regOK.Load() {
		swaps.WithLabelValues(outcome).Inc()
		if seconds > 0 {
			swapDuration.Observe(seconds)
		}
	}
}

func IncCompensationFailure() {
	if regOK.Load() {
		compensationFailures.Inc()
	}
}

func IncRedeploy(slot string, ok bool) {
	if regOK.Load() {
		result := "failed"
		if ok {
			result = "ok"
		}
		redeploys.WithLabelValues(slot, result).Inc()
	}
}

func ObserveStep(step string, seconds float64) {
	if regOK.Load() {
		stepDuration.WithLabelValues(step).Observe(seconds)
	}
}

// SetActive marks active with 1 and every other listed slot with 0.
func SetActive(active string, all ...string) {
	if regOK.Load() {
		for _, s := range all {
			v := 0.0
			if s == active {
				v = 1
			}
			activeSlot.WithLabelValues(s).Set(v)
		}
	}
}
