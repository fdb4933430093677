// Package metrics exports parameter values and engine bookkeeping to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

var states = []dfair.State{
	dfair.StateIdle,
	dfair.StateConnecting,
	dfair.StateReading,
	dfair.StateAwaiting,
	dfair.StateTimedOut,
}

// Exporter holds the collectors. Values are pushed after every pass;
// counters and the engine state are read from the status source at scrape
// time.
type Exporter struct {
	value *prometheus.GaugeVec
	stamp *prometheus.GaugeVec
}

// New registers the collectors on reg. status is called on every scrape.
func New(reg prometheus.Registerer, status func() dfair.Status) *Exporter {
	x := &Exporter{
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dfair_parameter_value",
			Help: "Last value read from the unit; booleans are 0 or 1.",
		}, []string{"id", "name", "unit"}),
		stamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dfair_parameter_timestamp_seconds",
			Help: "Unix time the parameter value was last updated.",
		}, []string{"id"}),
	}

	for _, s := range states {
		s := s
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "dfair_engine_state",
			Help:        "1 for the exchange state the engine is in.",
			ConstLabels: prometheus.Labels{"state": s.String()},
		}, func() float64 {
			if status().State == s {
				return 1
			}
			return 0
		}))
	}

	reg.MustRegister(
		x.value,
		x.stamp,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dfair_passes_total",
			Help: "Completed poll passes.",
		}, func() float64 { return float64(status().Passes) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dfair_read_timeouts_total",
			Help: "Read requests that got no answer in time.",
		}, func() float64 { return float64(status().Timeouts) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dfair_write_failures_total",
			Help: "Queued writes that could not be sent.",
		}, func() float64 { return float64(status().WriteFailures) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dfair_current_step",
			Help: "Position in the poll cycle, seconds.",
		}, func() float64 { return float64(status().CurrentStep) }),
	)
	return x
}

// Observe updates the value gauges. Parameters never read are left out.
func (x *Exporter) Observe(params []dfair.Param) {
	for _, p := range params {
		if p.Value.IsUnread() {
			continue
		}
		x.value.WithLabelValues(p.ID, p.Name, p.Unit).Set(p.Value.Float())
		x.stamp.WithLabelValues(p.ID).Set(float64(p.ValueTimestamp.UnixNano()) / 1e9)
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
