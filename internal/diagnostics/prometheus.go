package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegisterPrometheus exposes counters as two CounterFunc series on reg, so a
// host process already scraping /metrics gets asynclog_events_dropped_total
// and asynclog_buffer_unavailable_total for free. This is a domain-stack addition: the
// counters themselves remain authoritative in-process state, Prometheus
// just mirrors Get() on scrape.
func RegisterPrometheus(reg prometheus.Registerer, counters *Counters) {
	factory := promauto.With(reg)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "asynclog_events_dropped_total",
		Help: "Events discarded by the Drop overload policy because the ring buffer was full.",
	}, func() float64 {
		return float64(counters.EventsDropped.Get())
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "asynclog_buffer_unavailable_total",
		Help: "Times a Block-policy producer had to wait for the consumer to free a slot.",
	}, func() float64 {
		return float64(counters.BufferUnavailable.Get())
	})
}
