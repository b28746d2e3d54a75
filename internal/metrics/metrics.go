// Package metrics exposes the exhaustion lifecycle as Prometheus counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
)

const namespace = "killswitch"

// Collector owns a private registry fed from the event bus.
type Collector struct {
	notifications *prometheus.CounterVec
	escalations   prometheus.Counter
	suppressed    prometheus.Counter
	ignored       prometheus.Counter
	actionResults *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a collector. If bus is non-nil its dropped event
// count is exported as well.
func NewCollector(bus *events.EventBus) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Resource exhaustion notifications received, by flag",
		},
		[]string{"flag"},
	)
	c.escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Notifications that started the action pipeline",
		},
	)
	c.suppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_total",
			Help:      "Notifications held back by the escalation gate",
		},
	)
	c.ignored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_total",
			Help:      "Notifications received after the target was terminated",
		},
	)
	c.actionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_results_total",
			Help:      "Completed pipeline actions, by action and result",
		},
		[]string{"action", "result"},
	)

	c.registry.MustRegister(
		c.notifications,
		c.escalations,
		c.suppressed,
		c.ignored,
		c.actionResults,
	)
	if bus != nil {
		c.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Lifecycle events dropped by slow subscribers",
			},
			func() float64 { return float64(bus.DroppedCount()) },
		))
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Observe updates the counters for one lifecycle event.
func (c *Collector) Observe(e events.Event) {
	switch ev := e.(type) {
	case events.NotificationReceivedEvent:
		for _, f := range []struct {
			flag  core.ExhaustionFlags
			label string
		}{
			{core.HeapExhausted, "heap"},
			{core.ThreadsExhausted, "threads"},
			{core.OOMErrorImminent, "oom"},
		} {
			if ev.Flags.Has(f.flag) {
				c.notifications.WithLabelValues(f.label).Inc()
			}
		}
	case events.EscalationSuppressedEvent:
		c.suppressed.Inc()
	case events.EscalationStartedEvent:
		c.escalations.Inc()
	case events.NotificationIgnoredEvent:
		c.ignored.Inc()
	case events.ActionCompletedEvent:
		c.actionResults.WithLabelValues(ev.Action, ev.Status).Inc()
	}
}

// Run consumes events from ch until it is closed or ctx is done.
func (c *Collector) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
