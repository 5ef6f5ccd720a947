// Package metrics turns eventbus traffic into Prometheus collectors served
// from a private registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitewatch/internal/eventbus"
	"sitewatch/internal/monitor"
	"sitewatch/internal/task/engine"
)

const namespace = "sitewatch"

type Metrics struct {
	reg *prometheus.Registry

	checks       *prometheus.CounterVec
	checkSeconds prometheus.Counter
	alerts       *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	discarded    prometheus.Counter
	watchChanges *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	notify       *prometheus.CounterVec
}

// New registers the collectors. watches, when non-nil, backs the live
// watch-count gauge.
func New(watches func() int) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checks_total",
			Help: "Completed checks by outcome.",
		}, []string{"outcome"}),
		checkSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "check_seconds_total",
			Help: "Total wall time spent in checks.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Health transitions by direction.",
		}, []string{"direction"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_degraded_total",
			Help: "Storage operations that failed after retry.",
		}, []string{"op"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "results_discarded_total",
			Help: "Results dropped because the watch was removed mid-check.",
		}),
		watchChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "watch_changes_total",
			Help: "Watch registrations and removals.",
		}, []string{"change"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_events_total",
			Help: "Task engine lifecycle events.",
		}, []string{"event"}),
		notify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification pipeline events.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.checks, m.checkSeconds, m.alerts, m.degraded, m.discarded,
		m.watchChanges, m.tasks, m.notify,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if watches != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watches",
			Help: "Registered watches.",
		}, func() float64 { return float64(watches()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(512)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates collectors for one event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.CheckCompleted:
		if ce, ok := ev.Data.(monitor.CheckEvent); ok {
			m.checks.WithLabelValues(string(ce.Result.Outcome)).Inc()
			m.checkSeconds.Add(ce.Result.Duration.Seconds())
		}
	case eventbus.AlertFired:
		if a, ok := ev.Data.(monitor.Alert); ok {
			dir := "down"
			if a.Recovered {
				dir = "recovered"
			}
			m.alerts.WithLabelValues(dir).Inc()
		}
	case eventbus.StorageDegraded:
		op := "unknown"
		if de, ok := ev.Data.(monitor.DegradedEvent); ok {
			op = de.Op
		}
		m.degraded.WithLabelValues(op).Inc()
	case eventbus.ResultDiscarded:
		m.discarded.Inc()
	case eventbus.WatchAdded:
		m.watchChanges.WithLabelValues("added").Inc()
	case eventbus.WatchRemoved:
		m.watchChanges.WithLabelValues("removed").Inc()
	case eventbus.TaskStarted, eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskSkipped, eventbus.TaskDropped:
		label := ev.Type
		if te, ok := ev.Data.(engine.TaskEvent); ok && te.Outcome != "" && ev.Type != eventbus.TaskSkipped {
			label += "." + string(te.Outcome)
		}
		m.tasks.WithLabelValues(label).Inc()
	case eventbus.NotifySent:
		m.notify.WithLabelValues("sent").Inc()
	case eventbus.NotifyFailed:
		m.notify.WithLabelValues("failed").Inc()
	case eventbus.NotifyDeduped:
		m.notify.WithLabelValues("deduped").Inc()
	case eventbus.NotifyDropped:
		m.notify.WithLabelValues("dropped").Inc()
	}
}
