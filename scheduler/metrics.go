package scheduler

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ticks       prometheus.Counter
	duration    prometheus.Histogram
	actions     *prometheus.CounterVec
	tickErrors  prometheus.Counter
	retryStates *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semgate",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Ticks run by the autonomy scheduler.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "semgate",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgate",
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Actions taken by the scheduler, by type.",
		}, []string{"action"}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semgate",
			Subsystem: "scheduler",
			Name:      "tick_errors_total",
			Help:      "Per-execution errors recorded during ticks.",
		}),
		retryStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "semgate",
			Subsystem: "scheduler",
			Name:      "retry_states",
			Help:      "Gates currently in the retry ladder, by status.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{m.ticks, m.duration, m.actions, m.tickErrors, m.retryStates} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register scheduler metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) observeTick(res TickResult, states map[RetryStatus]int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.duration.Observe(res.Duration.Seconds())
	for _, a := range res.Actions {
		m.actions.WithLabelValues(string(a.Type)).Inc()
	}
	m.tickErrors.Add(float64(len(res.Errors)))
	for status, n := range states {
		m.retryStates.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (m *metrics) observeFailedTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.duration.Observe(d.Seconds())
	m.tickErrors.Inc()
}
