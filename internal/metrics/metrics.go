package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hperssn/trialclock/internal/events"
)

// Prometheus records trial lifecycle metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	started     prometheus.Counter
	stopped     prometheus.Counter
	submissions *prometheus.CounterVec
	totals      prometheus.Histogram
	live        prometheus.Gauge
	published   *prometheus.CounterVec
	publishTime prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trials_started_total",
			Help: "Trials started.",
		}),
		stopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trials_stopped_total",
			Help: "Trials stopped.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trial_submissions_total",
			Help: "Result submissions by outcome.",
		}, []string{"result"}),
		totals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trial_total_seconds",
			Help:    "Total trial time including penalties, observed on stop.",
			Buckets: []float64{30, 45, 60, 75, 90, 105, 120, 150, 180, 240, 300},
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_trials",
			Help: "Trials currently held in memory.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trial_events_published_total",
			Help: "Lifecycle events handed to the event publisher.",
		}, []string{"event_type", "result"}),
		publishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trial_event_publish_seconds",
			Help:    "Time spent publishing one lifecycle event.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.started,
		m.stopped,
		m.submissions,
		m.totals,
		m.live,
		m.published,
		m.publishTime,
	)
	return m
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Prometheus) TrialStarted() { m.started.Inc() }

func (m *Prometheus) TrialStopped(totalSeconds float64) {
	m.stopped.Inc()
	m.totals.Observe(totalSeconds)
}

func (m *Prometheus) Submission(success bool) {
	m.submissions.WithLabelValues(outcome(success)).Inc()
}

func (m *Prometheus) LiveTrials(n int) { m.live.Set(float64(n)) }

func (m *Prometheus) RecordEventPublished(eventType string, success bool, duration time.Duration) {
	m.published.WithLabelValues(eventType, outcome(success)).Inc()
	m.publishTime.Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// MetricPublisher wraps an events.Publisher with publish metrics.
type MetricPublisher struct {
	publisher events.Publisher
	metrics   *Prometheus
}

func NewMetricPublisher(publisher events.Publisher, metrics *Prometheus) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event events.Event) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventPublished(string(event.Type), err == nil, time.Since(start))
	return err
}

func (p *MetricPublisher) Close() error { return p.publisher.Close() }
