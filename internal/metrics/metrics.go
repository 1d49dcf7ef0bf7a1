// Package metrics exposes pipeline and notification counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/tricrawl/internal/notify"
	"github.com/nao1215/tricrawl/internal/pipeline"
)

const namespace = "tricrawl"

// Metrics holds the TriCrawl collectors. Every counter carries a source label.
type Metrics struct {
	ItemsReceived *prometheus.CounterVec
	ItemsInvalid  *prometheus.CounterVec
	ItemsPassed   *prometheus.CounterVec
	ItemsDropped  *prometheus.CounterVec

	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec

	StorageErrors *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec

	PagesFetched *prometheus.CounterVec
	ItemsKnown   *prometheus.CounterVec
}

var (
	_ pipeline.Observer = (*Metrics)(nil)
	_ notify.Observer   = (*Metrics)(nil)
)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, append([]string{"source"}, labels...))
	}

	return &Metrics{
		ItemsReceived:        counter("items_received_total", "Items entering the pipeline."),
		ItemsInvalid:         counter("items_invalid_total", "Items rejected by validation."),
		ItemsPassed:          counter("items_passed_total", "Items that passed every stage."),
		ItemsDropped:         counter("items_dropped_total", "Items dropped by a stage.", "stage", "reason"),
		NotificationsSent:    counter("notifications_sent_total", "Webhook notifications delivered."),
		NotificationsFailed:  counter("notifications_failed_total", "Webhook notifications that exhausted their attempts."),
		NotificationsDropped: counter("notifications_dropped_total", "Notifications discarded before delivery.", "reason"),
		StorageErrors:        counter("storage_errors_total", "Records that could not be written."),
		PagesFetched:         counter("pages_fetched_total", "Listing pages fetched by the spiders."),
		ItemsKnown:           counter("items_known_total", "Posts the spiders skipped as already seen."),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"source"}),
	}
}

// ItemReceived implements pipeline.Observer.
func (m *Metrics) ItemReceived(source string) {
	m.ItemsReceived.WithLabelValues(source).Inc()
}

// ItemInvalid implements pipeline.Observer.
func (m *Metrics) ItemInvalid(source string) {
	m.ItemsInvalid.WithLabelValues(source).Inc()
}

// ItemDropped implements pipeline.Observer.
func (m *Metrics) ItemDropped(source, stage, reason string) {
	m.ItemsDropped.WithLabelValues(source, stage, reason).Inc()
}

// ItemPassed implements pipeline.Observer.
func (m *Metrics) ItemPassed(source string) {
	m.ItemsPassed.WithLabelValues(source).Inc()
}

// NotificationSent implements notify.Observer.
func (m *Metrics) NotificationSent(source string) {
	m.NotificationsSent.WithLabelValues(source).Inc()
}

// NotificationFailed implements notify.Observer.
func (m *Metrics) NotificationFailed(source string) {
	m.NotificationsFailed.WithLabelValues(source).Inc()
}

// NotificationDropped implements notify.Observer.
func (m *Metrics) NotificationDropped(source, reason string) {
	m.NotificationsDropped.WithLabelValues(source, reason).Inc()
}

// ObserveRun records the duration, storage errors and crawl counters of a
// finished run. Counters are only reported once, at run end.
func (m *Metrics) ObserveRun(sum *pipeline.Summary) {
	if sum == nil {
		return
	}
	m.RunDuration.WithLabelValues(sum.Source).Observe(sum.Elapsed().Seconds())

	add := func(vec *prometheus.CounterVec, key string) {
		if n := sum.Counter(key); n > 0 {
			vec.WithLabelValues(sum.Source).Add(float64(n))
		}
	}
	add(m.StorageErrors, "storage/errors")
	add(m.PagesFetched, pipeline.SourceCounterPrefix+"/pages")
	add(m.ItemsKnown, pipeline.SourceCounterPrefix+"/skipped")
}
