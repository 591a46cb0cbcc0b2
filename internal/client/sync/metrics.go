package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics prometheus метрики движка синхронизации
type Metrics struct {
	pushTotal    *prometheus.CounterVec
	pullEvents   *prometheus.CounterVec
	journalDepth prometheus.Gauge
	conflicts    prometheus.Counter
	quarantined  prometheus.Counter
	subState     prometheus.Gauge
}

// Результаты отправки
const (
	pushAcked         = "acked"
	pushTransient     = "transient"
	pushRejected      = "rejected"
	pushDenied        = "permission_denied"
	pushSerialization = "serialization"
)

// Исходы применения удаленных событий
const (
	pullApplied  = "applied"
	pullMerged   = "merged"
	pullStale    = "stale"
	pullDeleted  = "deleted"
	pullIgnored  = "ignored"
	pullRepaired = "repaired"
)

// NewMetrics creates engine metrics registered on reg (nil: not registered)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pushTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsesync_push_total",
			Help: "Journal entries sent to the remote store by result.",
		}, []string{"result"}),
		pullEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsesync_pull_events_total",
			Help: "Remote events consumed by outcome.",
		}, []string{"outcome"}),
		journalDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulsesync_journal_depth",
			Help: "Unacknowledged local mutations.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "pulsesync_conflicts_total",
			Help: "Field-level conflicts resolved in favour of pending local values.",
		}),
		quarantined: f.NewCounter(prometheus.CounterOpts{
			Name: "pulsesync_quarantined_total",
			Help: "Local records quarantined as corrupt.",
		}),
		subState: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulsesync_subscription_state",
			Help: "Change feed subscription state (0 disconnected, 1 subscribing, 2 streaming, 3 error).",
		}),
	}
}
