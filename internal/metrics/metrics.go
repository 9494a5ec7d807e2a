// Package metrics exposes Prometheus metrics for ingest, gating, execution
// and the trade loops.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/ledger-sniper-bot/internal/ledger"
)

const namespace = "ledger_sniper"

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	registry *prometheus.Registry
	highest  atomic.Uint64

	// Ingest
	EventsIngested *prometheus.CounterVec
	WindowBuckets  prometheus.Gauge
	HighestSlot    prometheus.Gauge

	// Funding, one observation per fresh asset and event
	FundingTransfers  prometheus.Histogram
	FundingCandidates *prometheus.CounterVec

	// Gate
	GateDecisions *prometheus.CounterVec
	GateScore     prometheus.Histogram

	// Execution
	Executions       *prometheus.CounterVec
	ExecutionLatency *prometheus.HistogramVec

	// Trade loops
	TraderTransitions *prometheus.CounterVec
	ActiveTraders     prometheus.Gauge

	// Price feed
	FeedReconnects prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Events offered to the signal engine by result",
		}, []string{"result"}),
		WindowBuckets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "window_buckets",
			Help:      "Slot buckets currently retained",
		}),
		HighestSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "highest_slot",
			Help:      "Highest slot ingested",
		}),

		FundingTransfers: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "funding",
			Name:      "transfers",
			Help:      "Relevant transfers per fresh asset in its slot",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		FundingCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funding",
			Name:      "candidates_total",
			Help:      "Funding pattern candidates by kind",
		}, []string{"kind"}),

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Gate decisions by outcome",
		}, []string{"accepted"}),
		GateScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "score",
			Help:      "Gate scores",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),

		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Venue attempts by venue, side and status",
		}, []string{"venue", "side", "status"}),
		ExecutionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "latency_seconds",
			Help:      "Venue attempt latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}, []string{"venue", "side"}),

		TraderTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "transitions_total",
			Help:      "Trade loop transitions by target state",
		}, []string{"to"}),
		ActiveTraders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "active",
			Help:      "Running trade loops",
		}),

		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "reconnects_total",
			Help:      "Websocket price feed reconnects",
		}),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records one ingest call.
func (m *Metrics) ObserveIngest(accepted bool, slot uint64, buckets int) {
	if !accepted {
		m.EventsIngested.WithLabelValues("dropped").Inc()
		return
	}
	m.EventsIngested.WithLabelValues("accepted").Inc()
	m.WindowBuckets.Set(float64(buckets))
	for {
		cur := m.highest.Load()
		if slot <= cur {
			return
		}
		if m.highest.CompareAndSwap(cur, slot) {
			m.HighestSlot.Set(float64(slot))
			return
		}
	}
}

// ObserveFunding is a ledger observer hook.
func (m *Metrics) ObserveFunding(fm ledger.FundingMetric) {
	m.FundingTransfers.Observe(float64(fm.TransferCount))
	if fm.CleanFundingCandidate {
		m.FundingCandidates.WithLabelValues("clean").Inc()
	}
	if fm.CreatorExposedCandidate {
		m.FundingCandidates.WithLabelValues("creator_exposed").Inc()
	}
}

// ObserveDecision records a gate verdict.
func (m *Metrics) ObserveDecision(accepted bool, score float64) {
	m.GateDecisions.WithLabelValues(strconv.FormatBool(accepted)).Inc()
	m.GateScore.Observe(score)
}

// ObserveExecution records a venue attempt.
func (m *Metrics) ObserveExecution(venue, side, status string, latency time.Duration) {
	m.Executions.WithLabelValues(venue, side, status).Inc()
	m.ExecutionLatency.WithLabelValues(venue, side).Observe(latency.Seconds())
}

// ObserveTransition records a trade loop state change.
func (m *Metrics) ObserveTransition(to string) {
	m.TraderTransitions.WithLabelValues(to).Inc()
}

// SetActiveTraders sets the running loop count.
func (m *Metrics) SetActiveTraders(n int) {
	m.ActiveTraders.Set(float64(n))
}

// IncFeedReconnect counts a websocket reconnect.
func (m *Metrics) IncFeedReconnect() {
	m.FeedReconnects.Inc()
}
