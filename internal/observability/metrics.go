package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	quoteCounter          *prometheus.CounterVec
	transferCounter       *prometheus.CounterVec
	liveTransfersGauge    prometheus.Gauge
	ledgerActionCounter   *prometheus.CounterVec
	ledgerActionHistogram *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		quoteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_quotes_total",
			Help: "Quote requests by routing scenario and result",
		}, []string{"scenario", "result"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_transfers_total",
			Help: "Transfers reaching a terminal state",
		}, []string{"state", "reason"})

		liveTransfersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connector_live_transfers",
			Help: "Transfers currently in a non-terminal state",
		})

		ledgerActionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_ledger_actions_total",
			Help: "Ledger and peer actions by operation and result",
		}, []string{"op", "result"})

		ledgerActionHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connector_ledger_action_duration_seconds",
			Help:    "Ledger and peer action latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			quoteCounter,
			transferCounter,
			liveTransfersGauge,
			ledgerActionCounter,
			ledgerActionHistogram,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementQuote(scenario, result string) {
	if quoteCounter == nil {
		return
	}
	quoteCounter.WithLabelValues(scenario, result).Inc()
}

func IncrementTransferOutcome(state, reason string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(state, reason).Inc()
}

func SetLiveTransfers(n int) {
	if liveTransfersGauge == nil {
		return
	}
	liveTransfersGauge.Set(float64(n))
}

func ObserveLedgerAction(op, result string, duration time.Duration) {
	if ledgerActionCounter == nil {
		return
	}
	ledgerActionCounter.WithLabelValues(op, result).Inc()
	ledgerActionHistogram.WithLabelValues(op).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
