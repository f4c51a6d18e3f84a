// Package metrics wires the pipeline's counters, gauges and histograms to
// Prometheus, grounded on chinweokwu-MQueue's prometheus_metrics.go
// (CounterVec/GaugeVec construction, prometheus.MustRegister, a
// promhttp.Handler exposed over its own HTTP server). The metric names
// below are spec.md §6's stable names rather than the teacher's
// mqueue_-prefixed ones.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

// Sink implements every Metrics collaborator interface across the tree
// (queue.Metrics, breaker.Metrics, sender.Metrics) plus the dispatcher's
// gauges, backed by one Prometheus registry.
type Sink struct {
	itemsAdmitted   *prometheus.CounterVec
	itemsRejected   *prometheus.CounterVec
	overflow        *prometheus.CounterVec
	sends           *prometheus.CounterVec
	retries         *prometheus.CounterVec
	breakerTrans    *prometheus.CounterVec

	queueSize       *prometheus.GaugeVec
	activeWorkers   prometheus.Gauge
	currentBatch    prometheus.Gauge
	rateLimitWait   *prometheus.GaugeVec

	sendDuration    *prometheus.HistogramVec
	enqueueToSend   prometheus.Histogram
	batchSizeObs    prometheus.Histogram

	registry *prometheus.Registry
	log      *log.Logger
}

func NewSink(logger *log.Logger) *Sink {
	s := &Sink{
		itemsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "items_admitted_total", Help: "Items accepted by the queue.",
		}, []string{"priority"}),
		itemsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "items_rejected_total", Help: "Items refused at admission.",
		}, []string{"reason"}),
		overflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overflow_total", Help: "Items displaced by queue overflow.",
		}, []string{"lane"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sends_total", Help: "Delivery attempts by outcome.",
		}, []string{"endpoint", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retries_total", Help: "Retry attempts issued.",
		}, []string{"endpoint", "attempt"}),
		breakerTrans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_transitions_total", Help: "Circuit breaker state transitions.",
		}, []string{"endpoint", "to_state"}),

		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_size", Help: "Current items queued per lane.",
		}, []string{"lane"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers", Help: "Currently running dispatcher workers.",
		}),
		currentBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "current_batch_size", Help: "Adaptive controller's current batch size.",
		}),
		rateLimitWait: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_wait_seconds", Help: "Most recent rate-limiter wait per endpoint.",
		}, []string{"endpoint"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "send_duration_seconds", Help: "Delivery attempt latency.",
		}, []string{"endpoint"}),
		enqueueToSend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "enqueue_to_send_seconds", Help: "Time from Enqueue admission to first send attempt.",
		}),
		batchSizeObs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "batch_size_observed", Help: "Actual batch sizes drained by workers.",
		}),

		registry: prometheus.NewRegistry(),
		log:      logger,
	}

	s.registry.MustRegister(
		s.itemsAdmitted, s.itemsRejected, s.overflow, s.sends, s.retries, s.breakerTrans,
		s.queueSize, s.activeWorkers, s.currentBatch, s.rateLimitWait,
		s.sendDuration, s.enqueueToSend, s.batchSizeObs,
	)
	return s
}

// Serve exposes /metrics until ctx is cancelled, mirroring the teacher's
// promhttp.Handler wiring but without the TLS branch spec.md's admin
// surface doesn't call for.
func (s *Sink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// --- queue.Metrics ---

func (s *Sink) ObserveLaneSize(lane model.Priority, size int) {
	s.queueSize.WithLabelValues(lane.String()).Set(float64(size))
}

func (s *Sink) IncOverflow(lane model.Priority) {
	s.overflow.WithLabelValues(lane.String()).Inc()
}

func (s *Sink) IncDedupReject() {
	s.itemsRejected.WithLabelValues("duplicate").Inc()
}

func (s *Sink) ObserveEnqueueLatency(d time.Duration) {
	s.enqueueToSend.Observe(d.Seconds())
}

func (s *Sink) ObserveWaitToDequeue(d time.Duration) {
	s.enqueueToSend.Observe(d.Seconds())
}

// IncAdmitted and IncRejected round out the admission-side counters that
// queue.Metrics doesn't cover directly (admission happens before the item
// reaches a lane).
func (s *Sink) IncAdmitted(priority model.Priority) {
	s.itemsAdmitted.WithLabelValues(priority.String()).Inc()
}

func (s *Sink) IncRejected(reason model.AdmissionRejectReason) {
	s.itemsRejected.WithLabelValues(string(reason)).Inc()
}

// --- breaker.Metrics ---

func (s *Sink) IncTransition(endpoint string, to model.BreakerPhase) {
	s.breakerTrans.WithLabelValues(endpoint, string(to)).Inc()
}

// --- sender.Metrics ---

func (s *Sink) IncSend(endpoint, outcome string) {
	s.sends.WithLabelValues(endpoint, outcome).Inc()
}

func (s *Sink) IncRetry(endpoint string, attempt int) {
	s.retries.WithLabelValues(endpoint, strconv.Itoa(attempt)).Inc()
}

func (s *Sink) ObserveLatency(endpoint string, d time.Duration) {
	s.sendDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// --- ratelimit wait gauge, dispatcher gauges ---

func (s *Sink) SetRateLimitWait(endpoint string, d time.Duration) {
	s.rateLimitWait.WithLabelValues(endpoint).Set(d.Seconds())
}

func (s *Sink) SetActiveWorkers(n int) {
	s.activeWorkers.Set(float64(n))
}

func (s *Sink) SetCurrentBatchSize(n int) {
	s.currentBatch.Set(float64(n))
}

func (s *Sink) ObserveBatchSize(n int) {
	s.batchSizeObs.Observe(float64(n))
}
