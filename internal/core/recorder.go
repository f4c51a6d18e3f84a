// Package core assembles the clock, queue, rate limiter, breaker, sender
// and dispatcher into the single Enqueue/Stats/Shutdown library surface
// spec.md §6 exposes to collaborators, mirroring the shape of the
// teacher's main.go wiring but as an importable type rather than inline
// code in func main.
package core

import (
	"fmt"
	"sync"

	"feedrelay/internal/metrics"
	"feedrelay/internal/model"
)

// recorder wraps *metrics.Sink so every collaborator still records to
// Prometheus exactly as before, while also keeping the running totals
// Stats() needs. Prometheus vectors have no cheap "read current value"
// API outside of tests (see internal/metrics's testutil-based test), so
// Snapshot bookkeeping is kept here rather than read back out of the
// registry.
type recorder struct {
	*metrics.Sink

	mu            sync.Mutex
	admitted      map[string]uint64
	rejected      map[string]uint64
	overflow      map[string]uint64
	dedupReject   uint64
	sends         map[string]uint64
	retries       map[string]uint64
	breakerTrans  map[string]uint64
	rateWaitS     map[string]float64
	activeWorkers int
	currentBatch  int
}

func newRecorder(sink *metrics.Sink) *recorder {
	return &recorder{
		Sink:         sink,
		admitted:     make(map[string]uint64),
		rejected:     make(map[string]uint64),
		overflow:     make(map[string]uint64),
		sends:        make(map[string]uint64),
		retries:      make(map[string]uint64),
		breakerTrans: make(map[string]uint64),
		rateWaitS:    make(map[string]float64),
	}
}

func (r *recorder) IncAdmitted(p model.Priority) {
	r.Sink.IncAdmitted(p)
	r.mu.Lock()
	r.admitted[p.String()]++
	r.mu.Unlock()
}

func (r *recorder) IncRejected(reason model.AdmissionRejectReason) {
	r.Sink.IncRejected(reason)
	r.mu.Lock()
	r.rejected[string(reason)]++
	r.mu.Unlock()
}

func (r *recorder) IncOverflow(lane model.Priority) {
	r.Sink.IncOverflow(lane)
	r.mu.Lock()
	r.overflow[lane.String()]++
	r.mu.Unlock()
}

func (r *recorder) IncDedupReject() {
	r.Sink.IncDedupReject()
	r.mu.Lock()
	r.dedupReject++
	r.mu.Unlock()
}

func (r *recorder) IncSend(endpoint, outcome string) {
	r.Sink.IncSend(endpoint, outcome)
	r.mu.Lock()
	r.sends[endpoint+"|"+outcome]++
	r.mu.Unlock()
}

func (r *recorder) IncRetry(endpoint string, attempt int) {
	r.Sink.IncRetry(endpoint, attempt)
	r.mu.Lock()
	r.retries[fmt.Sprintf("%s|%d", endpoint, attempt)]++
	r.mu.Unlock()
}

func (r *recorder) IncTransition(endpoint string, to model.BreakerPhase) {
	r.Sink.IncTransition(endpoint, to)
	r.mu.Lock()
	r.breakerTrans[endpoint+"|"+string(to)]++
	r.mu.Unlock()
}

func (r *recorder) SetActiveWorkers(n int) {
	r.Sink.SetActiveWorkers(n)
	r.mu.Lock()
	r.activeWorkers = n
	r.mu.Unlock()
}

func (r *recorder) SetCurrentBatchSize(n int) {
	r.Sink.SetCurrentBatchSize(n)
	r.mu.Lock()
	r.currentBatch = n
	r.mu.Unlock()
}

// snapshotInto copies the recorder's running totals into snap, leaving
// queue-derived fields (QueueSize, QueueSizeByLane) for the caller to fill.
func (r *recorder) snapshotInto(snap *model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range r.admitted {
		snap.ItemsAdmittedTotal[k] = v
	}
	for k, v := range r.rejected {
		snap.ItemsRejectedTotal[k] = v
	}
	for k, v := range r.overflow {
		snap.OverflowTotal[k] = v
	}
	snap.DedupRejectTotal = r.dedupReject
	for k, v := range r.sends {
		snap.SendsTotal[k] = v
	}
	for k, v := range r.retries {
		snap.RetriesTotal[k] = v
	}
	for k, v := range r.breakerTrans {
		snap.BreakerTrans[k] = v
	}
	for k, v := range r.rateWaitS {
		snap.EndpointRateWaitS[k] = v
	}
	snap.ActiveWorkers = r.activeWorkers
	snap.CurrentBatchSize = r.currentBatch
}
