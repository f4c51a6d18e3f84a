package core

import (
	"context"
	"hash/fnv"
	"net/http"

	"feedrelay/internal/breaker"
	"feedrelay/internal/clock"
	"feedrelay/internal/config"
	"feedrelay/internal/dispatcher"
	"feedrelay/internal/id"
	"feedrelay/internal/log"
	"feedrelay/internal/metrics"
	"feedrelay/internal/model"
	"feedrelay/internal/queue"
	"feedrelay/internal/ratelimit"
	"feedrelay/internal/sender"
)

// Store is the subset of *store.Store the core drives.
type Store interface {
	Record(ctx context.Context, item model.Item, outcome model.DeliveryOutcome) error
}

// Core wires the clock, queue, rate limiter, breaker, sender and dispatcher
// together and exposes exactly the Enqueue/Stats/Shutdown surface spec.md
// §6 describes. It is the importable equivalent of the teacher's main.go
// wiring: nothing here has business logic of its own, it only assembles
// collaborators built elsewhere in the tree.
type Core struct {
	cfg  *config.Config
	clk  clock.Clock
	log  *log.Logger
	sink *metrics.Sink
	rec  *recorder

	q       *queue.Queue
	limiter *ratelimit.Limiter
	brk     *breaker.Registry
	snd     *sender.Sender
	disp    *dispatcher.Dispatcher
	strg    Store
	ids     *id.Node
}

// New assembles a Core from cfg. It does not start anything; call Start.
func New(cfg *config.Config, strg Store, logger *log.Logger) *Core {
	clk := clock.Real{}
	sink := metrics.NewSink(logger)
	rec := newRecorder(sink)

	q := queue.New(queue.Config{
		MaxSize:          cfg.QueueMaxSize,
		Overflow:         overflowPolicy(cfg.OverflowPolicy),
		AgeBoostInterval: cfg.AgeBoostInterval,
	}, clk, rec)

	limiter := ratelimit.New(clk, cfg.MinSendInterval)
	meteredLimiter := &meteredLimiter{inner: limiter, clk: clk, rec: rec}

	brk := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	}, rec)

	snd := sender.New(&http.Client{}, brk, meteredLimiter, clk, sender.Config{
		AttemptTimeout: cfg.PerAttemptTimeout,
		MaxRetries:     cfg.MaxRetries,
		Backoff:        sender.Backoff{Base: cfg.RetryBase, Cap: cfg.RetryCap},
	}, rec, logger)

	disp := dispatcher.New(q, snd, strg, rec, dispatcher.Config{
		MinBatch:         cfg.MinBatch,
		MaxBatch:         cfg.MaxBatch,
		MinWorkers:       cfg.MinWorkers,
		MaxWorkers:       cfg.MaxWorkers,
		TargetCPUPercent: float64(cfg.TargetCPUPercent),
		DrainSLA:         cfg.DrainSLA,
		StoreTimeout:     cfg.StoreTimeout,
	}, clk, logger)

	idNode, err := id.NewNode(nodeIDFromWorkerID(cfg.WorkerID))
	if err != nil {
		logger.Warnw("could not derive snowflake node id from worker id, using 0", "worker_id", cfg.WorkerID, "error", err)
		idNode, _ = id.NewNode(0)
	}

	return &Core{
		cfg: cfg, clk: clk, log: logger, sink: sink, rec: rec,
		q: q, limiter: limiter, brk: brk, snd: snd, disp: disp, strg: strg,
		ids: idNode,
	}
}

// nodeIDFromWorkerID hashes cfg.WorkerID into the Snowflake node ID space
// (10 bits), the same fnv32a-hash-a-string-key idiom internal/store uses to
// pick a shard, so operators need not hand-assign small integers. Distinct
// WorkerID values usually map to distinct nodes, but two of them can hash to
// the same node ID.
func nodeIDFromWorkerID(workerID string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workerID))
	return int64(h.Sum32() % 1024)
}

func overflowPolicy(s string) queue.OverflowPolicy {
	if s == "reject" {
		return queue.PolicyReject
	}
	return queue.PolicyDisplace
}

// Start launches the worker pool and adaptive controller under ctx.
func (c *Core) Start(ctx context.Context) {
	c.disp.Start(ctx)
}

// Enqueue admits item into the queue, per spec.md §6. Items created by a
// caller rather than the fetcher (spec.md §3: "created by Fetcher or
// caller") may omit ID; Core mints one via its Snowflake node rather than
// rejecting for a missing field or round-tripping to Postgres for one.
func (c *Core) Enqueue(item model.Item) model.AdmissionResult {
	if item.ID == "" {
		item.ID = c.ids.GenerateString()
	}
	result := c.q.Enqueue(item)
	if result.IsAdmitted() {
		c.rec.IncAdmitted(item.Priority)
	} else {
		c.rec.IncRejected(result.Reason)
	}
	return result
}

// Stats returns a complete point-in-time snapshot, per spec.md §6.
func (c *Core) Stats() model.Snapshot {
	snap := model.NewSnapshot()
	c.rec.snapshotInto(&snap)
	snap.QueueSize = c.q.Size()
	for lane, n := range c.q.SizeByLane() {
		snap.QueueSizeByLane[lane] = n
	}
	return snap
}

// MetricsSink exposes the Prometheus scrape endpoint handler for main.go
// to serve independently of the admin HTTP surface.
func (c *Core) MetricsSink() *metrics.Sink { return c.sink }

// Shutdown closes admission, drains the queue up to ctx's deadline, and
// stops the worker pool, per spec.md §6.
func (c *Core) Shutdown(ctx context.Context) dispatcher.DrainReport {
	c.q.Close()
	return c.disp.Shutdown(ctx)
}

// meteredLimiter times each Acquire call and reports the wait to metrics,
// since internal/ratelimit itself has no metrics hook (spec.md §4.2's
// limiter is deliberately minimal — see DESIGN.md). Composing the timing
// here keeps that package free of an observability dependency it doesn't
// otherwise need.
type meteredLimiter struct {
	inner *ratelimit.Limiter
	clk   clock.Clock
	rec   *recorder
}

func (m *meteredLimiter) Acquire(endpoint string, cancel <-chan struct{}) error {
	start := m.clk.Now()
	err := m.inner.Acquire(endpoint, cancel)
	wait := m.clk.Now().Sub(start)
	m.rec.SetRateLimitWait(endpoint, wait)
	m.rec.mu.Lock()
	m.rec.rateWaitS[endpoint] = wait.Seconds()
	m.rec.mu.Unlock()
	return err
}
