// Package dispatcher runs the worker pool and adaptive controller from
// spec.md §4.6: N goroutines drain the queue in batches and hand each item
// to the sender, while a periodic controller retunes batch size and worker
// count from CPU, throughput and error-rate signals. The worker-pool shape
// (context-cancelled goroutines tracked by a WaitGroup, panic-recovery per
// task) is grounded on EBal0vGG-worker-pool's WorkerPool; the ticker-driven
// controller loop is grounded on chinweokwu-MQueue's flusher/lease daemons.
package dispatcher

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"feedrelay/internal/clock"
	"feedrelay/internal/log"
	"feedrelay/internal/model"
	"feedrelay/internal/queue"
)

// Queue is the subset of *queue.Queue the dispatcher drives.
type Queue interface {
	DequeueBatch(maxN int, cancel <-chan struct{}) ([]model.Item, error)
	Remove(fingerprint string)
	Size() int
}

// Sender is the subset of *sender.Sender the dispatcher drives.
type Sender interface {
	Send(ctx context.Context, item model.Item, cancel <-chan struct{}) model.DeliveryOutcome
}

// Store is the Store.Record collaborator from spec.md §6.
type Store interface {
	Record(ctx context.Context, item model.Item, outcome model.DeliveryOutcome) error
}

// Metrics receives dispatcher-owned gauges/histograms.
type Metrics interface {
	SetActiveWorkers(n int)
	SetCurrentBatchSize(n int)
	ObserveBatchSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveWorkers(int)    {}
func (noopMetrics) SetCurrentBatchSize(int) {}
func (noopMetrics) ObserveBatchSize(int)    {}

type Config struct {
	MinBatch, MaxBatch     int
	MinWorkers, MaxWorkers int
	TargetCPUPercent       float64
	DrainSLA               time.Duration
	StoreTimeout           time.Duration
	ControllerTick         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinBatch: 10, MaxBatch: 500,
		MinWorkers: 2, MaxWorkers: 16,
		TargetCPUPercent: 70,
		DrainSLA:         30 * time.Second,
		StoreTimeout:     2 * time.Second,
		ControllerTick:   5 * time.Second,
	}
}

// DrainReport summarizes a Shutdown call.
type DrainReport struct {
	TimedOut  bool
	Remaining int
}

// Dispatcher owns the worker pool. Zero value is not usable; use New.
type Dispatcher struct {
	q       Queue
	snd     Sender
	store   Store
	metrics Metrics
	cfg     Config
	clk     clock.Clock
	cpu     CPUSampler
	log     *log.Logger

	mu             sync.Mutex
	handles        []context.CancelFunc
	workersWG      sync.WaitGroup
	rootCtx        context.Context
	rootCancel     context.CancelFunc
	controllerDone chan struct{}

	batchSize atomic.Int64

	statsMu          sync.Mutex
	sentSinceTick    int64
	erroredSinceTick int64
	lastTick         time.Time
	throughputShort  *ema
	throughputLong   *ema
	latencyEMA       *ema
}

func New(q Queue, snd Sender, store Store, metrics Metrics, cfg Config, clk clock.Clock, logger *log.Logger) *Dispatcher {
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = 10
	}
	if cfg.MaxBatch < cfg.MinBatch {
		cfg.MaxBatch = cfg.MinBatch
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.TargetCPUPercent <= 0 {
		cfg.TargetCPUPercent = 70
	}
	if cfg.DrainSLA <= 0 {
		cfg.DrainSLA = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.ControllerTick <= 0 {
		cfg.ControllerTick = 5 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	d := &Dispatcher{
		q: q, snd: snd, store: store, metrics: metrics, cfg: cfg, clk: clk, cpu: runtimeCPUSampler{}, log: logger,
		throughputShort: newEMA(0.5),
		throughputLong:  newEMA(0.1),
		latencyEMA:      newEMA(0.3),
	}
	d.batchSize.Store(int64(cfg.MinBatch))
	return d
}

// Start launches the initial worker pool and the adaptive controller under
// ctx. It returns immediately; call Shutdown to drain and stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.rootCtx, d.rootCancel = context.WithCancel(ctx)
	d.controllerDone = make(chan struct{})
	d.statsMu.Lock()
	d.lastTick = d.clk.Now()
	d.statsMu.Unlock()

	d.reconcile(d.cfg.MinWorkers)

	go func() {
		defer close(d.controllerDone)
		d.controllerLoop(d.rootCtx)
	}()
}

// Shutdown drains the queue up to ctx's deadline, then cancels outstanding
// sends and waits for workers to exit. The controller is stopped either
// way once the workers are done, since it has nothing left to tune.
func (d *Dispatcher) Shutdown(ctx context.Context) DrainReport {
	workersDone := make(chan struct{})
	go func() {
		d.workersWG.Wait()
		close(workersDone)
	}()

	var timedOut bool
	select {
	case <-workersDone:
	case <-ctx.Done():
		timedOut = true
		d.rootCancel()
		<-workersDone
	}

	d.rootCancel()
	<-d.controllerDone
	return DrainReport{TimedOut: timedOut, Remaining: d.q.Size()}
}

func (d *Dispatcher) reconcile(desired int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := len(d.handles)
	if desired > current {
		for i := 0; i < desired-current; i++ {
			wctx, cancel := context.WithCancel(d.rootCtx)
			d.handles = append(d.handles, cancel)
			d.workersWG.Add(1)
			go d.worker(wctx)
		}
	} else if desired < current {
		toCancel := d.handles[desired:]
		d.handles = d.handles[:desired]
		for _, c := range toCancel {
			c()
		}
	}
	d.metrics.SetActiveWorkers(len(d.handles))
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.workersWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batchSize := int(d.batchSize.Load())
		if batchSize <= 0 {
			batchSize = 1
		}
		items, err := d.q.DequeueBatch(batchSize, ctx.Done())
		if len(items) > 0 {
			d.metrics.ObserveBatchSize(len(items))
			for _, it := range items {
				d.handleItem(ctx, it)
			}
		}
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return
			}
			// ErrCancelled or any other terminal wait error: stop this worker.
			return
		}
	}
}

func (d *Dispatcher) handleItem(ctx context.Context, item model.Item) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("worker recovered from panic handling item", "item_id", item.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := d.clk.Now()
	outcome := d.snd.Send(ctx, item, ctx.Done())
	d.recordStats(outcome, d.clk.Now().Sub(start))
	d.q.Remove(item.Fingerprint)

	storeCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StoreTimeout)
	defer cancel()
	if err := d.store.Record(storeCtx, item, outcome); err != nil {
		d.log.Warnw("store record failed, continuing", "item_id", item.ID, "endpoint", item.Endpoint, "error", err)
	}
}

func (d *Dispatcher) recordStats(outcome model.DeliveryOutcome, latency time.Duration) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.sentSinceTick++
	if outcome.Kind == model.Failed {
		d.erroredSinceTick++
	}
	d.latencyEMA.update(latency.Seconds())
}

func (d *Dispatcher) controllerLoop(ctx context.Context) {
	for {
		if err := d.clk.Sleep(d.cfg.ControllerTick, ctx.Done()); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.tick()
	}
}

// tick applies the cpuFactor/errorFactor/trendFactor formulas from
// spec.md §4.6 and reconciles the worker pool to the new target.
func (d *Dispatcher) tick() {
	d.statsMu.Lock()
	sent := d.sentSinceTick
	errored := d.erroredSinceTick
	elapsed := d.clk.Now().Sub(d.lastTick)
	d.sentSinceTick, d.erroredSinceTick = 0, 0
	d.lastTick = d.clk.Now()

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(sent) / elapsed.Seconds()
	}
	shortEMA := d.throughputShort.update(throughput)
	longEMA := d.throughputLong.update(throughput)

	// sent counts every finished item, failed ones included.
	errorRate := 0.0
	if sent > 0 {
		errorRate = float64(errored) / float64(sent)
	}
	avgLatency := d.latencyEMA.get()
	d.statsMu.Unlock()

	cpuPct := d.cpu.Percent()
	cpuFactor := 1.0
	if cpuPct > 0 {
		cpuFactor = clamp(d.cfg.TargetCPUPercent/cpuPct, 0.5, 2.0)
	}
	errorFactor := 1 / (1 + errorRate*10)
	trendFactor := 1.0
	if longEMA > 0 {
		trendFactor = clamp(shortEMA/longEMA, 0.7, 1.3)
	}

	currentBatch := float64(d.batchSize.Load())
	newBatch := int(math.Round(currentBatch * cpuFactor * errorFactor * trendFactor))
	newBatch = clamp(newBatch, d.cfg.MinBatch, d.cfg.MaxBatch)
	d.batchSize.Store(int64(newBatch))
	d.metrics.SetCurrentBatchSize(newBatch)

	d.mu.Lock()
	currentWorkers := len(d.handles)
	d.mu.Unlock()
	newWorkers := int(math.Round(float64(currentWorkers) * cpuFactor))
	newWorkers = clamp(newWorkers, d.cfg.MinWorkers, d.cfg.MaxWorkers)

	// Never shrink below what's needed to drain the current backlog within
	// drainSLA, given the observed average per-item latency.
	if avgLatency > 0 {
		itemsPerWorkerPerSLA := d.cfg.DrainSLA.Seconds() / avgLatency
		if itemsPerWorkerPerSLA > 0 {
			required := int(math.Ceil(float64(d.q.Size()) / itemsPerWorkerPerSLA))
			newWorkers = clamp(max(newWorkers, required), d.cfg.MinWorkers, d.cfg.MaxWorkers)
		}
	}

	d.reconcile(newWorkers)
}
