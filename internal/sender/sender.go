// Package sender implements the webhook delivery step of the pipeline:
// breaker gate, rate-limiter gate, one HTTP POST per attempt, response
// classification, and jittered-exponential retry. Grounded on
// dmitrymomot-saaskit's pkg/webhook.Sender for the attempt/classify/retry
// shape, rewired onto this tree's own breaker, rate limiter and clock
// instead of that package's in-process CircuitBreaker and time.After.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"feedrelay/internal/clock"
	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

// Doer is satisfied by *http.Client; tests substitute a fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Breaker is the subset of breaker.Registry the sender needs.
type Breaker interface {
	Allow(endpoint string) (permit bool, onResult func(success bool))
}

// RateLimiter is the subset of ratelimit.Limiter the sender needs.
type RateLimiter interface {
	Acquire(endpoint string, cancel <-chan struct{}) error
}

// Metrics receives per-attempt and per-outcome observations.
type Metrics interface {
	IncSend(endpoint, outcome string)
	IncRetry(endpoint string, attempt int)
	ObserveLatency(endpoint string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncSend(string, string)               {}
func (noopMetrics) IncRetry(string, int)                 {}
func (noopMetrics) ObserveLatency(string, time.Duration) {}

// Config holds the sender's tunables, per spec.md §4.5's defaults.
type Config struct {
	AttemptTimeout time.Duration
	MaxRetries     int
	Backoff        Backoff
}

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 10 * time.Second,
		MaxRetries:     3,
		Backoff:        DefaultBackoff(),
	}
}

// Sender delivers one Item at a time to its endpoint. Not reentrant per
// item — callers must not call Send twice concurrently for the same item.
type Sender struct {
	client  Doer
	breaker Breaker
	limiter RateLimiter
	clk     clock.Clock
	cfg     Config
	metrics Metrics
	log     *log.Logger
}

func New(client Doer, breaker Breaker, limiter RateLimiter, clk clock.Clock, cfg Config, metrics Metrics, logger *log.Logger) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Sender{client: client, breaker: breaker, limiter: limiter, clk: clk, cfg: cfg, metrics: metrics, log: logger}
}

// Send runs the full breaker/limiter/attempt/retry sequence for one item
// and returns its terminal DeliveryOutcome. cancel aborts an in-flight wait
// or sleep; an in-flight HTTP call still honors ctx's deadline.
func (s *Sender) Send(ctx context.Context, item model.Item, cancel <-chan struct{}) model.DeliveryOutcome {
	start := s.clk.Now()
	trace := newTraceContext()
	lastStatus := 0

	for attempt := 1; ; attempt++ {
		if !item.Deadline.IsZero() && s.clk.Now().After(item.Deadline) {
			s.metrics.IncSend(item.Endpoint, string(model.ErrDeadlineExceeded))
			return model.Failure(model.ErrDeadlineExceeded, attempt-1, lastStatus)
		}

		permit, onResult := s.breaker.Allow(item.Endpoint)
		if !permit {
			s.metrics.IncSend(item.Endpoint, "breaker_open")
			return model.Failure(model.ErrBreakerOpen, attempt-1, lastStatus)
		}

		if err := s.limiter.Acquire(item.Endpoint, cancel); err != nil {
			onResult(false)
			s.metrics.IncSend(item.Endpoint, "cancelled")
			return model.Failure(model.ErrShuttingDown, attempt-1, lastStatus)
		}

		trace = trace.child()
		status, kind, err := s.attempt(ctx, item, trace)
		lastStatus = status

		if err == nil {
			onResult(true)
			latency := s.clk.Now().Sub(start)
			s.metrics.IncSend(item.Endpoint, "success")
			s.metrics.ObserveLatency(item.Endpoint, latency)
			return model.Success(latency, status)
		}
		onResult(false)

		if kind.Terminal() || attempt > s.cfg.MaxRetries {
			s.metrics.IncSend(item.Endpoint, string(kind))
			if s.log != nil {
				s.log.Infow("delivery failed", "item_id", item.ID, "endpoint", item.Endpoint, "attempt", attempt, "error_kind", string(kind))
			}
			return model.Failure(kind, attempt, lastStatus)
		}

		s.metrics.IncRetry(item.Endpoint, attempt)
		delay := s.cfg.Backoff.NextInterval(attempt)
		if sleepErr := s.clk.Sleep(delay, cancel); sleepErr != nil {
			s.metrics.IncSend(item.Endpoint, "cancelled")
			return model.Failure(model.ErrShuttingDown, attempt, lastStatus)
		}
	}
}

// attempt performs one HTTP POST and classifies the outcome. err is nil
// only on a 2xx response.
func (s *Sender) attempt(ctx context.Context, item model.Item, trace traceContext) (status int, kind model.ErrorKind, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, item.Endpoint, bytes.NewReader(item.Payload))
	if buildErr != nil {
		return 0, model.ErrNetwork, buildErr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("traceparent", trace.header())
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}

	resp, doErr := s.client.Do(req)
	if doErr != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return 0, model.ErrTimeout, doErr
		}
		return 0, model.ErrNetwork, doErr
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	// 408/425/429 are excluded from client_4xx (spec.md §7) since a slow or
	// not-yet-ready upstream may succeed on a later attempt.
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, "", nil
	case resp.StatusCode == 408:
		return resp.StatusCode, model.ErrTimeout, errStatus(resp.StatusCode)
	case resp.StatusCode == 425 || resp.StatusCode == 429:
		return resp.StatusCode, model.ErrRateLimitedUpst, errStatus(resp.StatusCode)
	case resp.StatusCode >= 500:
		return resp.StatusCode, model.ErrServer5xx, errStatus(resp.StatusCode)
	case resp.StatusCode >= 400:
		return resp.StatusCode, model.ErrClient4xx, errStatus(resp.StatusCode)
	default:
		return resp.StatusCode, model.ErrServer5xx, errStatus(resp.StatusCode)
	}
}

type statusError int

func (e statusError) Error() string { return "sender: unexpected status" }

func errStatus(code int) error { return statusError(code) }

// batchCapableHeader is the item-level flag a producer sets to advertise
// that its endpoint accepts the grouped-batch wire format instead of one
// POST per item.
const batchCapableHeader = "X-Batch-Capable"

type batchWireItem struct {
	Index   int               `json:"index"`
	ID      string            `json:"id"`
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

type batchWireRequest struct {
	Items []batchWireItem `json:"items"`
}

type batchWireResult struct {
	Index  int    `json:"index"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

type batchWireResponse struct {
	Results []batchWireResult `json:"results"`
}

// SendBatch delivers items grouped by endpoint. Endpoints whose items all
// carry the batch-capable header are sent as one HTTP POST per endpoint;
// everything else falls back to one Send call per item. The returned slice
// is positional with items. Unlike Send, a batch POST is attempted once —
// it does not retry internally; a failed or partially-failed batch relies
// on the caller re-enqueuing the still-failed items for their own retry.
func (s *Sender) SendBatch(ctx context.Context, items []model.Item, cancel <-chan struct{}) []model.DeliveryOutcome {
	outcomes := make([]model.DeliveryOutcome, len(items))

	byEndpoint := make(map[string][]int)
	order := make([]string, 0)
	for i, item := range items {
		if _, seen := byEndpoint[item.Endpoint]; !seen {
			order = append(order, item.Endpoint)
		}
		byEndpoint[item.Endpoint] = append(byEndpoint[item.Endpoint], i)
	}

	for _, endpoint := range order {
		indices := byEndpoint[endpoint]
		group := make([]model.Item, len(indices))
		for gi, oi := range indices {
			group[gi] = items[oi]
		}

		var results []model.DeliveryOutcome
		if allBatchCapable(group) {
			results = s.sendBatchToEndpoint(ctx, endpoint, group, cancel)
		} else {
			results = make([]model.DeliveryOutcome, len(group))
			for gi, item := range group {
				results[gi] = s.Send(ctx, item, cancel)
			}
		}

		for gi, oi := range indices {
			outcomes[oi] = results[gi]
		}
	}

	return outcomes
}

func allBatchCapable(items []model.Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Headers[batchCapableHeader] != "true" {
			return false
		}
	}
	return true
}

// sendBatchToEndpoint runs one breaker/limiter-gated POST carrying every
// item in group, then classifies the response per positional index. If the
// server returns no per-item indices, spec's chosen policy applies: the
// whole batch is treated as failed and every item is returned Failed, for
// the caller to retry individually; nothing is retried here.
func (s *Sender) sendBatchToEndpoint(ctx context.Context, endpoint string, group []model.Item, cancel <-chan struct{}) []model.DeliveryOutcome {
	start := s.clk.Now()
	outcomes := make([]model.DeliveryOutcome, len(group))

	permit, onResult := s.breaker.Allow(endpoint)
	if !permit {
		s.metrics.IncSend(endpoint, "breaker_open")
		for i := range outcomes {
			outcomes[i] = model.Failure(model.ErrBreakerOpen, 0, 0)
		}
		return outcomes
	}

	if err := s.limiter.Acquire(endpoint, cancel); err != nil {
		onResult(false)
		s.metrics.IncSend(endpoint, "cancelled")
		for i := range outcomes {
			outcomes[i] = model.Failure(model.ErrShuttingDown, 0, 0)
		}
		return outcomes
	}

	status, results, err := s.batchAttempt(ctx, endpoint, group)
	if err != nil {
		onResult(false)
		s.metrics.IncSend(endpoint, "network")
		for i := range outcomes {
			outcomes[i] = model.Failure(model.ErrNetwork, 1, status)
		}
		return outcomes
	}

	if len(results) == 0 {
		// No per-item indices: whole batch failed; each item is left for
		// the caller to retry on its own next attempt.
		onResult(false)
		s.metrics.IncSend(endpoint, "batch_no_indices")
		for i := range outcomes {
			outcomes[i] = model.Failure(model.ErrServer5xx, 1, status)
		}
		return outcomes
	}

	byIndex := make(map[int]batchWireResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}

	anySuccess := false
	latency := s.clk.Now().Sub(start)
	for i := range group {
		r, ok := byIndex[i]
		if !ok {
			outcomes[i] = model.Failure(model.ErrServer5xx, 1, status)
			continue
		}
		if r.Status >= 200 && r.Status < 300 {
			anySuccess = true
			outcomes[i] = model.Success(latency, r.Status)
			s.metrics.IncSend(endpoint, "success")
			continue
		}
		kind := classifyStatus(r.Status)
		outcomes[i] = model.Failure(kind, 1, r.Status)
		s.metrics.IncSend(endpoint, string(kind))
	}
	onResult(anySuccess)

	return outcomes
}

func classifyStatus(status int) model.ErrorKind {
	switch {
	case status == 408:
		return model.ErrTimeout
	case status == 425 || status == 429:
		return model.ErrRateLimitedUpst
	case status >= 500:
		return model.ErrServer5xx
	case status >= 400:
		return model.ErrClient4xx
	default:
		return model.ErrServer5xx
	}
}

// batchAttempt performs the single grouped POST. A non-empty results slice
// requires the server to have returned per-item positional indices.
func (s *Sender) batchAttempt(ctx context.Context, endpoint string, group []model.Item) (status int, results []batchWireResult, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	wireItems := make([]batchWireItem, len(group))
	for i, item := range group {
		wireItems[i] = batchWireItem{Index: i, ID: item.ID, Payload: json.RawMessage(item.Payload), Headers: item.Headers}
	}
	body, marshalErr := json.Marshal(batchWireRequest{Items: wireItems})
	if marshalErr != nil {
		return 0, nil, marshalErr
	}

	req, buildErr := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if buildErr != nil {
		return 0, nil, buildErr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(batchCapableHeader, "true")

	resp, doErr := s.client.Do(req)
	if doErr != nil {
		return 0, nil, doErr
	}
	defer func() { _ = resp.Body.Close() }()

	var wire batchWireResponse
	limited := io.LimitReader(resp.Body, 1<<20)
	if decodeErr := json.NewDecoder(limited).Decode(&wire); decodeErr != nil {
		// Envelope didn't decode; treat as no per-item indices provided.
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, wire.Results, nil
}
