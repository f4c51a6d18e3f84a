// Package fetcher implements the Fetcher.Pull collaborator (spec.md §5): a
// cursor-driven HTTP client that pulls new items from the upstream
// feed-reader service and hands them to whatever assembles the pipeline.
// Cursor persistence lives in Redis, grounded on chinweokwu-MQueue's
// internal/prefetch's use of github.com/redis/go-redis/v9, generalized from
// a demand-driven prefetch cache to a single durable read/advance cursor.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

// Config configures a Fetcher.
type Config struct {
	BaseURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CursorKey     string
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CursorKey:      "feedrelay:fetcher:cursor",
		RequestTimeout: 10 * time.Second,
	}
}

// wireItem is the upstream feed reader's JSON item shape.
type wireItem struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Kind        string            `json:"kind"`
	Priority    string            `json:"priority"`
	Endpoint    string            `json:"endpoint"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

type pullResponse struct {
	Items      []wireItem `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// Fetcher pulls batches of items from the upstream feed reader, advancing a
// Redis-persisted cursor only once a batch has been successfully decoded.
type Fetcher struct {
	http   *http.Client
	redis  *redis.Client
	cfg    Config
	log    *log.Logger
}

func New(cfg Config, logger *log.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fetcher: base URL is required")
	}
	if cfg.CursorKey == "" {
		cfg.CursorKey = DefaultConfig().CursorKey
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Fetcher{
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		redis: rdb,
		cfg:   cfg,
		log:   logger,
	}, nil
}

// Cursor returns the last durably-advanced cursor, or "" if none has been
// recorded yet (a fresh fetcher pulls from the beginning of the feed).
func (f *Fetcher) Cursor(ctx context.Context) (string, error) {
	cursor, err := f.redis.Get(ctx, f.cfg.CursorKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetcher: read cursor: %w", err)
	}
	return cursor, nil
}

// Pull implements Fetcher.Pull(sinceCursor, max) -> (items, newCursor) from
// spec.md §5. It reads the persisted cursor itself (rather than trusting a
// caller-supplied one) so repeated calls from a restarted process are
// idempotent per the durable cursor, then advances the cursor only after a
// batch decodes successfully.
func (f *Fetcher) Pull(ctx context.Context, max int) ([]model.Item, error) {
	since, err := f.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/items", nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("since", since)
	q.Set("max", fmt.Sprintf("%d", max))
	req.URL.RawQuery = q.Encode()

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetcher: upstream returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("fetcher: decode response: %w", err)
	}

	items := make([]model.Item, 0, len(parsed.Items))
	for _, w := range parsed.Items {
		items = append(items, model.Item{
			ID:          w.ID,
			Fingerprint: w.Fingerprint,
			Kind:        model.ContentKind(w.Kind),
			Priority:    parsePriority(w.Priority),
			Endpoint:    w.Endpoint,
			Payload:     []byte(w.Payload),
			Headers:     w.Headers,
			EnqueuedAt:  w.EnqueuedAt,
		})
	}

	if parsed.NextCursor != "" && parsed.NextCursor != since {
		if err := f.redis.Set(ctx, f.cfg.CursorKey, parsed.NextCursor, 0).Err(); err != nil {
			f.log.Warnw("fetcher: failed to persist cursor, next pull may re-fetch this batch", "error", err)
		}
	}

	return items, nil
}

func parsePriority(s string) model.Priority {
	switch s {
	case "high":
		return model.PriorityHigh
	case "low":
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

// Close releases the Redis connection pool.
func (f *Fetcher) Close() error {
	return f.redis.Close()
}
