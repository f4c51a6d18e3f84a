package store

import (
	"context"
	"encoding/json"
	"time"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

// Store implements the Store.Record collaborator (spec.md §6): a
// best-effort, sharded write of the final delivery outcome for one item.
// Failures are returned to the caller and never retried (see DESIGN.md's
// Open Question resolution); the dispatcher logs them and continues,
// matching the teacher's "log and continue" stance in its worker loop. No
// failure counter is kept.
type Store struct {
	shards *shardSet
	dlq    *DLQ
	log    *log.Logger
}

func NewStore(dbURLs []string, logger *log.Logger) (*Store, error) {
	shards, err := newShardSet(dbURLs, logger)
	if err != nil {
		return nil, err
	}
	return &Store{shards: shards, dlq: &DLQ{shards: shards, log: logger}, log: logger}, nil
}

// Monitor runs the shard health-check loop until ctx is cancelled.
func (s *Store) Monitor(ctx context.Context, interval time.Duration) {
	s.shards.monitor(ctx, interval)
}

func (s *Store) DLQ() *DLQ { return s.dlq }

// Record persists item's terminal DeliveryOutcome and archives every
// Failed outcome to the dead-letter table, mirroring the teacher's
// RetryManager -> MoveToDLQ path, which moves an item on retry-count
// exhaustion alone with no error-kind distinction: Sender.Send only ever
// returns Failed once it has permanently given up, whether because the
// kind was terminal (client_4xx, validation_failed, deadline_exceeded) or
// because retries were exhausted on a retryable kind (server_5xx, timeout,
// network, rate_limited_upstream), so every Failed outcome belongs in the
// DLQ, not just the ones classified Terminal().
func (s *Store) Record(ctx context.Context, item model.Item, outcome model.DeliveryOutcome) error {
	db, err := s.shards.dbFor(item.Endpoint)
	if err != nil {
		return err
	}

	errKind := ""
	if outcome.Kind == model.Failed {
		errKind = string(outcome.ErrorKind)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO delivery_records
			(item_id, endpoint, fingerprint, outcome, status_code, error_kind, attempts, latency_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.Endpoint, item.Fingerprint, outcomeLabel(outcome.Kind), lastStatus(outcome), errKind,
		outcome.Attempts, outcome.Latency.Milliseconds(), time.Now().UTC())
	if err != nil {
		return err
	}

	if outcome.Kind == model.Failed {
		return s.dlq.Move(ctx, item, outcome)
	}
	return nil
}

func outcomeLabel(k model.OutcomeKind) string {
	switch k {
	case model.Succeeded:
		return "succeeded"
	case model.Dropped:
		return "dropped"
	default:
		return "failed"
	}
}

func lastStatus(o model.DeliveryOutcome) int {
	if o.Kind == model.Succeeded {
		return o.StatusCode
	}
	return o.LastStatus
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}
