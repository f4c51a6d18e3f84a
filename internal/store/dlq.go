package store

import (
	"context"
	"encoding/json"
	"time"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

// DeadLetterEntry is one archived permanently-failed item, grounded on
// chinweokwu-MQueue's store.DeadLetter row shape.
type DeadLetterEntry struct {
	ItemID      string
	Endpoint    string
	Fingerprint string
	Payload     []byte
	Headers     map[string]string
	LastError   string
	Attempts    int
	MovedAt     time.Time
}

// DLQ is the dead-letter collaborator, grounded on
// chinweokwu-MQueue's internal/store/diq_store.go DLQStore.
type DLQ struct {
	shards *shardSet
	log    *log.Logger
}

// Move archives a terminally-failed item for operator inspection, mirroring
// the teacher's RetryManager -> MoveToDLQ transition.
func (d *DLQ) Move(ctx context.Context, item model.Item, outcome model.DeliveryOutcome) error {
	db, err := d.shards.dbFor(item.Endpoint)
	if err != nil {
		return err
	}
	headers, err := marshalHeaders(item.Headers)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO dead_letter
			(item_id, endpoint, fingerprint, payload, headers, last_error, attempts, moved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Endpoint, item.Fingerprint, item.Payload, headers, string(outcome.ErrorKind), outcome.Attempts, time.Now().UTC())
	if err != nil {
		d.log.Errorw("failed to move item to dead letter", "item_id", item.ID, "endpoint", item.Endpoint, "error", err)
		return err
	}
	return nil
}

// List returns up to limit dead-letter entries for endpoint, oldest first.
func (d *DLQ) List(ctx context.Context, endpoint string, limit int) ([]DeadLetterEntry, error) {
	db, err := d.shards.dbFor(endpoint)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, endpoint, fingerprint, payload, headers, last_error, attempts, moved_at
		FROM dead_letter
		WHERE endpoint = $1
		ORDER BY moved_at
		LIMIT $2
	`, endpoint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DeadLetterEntry
	for rows.Next() {
		var e DeadLetterEntry
		var headers []byte
		if err := rows.Scan(&e.ItemID, &e.Endpoint, &e.Fingerprint, &e.Payload, &headers, &e.LastError, &e.Attempts, &e.MovedAt); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one dead-letter entry once an operator has replayed or
// dismissed it.
func (d *DLQ) Delete(ctx context.Context, endpoint, itemID string) error {
	db, err := d.shards.dbFor(endpoint)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM dead_letter WHERE endpoint = $1 AND item_id = $2`, endpoint, itemID)
	return err
}
