//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_records (
	id SERIAL PRIMARY KEY,
	item_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status_code INT NOT NULL,
	error_kind TEXT NOT NULL,
	attempts INT NOT NULL,
	latency_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS dead_letter (
	id SERIAL PRIMARY KEY,
	item_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	payload BYTEA,
	headers JSONB,
	last_error TEXT NOT NULL,
	attempts INT NOT NULL,
	moved_at TIMESTAMPTZ NOT NULL
);
`

func setupTestDB(ctx context.Context) (string, func(), error) {
	if url := os.Getenv("TEST_DB_URL"); url != "" {
		return url, func() {}, nil
	}
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15"),
		postgres.WithDatabase("feedrelay"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("securepassword"),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres container: %w", err)
	}
	dbURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", nil, fmt.Errorf("connection string: %w", err)
	}
	return dbURL, func() { _ = pgContainer.Terminate(ctx) }, nil
}

func TestStoreRecordAndDLQIntegration(t *testing.T) {
	ctx := context.Background()
	dbURL, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	s, err := NewStore([]string{dbURL}, log.NewNop())
	require.NoError(t, err)

	db, err := s.shards.dbFor("http://ep")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)

	item := model.Item{ID: "1", Endpoint: "http://ep", Fingerprint: "fp1", Payload: []byte(`{}`)}
	require.NoError(t, s.Record(ctx, item, model.Success(10*time.Millisecond, 200)))

	failing := model.Item{ID: "2", Endpoint: "http://ep", Fingerprint: "fp2", Payload: []byte(`{}`)}
	require.NoError(t, s.Record(ctx, failing, model.Failure(model.ErrClient4xx, 1, 400)))

	// A retryable kind that exhausted its retry budget is still Failed and
	// must reach the DLQ, even though ErrServer5xx.Terminal() is false.
	exhausted := model.Item{ID: "3", Endpoint: "http://ep", Fingerprint: "fp3", Payload: []byte(`{}`)}
	require.NoError(t, s.Record(ctx, exhausted, model.Failure(model.ErrServer5xx, 4, 503)))

	entries, err := s.DLQ().List(ctx, "http://ep", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	ids := []string{entries[0].ItemID, entries[1].ItemID}
	require.ElementsMatch(t, []string{"2", "3"}, ids)
}
