//go:build integration
// +build integration

package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"

	"feedrelay/internal/log"
)

func setupTestRedis(ctx context.Context) (string, func(), error) {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr, func() {}, nil
	}
	redisContainer, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7"))
	if err != nil {
		return "", nil, err
	}
	addr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		return "", nil, err
	}
	return addr, func() { _ = redisContainer.Terminate(ctx) }, nil
}

func TestFetcherPullAdvancesCursorAcrossCalls(t *testing.T) {
	ctx := context.Background()
	redisAddr, cleanup, err := setupTestRedis(ctx)
	require.NoError(t, err)
	defer cleanup()

	var seenSince []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since := r.URL.Query().Get("since")
		seenSince = append(seenSince, since)
		var resp pullResponse
		if since == "" {
			resp = pullResponse{
				Items:      []wireItem{{ID: "1", Fingerprint: "fp1", Kind: "article", Priority: "normal", Endpoint: "http://ep", Payload: json.RawMessage(`{}`)}},
				NextCursor: "cursor-1",
			}
		} else {
			resp = pullResponse{Items: nil, NextCursor: since}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	f, err := New(Config{BaseURL: server.URL, RedisAddr: redisAddr}, log.NewNop())
	require.NoError(t, err)
	defer f.Close()

	items, err := f.Pull(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "1", items[0].ID)

	cursor, err := f.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, "cursor-1", cursor)

	items2, err := f.Pull(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, items2)
	require.Equal(t, []string{"", "cursor-1"}, seenSince)
}
