package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/dispatcher"
	"feedrelay/internal/log"
	"feedrelay/internal/model"
	"feedrelay/internal/store"
)

const testSecret = "test-secret"

type fakeCore struct {
	snap model.Snapshot
}

func (f *fakeCore) Stats() model.Snapshot { return f.snap }
func (f *fakeCore) Shutdown(ctx context.Context) dispatcher.DrainReport {
	return dispatcher.DrainReport{}
}

type fakeDLQ struct {
	entries []store.DeadLetterEntry
	deleted []string
}

func (f *fakeDLQ) List(ctx context.Context, endpoint string, limit int) ([]store.DeadLetterEntry, error) {
	return f.entries, nil
}

func (f *fakeDLQ) Delete(ctx context.Context, endpoint, itemID string) error {
	f.deleted = append(f.deleted, endpoint+"|"+itemID)
	return nil
}

func newTestRouter() (*chi.Mux, *fakeCore, *fakeDLQ) {
	r := chi.NewRouter()
	core := &fakeCore{snap: model.NewSnapshot()}
	dlq := &fakeDLQ{entries: []store.DeadLetterEntry{{ItemID: "1", Endpoint: "http://ep"}}}
	SetupRouter(r, testSecret, core, dlq, log.NewNop())
	return r, core, dlq
}

func signedToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	r, _, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatsRequiresBearerToken(t *testing.T) {
	r, _, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatsWithValidTokenReturnsSnapshot(t *testing.T) {
	r, _, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDLQListAndDelete(t *testing.T) {
	r, _, dlq := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/dlq?endpoint=http://ep", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	del := httptest.NewRequest(http.MethodPost, "/dlq/delete", strings.NewReader(`{"endpoint":"http://ep","item_id":"1"}`))
	del.Header.Set("Authorization", "Bearer "+signedToken(t))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, del)
	require.Equal(t, http.StatusOK, w2.Code)
	require.Equal(t, []string{"http://ep|1"}, dlq.deleted)
}
