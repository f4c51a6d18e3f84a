package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/clock"
	"feedrelay/internal/model"
)

func newTestQueue(t *testing.T, cfg Config) (*Queue, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	return New(cfg, fc, nil), fc
}

func item(id string, p model.Priority) model.Item {
	return model.Item{ID: id, Fingerprint: id, Kind: model.ContentArticle, Priority: p, Endpoint: "https://example.test/hook", Payload: []byte(`{}`)}
}

func TestEnqueueDequeueStrictPriority(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})

	require.True(t, q.Enqueue(item("h", model.PriorityHigh)).IsAdmitted())
	require.True(t, q.Enqueue(item("n1", model.PriorityNormal)).IsAdmitted())
	require.True(t, q.Enqueue(item("n2", model.PriorityNormal)).IsAdmitted())

	batch, err := q.DequeueBatch(10, nil)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "h", batch[0].ID)
	assert.Equal(t, "n1", batch[1].ID)
	assert.Equal(t, "n2", batch[2].ID)
}

func TestDedupRejectsWhileQueued(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})

	require.True(t, q.Enqueue(item("x", model.PriorityNormal)).IsAdmitted())
	res := q.Enqueue(item("x", model.PriorityHigh))
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectDuplicate, res.Reason)

	// Once dequeued (and later removed on terminal completion), re-admits.
	_, err := q.DequeueBatch(1, nil)
	require.NoError(t, err)
	q.Remove("x")
	res = q.Enqueue(item("x", model.PriorityHigh))
	assert.True(t, res.IsAdmitted())
}

func TestDedupRejectsWhileInFlight(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})

	require.True(t, q.Enqueue(item("x", model.PriorityNormal)).IsAdmitted())
	batch, err := q.DequeueBatch(1, nil)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// x is no longer queued but hasn't terminally completed yet: a second
	// Enqueue for the same fingerprint must still be rejected.
	res := q.Enqueue(item("x", model.PriorityHigh))
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectDuplicate, res.Reason)

	q.Remove("x")
	res = q.Enqueue(item("x", model.PriorityHigh))
	assert.True(t, res.IsAdmitted())
}

func TestEnqueueRejectsInvalidItem(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})

	missingFields := model.Item{ID: "", Fingerprint: "", Kind: model.ContentArticle, Payload: []byte(`{}`)}
	res := q.Enqueue(missingFields)
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectValidationFail, res.Reason)

	badKind := item("bad-kind", model.PriorityNormal)
	badKind.Kind = "unsupported"
	res = q.Enqueue(badKind)
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectValidationFail, res.Reason)

	oversized := item("oversized", model.PriorityNormal)
	oversized.Payload = make([]byte, model.MaxPayloadBytes+1)
	res = q.Enqueue(oversized)
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectValidationFail, res.Reason)
}

func TestOverflowDisplacePolicy(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 2, Overflow: PolicyDisplace})

	require.True(t, q.Enqueue(item("a", model.PriorityLow)).IsAdmitted())
	require.True(t, q.Enqueue(item("b", model.PriorityNormal)).IsAdmitted())

	res := q.Enqueue(item("c", model.PriorityHigh))
	require.True(t, res.IsAdmitted())
	assert.Equal(t, 2, q.Size())

	batch, err := q.DequeueBatch(2, nil)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "c", batch[0].ID)
	assert.Equal(t, "b", batch[1].ID)
}

func TestOverflowRejectPolicy(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 1, Overflow: PolicyReject})

	require.True(t, q.Enqueue(item("a", model.PriorityLow)).IsAdmitted())
	res := q.Enqueue(item("b", model.PriorityHigh))
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectQueueFull, res.Reason)
}

func TestCloseDrainsThenSentinel(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})
	require.True(t, q.Enqueue(item("a", model.PriorityHigh)).IsAdmitted())
	q.Close()

	res := q.Enqueue(item("b", model.PriorityHigh))
	require.False(t, res.IsAdmitted())
	assert.Equal(t, model.RejectShuttingDown, res.Reason)

	batch, err := q.DequeueBatch(10, nil)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	_, err = q.DequeueBatch(10, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDequeueBatchCancelled(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 10})
	cancel := make(chan struct{})
	close(cancel)

	_, err := q.DequeueBatch(10, cancel)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAgingPromotesStaleLowPriority(t *testing.T) {
	q, fc := newTestQueue(t, Config{MaxSize: 10, AgeBoostInterval: 5 * time.Second})

	require.True(t, q.Enqueue(item("low", model.PriorityLow)).IsAdmitted())
	fc.Advance(6 * time.Second)
	require.True(t, q.Enqueue(item("normal", model.PriorityNormal)).IsAdmitted())

	batch, err := q.DequeueBatch(10, nil)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	// "low" aged into the normal lane and was enqueued first, so it drains
	// ahead of the freshly-admitted normal item.
	assert.Equal(t, "low", batch[0].ID)
	assert.Equal(t, "normal", batch[1].ID)
}

func TestSizeNeverExceedsBound(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxSize: 3, Overflow: PolicyDisplace})
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		q.Enqueue(item(id, model.PriorityNormal))
		assert.LessOrEqual(t, q.Size(), 3)
	}
}
