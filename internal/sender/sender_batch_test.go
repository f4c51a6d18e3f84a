package sender

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/clock"
	"feedrelay/internal/model"
)

func batchItem(id string, capable bool) model.Item {
	item := model.Item{ID: id, Endpoint: "http://upstream.example/batch", Payload: []byte(`{}`)}
	if capable {
		item.Headers = map[string]string{batchCapableHeader: "true"}
	}
	return item
}

type fakeBatchDoer struct {
	status int
	body   string
	seen   []*http.Request
}

func (f *fakeBatchDoer) Do(req *http.Request) (*http.Response, error) {
	f.seen = append(f.seen, req)
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func TestSendBatchFallsBackToPerItemWhenNotBatchCapable(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	doer := &fakeDoer{responses: []int{200, 200}}
	s := New(doer, alwaysAllowBreaker{}, immediateLimiter{}, fc, DefaultConfig(), nil, nil)

	items := []model.Item{batchItem("a", false), batchItem("b", false)}
	outcomes := s.SendBatch(context.Background(), items, nil)

	require.Len(t, outcomes, 2)
	assert.Equal(t, model.Succeeded, outcomes[0].Kind)
	assert.Equal(t, model.Succeeded, outcomes[1].Kind)
	assert.Equal(t, 2, doer.calls)
}

func TestSendBatchGroupsCapableItemsIntoOneRequest(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	body, err := json.Marshal(batchWireResponse{Results: []batchWireResult{
		{Index: 0, Status: 200},
		{Index: 1, Status: 500},
	}})
	require.NoError(t, err)
	doer := &fakeBatchDoer{status: 200, body: string(body)}
	s := New(doer, alwaysAllowBreaker{}, immediateLimiter{}, fc, DefaultConfig(), nil, nil)

	items := []model.Item{batchItem("a", true), batchItem("b", true)}
	outcomes := s.SendBatch(context.Background(), items, nil)

	require.Len(t, doer.seen, 1)
	require.Len(t, outcomes, 2)
	assert.Equal(t, model.Succeeded, outcomes[0].Kind)
	assert.Equal(t, model.Failed, outcomes[1].Kind)
	assert.Equal(t, model.ErrServer5xx, outcomes[1].ErrorKind)
}

func TestSendBatchWithNoIndicesFailsEverything(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	doer := &fakeBatchDoer{status: 200, body: `{"results":[]}`}
	s := New(doer, alwaysAllowBreaker{}, immediateLimiter{}, fc, DefaultConfig(), nil, nil)

	items := []model.Item{batchItem("a", true), batchItem("b", true)}
	outcomes := s.SendBatch(context.Background(), items, nil)

	require.Len(t, doer.seen, 1)
	for _, out := range outcomes {
		assert.Equal(t, model.Failed, out.Kind)
	}
}

func TestSendBatchBreakerOpenFailsFastWithoutHTTPCall(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	doer := &fakeBatchDoer{status: 200, body: `{}`}
	s := New(doer, denyBreaker{}, immediateLimiter{}, fc, DefaultConfig(), nil, nil)

	items := []model.Item{batchItem("a", true)}
	outcomes := s.SendBatch(context.Background(), items, nil)

	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ErrBreakerOpen, outcomes[0].ErrorKind)
	assert.Empty(t, doer.seen)
}

func TestSendBatchGroupsByEndpointSeparately(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	doer := &fakeDoer{responses: []int{200}}
	s := New(doer, alwaysAllowBreaker{}, immediateLimiter{}, fc, DefaultConfig(), nil, nil)

	a := batchItem("a", false)
	b := batchItem("b", false)
	b.Endpoint = "http://other.example/hook"
	outcomes := s.SendBatch(context.Background(), []model.Item{a, b}, nil)

	require.Len(t, outcomes, 2)
	assert.Equal(t, model.Succeeded, outcomes[0].Kind)
	assert.Equal(t, model.Succeeded, outcomes[1].Kind)
	assert.Equal(t, 2, doer.calls)
}
