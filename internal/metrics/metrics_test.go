package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"feedrelay/internal/log"
	"feedrelay/internal/model"
)

func TestSinkRecordsAcrossCollaboratorInterfaces(t *testing.T) {
	s := NewSink(log.NewNop())

	s.IncAdmitted(model.PriorityHigh)
	s.IncRejected(model.RejectDuplicate)
	s.IncOverflow(model.PriorityLow)
	s.ObserveLaneSize(model.PriorityHigh, 3)
	s.IncSend("http://ep", "success")
	s.IncRetry("http://ep", 1)
	s.ObserveLatency("http://ep", 50*time.Millisecond)
	s.IncTransition("http://ep", model.BreakerOpen)
	s.SetActiveWorkers(4)
	s.SetCurrentBatchSize(25)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.itemsAdmitted.WithLabelValues("high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.itemsRejected.WithLabelValues("duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.overflow.WithLabelValues("low")))
	assert.Equal(t, float64(3), testutil.ToFloat64(s.queueSize.WithLabelValues("high")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.sends.WithLabelValues("http://ep", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.retries.WithLabelValues("http://ep", "1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.breakerTrans.WithLabelValues("http://ep", "open")))
	assert.Equal(t, float64(4), testutil.ToFloat64(s.activeWorkers))
	assert.Equal(t, float64(25), testutil.ToFloat64(s.currentBatch))
}
