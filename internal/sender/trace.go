package sender

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// traceContext is a minimal W3C traceparent carrier. Nothing in the
// retrieved corpus imports go.opentelemetry.io (goliatone-go-services'
// go.mod lists it only as an indirect transitive dependency, never
// imported from source), so rather than bring in a full tracer SDK that
// nothing else in this tree would exercise, spans are represented directly
// as the header value the wire format actually carries.
type traceContext struct {
	traceID string // 32 hex chars, fixed for the whole delivery attempt sequence
	spanID  string // 16 hex chars, regenerated per attempt (child span per retry)
}

func newTraceContext() traceContext {
	return traceContext{traceID: hexID(16), spanID: hexID(8)}
}

// child returns a new span linked to the same trace, as spec.md §4.5
// requires for each retry.
func (t traceContext) child() traceContext {
	return traceContext{traceID: t.traceID, spanID: hexID(8)}
}

// header renders the traceparent value: version-traceid-spanid-flags.
// Flags is always "01" (sampled) since every delivery attempt is traced.
func (t traceContext) header() string {
	return "00-" + t.traceID + "-" + t.spanID + "-01"
}

func hexID(n int) string {
	b := make([]byte, n)
	u := uuid.New()
	copy(b, u[:])
	if n > len(u) {
		u2 := uuid.New()
		copy(b[len(u):], u2[:n-len(u)])
	}
	return hex.EncodeToString(b)
}
