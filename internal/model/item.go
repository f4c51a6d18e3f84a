// Package model holds the data types and error taxonomy shared by the
// queue, sender and dispatcher, so no package imports another package's
// internals just to pass a value around.
package model

import "time"

// ContentKind tags what an Item's payload represents.
type ContentKind string

const (
	ContentArticle ContentKind = "article"
	ContentVideo   ContentKind = "video"
	ContentSocial  ContentKind = "social"
)

// Priority is delivery priority. Lower numeric value delivers first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Item is one unit of content flowing through the pipeline. The queue owns
// an Item exclusively while it is queued; the dispatcher holds transient
// exclusive ownership while it is in-flight.
type Item struct {
	ID          string
	Fingerprint string
	Kind        ContentKind
	Priority    Priority
	Endpoint    string
	Payload     []byte
	Headers     map[string]string
	EnqueuedAt  time.Time

	// Attempts is strictly monotonic within the item's lifetime; only the
	// dispatcher mutates it.
	Attempts  int
	LastError *ErrorKind

	// Deadline is the optional global item deadline (§5). Zero means none.
	Deadline time.Time
}

// MaxPayloadBytes bounds Item.Payload. Oversize payloads are rejected at
// admission with validation_failed (spec.md §7), the same shape as the
// title/brief length caps original_source/feed_processor/models.py enforces
// on its own inbound records, generalized here to one bound on the whole
// payload rather than per-field caps.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// Valid reports whether it carries the required fields from spec.md §3 (id,
// fingerprint, a recognized content-kind, payload) within the size bound.
// It does not validate Endpoint or Priority: an empty Priority is the valid
// zero value (PriorityHigh), and a bad Endpoint already surfaces as a
// terminal delivery outcome rather than an admission rejection.
func (it Item) Valid() bool {
	if it.ID == "" || it.Fingerprint == "" || len(it.Payload) == 0 {
		return false
	}
	switch it.Kind {
	case ContentArticle, ContentVideo, ContentSocial:
	default:
		return false
	}
	return len(it.Payload) <= MaxPayloadBytes
}

// Clone returns a shallow copy safe to hand to a different goroutine
// without racing on Attempts/LastError mutation.
func (it Item) Clone() Item {
	cp := it
	if it.Headers != nil {
		cp.Headers = make(map[string]string, len(it.Headers))
		for k, v := range it.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}
