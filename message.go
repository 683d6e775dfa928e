package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Record is one ingested item: an arbitrary key-value payload. A record must
// carry a stable "id" field to be storable; records without one are dropped
// by the Store.
type Record map[string]any

// ID returns the record's identity normalized to a string. Numeric ids and
// string ids that denote the same value map to the same identity, so a
// record re-ingested through a different decoder still deduplicates.
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case json.Number:
		return id.String(), true
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

// Metadata travels with every message and threads the correlation id from
// the adapter that produced the batch through to the store.
type Metadata struct {
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlationId"`
	Timestamp     time.Time         `json:"timestamp"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Message is the envelope traveling the broker. It is owned by the broker
// from publish until the handler succeeds or the message is dead-lettered;
// Attempts is mutated only by the broker's delivery loop.
type Message struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic"`
	Body     []Record `json:"body"`
	Metadata Metadata `json:"metadata"`
	Attempts int      `json:"attempts"`
}

// clone returns a deep copy of the message, detaching the body records and
// metadata from broker-owned state.
func (m *Message) clone() *Message {
	out := *m
	if m.Body != nil {
		out.Body = make([]Record, len(m.Body))
		for i, r := range m.Body {
			cp := make(Record, len(r))
			for k, v := range r {
				cp[k] = v
			}
			out.Body[i] = cp
		}
	}
	if m.Metadata.Extra != nil {
		extra := make(map[string]string, len(m.Metadata.Extra))
		for k, v := range m.Metadata.Extra {
			extra[k] = v
		}
		out.Metadata.Extra = extra
	}
	return &out
}

// DeadLetter is a message that exhausted its retry budget, annotated with
// the terminal error. Dead letters are retained for inspection and never
// retried automatically.
type DeadLetter struct {
	Message  *Message
	Err      error
	FailedAt time.Time
}
