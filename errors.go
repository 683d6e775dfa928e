package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTopic is returned when a topic name is empty.
	ErrInvalidTopic = errors.New("ingest: invalid topic name")
	// ErrBrokerClosed is returned by operations on a closed broker.
	ErrBrokerClosed = errors.New("ingest: broker is closed")
	// ErrNoValidRecords is returned when every record in a batch was
	// filtered out by validation.
	ErrNoValidRecords = errors.New("ingest: no valid records")
)

// ValidationError rejects a batch (or payload) whose schema is malformed.
// Validation failures are never retried.
type ValidationError struct {
	CorrelationID string
	Errs          []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errs, "; "))
}

// TransientError marks a failure worth retrying: a network error or a 5xx
// response during fetch.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("transient: server returned status %d", e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// CapacityError rejects an oversized payload before any queue interaction.
type CapacityError struct {
	Size  int64
	Limit int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("payload size %d exceeds the limit of %d bytes", e.Size, e.Limit)
}
