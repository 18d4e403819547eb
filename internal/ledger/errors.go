package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHeadConflict is returned by Store.InsertEvent when another append won
// the race to extend the same batch head. The ledger retries on it.
var ErrHeadConflict = errors.New("batch head changed since it was read")

// NotFoundError signals that a referenced actor, herb, batch or product does
// not exist. It aborts the operation and is surfaced verbatim to the caller.
type NotFoundError struct {
	Resource string // "actor", "herb", "batch", "product"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// MissingFieldError signals a missing mandatory identifier on a request.
// This is the only condition under which validation rejects instead of
// recording a structured result.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// SequenceConflictError signals that concurrent appends raced to extend the
// same batch head and the bounded retry budget was exhausted.
type SequenceConflictError struct {
	BatchID  string
	Attempts int
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("concurrent append conflict on batch %s after %d attempts", e.BatchID, e.Attempts)
}

// NoEventsError signals a product operation against a batch with no chain.
type NoEventsError struct {
	BatchID string
}

func (e *NoEventsError) Error() string {
	return fmt.Sprintf("no events found for batch %s", e.BatchID)
}

// QualityGateError signals that product creation was refused because the
// batch's quality gate has not been passed.
type QualityGateError struct {
	BatchID string
	Reason  string
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("quality gate not passed for batch %s: %s", e.BatchID, e.Reason)
}

// ChainBreak describes one broken link found while walking a chain.
type ChainBreak struct {
	Index   int    // position in the ascending chain
	EventID string
	Detail  string
}

func (b ChainBreak) String() string {
	return fmt.Sprintf("event %d (%s): %s", b.Index, b.EventID, b.Detail)
}

// ChainIntegrityError signals that recomputing the chain on read did not
// reproduce the stored hashes. It is surfaced as a read-time warning rather
// than a hard failure: the underlying data stays inspectable.
type ChainIntegrityError struct {
	BatchID string
	Breaks  []ChainBreak
}

func (e *ChainIntegrityError) Error() string {
	parts := make([]string, len(e.Breaks))
	for i, b := range e.Breaks {
		parts[i] = b.String()
	}
	return fmt.Sprintf("chain integrity broken for batch %s: %s", e.BatchID, strings.Join(parts, "; "))
}
