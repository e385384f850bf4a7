// Package apperrors defines the closed set of error kinds the core surfaces to
// its orchestrating UI layer (spec §7). Each kind wraps an underlying cause so
// callers can both errors.As to the kind (for the machine-readable category)
// and errors.Unwrap/errors.Is through to the cause.
package apperrors

import "fmt"

// StorageError wraps any failure of the underlying PhotoStore. Generally fatal
// to the current operation, but safe to retry.
type StorageError struct{ Cause error }

func (e *StorageError) Error() string { return fmt.Sprintf("storage error: %v", e.Cause) }
func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorage wraps err as a StorageError, or returns nil if err is nil.
func NewStorage(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Cause: err}
}

// ModelLoadError means Embedder.init failed. Surfaced to the user; retried by
// invoking the pipeline again.
type ModelLoadError struct{ Cause error }

func (e *ModelLoadError) Error() string { return fmt.Sprintf("model load error: %v", e.Cause) }
func (e *ModelLoadError) Unwrap() error { return e.Cause }

// InferenceError means a single photo's embedding failed. Logged and skipped;
// the pipeline continues.
type InferenceError struct {
	PhotoID string
	Cause   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference error for photo %s: %v", e.PhotoID, e.Cause)
}
func (e *InferenceError) Unwrap() error { return e.Cause }

// BusyError means the pipeline or grouper is already running.
type BusyError struct{ Operation string }

func (e *BusyError) Error() string { return fmt.Sprintf("%s is already running", e.Operation) }

// GroupingError means an unrecoverable failure during a grouping run. Partial
// state is discarded; photos retain groupId=null after clearGroups().
type GroupingError struct{ Cause error }

func (e *GroupingError) Error() string { return fmt.Sprintf("grouping error: %v", e.Cause) }
func (e *GroupingError) Unwrap() error { return e.Cause }

// TransportError means an HTTP/network failure talking to the remote
// auto-select collaborator. Retried with exponential backoff up to a
// configured max; surfaced as a retry/refund affordance after exceeding it.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// TamperError means the remote collaborator reports the paid amount was
// modified. Non-retryable.
type TamperError struct{ Message string }

func (e *TamperError) Error() string { return fmt.Sprintf("tamper detected: %s", e.Message) }
