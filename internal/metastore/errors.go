package metastore

import "errors"

var (
	// ErrNotFound marks a lookup for a document or chunk set that does
	// not exist. Reported, never retried.
	ErrNotFound = errors.New("document not found")

	// ErrStorage wraps transient database failures. The coordinator
	// treats it as retryable.
	ErrStorage = errors.New("metadata storage error")

	// ErrAlreadyProcessing means another worker holds the exclusive
	// processing claim for the source.
	ErrAlreadyProcessing = errors.New("document already being processed")
)
