package vectorstore

import "errors"

var (
	// ErrUnreachable marks a Qdrant instance that failed its startup
	// health check.
	ErrUnreachable = errors.New("qdrant server unreachable")

	// ErrDimensionMismatch marks a vector whose length violates the
	// store's fixed dimension. Fatal for the whole batch.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStorage wraps transient store failures. The coordinator treats
	// it as retryable.
	ErrStorage = errors.New("vector storage error")
)
