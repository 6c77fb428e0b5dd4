package embedding

import "errors"

var (
	// ErrUnsupportedProvider is returned by the factory for an unknown
	// provider key. Fatal, never retried.
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")

	// ErrZeroVector marks a zero-norm vector passed to a similarity
	// computation. Cosine similarity is undefined for it.
	ErrZeroVector = errors.New("zero-norm vector")

	// ErrVectorLength marks a similarity computation over vectors of
	// different lengths.
	ErrVectorLength = errors.New("vector length mismatch")

	// ErrProvider wraps embedding-service failures and timeouts. The
	// coordinator treats it as retryable.
	ErrProvider = errors.New("embedding provider error")
)
