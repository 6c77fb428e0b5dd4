package coordinator

import (
	"context"
	"errors"

	"github.com/corvid-labs/ragpipe/internal/config"
	"github.com/corvid-labs/ragpipe/internal/embedding"
	"github.com/corvid-labs/ragpipe/internal/ingest"
	"github.com/corvid-labs/ragpipe/internal/metastore"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

// ErrTaskNotFound is returned for a status query on an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// ErrQueueFull is returned when the bounded task queue cannot accept
// another submission.
var ErrQueueFull = errors.New("task queue full")

// isRetryable classifies a task failure. Provider and storage failures
// (including per-call timeouts) are transient and worth another attempt;
// configuration, validation and dimension errors can never succeed.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, embedding.ErrUnsupportedProvider),
		errors.Is(err, embedding.ErrZeroVector),
		errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, metastore.ErrNotFound):
		return false
	case errors.Is(err, embedding.ErrProvider),
		errors.Is(err, vectorstore.ErrStorage),
		errors.Is(err, metastore.ErrStorage),
		errors.Is(err, metastore.ErrAlreadyProcessing),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
