package ports

import (
	"context"
	"errors"
	"fmt"
	"net"

	"neurodiff/domain/stats"
)

// EnrichmentService runs an over-representation test of a gene symbol list
// against one gene-set database.
type EnrichmentService interface {
	// Name identifies the backend in logs and reports
	Name() string

	// Enrich returns every term of database tested against symbols. Failures
	// that may succeed on retry are wrapped with NewTransientError.
	Enrich(ctx context.Context, symbols []string, database string) ([]stats.TermHit, error)
}

// TransientError marks a failure worth retrying: network errors, rate limiting
// and server-side errors.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(statusCode int, err error) error {
	return &TransientError{StatusCode: statusCode, Err: err}
}

// IsTransient reports whether err is worth retrying. Cancellation of the
// caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
