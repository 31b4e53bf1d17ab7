package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/finance-metrics/metrics"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrClientNotFound is returned when a client has no metadata row.
	ErrClientNotFound = errors.New("client not found")

	// ErrUnknownCategory is returned when a category label is not recognised.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrInvalidSpec is returned for a structurally broken MetricSpec.
	ErrInvalidSpec = errors.New("invalid metric spec")

	// ErrQueryFailed wraps every data-access failure.
	ErrQueryFailed = errors.New("ledger query failed")

	// ErrUnknownAccount is returned when a fact references an account the
	// client has not registered.
	ErrUnknownAccount = errors.New("unknown account")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// QueryError reports a failed raw aggregate.
type QueryError struct {
	Client    ClientID
	Metric    metrics.Key
	Err       error
	Retryable bool
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("client %s: metric %s: %v", e.Client, e.Metric, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrQueryFailed, e.Err}
}

// NewQueryError wraps err; timeouts and cancellations are marked retryable.
func NewQueryError(client ClientID, metric metrics.Key, err error) *QueryError {
	return &QueryError{
		Client:    client,
		Metric:    metric,
		Err:       err,
		Retryable: errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionLost),
	}
}

// ErrConnectionLost is returned by readers when the backing store went away.
var ErrConnectionLost = errors.New("connection lost")

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionLost)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownCategory) || errors.Is(err, ErrUnknownAccount)
}
