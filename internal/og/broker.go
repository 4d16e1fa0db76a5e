package og

import (
	"context"

	"main/internal/schema"
)

// SubmitRequest is the order as handed to the broker gateway. ClientID
// travels with it so every later callback can be correlated without a
// broker-id round trip.
type SubmitRequest struct {
	ClientID string
	Symbol   schema.Symbol
	Side     schema.Side
	Qty      schema.Quantity
	Price    schema.Price
}

// Broker is the gateway capability interface. Exactly one session and
// one account sit behind it; the concrete terminal implementation is
// out of scope here.
type Broker interface {
	// Submit places the order and returns the broker-assigned id.
	// Transient failures (timeout, disconnect) are returned as plain
	// errors and retried by the executor; unrecoverable ones must be
	// wrapped with Permanent.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Cancel requests cancellation of a live order by client id.
	Cancel(ctx context.Context, clientID string) error
}

// PermanentError marks a broker hard failure (invalid symbol, account
// restriction). The executor resolves it immediately, without retries.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "broker rejected order: " + e.Reason
}

// Permanent wraps a reason as a non-retryable submission failure.
func Permanent(reason string) error {
	return &PermanentError{Reason: reason}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	for err != nil {
		if _, ok := err.(*PermanentError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
