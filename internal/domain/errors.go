package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoHealthyEndpoint   = errors.New("no healthy endpoint")
	ErrStalePrice          = errors.New("price sample too old")
	ErrRateLimited         = errors.New("rate limited")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	ErrSigningFailed       = errors.New("signing failed")
	ErrPositionClosed      = errors.New("position already closed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrSlippageExceeded    = errors.New("quote deviates beyond slippage tolerance")
	ErrTxFailed            = errors.New("transaction failed on chain")
	ErrLockHeld            = errors.New("lock already held")
)

// RemoteError is an explicit refusal from an API host. Retryable marks
// conditions (rate limits, 5xx) that may succeed on another host or a later
// attempt; a non-retryable remote error fails the operation immediately.
type RemoteError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote rejected (status %d): %s", e.Status, e.Message)
}

// Retryable reports whether err may succeed on another attempt or host.
// Transport-level errors (anything that is not an explicit remote refusal)
// are always retryable.
func Retryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}

// ExhaustedError is returned when every retry attempt of an operation failed.
// It carries the number of attempts made and the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// RejectReason is a machine-readable code attached to a risk rejection.
type RejectReason string

const (
	RejectInsufficientFunds  RejectReason = "insufficient_funds"
	RejectLiquidityTooLow    RejectReason = "liquidity_too_low"
	RejectPriceImpactTooHigh RejectReason = "price_impact_too_high"
	RejectTokenUntrusted     RejectReason = "token_untrusted"
	RejectStalePrice         RejectReason = "stale_price"
)

// ValidationError is a failed risk check. It is never retried automatically;
// the orchestrator either discards or defers the signal that caused it.
type ValidationError struct {
	Reason RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trade rejected (%s): %s", e.Reason, e.Detail)
}

// RejectReasonOf extracts the rejection code from err, or "" when err is not
// a validation failure.
func RejectReasonOf(err error) RejectReason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
