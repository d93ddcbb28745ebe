package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Outcome is the terminal state of a swap attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected"
)

// FailReason classifies why a swap attempt was rejected.
type FailReason string

const (
	// ReasonInvalidRequest malformed input, never retried.
	ReasonInvalidRequest FailReason = "invalid_request"
	// ReasonRateUnavailable upstream price feed failed or returned garbage;
	// safe to retry with the same idempotency key.
	ReasonRateUnavailable FailReason = "rate_unavailable"
	// ReasonInsufficientFunds business rule, terminal for this request.
	ReasonInsufficientFunds FailReason = "insufficient_funds"
	// ReasonInvalidAsset unknown asset symbol, terminal.
	ReasonInvalidAsset FailReason = "invalid_asset"
	// ReasonInternalError unexpected fault, safe to retry with the same
	// idempotency key.
	ReasonInternalError FailReason = "internal_error"
)

// Retryable reports whether a request that failed for this reason may be
// re-executed under the same idempotency key.
func (r FailReason) Retryable() bool {
	return r == ReasonRateUnavailable || r == ReasonInternalError
}

// SwapRequest is a user's intent to convert FromAmount of FromAsset into
// ToAsset at the current market rate.
type SwapRequest struct {
	UserID         string          `json:"user_id"`
	FromAsset      string          `json:"from_asset"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToAsset        string          `json:"to_asset"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Normalize canonicalizes asset symbols in place.
func (r *SwapRequest) Normalize() {
	r.FromAsset = NormalizeAsset(r.FromAsset)
	r.ToAsset = NormalizeAsset(r.ToAsset)
}

// Validate checks the request locally, without touching rates or balances.
func (r *SwapRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if !ValidAsset(r.FromAsset) {
		return errors.Errorf("invalid source asset %q", r.FromAsset)
	}
	if !ValidAsset(r.ToAsset) {
		return errors.Errorf("invalid target asset %q", r.ToAsset)
	}
	if r.FromAsset == r.ToAsset {
		return errors.New("cannot swap an asset for itself")
	}
	if !r.FromAmount.IsPositive() {
		return errors.Errorf("amount must be positive, got %s", r.FromAmount.String())
	}
	return nil
}

// SwapRecord is the immutable audit record of one swap attempt, succeeded or
// rejected. Corrections are new compensating records, never edits.
type SwapRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	FromAsset      string          `json:"from_asset"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToAsset        string          `json:"to_asset"`
	ToAmount       decimal.Decimal `json:"to_amount"`
	Rate           RateQuote       `json:"rate"`
	Precision      int32           `json:"precision"`
	Outcome        Outcome         `json:"outcome"`
	Reason         FailReason      `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	// Balances is the post-transfer snapshot of the two touched balances
	// (string-encoded decimals so history survives precision changes).
	Balances       map[string]string `json:"balances,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Succeeded reports whether the attempt completed the transfer.
func (r *SwapRecord) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// String returns a human-readable representation.
func (r *SwapRecord) String() string {
	if r.Succeeded() {
		return fmt.Sprintf("swap %s %s -> %s %s @ %s",
			r.FromAmount.String(), r.FromAsset, r.ToAmount.String(), r.ToAsset, r.Rate.Price.String())
	}
	return fmt.Sprintf("swap %s %s -> %s rejected: %s",
		r.FromAmount.String(), r.FromAsset, r.ToAsset, r.Reason)
}
