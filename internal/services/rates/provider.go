// Package rates resolves current prices for asset pairs from external feeds,
// with short-lived caching, single-flight fetches and staleness protection.
package rates

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
)

// ErrRateUnavailable is returned when no usable price can be obtained for a
// pair: provider failure, timeout, malformed or non-positive upstream data.
var ErrRateUnavailable = errors.New("rate unavailable")

// ErrPairNotSupported is returned when the provider has no market for the
// pair at all. Callers may compose a cross rate through a pivot asset instead.
var ErrPairNotSupported = errors.New("pair not supported by provider")

// Provider fetches the current price for a pair from one external feed.
type Provider interface {
	// Name identifies the feed in quotes and audit records.
	Name() string
	// FetchPrice returns the current price in quote units per base unit.
	FetchPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}
