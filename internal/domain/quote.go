package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RateQuote is a price snapshot for a pair: Price quote units per one base
// unit, the time it was fetched and the identifier of the source that
// produced it. A composed cross rate carries both legs' identifiers joined
// with "+" and the timestamp of the older leg.
type RateQuote struct {
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
}

// UnitQuote returns the identity quote for an asset against itself.
// It is used as the pivot leg when one side of a swap is the pivot asset.
func UnitQuote(asset string, now time.Time) RateQuote {
	asset = NormalizeAsset(asset)
	return RateQuote{
		Pair:      Pair{Base: asset, Quote: asset},
		Price:     decimal.NewFromInt(1),
		FetchedAt: now,
		Source:    "identity",
	}
}

// Age returns how old the quote is at the given moment.
func (q RateQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

// IsStale reports whether the quote is older than the threshold and must not
// be used to execute a swap.
func (q RateQuote) IsStale(threshold time.Duration, now time.Time) bool {
	return q.Age(now) > threshold
}

// String returns a human-readable representation.
func (q RateQuote) String() string {
	return fmt.Sprintf("%s=%s (%s)", q.Pair.String(), q.Price.String(), q.Source)
}

// ComposeVia derives a cross rate for (from.Base -> to.Base) out of two quotes
// priced against a common pivot asset. The result inherits the timestamp of
// the older leg so staleness checks cover both.
func ComposeVia(from, to RateQuote) (RateQuote, error) {
	if from.Pair.Quote != to.Pair.Quote {
		return RateQuote{}, errors.Errorf("cannot compose %s with %s: pivot mismatch",
			from.Pair.String(), to.Pair.String())
	}
	if !to.Price.IsPositive() {
		return RateQuote{}, errors.Errorf("cannot compose via %s: non-positive leg price %s",
			to.Pair.String(), to.Price.String())
	}

	fetchedAt := from.FetchedAt
	if to.FetchedAt.Before(fetchedAt) {
		fetchedAt = to.FetchedAt
	}

	return RateQuote{
		Pair:      Pair{Base: from.Pair.Base, Quote: to.Pair.Base},
		Price:     from.Price.Div(to.Price),
		FetchedAt: fetchedAt,
		Source:    from.Source + "+" + to.Source,
	}, nil
}
