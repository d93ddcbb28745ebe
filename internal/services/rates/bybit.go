package rates

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
)

// bybitParamError is the retCode Bybit answers with for an unknown symbol.
const bybitParamError = 10001

// BybitProvider fetches spot prices from the Bybit V5 market API.
type BybitProvider struct {
	client *bybit.Client
}

// NewBybitProvider creates a provider backed by the Bybit public API.
func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client}
}

// Name identifies the feed in quotes and audit records.
func (p *BybitProvider) Name() string {
	return "bybit"
}

// FetchPrice fetches the last spot price for the pair symbol.
// A pair Bybit has no market for surfaces as ErrPairNotSupported so the
// caller can fall back to a pivot-composed rate.
func (p *BybitProvider) FetchPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	symbol := bybit.SymbolV5(pair.Symbol())

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Decimal{}, classifyBybitErr(err, pair)
	}

	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, errors.Wrap(ErrPairNotSupported, pair.String())
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// classifyBybitErr maps the exchange's unknown-symbol rejection to
// ErrPairNotSupported; any other failure stays a transient fetch error.
func classifyBybitErr(err error, pair domain.Pair) error {
	if apiErr, ok := err.(*bybit.ErrorResponse); ok && apiErr.RetCode == bybitParamError {
		return errors.Wrap(ErrPairNotSupported, pair.String())
	}
	return errors.Wrapf(err, "bybit tickers for %s", pair.String())
}
