package rates

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
)

// binanceInvalidSymbol is the API error code for a symbol with no market.
const binanceInvalidSymbol = -1121

// BinanceProvider fetches real market prices from the Binance public API
// without requiring authentication.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider creates a provider backed by the Binance public API.
func NewBinanceProvider(client *binance.Client) *BinanceProvider {
	return &BinanceProvider{client: client}
}

// Name identifies the feed in quotes and audit records.
func (p *BinanceProvider) Name() string {
	return "binance"
}

// FetchPrice fetches the current market price for the pair symbol.
// A pair Binance has no market for surfaces as ErrPairNotSupported so the
// caller can fall back to a pivot-composed rate.
func (p *BinanceProvider) FetchPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	prices, err := p.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, classifyBinanceErr(err, pair)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Wrap(ErrPairNotSupported, pair.String())
	}

	return decimal.NewFromString(prices[0].Price)
}

// classifyBinanceErr maps the exchange's invalid-symbol rejection to
// ErrPairNotSupported; any other failure stays a transient fetch error.
func classifyBinanceErr(err error, pair domain.Pair) error {
	if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceInvalidSymbol {
		return errors.Wrap(ErrPairNotSupported, pair.String())
	}
	return errors.Wrapf(err, "binance prices for %s", pair.String())
}
