package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateQuote_IsStale(t *testing.T) {
	now := time.Now()
	quote := RateQuote{FetchedAt: now.Add(-90 * time.Second)}

	assert.True(t, quote.IsStale(time.Minute, now))
	assert.False(t, quote.IsStale(2*time.Minute, now))
}

func TestComposeVia(t *testing.T) {
	now := time.Now()
	btcUSD := RateQuote{
		Pair:      NewPair("BTC", "USD"),
		Price:     decimal.NewFromInt(50000),
		FetchedAt: now.Add(-30 * time.Second),
		Source:    "coingecko",
	}
	ethUSD := RateQuote{
		Pair:      NewPair("ETH", "USD"),
		Price:     decimal.NewFromInt(2500),
		FetchedAt: now,
		Source:    "binance",
	}

	cross, err := ComposeVia(btcUSD, ethUSD)
	require.NoError(t, err)

	assert.Equal(t, NewPair("BTC", "ETH"), cross.Pair)
	assert.Equal(t, "20", cross.Price.String())
	assert.Equal(t, "coingecko+binance", cross.Source)
	// the composed quote inherits the older leg's timestamp
	assert.Equal(t, btcUSD.FetchedAt, cross.FetchedAt)
}

func TestComposeVia_PivotMismatch(t *testing.T) {
	_, err := ComposeVia(
		RateQuote{Pair: NewPair("BTC", "USD")},
		RateQuote{Pair: NewPair("ETH", "EUR"), Price: decimal.NewFromInt(1)},
	)
	assert.Error(t, err)
}

func TestComposeVia_NonPositiveLeg(t *testing.T) {
	_, err := ComposeVia(
		RateQuote{Pair: NewPair("BTC", "USD"), Price: decimal.NewFromInt(50000)},
		RateQuote{Pair: NewPair("ETH", "USD"), Price: decimal.Zero},
	)
	assert.Error(t, err)
}

func TestUnitQuote(t *testing.T) {
	q := UnitQuote("usd", time.Now())
	assert.Equal(t, "USD", q.Pair.Base)
	assert.Equal(t, "USD", q.Pair.Quote)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(1)))
}
