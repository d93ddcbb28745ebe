package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
)

const defaultCoingeckoBaseURL = "https://api.coingecko.com/api/v3"

// coinIDs maps asset symbols to CoinGecko coin identifiers.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"DOGE":  "dogecoin",
	"XRP":   "ripple",
	"SOL":   "solana",
	"ADA":   "cardano",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"DOT":   "polkadot",
}

// vsCurrencies is the subset of CoinGecko vs_currencies we quote against.
var vsCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
	"JPY": {},
	"RUB": {},
	"BTC": {},
	"ETH": {},
}

// CoingeckoProvider fetches spot prices from the CoinGecko public API.
// It supports pairs whose base is a known coin and whose quote is a
// vs-currency (fiat or BTC/ETH).
type CoingeckoProvider struct {
	baseURL string
	client  *http.Client
}

// NewCoingeckoProvider creates a CoinGecko provider. An empty baseURL selects
// the public API endpoint.
func NewCoingeckoProvider(baseURL string, client *http.Client) *CoingeckoProvider {
	if baseURL == "" {
		baseURL = defaultCoingeckoBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoingeckoProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name identifies the feed in quotes and audit records.
func (p *CoingeckoProvider) Name() string {
	return "coingecko"
}

// Supports reports whether the provider has a direct market for the pair.
func (p *CoingeckoProvider) Supports(pair domain.Pair) bool {
	_, baseOK := coinIDs[pair.Base]
	_, quoteOK := vsCurrencies[pair.Quote]
	return baseOK && quoteOK
}

// FetchPrice queries /simple/price for the pair.
func (p *CoingeckoProvider) FetchPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	coinID, ok := coinIDs[pair.Base]
	if !ok {
		return decimal.Decimal{}, errors.Wrap(ErrPairNotSupported, pair.String())
	}
	if _, ok := vsCurrencies[pair.Quote]; !ok {
		return decimal.Decimal{}, errors.Wrap(ErrPairNotSupported, pair.String())
	}
	vs := strings.ToLower(pair.Quote)

	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", vs)
	reqURL := fmt.Sprintf("%s/simple/price?%s", p.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "build coingecko request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "coingecko request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.Errorf("coingecko returned status %d for %s", resp.StatusCode, pair.String())
	}

	// json.Number keeps the upstream decimal representation intact.
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "decode coingecko response")
	}

	raw, ok := payload[coinID][vs]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("coingecko response is missing price for %s", pair.String())
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "malformed coingecko price %q", raw.String())
	}
	return price, nil
}
