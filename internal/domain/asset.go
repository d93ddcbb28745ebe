package domain

import "strings"

// assetPrecision lists display precision per asset: converted amounts are
// rounded down to this many decimal places before crediting.
var assetPrecision = map[string]int32{
	"BTC":  8,
	"ETH":  8,
	"SOL":  9,
	"BNB":  8,
	"XRP":  6,
	"ADA":  6,
	"DOGE": 8,
	"DOT":  10,
	"LTC":  8,
	"USDT": 6,
	"USDC": 6,
}

// fiatAssets are quoted with 2 decimal places.
var fiatAssets = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
	"RUB": {},
	"JPY": {},
}

const defaultPrecision = int32(8)

// NormalizeAsset canonicalizes an asset symbol: trimmed, upper-case.
func NormalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidAsset reports whether the normalized symbol is well-formed: 2 to 10
// alphanumeric characters. Unknown but well-formed symbols are accepted, the
// rate source decides whether they can actually be priced.
func ValidAsset(symbol string) bool {
	if len(symbol) < 2 || len(symbol) > 10 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// IsFiat reports whether the symbol names a fiat currency.
func IsFiat(symbol string) bool {
	_, ok := fiatAssets[NormalizeAsset(symbol)]
	return ok
}

// AssetPrecision returns how many decimal places amounts of the asset keep.
func AssetPrecision(symbol string) int32 {
	symbol = NormalizeAsset(symbol)
	if IsFiat(symbol) {
		return 2
	}
	if p, ok := assetPrecision[symbol]; ok {
		return p
	}
	return defaultPrecision
}
