// Package domain defines core data structures used throughout the swap engine.
package domain

import "fmt"

// Pair is an ordered asset pair: prices are expressed in Quote units per one
// unit of Base.
type Pair struct {
	// Base asset symbol.
	Base string
	// Quote asset symbol.
	Quote string
}

// NewPair builds a pair from raw symbols, normalizing both sides.
func NewPair(base, quote string) Pair {
	return Pair{Base: NormalizeAsset(base), Quote: NormalizeAsset(quote)}
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the concatenated symbol representation used by exchange APIs.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.Base, p.Quote)
}
