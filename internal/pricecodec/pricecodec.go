// Package pricecodec implements bidirectional fixed-point price scaling.
// Internally every price is an int64 scaled price; scale is resolved
// per-symbol from internal/symbolmeta and defaults to 10^4 when absent.
//
// Scaling uses exact rational arithmetic (math/big.Rat) rather than
// float64 multiplication so that decimal inputs never pick up binary
// floating-point drift on the inbound path.
package pricecodec

import (
	"math/big"
)

// DefaultScale is used when a symbol has no registered price_scale.
const DefaultScale int64 = 1e4

// Resolver looks up the scale factor for a symbol. internal/symbolmeta
// implements this.
type Resolver interface {
	ScaleFactor(symbol string) int64
}

// Codec scales and descales prices using a Resolver for per-symbol scale.
type Codec struct {
	resolver Resolver
}

// New builds a Codec backed by the given scale resolver.
func New(resolver Resolver) *Codec {
	return &Codec{resolver: resolver}
}

// ScaleFactor returns the resolved scale factor for symbol.
func (c *Codec) ScaleFactor(symbol string) int64 {
	sf := c.resolver.ScaleFactor(symbol)
	if sf <= 0 {
		return DefaultScale
	}
	return sf
}

// Scale converts a human-readable decimal price to a scaled integer.
// decimal is multiplied by the symbol's scale factor using exact
// rational arithmetic, then rounded to the nearest integer (half away
// from zero); this is the only rounding point on the inbound path.
func (c *Codec) Scale(symbol string, decimal float64) int64 {
	sf := c.ScaleFactor(symbol)
	r := new(big.Rat).SetFloat64(decimal)
	if r == nil {
		return 0
	}
	r.Mul(r, new(big.Rat).SetInt64(sf))
	return roundRat(r)
}

// ScaleString scales a decimal price given as a string (e.g. "100.25"),
// avoiding float64 parsing entirely; used wherever a broker payload
// supplies price as text.
func (c *Codec) ScaleString(symbol string, decimal string) (int64, bool) {
	sf := c.ScaleFactor(symbol)
	r, ok := new(big.Rat).SetString(decimal)
	if !ok {
		return 0, false
	}
	r.Mul(r, new(big.Rat).SetInt64(sf))
	return roundRat(r), true
}

// Descale converts a scaled integer back to a human-readable float64.
// Used only at external boundaries (broker SDK, UI).
func (c *Codec) Descale(symbol string, scaled int64) float64 {
	sf := c.ScaleFactor(symbol)
	r := new(big.Rat).SetFrac64(scaled, sf)
	f, _ := r.Float64()
	return f
}

// roundRat rounds a big.Rat to the nearest int64, half away from zero.
func roundRat(r *big.Rat) int64 {
	neg := r.Sign() < 0
	if neg {
		r.Neg(r)
	}
	num := new(big.Int).Set(r.Num())
	den := r.Denom()
	// floor(num/den) then check remainder*2 >= den for round-half-up.
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	rem.Mul(rem, big.NewInt(2))
	if rem.Cmp(den) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	result := q.Int64()
	if neg {
		result = -result
	}
	return result
}
