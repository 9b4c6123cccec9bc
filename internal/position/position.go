// Package position tracks weighted-average-price positions with PnL
// realization, keyed by (account_id, strategy_id, symbol). All
// arithmetic is on scaled integers; the only division (the weighted
// average) rounds half-to-even.
package position

import (
	"sync"

	"github.com/hftplatform/engine/pkg/intents"
)

// Key identifies one position.
type Key struct {
	AccountID  string
	StrategyID string
	Symbol     string
}

// Position is the current state for one Key.
type Position struct {
	NetQty        int64 // signed
	AvgPrice      int64
	RealizedPnL   int64
	UnrealizedPnL int64
}

// Store owns every Position, one writer (ExecutionRouter), many readers
// (strategies through a read-only view).
type Store struct {
	mu        sync.RWMutex
	positions map[Key]*Position
}

// New creates an empty PositionStore.
func New() *Store {
	return &Store{positions: make(map[Key]*Position)}
}

func keyOf(fill intents.FillEvent) Key {
	return Key{AccountID: fill.AccountID, StrategyID: fill.StrategyID, Symbol: fill.Symbol}
}

// OnFill applies a fill to the relevant position and returns the
// resulting PositionDelta:
//   - same-side or opening from zero: weighted-average avg_price, net_qty accumulates.
//   - opposite-side reducing: realize PnL on the closed portion, avg_price unchanged.
//   - crossing zero: close-and-reopen; realize on the closed portion, avg_price reset to fill_price.
//   - exact zero: realize PnL, clear avg_price.
func (s *Store) OnFill(fill intents.FillEvent) intents.PositionDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(fill)
	pos, ok := s.positions[k]
	if !ok {
		pos = &Position{}
		s.positions[k] = pos
	}

	signedFillQty := fill.Qty
	if fill.Side == intents.Sell {
		signedFillQty = -fill.Qty
	}

	var realizedDelta int64
	var closedQty int64

	switch {
	case pos.NetQty == 0 || sameSign(pos.NetQty, signedFillQty):
		// Opening from zero or adding to an existing same-side position:
		// weighted average, round half-to-even to preserve sum-of-deltas.
		pos.AvgPrice = weightedAvgRoundHalfEven(pos.NetQty, pos.AvgPrice, signedFillQty, fill.Price)
		pos.NetQty += signedFillQty

	case abs64(signedFillQty) < abs64(pos.NetQty):
		// Opposite-side, reducing but not crossing zero.
		closedQty = abs64(signedFillQty)
		realizedDelta = realizedPnL(pos.NetQty, pos.AvgPrice, fill.Price, closedQty)
		pos.RealizedPnL += realizedDelta
		pos.NetQty += signedFillQty
		// avg_price unchanged.

	case abs64(signedFillQty) == abs64(pos.NetQty):
		// Exact zero: realize PnL on full closed quantity, clear avg_price.
		closedQty = abs64(pos.NetQty)
		realizedDelta = realizedPnL(pos.NetQty, pos.AvgPrice, fill.Price, closedQty)
		pos.RealizedPnL += realizedDelta
		pos.NetQty = 0
		pos.AvgPrice = 0

	default:
		// Crossing zero: close-and-reopen.
		closedQty = abs64(pos.NetQty)
		realizedDelta = realizedPnL(pos.NetQty, pos.AvgPrice, fill.Price, closedQty)
		pos.RealizedPnL += realizedDelta
		remainder := signedFillQty + pos.NetQty // signed remainder after closing
		pos.NetQty = remainder
		pos.AvgPrice = fill.Price
	}

	return intents.PositionDelta{
		AccountID:     fill.AccountID,
		StrategyID:    fill.StrategyID,
		Symbol:        fill.Symbol,
		NetQty:        pos.NetQty,
		AvgPrice:      pos.AvgPrice,
		RealizedPnL:   pos.RealizedPnL,
		ClosedQty:     closedQty,
		RealizedDelta: realizedDelta,
	}
}

// UpdateMarkToMarket sets unrealized PnL for a position given a current
// mark price, without affecting realized state.
func (s *Store) UpdateMarkToMarket(k Key, markPrice int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[k]
	if !ok || pos.NetQty == 0 {
		return
	}
	pos.UnrealizedPnL = (markPrice - pos.AvgPrice) * pos.NetQty
}

// Snapshot returns a read-only copy of one position.
func (s *Store) Snapshot(k Key) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[k]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// AllSnapshots returns a read-only copy of every tracked position,
// keyed identically; used by Reconciliation and the status API.
func (s *Store) AllSnapshots() map[Key]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = *v
	}
	return out
}

func sameSign(a, b int64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// weightedAvgRoundHalfEven computes (oldQty*oldAvg + fillQty*fillPrice) /
// (oldQty + fillQty), rounded half-to-even, operating on signed
// quantities and unsigned magnitudes consistently.
func weightedAvgRoundHalfEven(oldQty, oldAvg, fillQty, fillPrice int64) int64 {
	oldAbs := abs64(oldQty)
	fillAbs := abs64(fillQty)
	total := oldAbs + fillAbs
	if total == 0 {
		return 0
	}
	num := oldAbs*oldAvg + fillAbs*fillPrice
	return divRoundHalfEven(num, total)
}

// realizedPnL computes (fill_price - avg_price) * closed_qty, sign
// adjusted for SELL (i.e. for a position being reduced by a SELL fill,
// or a negative/short position being reduced by a BUY fill).
func realizedPnL(netQty, avgPrice, fillPrice, closedQty int64) int64 {
	if netQty > 0 {
		// Long position reduced by a sell: profit if fillPrice > avgPrice.
		return (fillPrice - avgPrice) * closedQty
	}
	// Short position reduced by a buy: profit if avgPrice > fillPrice.
	return (avgPrice - fillPrice) * closedQty
}

// divRoundHalfEven divides num/den, rounding ties to the nearest even
// integer, preserving sum(deltas) == total across many fills.
func divRoundHalfEven(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	q := num / den
	rem := num % den
	if rem == 0 {
		return q
	}
	twiceRem := rem * 2
	switch {
	case twiceRem > den:
		return q + 1
	case twiceRem < den:
		return q
	default: // exact tie: round to even
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}
