package risk

import (
	"time"

	"github.com/hftplatform/engine/internal/lob"
	"github.com/hftplatform/engine/pkg/intents"
)

// BookReferencePrice adapts an *lob.Engine into the ReferencePrice
// interface: the reference for a BUY is the book's best ask (the price
// a buyer would cross against), and for a SELL it's the best bid,
// mirroring the adverse side a marketable order would actually trade
// through. A stale or one-sided book reports ok=false so price-band
// checks are skipped rather than rejecting against a stale reference.
type BookReferencePrice struct {
	engine  *lob.Engine
	maxAge  time.Duration
	nowFunc func() time.Time
}

// NewBookReferencePrice wires an *lob.Engine as the risk engine's price
// reference. maxAge bounds how stale a book may be before it's treated
// as unavailable (ok=false).
func NewBookReferencePrice(engine *lob.Engine, maxAge time.Duration) *BookReferencePrice {
	return &BookReferencePrice{engine: engine, maxAge: maxAge, nowFunc: time.Now}
}

// ReferencePrice implements risk.ReferencePrice.
func (b *BookReferencePrice) ReferencePrice(symbol string, side intents.Side) (int64, bool) {
	book := b.engine.GetBook(symbol)
	if book.IsStale(b.maxAge) {
		return 0, false
	}

	stats := book.Stats(b.nowFunc().UnixNano())
	if !stats.BothSidesPresent {
		return 0, false
	}

	if side == intents.Buy {
		return stats.BestAsk, true
	}
	return stats.BestBid, true
}
