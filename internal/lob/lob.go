// Package lob maintains per-symbol limit-order-book state and derived
// statistics. Books are created lazily on first event and updated by
// snapshot or incremental quote events; trade ticks only touch the
// last-traded price.
package lob

import (
	"sort"
	"sync"
	"time"

	"github.com/hftplatform/engine/pkg/events"
)

// Book holds one symbol's order-book state.
type Book struct {
	mu         sync.RWMutex
	symbol     string
	bids       map[int64]int64 // price -> volume
	asks       map[int64]int64
	version    uint64
	lastUpdate time.Time
	lastPrice  int64
}

func newBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[int64]int64),
		asks:   make(map[int64]int64),
	}
}

// Engine owns every symbol's Book, created lazily on first event.
type Engine struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// New creates an empty LOBEngine.
func New() *Engine {
	return &Engine{books: make(map[string]*Book)}
}

// GetBook returns the Book for symbol, creating it on first access.
func (e *Engine) GetBook(symbol string) *Book {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[symbol]; ok {
		return b
	}
	b = newBook(symbol)
	e.books[symbol] = b
	return b
}

// ApplyBidAsk applies a snapshot or incremental BidAskEvent to the
// relevant symbol's book. Snapshot: clear both sides, insert all levels.
// Incremental: for each level, volume==0 deletes it, else sets it.
func (e *Engine) ApplyBidAsk(ev events.BidAskEvent) {
	b := e.GetBook(ev.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.IsSnapshot {
		b.bids = make(map[int64]int64, len(ev.Bids))
		b.asks = make(map[int64]int64, len(ev.Asks))
	}
	for _, lvl := range ev.Bids {
		applyLevel(b.bids, lvl)
	}
	for _, lvl := range ev.Asks {
		applyLevel(b.asks, lvl)
	}
	b.version++
	b.lastUpdate = time.Unix(0, ev.Meta.LocalTsNs)
}

func applyLevel(side map[int64]int64, lvl events.PriceLevel) {
	if lvl.Volume == 0 {
		delete(side, lvl.Price)
		return
	}
	side[lvl.Price] = lvl.Volume
}

// ApplyTick updates the book's last-traded price. Trade ticks never
// mutate book levels.
func (e *Engine) ApplyTick(ev events.TickEvent) {
	b := e.GetBook(ev.Symbol)
	b.mu.Lock()
	b.lastPrice = ev.Price
	b.lastUpdate = time.Unix(0, ev.Meta.LocalTsNs)
	b.mu.Unlock()
}

// bestBidAsk returns best bid/ask and whether both sides are present.
// Caller must hold at least a read lock.
func (b *Book) bestBidAsk() (bestBid, bestAsk int64, bothPresent bool) {
	bestBid = findBest(b.bids, true)
	bestAsk = findBest(b.asks, false)
	bothPresent = len(b.bids) > 0 && len(b.asks) > 0
	return
}

func findBest(side map[int64]int64, wantMax bool) int64 {
	if len(side) == 0 {
		return 0
	}
	first := true
	var best int64
	for p := range side {
		if first || (wantMax && p > best) || (!wantMax && p < best) {
			best = p
			first = false
		}
	}
	return best
}

// Version returns the monotonic update counter.
func (b *Book) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// LastUpdated returns the timestamp of the book's most recent event.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// IsStale reports whether the book hasn't updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastUpdate.IsZero() {
		return true
	}
	return time.Since(b.lastUpdate) > maxAge
}

// depthAndTotal sums total volume across all levels on one side.
func depthAndTotal(side map[int64]int64) int64 {
	var total int64
	for _, v := range side {
		total += v
	}
	return total
}

// Stats computes the book's derived LOBStats. mid_price is reported via
// the events.NoMidPrice sentinel when either side is empty; never a
// silent zero.
func (b *Book) Stats(nowNs int64) events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bestBid, bestAsk, bothPresent := b.bestBidAsk()
	bidDepth := depthAndTotal(b.bids)
	askDepth := depthAndTotal(b.asks)

	st := events.Stats{
		Symbol:           b.symbol,
		TsNs:             nowNs,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		BidDepth:         bidDepth,
		AskDepth:         askDepth,
		BothSidesPresent: bothPresent,
		MidPrice:         events.NoMidPrice,
	}
	if bothPresent {
		st.Spread = bestAsk - bestBid
		st.MidPrice = (bestBid + bestAsk) / 2
		if denom := bidDepth + askDepth; denom != 0 {
			st.Imbalance = float64(bidDepth-askDepth) / float64(denom)
		}
	}
	return st
}

// Levels returns a sorted snapshot of one side's (price,volume) pairs;
// bids descending, asks ascending.
func (b *Book) Levels(side string) []events.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var m map[int64]int64
	descending := side == "bid"
	if descending {
		m = b.bids
	} else {
		m = b.asks
	}

	out := make([]events.PriceLevel, 0, len(m))
	for p, v := range m {
		out = append(out, events.PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// Crossed reports whether both sides are non-empty and the best bid is at
// or above the best ask. The book does not enforce best bid < best ask
// inline, since upstream data may transiently cross before the next
// snapshot corrects it.
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bestBid, bestAsk, both := b.bestBidAsk()
	return both && bestBid >= bestAsk
}
