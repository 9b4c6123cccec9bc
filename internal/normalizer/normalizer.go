// Package normalizer converts raw broker market-data payloads into
// typed events.TickEvent / events.BidAskEvent: timestamps are
// magnitude-classified and normalized to nanoseconds (clamped when
// implausibly far in the future), prices are scaled through the price
// codec without a float intermediary, and malformed input is counted
// and dropped rather than propagated.
package normalizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hftplatform/engine/internal/pricecodec"
	"github.com/hftplatform/engine/pkg/events"
)

// RawLevel is a single (price, volume) pair as received from the broker,
// price given as a decimal string to avoid float parsing ambiguity.
type RawLevel struct {
	Price  string
	Volume int64
}

// RawTick is a duck-typed trade-print payload.
type RawTick struct {
	Symbol      string
	TsRaw       int64 // broker-supplied, unknown unit (s/ms/us/ns)
	Price       string
	Volume      int64
	TotalVolume int64
	BidVol      int64
	AskVol      int64
	IsSimtrade  bool
	IsOddLot    bool
}

// RawBidAsk is a duck-typed quote payload.
type RawBidAsk struct {
	Symbol     string
	TsRaw      int64
	Bids       []RawLevel
	Asks       []RawLevel
	IsSnapshot bool
}

// errorCounter increments a per-error-kind metric. internal/metrics
// implements this.
type errorCounter interface {
	IncNormalizationError(kind string)
}

// Normalizer converts raw broker payloads into typed events.
type Normalizer struct {
	codec         *pricecodec.Codec
	logger        *slog.Logger
	metrics       errorCounter
	maxFutureSkew time.Duration
	seq           uint64

	mu           sync.Mutex
	lastWarnTime time.Time
}

// New creates a Normalizer. maxFutureSkew bounds how far ahead of local
// time a broker timestamp may be before it's clamped.
func New(codec *pricecodec.Codec, logger *slog.Logger, metrics errorCounter, maxFutureSkew time.Duration) *Normalizer {
	return &Normalizer{
		codec:         codec,
		logger:        logger.With("component", "normalizer"),
		metrics:       metrics,
		maxFutureSkew: maxFutureSkew,
	}
}

func (n *Normalizer) nextSeq() uint64 {
	n.seq++
	return n.seq
}

// coerceTsNs classifies a broker timestamp's magnitude as s/ms/us/ns and
// normalizes it to nanoseconds, then clamps it to local now if it's more
// than maxFutureSkew in the future (rate-limited warning).
func (n *Normalizer) coerceTsNs(raw int64) int64 {
	var ns int64
	switch {
	case raw == 0:
		ns = time.Now().UnixNano()
	case raw < 1e11: // seconds (up to year ~5138)
		ns = raw * int64(time.Second)
	case raw < 1e14: // milliseconds
		ns = raw * int64(time.Millisecond)
	case raw < 1e17: // microseconds
		ns = raw * int64(time.Microsecond)
	default: // nanoseconds
		ns = raw
	}

	now := time.Now()
	limit := now.Add(n.maxFutureSkew).UnixNano()
	if ns > limit {
		n.mu.Lock()
		if now.Sub(n.lastWarnTime) > time.Second {
			n.logger.Warn("clamping future timestamp", "raw", raw, "coerced_ns", ns, "limit_ns", limit)
			n.lastWarnTime = now
		}
		n.mu.Unlock()
		ns = now.UnixNano()
	}
	return ns
}

// NormalizeTick converts a RawTick into a TickEvent. Returns ok=false on
// any parse/convert error, incrementing normalization_errors_total{type}
// and emitting no event.
func (n *Normalizer) NormalizeTick(raw RawTick) (events.TickEvent, bool) {
	if raw.Symbol == "" {
		n.recordError("unknown_symbol")
		return events.TickEvent{}, false
	}

	price, ok := n.codec.ScaleString(raw.Symbol, raw.Price)
	if !ok {
		n.recordError("price_parse")
		return events.TickEvent{}, false
	}
	if price <= 0 {
		n.recordError("non_positive_price")
		return events.TickEvent{}, false
	}

	localNs := n.coerceTsNs(raw.TsRaw)
	return events.TickEvent{
		Meta: events.Meta{
			Seq:        n.nextSeq(),
			Topic:      "tick",
			SourceTsNs: raw.TsRaw,
			LocalTsNs:  localNs,
		},
		Symbol:          raw.Symbol,
		Price:           price,
		Volume:          raw.Volume,
		TotalVolume:     raw.TotalVolume,
		BidSideTotalVol: raw.BidVol,
		AskSideTotalVol: raw.AskVol,
		IsSimtrade:      raw.IsSimtrade,
		IsOddLot:        raw.IsOddLot,
	}, true
}

// NormalizeBidAsk converts a RawBidAsk into a BidAskEvent. Levels with
// price <= 0 are dropped (and counted) rather than failing the whole event.
func (n *Normalizer) NormalizeBidAsk(raw RawBidAsk) (events.BidAskEvent, bool) {
	if raw.Symbol == "" {
		n.recordError("unknown_symbol")
		return events.BidAskEvent{}, false
	}

	bids, bidErrs := n.scaleLevels(raw.Symbol, raw.Bids)
	asks, askErrs := n.scaleLevels(raw.Symbol, raw.Asks)
	for i := 0; i < bidErrs+askErrs; i++ {
		n.recordError("dropped_level")
	}

	localNs := n.coerceTsNs(raw.TsRaw)
	return events.BidAskEvent{
		Meta: events.Meta{
			Seq:        n.nextSeq(),
			Topic:      "bidask",
			SourceTsNs: raw.TsRaw,
			LocalTsNs:  localNs,
		},
		Symbol:     raw.Symbol,
		Bids:       bids,
		Asks:       asks,
		IsSnapshot: raw.IsSnapshot,
	}, true
}

func (n *Normalizer) scaleLevels(symbol string, raw []RawLevel) ([]events.PriceLevel, int) {
	out := make([]events.PriceLevel, 0, len(raw))
	errs := 0
	for _, lvl := range raw {
		price, ok := n.codec.ScaleString(symbol, lvl.Price)
		if !ok || price <= 0 {
			errs++
			continue
		}
		out = append(out, events.PriceLevel{Price: price, Volume: lvl.Volume})
	}
	return out, errs
}

func (n *Normalizer) recordError(kind string) {
	if n.metrics != nil {
		n.metrics.IncNormalizationError(kind)
	}
}
