// Package strategyruntime subscribes to the event bus, routes each event
// to every registered strategy interested in that event's symbol, and
// forwards the OrderIntents each strategy emits (via a Context helper)
// to the risk queue in emit order.
package strategyruntime

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/pkg/events"
	"github.com/hftplatform/engine/pkg/intents"
)

// Strategy is the cooperative handler interface every strategy instance
// implements. Each method receives a Context to emit intents through;
// handlers that don't care about an event type are free to no-op.
type Strategy interface {
	ID() string
	// Symbols returns the set of symbols this strategy wants events for.
	// An empty slice means "all symbols".
	Symbols() []string
	OnTick(ctx *Context, ev events.TickEvent)
	OnBook(ctx *Context, ev events.BidAskEvent)
	OnStats(ctx *Context, stats events.Stats)
	OnFill(ctx *Context, fill intents.FillEvent)
	OnOrder(ctx *Context, ev intents.OrderEvent)
}

// Context is the per-dispatch emit helper passed into every Strategy
// callback. Buy/Sell/Cancel append to an ordered intent list rather than
// publishing directly, so the runtime can guarantee emit-order delivery
// to the risk queue.
type Context struct {
	strategyID string
	symbol     string
	now        func() time.Time
	intents    []intents.OrderIntent
	seq        uint64
}

func newContext(strategyID, symbol string, now func() time.Time) *Context {
	return &Context{strategyID: strategyID, symbol: symbol, now: now}
}

func (c *Context) nextID() string {
	c.seq++
	return c.strategyID + "-" + strconv.FormatUint(c.seq, 10)
}

// Buy emits a NEW BUY intent at the given scaled price and quantity.
func (c *Context) Buy(price, qty int64, tif intents.TIF) {
	c.emit(intents.IntentNew, intents.Buy, price, qty, tif, "")
}

// Sell emits a NEW SELL intent at the given scaled price and quantity.
func (c *Context) Sell(price, qty int64, tif intents.TIF) {
	c.emit(intents.IntentNew, intents.Sell, price, qty, tif, "")
}

// Cancel emits a CANCEL intent targeting a live order.
func (c *Context) Cancel(targetOrderID string) {
	c.intents = append(c.intents, intents.OrderIntent{
		IntentID:      c.nextID(),
		StrategyID:    c.strategyID,
		Symbol:        c.symbol,
		IntentType:    intents.IntentCancel,
		TargetOrderID: targetOrderID,
		TimestampNs:   c.now().UnixNano(),
	})
}

func (c *Context) emit(intentType intents.IntentType, side intents.Side, price, qty int64, tif intents.TIF, target string) {
	c.intents = append(c.intents, intents.OrderIntent{
		IntentID:      c.nextID(),
		StrategyID:    c.strategyID,
		Symbol:        c.symbol,
		IntentType:    intentType,
		Side:          side,
		Price:         price,
		Qty:           qty,
		TIF:           tif,
		TargetOrderID: target,
		TimestampNs:   c.now().UnixNano(),
	})
}

// IntentSink is the risk-queue input StrategyRuntime forwards emitted
// intents to, in emit order. Satisfied in cmd/engine's wiring by a
// bounded-channel wrapper that the risk-dispatch worker drains.
type IntentSink interface {
	Enqueue(intents.OrderIntent)
}

// Runtime owns a registry of strategies and dispatches bus events to
// every interested one.
type Runtime struct {
	strategies []Strategy
	subscribed []map[string]bool // parallel to strategies; nil entry means "all symbols"
	sink       IntentSink
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an empty Runtime.
func New(sink IntentSink, logger *slog.Logger) *Runtime {
	return &Runtime{sink: sink, logger: logger.With("component", "strategyruntime"), now: time.Now}
}

// Register adds a strategy to the dispatch registry.
func (r *Runtime) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	symbols := s.Symbols()
	if len(symbols) == 0 {
		r.subscribed = append(r.subscribed, nil)
		return
	}
	set := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		set[sym] = true
	}
	r.subscribed = append(r.subscribed, set)
}

func (r *Runtime) interested(i int, symbol string) bool {
	set := r.subscribed[i]
	return set == nil || set[symbol]
}

// Dispatch routes one typed event to every interested strategy and
// forwards all emitted intents, across all strategies, to the sink in
// per-strategy emit order. Unrecognized event types are ignored.
func (r *Runtime) Dispatch(ev any) {
	switch v := ev.(type) {
	case events.TickEvent:
		r.dispatchTo(v.Symbol, func(ctx *Context, s Strategy) { s.OnTick(ctx, v) })
	case events.BidAskEvent:
		r.dispatchTo(v.Symbol, func(ctx *Context, s Strategy) { s.OnBook(ctx, v) })
	case events.Stats:
		r.dispatchTo(v.Symbol, func(ctx *Context, s Strategy) { s.OnStats(ctx, v) })
	case intents.FillEvent:
		r.dispatchTo(v.Symbol, func(ctx *Context, s Strategy) { s.OnFill(ctx, v) })
	case intents.OrderEvent:
		r.dispatchTo(v.Symbol, func(ctx *Context, s Strategy) { s.OnOrder(ctx, v) })
	}
}

func (r *Runtime) dispatchTo(symbol string, call func(ctx *Context, s Strategy)) {
	for i, s := range r.strategies {
		if !r.interested(i, symbol) {
			continue
		}
		ctx := newContext(s.ID(), symbol, r.now)
		call(ctx, s)
		for _, intent := range ctx.intents {
			r.sink.Enqueue(intent)
		}
	}
}

// RunBridge drains a bus consumer in batches, dispatching each event,
// until ctx is cancelled.
func (r *Runtime) RunBridge(ctx context.Context, consumer *bus.Consumer, batchMax int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		evs := consumer.Consume(batchMax)
		for _, ev := range evs {
			r.Dispatch(ev)
		}
		if len(evs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}
}
