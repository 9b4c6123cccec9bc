// Package examples provides one demo Strategy implementation that
// quotes opportunistically around mid-price when the spread looks
// profitable and inventory allows it. It exercises the runtime's
// dispatch contract end-to-end; it is not a production alpha.
package examples

import (
	"github.com/hftplatform/engine/internal/strategyruntime"
	"github.com/hftplatform/engine/pkg/events"
	"github.com/hftplatform/engine/pkg/intents"
)

// PositionView is the read-only position query DemoQuoter uses to apply
// its inventory-skew cutoff, satisfied by a thin wrapper over
// internal/position.Store. Strategies never get write access to
// positions.
type PositionView interface {
	NetQty(symbol string) int64
}

// DemoQuoter posts a symmetric two-sided quote a fixed edge away from
// mid-price whenever both sides of the book are present and the spread
// clears a minimum threshold, skipping the side that would extend an
// already-maxed-out position.
type DemoQuoter struct {
	StrategyID   string
	Symbol       string
	Edge         int64 // scaled ticks subtracted/added from mid for bid/ask
	Qty          int64
	MinSpread    int64 // scaled; only quote when book spread clears this
	MaxInventory int64 // absolute net_qty cap before a side is skipped
	Positions    PositionView
}

func (d *DemoQuoter) ID() string        { return d.StrategyID }
func (d *DemoQuoter) Symbols() []string { return []string{d.Symbol} }

func (d *DemoQuoter) OnTick(ctx *strategyruntime.Context, ev events.TickEvent)   {}
func (d *DemoQuoter) OnBook(ctx *strategyruntime.Context, ev events.BidAskEvent) {}
func (d *DemoQuoter) OnFill(ctx *strategyruntime.Context, fill intents.FillEvent) {}
func (d *DemoQuoter) OnOrder(ctx *strategyruntime.Context, ev intents.OrderEvent) {}

// OnStats is where the strategy acts: given fresh book statistics, it
// quotes inside the spread if the opportunity is profitable enough and
// the resulting position wouldn't breach MaxInventory.
func (d *DemoQuoter) OnStats(ctx *strategyruntime.Context, stats events.Stats) {
	if !stats.BothSidesPresent || stats.MidPrice == events.NoMidPrice {
		return
	}
	if stats.Spread < d.MinSpread {
		return
	}

	netQty := d.Positions.NetQty(d.Symbol)

	if netQty < d.MaxInventory {
		ctx.Buy(stats.MidPrice-d.Edge, d.Qty, intents.TIFLimit)
	}
	if netQty > -d.MaxInventory {
		ctx.Sell(stats.MidPrice+d.Edge, d.Qty, intents.TIFLimit)
	}
}
