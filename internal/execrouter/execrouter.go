// Package execrouter consumes raw broker execution callbacks ("order"
// and "deal" topics), normalizes them to typed OrderEvent/FillEvent,
// updates the position store, and publishes the results onto the bus.
package execrouter

import (
	"strconv"
	"strings"
	"time"

	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/internal/position"
	"github.com/hftplatform/engine/pkg/intents"
)

// RawOrderReport is the duck-typed "order" topic payload.
type RawOrderReport struct {
	OrdNo        string
	SeqNo        string
	Status       string
	ContractCode string
	Action       string // "buy"/"sell"
	Price        string
	Quantity     int64
	FilledQty    int64
	TsRaw        int64
}

// RawDeal is the duck-typed "deal" topic payload.
type RawDeal struct {
	FillID       string
	OrdNo        string
	AccountID    string
	ContractCode string
	Action       string
	Price        string
	Quantity     int64
	Fee          string
	Tax          string
	TsRaw        int64
}

// OrderIDResolver resolves a broker order number back to the strategy
// that emitted it. internal/gateway.Adapter implements this; it also
// receives terminal-state notifications to clean up live-order
// bookkeeping, keeping the gateway<->router relationship a
// one-directional callable instead of a cyclic import.
type OrderIDResolver interface {
	ResolveByOrdNo(ordNo string) (strategyID, intentID string, ok bool)
	OnTerminalState(strategyID, intentID string)
}

// PriceScaler scales a decimal price string for one symbol.
type PriceScaler interface {
	ScaleString(symbol, decimal string) (int64, bool)
}

// LagObserver reports execution_router_lag_ns.
type LagObserver interface {
	SetExecutionRouterLag(ns int64)
}

// Router is the ExecutionRouter.
type Router struct {
	resolver OrderIDResolver
	codec    PriceScaler
	store    *position.Store
	bus      *bus.Bus
	lag      LagObserver
	now      func() time.Time
}

// New creates an ExecutionRouter.
func New(resolver OrderIDResolver, codec PriceScaler, store *position.Store, b *bus.Bus, lag LagObserver) *Router {
	return &Router{resolver: resolver, codec: codec, store: store, bus: b, lag: lag, now: time.Now}
}

// statusPrefixes maps a lowercased, space/underscore-normalized prefix to
// the canonical OrderStatus, checked in list order; the first matching
// prefix wins (e.g. "f pending" -> PENDING_SUBMIT).
var statusPrefixes = []struct {
	prefix string
	status intents.OrderStatus
}{
	{"partially filled", intents.StatusPartiallyFilled},
	{"partial fill", intents.StatusPartiallyFilled},
	{"filled", intents.StatusFilled},
	{"cancelled", intents.StatusCancelled},
	{"canceled", intents.StatusCancelled},
	{"failed", intents.StatusFailed},
	{"rejected", intents.StatusFailed},
	{"submitted", intents.StatusSubmitted},
	{"pending", intents.StatusPendingSubmit},
	{"f pending", intents.StatusPendingSubmit},
}

// mapStatus maps a broker status string to the OrderStatus enum
// case-insensitively, with prefix matching.
func mapStatus(raw string) intents.OrderStatus {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "_", " ")
	norm = strings.ReplaceAll(norm, "-", " ")
	for _, p := range statusPrefixes {
		if strings.HasPrefix(norm, p.prefix) {
			return p.status
		}
	}
	return intents.StatusPendingSubmit
}

func mapSide(action string) intents.Side {
	if strings.EqualFold(action, "sell") {
		return intents.Sell
	}
	return intents.Buy
}

func coerceTsNs(raw int64) int64 {
	switch {
	case raw == 0:
		return time.Now().UnixNano()
	case raw < 1e11:
		return raw * int64(time.Second)
	case raw < 1e14:
		return raw * int64(time.Millisecond)
	case raw < 1e17:
		return raw * int64(time.Microsecond)
	default:
		return raw
	}
}

// HandleOrder normalizes a raw "order" callback to an OrderEvent,
// publishes it, and on terminal status notifies the OrderAdapter so it
// can release live-order bookkeeping.
func (r *Router) HandleOrder(raw RawOrderReport) intents.OrderEvent {
	ingestStart := r.now()

	strategyID, intentID, ok := r.resolver.ResolveByOrdNo(raw.OrdNo)
	if !ok {
		strategyID = "UNKNOWN"
	}

	price, _ := r.codec.ScaleString(raw.ContractCode, raw.Price)
	status := mapStatus(raw.Status)
	brokerTsNs := coerceTsNs(raw.TsRaw)

	ev := intents.OrderEvent{
		OrderID:      raw.OrdNo,
		StrategyID:   strategyID,
		Symbol:       raw.ContractCode,
		Status:       status,
		SubmittedQty: raw.Quantity,
		FilledQty:    raw.FilledQty,
		RemainingQty: raw.Quantity - raw.FilledQty,
		Price:        price,
		Side:         mapSide(raw.Action),
		IngestTsNs:   r.now().UnixNano(),
		BrokerTsNs:   brokerTsNs,
	}

	r.bus.Publish(ev)

	if status.IsTerminal() && ok {
		r.resolver.OnTerminalState(strategyID, intentID)
	}

	if r.lag != nil {
		r.lag.SetExecutionRouterLag(r.now().Sub(ingestStart).Nanoseconds())
	}
	return ev
}

// HandleDeal normalizes a raw "deal" callback to a FillEvent, applies it
// to the position store, and publishes the FillEvent and resulting
// PositionDelta adjacently via PublishMany so no other producer's event
// can interleave between them.
func (r *Router) HandleDeal(raw RawDeal) (intents.FillEvent, intents.PositionDelta) {
	strategyID, _, ok := r.resolver.ResolveByOrdNo(raw.OrdNo)
	if !ok {
		strategyID = "UNKNOWN"
	}

	price, _ := r.codec.ScaleString(raw.ContractCode, raw.Price)
	fee := parseScaledOrZero(raw.Fee)
	tax := parseScaledOrZero(raw.Tax)
	matchTsNs := coerceTsNs(raw.TsRaw)

	fill := intents.FillEvent{
		FillID:     raw.FillID,
		AccountID:  raw.AccountID,
		OrderID:    raw.OrdNo,
		StrategyID: strategyID,
		Symbol:     raw.ContractCode,
		Side:       mapSide(raw.Action),
		Qty:        raw.Quantity,
		Price:      price,
		Fee:        fee,
		Tax:        tax,
		IngestTsNs: r.now().UnixNano(),
		MatchTsNs:  matchTsNs,
	}

	delta := r.store.OnFill(fill)
	r.bus.PublishMany(fill, delta)
	return fill, delta
}

// parseScaledOrZero parses an already-scaled integer string (fee/tax
// arrive pre-scaled), returning 0 on a malformed or empty value rather
// than failing the whole deal.
func parseScaledOrZero(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
