// Package risk validates strategy intents through an ordered pipeline
// and produces approved OrderCommands. Policy gating runs first (cheap,
// global), then the per-symbol price and size checks. All arithmetic is
// on scaled integers.
package risk

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hftplatform/engine/internal/gatewaypolicy"
	"github.com/hftplatform/engine/pkg/intents"
)

// RejectCounter increments risk_reject_total{strategy,reason}. internal/metrics
// implements this.
type RejectCounter interface {
	IncRiskReject(strategy, reason string)
}

// Config holds the validator thresholds.
type Config struct {
	PriceBandPct float64
	MaxPriceCap  int64
	MaxNotional  int64
	MaxOrderSize int64
	ContractMult int64
	Deadline     time.Duration
}

// ReferencePrice supplies the current reference price (best bid/ask or
// last price) used by the price-band validator. internal/lob's Stats
// implements the shape needed to back this.
type ReferencePrice interface {
	ReferencePrice(symbol string, side intents.Side) (price int64, ok bool)
}

// Rejection is a typed, reasoned denial of an intent.
type Rejection struct {
	Intent intents.OrderIntent
	Reason string
}

// Engine validates intents in order and emits OrderCommands.
type Engine struct {
	cfg      Config
	policy   *gatewaypolicy.Policy
	refPrice ReferencePrice
	metrics  RejectCounter
	logger   *slog.Logger

	cmdID atomic.Uint64

	mu           sync.RWMutex
	maxPriceCaps map[string]int64 // optional per-symbol override
}

// New creates a RiskEngine.
func New(cfg Config, policy *gatewaypolicy.Policy, refPrice ReferencePrice, metrics RejectCounter, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		policy:       policy,
		refPrice:     refPrice,
		metrics:      metrics,
		logger:       logger.With("component", "risk"),
		maxPriceCaps: make(map[string]int64),
	}
}

// SetMaxPriceCap overrides the max price cap for one symbol.
func (e *Engine) SetMaxPriceCap(symbol string, cap int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxPriceCaps[symbol] = cap
}

func (e *Engine) maxPriceCapFor(symbol string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.maxPriceCaps[symbol]; ok {
		return v
	}
	return e.cfg.MaxPriceCap
}

// Validate runs the ordered pipeline. Policy gating first (cheap,
// global), then symbol/price checks: price-band, max-notional,
// max-order-size. The first failing validator determines the rejection.
func (e *Engine) Validate(intent intents.OrderIntent, stormGuardState string) (*intents.OrderCommand, *Rejection) {
	if ok, reason := e.policy.Allow(intent.IntentType); !ok {
		return nil, e.reject(intent, reason)
	}

	// Cancel/modify intents carry no new price/qty risk to re-check.
	if intent.IntentType != intents.IntentNew {
		return e.approve(intent, stormGuardState), nil
	}

	if ref, ok := e.refPrice.ReferencePrice(intent.Symbol, intent.Side); ok && ref > 0 && e.cfg.PriceBandPct > 0 {
		deviation := pctDeviation(intent.Price, ref)
		if deviation > e.cfg.PriceBandPct {
			return nil, e.reject(intent, "PRICE_BAND")
		}
	}
	if cap := e.maxPriceCapFor(intent.Symbol); cap > 0 && intent.Price > cap {
		return nil, e.reject(intent, "MAX_PRICE_CAP")
	}

	mult := e.cfg.ContractMult
	if mult <= 0 {
		mult = 1
	}
	notional := intent.Price * intent.Qty * mult
	if e.cfg.MaxNotional > 0 && notional > e.cfg.MaxNotional {
		return nil, e.reject(intent, "MAX_NOTIONAL")
	}

	if e.cfg.MaxOrderSize > 0 && intent.Qty > e.cfg.MaxOrderSize {
		return nil, e.reject(intent, "MAX_ORDER_SIZE")
	}

	return e.approve(intent, stormGuardState), nil
}

func (e *Engine) approve(intent intents.OrderIntent, stormGuardState string) *intents.OrderCommand {
	id := e.cmdID.Add(1)
	deadline := e.cfg.Deadline
	if deadline <= 0 {
		deadline = time.Second
	}
	return &intents.OrderCommand{
		CmdID:           id,
		Intent:          intent,
		DeadlineNs:      time.Now().Add(deadline).UnixNano(),
		StormGuardState: stormGuardState,
	}
}

func (e *Engine) reject(intent intents.OrderIntent, reason string) *Rejection {
	if e.metrics != nil {
		e.metrics.IncRiskReject(intent.StrategyID, reason)
	}
	e.logger.Warn("risk reject", "strategy", intent.StrategyID, "symbol", intent.Symbol, "reason", reason)
	return &Rejection{Intent: intent, Reason: reason}
}

func pctDeviation(price, ref int64) float64 {
	if ref == 0 {
		return 0
	}
	diff := price - ref
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(ref)
}
