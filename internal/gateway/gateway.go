// Package gateway is the sole path between risk-approved OrderCommands
// and the broker. It enforces a sliding-window rate limit, a
// consecutive-failure circuit breaker, and a deadline check, and tracks
// in-flight orders so broker callbacks (handled by internal/execrouter)
// can resolve back to a strategy:intent_id.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hftplatform/engine/internal/broker"
	"github.com/hftplatform/engine/pkg/intents"
)

// Metrics is the subset of internal/metrics the gateway reports to.
type Metrics interface {
	IncOrderSubmitted(strategy, symbol string)
	IncOrderRejectedGateway(strategy, reason string)
	IncBrokerFailure(strategy string)
	ObserveBrokerLatency(seconds float64)
}

// Descaler converts a scaled price back to the decimal the broker
// boundary speaks. pricecodec.Codec implements this; prices stay scaled
// integers everywhere inside the pipeline and descale only here.
type Descaler interface {
	Descale(symbol string, scaled int64) float64
}

// RateLimiterConfig configures the sliding-window counter.
type RateLimiterConfig struct {
	WindowSeconds float64
	SoftCap       int // above this, a warning is logged but the order proceeds
	HardCap       int // above this, the order is rejected
}

// slidingWindow is a deque-based rate counter: every Check call purges
// entries older than the window before counting.
type slidingWindow struct {
	mu     sync.Mutex
	cfg    RateLimiterConfig
	events []time.Time
	now    func() time.Time
}

func newSlidingWindow(cfg RateLimiterConfig) *slidingWindow {
	return &slidingWindow{cfg: cfg, now: time.Now}
}

func (w *slidingWindow) purgeLocked() {
	if w.cfg.WindowSeconds <= 0 {
		return
	}
	cutoff := w.now().Add(-time.Duration(w.cfg.WindowSeconds * float64(time.Second)))
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	w.events = w.events[i:]
}

// allowResult describes whether an event may proceed.
type allowResult int

const (
	allowOK allowResult = iota
	allowSoft
	allowHard
)

// Check purges stale entries, classifies the current occupancy, and
// records the new event if it is not hard-capped.
func (w *slidingWindow) Check() allowResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purgeLocked()

	if w.cfg.HardCap > 0 && len(w.events) >= w.cfg.HardCap {
		return allowHard
	}
	w.events = append(w.events, w.now())
	if w.cfg.SoftCap > 0 && len(w.events) > w.cfg.SoftCap {
		return allowSoft
	}
	return allowOK
}

// CircuitBreakerConfig configures the consecutive-failure breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenSeconds      float64
}

// circuitBreaker is a consecutive-failure counter that opens for a fixed
// timeout, then lets requests through again (half-open) until the next
// recorded result: a success closes it, a failure reopens it.
type circuitBreaker struct {
	mu               sync.Mutex
	cfg              CircuitBreakerConfig
	consecutiveFails int
	openUntil        time.Time
	now              func() time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, now: time.Now}
}

// IsOpen reports whether dispatch should currently be blocked.
func (b *circuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if b.now().After(b.openUntil) {
		// Half-open: allow requests; RecordSuccess or RecordFailure resets the timer state.
		return false
	}
	return true
}

func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.openUntil = time.Time{}
}

func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails++
	if b.cfg.FailureThreshold > 0 && b.consecutiveFails >= b.cfg.FailureThreshold {
		b.openUntil = b.now().Add(time.Duration(b.cfg.OpenSeconds * float64(time.Second)))
	}
}

// inFlight tracks one order submitted to the broker but not yet terminal,
// keyed by (strategy_id, intent_id) and indexed by broker order number
// once acked.
type inFlight struct {
	StrategyID string
	IntentID   string
	OrdNo      string
	Symbol     string
}

// DLQEntry is written to disk when a broker dispatch fails terminally.
type DLQEntry struct {
	StrategyID   string `json:"strategy_id"`
	IntentID     string `json:"intent_id"`
	Reason       string `json:"reason"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
	TraceID      string `json:"trace_id"`
	TsNs         int64  `json:"ts_ns"`
}

// Config bundles OrderAdapter tuning.
type Config struct {
	RateLimiter    RateLimiterConfig
	CircuitBreaker CircuitBreakerConfig
	DLQDir         string
}

// Adapter is the OrderAdapter: one Validate-then-dispatch funnel between
// RiskEngine output and the broker.
type Adapter struct {
	cfg     Config
	client  broker.Client
	codec   Descaler
	metrics Metrics
	logger  *slog.Logger

	limiter  *slidingWindow
	cbOrder  *circuitBreaker
	cbCancel *circuitBreaker

	mu            sync.Mutex
	byStrategyKey map[string]*inFlight // "strategy:intent_id" -> inFlight
	byOrdNo       map[string]*inFlight
}

// New creates an OrderAdapter.
func New(cfg Config, client broker.Client, codec Descaler, metrics Metrics, logger *slog.Logger) *Adapter {
	if cfg.DLQDir != "" {
		_ = os.MkdirAll(cfg.DLQDir, 0o755)
	}
	return &Adapter{
		cfg:           cfg,
		client:        client,
		codec:         codec,
		metrics:       metrics,
		logger:        logger.With("component", "gateway"),
		limiter:       newSlidingWindow(cfg.RateLimiter),
		cbOrder:       newCircuitBreaker(cfg.CircuitBreaker),
		cbCancel:      newCircuitBreaker(cfg.CircuitBreaker),
		byStrategyKey: make(map[string]*inFlight),
		byOrdNo:       make(map[string]*inFlight),
	}
}

func strategyKey(strategyID, intentID string) string {
	return strategyID + ":" + intentID
}

// Dispatch submits one OrderCommand to the broker. It is the sole
// exit path from risk-approved to broker-submitted.
func (a *Adapter) Dispatch(ctx context.Context, cmd *intents.OrderCommand) error {
	intent := cmd.Intent

	if cmd.DeadlineNs > 0 && time.Now().UnixNano() > cmd.DeadlineNs {
		a.reject(intent, "DEADLINE_EXCEEDED", "")
		return fmt.Errorf("deadline exceeded for intent %s", intent.IntentID)
	}

	cb := a.cbOrder
	if intent.IntentType == intents.IntentCancel {
		cb = a.cbCancel
	}
	if cb.IsOpen() {
		a.reject(intent, "CIRCUIT_OPEN", "")
		return fmt.Errorf("circuit breaker open for %s", intent.IntentType)
	}

	switch a.limiter.Check() {
	case allowHard:
		a.reject(intent, "RATE_LIMIT_HARD_CAP", "")
		return fmt.Errorf("rate limit hard cap exceeded")
	case allowSoft:
		a.logger.Warn("rate limiter soft cap exceeded", "strategy", intent.StrategyID, "symbol", intent.Symbol)
	}

	start := time.Now()
	var err error
	switch intent.IntentType {
	case intents.IntentCancel:
		err = a.client.CancelOrder(ctx, intent.TargetOrderID)
	default:
		var ack broker.Ack
		ack, err = a.client.PlaceOrder(ctx, broker.Order{
			Symbol: intent.Symbol,
			Side:   intent.Side,
			Price:  a.codec.Descale(intent.Symbol, intent.Price),
			Qty:    intent.Qty,
			TIF:    intent.TIF,
		})
		if err == nil {
			a.track(intent, ack.OrdNo)
		}
	}
	if a.metrics != nil {
		a.metrics.ObserveBrokerLatency(time.Since(start).Seconds())
	}

	if err != nil {
		cb.RecordFailure()
		if a.metrics != nil {
			a.metrics.IncBrokerFailure(intent.StrategyID)
		}
		a.writeDLQ(DLQEntry{
			StrategyID:   intent.StrategyID,
			IntentID:     intent.IntentID,
			Reason:       "BROKER_ERROR",
			ErrorMessage: err.Error(),
			RetryCount:   0,
			TraceID:      fmt.Sprintf("%s-%d", intent.StrategyID, cmd.CmdID),
			TsNs:         time.Now().UnixNano(),
		})
		return fmt.Errorf("dispatch %s: %w", intent.IntentType, err)
	}

	cb.RecordSuccess()
	if a.metrics != nil {
		a.metrics.IncOrderSubmitted(intent.StrategyID, intent.Symbol)
	}
	return nil
}

func (a *Adapter) track(intent intents.OrderIntent, ordNo string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := &inFlight{StrategyID: intent.StrategyID, IntentID: intent.IntentID, OrdNo: ordNo, Symbol: intent.Symbol}
	a.byStrategyKey[strategyKey(intent.StrategyID, intent.IntentID)] = f
	if ordNo != "" {
		a.byOrdNo[ordNo] = f
	}
}

// ResolveByOrdNo looks up the strategy_id/intent_id pair for a broker
// order number, used by ExecutionRouter to normalize callbacks.
func (a *Adapter) ResolveByOrdNo(ordNo string) (strategyID, intentID string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, found := a.byOrdNo[ordNo]
	if !found {
		return "", "", false
	}
	return f.StrategyID, f.IntentID, true
}

// OnTerminalState removes bookkeeping for an order that has reached a
// terminal OrderStatus (FILLED, CANCELLED, FAILED).
func (a *Adapter) OnTerminalState(strategyID, intentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := strategyKey(strategyID, intentID)
	if f, ok := a.byStrategyKey[key]; ok {
		delete(a.byOrdNo, f.OrdNo)
	}
	delete(a.byStrategyKey, key)
}

func (a *Adapter) reject(intent intents.OrderIntent, reason, detail string) {
	if a.metrics != nil {
		a.metrics.IncOrderRejectedGateway(intent.StrategyID, reason)
	}
	a.logger.Warn("gateway reject", "strategy", intent.StrategyID, "intent", intent.IntentID, "reason", reason, "detail", detail)
}

// writeDLQ atomically persists a DLQ entry: write to .tmp, then rename.
func (a *Adapter) writeDLQ(entry DLQEntry) {
	if a.cfg.DLQDir == "" {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("dlq marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", entry.StrategyID, entry.TsNs)
	final := filepath.Join(a.cfg.DLQDir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		a.logger.Error("dlq write failed", "error", err)
		return
	}
	if err := os.Rename(tmp, final); err != nil {
		a.logger.Error("dlq rename failed", "error", err)
	}
}
