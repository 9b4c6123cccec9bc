// Package reconciliation periodically polls the broker's reported
// positions and diffs them against the internal position store, flagging
// any key whose quantity mismatch exceeds the configured tolerance and
// optionally escalating to a trading halt.
package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/hftplatform/engine/internal/position"
)

// HaltTrigger is the narrow StormGuard capability Reconciliation depends
// on; satisfied by *stormguard.Guard.
type HaltTrigger interface {
	TriggerHalt(reason string)
}

// BrokerPosition mirrors broker.Position without importing the broker
// package's Client/Order/Ack vocabulary, keeping this package's only
// external dependency the PositionFetcher interface below.
type BrokerPosition struct {
	AccountID  string
	StrategyID string
	Symbol     string
	NetQty     int64
}

// PositionFetcher returns the broker's current positions. cmd/engine
// wires broker.RestyClient.FetchPositions through a small adapter that
// converts []broker.Position to []BrokerPosition, keeping this package
// free of the broker package's descaled-float vocabulary.
type PositionFetcher interface {
	FetchPositions(ctx context.Context) ([]BrokerPosition, error)
}

// Discrepancy reports one position whose internal and broker-reported net
// quantity differ by more than the configured tolerance.
type Discrepancy struct {
	Key         position.Key
	InternalQty int64
	BrokerQty   int64
	DeltaQty    int64 // broker - internal, signed
}

// Result is one reconciliation pass's outcome.
type Result struct {
	Discrepancies []Discrepancy
	CheckedAt     time.Time
}

// Config tunes the reconciliation loop.
type Config struct {
	Interval  time.Duration
	Tolerance int64
}

// Reconciler periodically compares broker-reported positions against
// PositionStore and flags discrepancies beyond tolerance, optionally
// halting trading via HaltTrigger when any are found.
type Reconciler struct {
	fetcher PositionFetcher
	store   *position.Store
	cfg     Config
	halt    HaltTrigger
	logger  *slog.Logger

	resultCh chan Result
}

// New creates a Reconciler. halt may be nil if discrepancies should only
// be observed, never trigger a halt (e.g. in a dry-run environment).
func New(fetcher PositionFetcher, store *position.Store, cfg Config, halt HaltTrigger, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reconciler{
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
		halt:     halt,
		logger:   logger.With("component", "reconciliation"),
		resultCh: make(chan Result, 1),
	}
}

// Results returns the channel callers read the latest reconciliation
// outcome from.
func (r *Reconciler) Results() <-chan Result {
	return r.resultCh
}

// Run starts the polling loop: an immediate pass on startup, then every
// cfg.Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.reconcile(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	brokerPositions, err := r.fetcher.FetchPositions(ctx)
	if err != nil {
		r.logger.Error("fetch broker positions failed", "error", err)
		return
	}

	internal := r.store.AllSnapshots()
	brokerByKey := make(map[position.Key]int64, len(brokerPositions))
	for _, bp := range brokerPositions {
		k := position.Key{AccountID: bp.AccountID, StrategyID: bp.StrategyID, Symbol: bp.Symbol}
		brokerByKey[k] = bp.NetQty
	}

	seen := make(map[position.Key]bool, len(internal)+len(brokerByKey))
	var discrepancies []Discrepancy

	for k, pos := range internal {
		seen[k] = true
		brokerQty := brokerByKey[k]
		if delta := brokerQty - pos.NetQty; abs64(delta) > r.cfg.Tolerance {
			discrepancies = append(discrepancies, Discrepancy{
				Key: k, InternalQty: pos.NetQty, BrokerQty: brokerQty, DeltaQty: delta,
			})
		}
	}
	for k, brokerQty := range brokerByKey {
		if seen[k] {
			continue
		}
		if abs64(brokerQty) > r.cfg.Tolerance {
			discrepancies = append(discrepancies, Discrepancy{
				Key: k, InternalQty: 0, BrokerQty: brokerQty, DeltaQty: brokerQty,
			})
		}
	}

	result := Result{Discrepancies: discrepancies, CheckedAt: time.Now()}

	if len(discrepancies) > 0 {
		r.logger.Error("position reconciliation mismatch", "count", len(discrepancies))
		if r.halt != nil {
			r.halt.TriggerHalt("position_mismatch")
		}
	}

	// Non-blocking send, replacing a stale unread result.
	select {
	case r.resultCh <- result:
	default:
		select {
		case <-r.resultCh:
		default:
		}
		r.resultCh <- result
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
