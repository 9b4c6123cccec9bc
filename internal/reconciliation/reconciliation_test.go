package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hftplatform/engine/internal/position"
	"github.com/hftplatform/engine/pkg/intents"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeFetcher struct {
	positions []BrokerPosition
	err       error
}

func (f *fakeFetcher) FetchPositions(_ context.Context) ([]BrokerPosition, error) {
	return f.positions, f.err
}

type fakeHalt struct {
	triggered int
	reason    string
}

func (f *fakeHalt) TriggerHalt(reason string) {
	f.triggered++
	f.reason = reason
}

func TestReconcileNoDiscrepancyWithinTolerance(t *testing.T) {
	t.Parallel()
	store := position.New()
	store.OnFill(intents.FillEvent{AccountID: "A1", StrategyID: "S1", Symbol: "BTCUSD", Side: intents.Buy, Qty: 100, Price: 50000})

	fetcher := &fakeFetcher{positions: []BrokerPosition{{AccountID: "A1", StrategyID: "S1", Symbol: "BTCUSD", NetQty: 101}}}
	halt := &fakeHalt{}
	r := New(fetcher, store, Config{Tolerance: 5}, halt, testLogger())

	r.reconcile(context.Background())
	result := <-r.Results()

	if len(result.Discrepancies) != 0 {
		t.Fatalf("expected no discrepancies within tolerance, got %+v", result.Discrepancies)
	}
	if halt.triggered != 0 {
		t.Fatal("expected no halt triggered")
	}
}

func TestReconcileFlagsDiscrepancyBeyondToleranceAndHalts(t *testing.T) {
	t.Parallel()
	store := position.New()
	store.OnFill(intents.FillEvent{AccountID: "A1", StrategyID: "S1", Symbol: "BTCUSD", Side: intents.Buy, Qty: 100, Price: 50000})

	fetcher := &fakeFetcher{positions: []BrokerPosition{{AccountID: "A1", StrategyID: "S1", Symbol: "BTCUSD", NetQty: 150}}}
	halt := &fakeHalt{}
	r := New(fetcher, store, Config{Tolerance: 5}, halt, testLogger())

	r.reconcile(context.Background())
	result := <-r.Results()

	if len(result.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %+v", result.Discrepancies)
	}
	d := result.Discrepancies[0]
	if d.InternalQty != 100 || d.BrokerQty != 150 || d.DeltaQty != 50 {
		t.Fatalf("unexpected discrepancy shape: %+v", d)
	}
	if halt.triggered != 1 || halt.reason != "position_mismatch" {
		t.Fatalf("expected halt triggered with position_mismatch, got %+v", halt)
	}
}

func TestReconcileFlagsBrokerOnlyPosition(t *testing.T) {
	t.Parallel()
	store := position.New()

	fetcher := &fakeFetcher{positions: []BrokerPosition{{AccountID: "A1", StrategyID: "S1", Symbol: "ETHUSD", NetQty: 20}}}
	r := New(fetcher, store, Config{Tolerance: 1}, nil, testLogger())

	r.reconcile(context.Background())
	result := <-r.Results()

	if len(result.Discrepancies) != 1 || result.Discrepancies[0].InternalQty != 0 {
		t.Fatalf("expected 1 broker-only discrepancy, got %+v", result.Discrepancies)
	}
}

func TestReconcileFetchErrorSkipsPass(t *testing.T) {
	t.Parallel()
	store := position.New()
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	r := New(fetcher, store, Config{Tolerance: 1}, nil, testLogger())

	r.reconcile(context.Background())

	select {
	case res := <-r.Results():
		t.Fatalf("expected no result published on fetch error, got %+v", res)
	default:
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	t.Parallel()
	store := position.New()
	fetcher := &fakeFetcher{}
	r := New(fetcher, store, Config{Interval: time.Millisecond}, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected Run to return after context cancellation")
	}
}
