package execrouter

import (
	"testing"

	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/internal/position"
	"github.com/hftplatform/engine/pkg/intents"
)

type fakeResolver struct {
	strategyID, intentID string
	ok                   bool
	terminalCalls        []string
}

func (f *fakeResolver) ResolveByOrdNo(string) (string, string, bool) {
	return f.strategyID, f.intentID, f.ok
}
func (f *fakeResolver) OnTerminalState(strategyID, intentID string) {
	f.terminalCalls = append(f.terminalCalls, strategyID+":"+intentID)
}

type fakeCodec struct{ scale int64 }

func (c fakeCodec) ScaleString(_, decimal string) (int64, bool) {
	return c.scale, true
}

func TestHandleOrderResolvesAndPublishes(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{strategyID: "S1", intentID: "I1", ok: true}
	b := bus.New(4, nil)
	consumer := b.NewConsumer()
	r := New(resolver, fakeCodec{scale: 10050}, position.New(), b, nil)

	ev := r.HandleOrder(RawOrderReport{OrdNo: "O1", Status: "f pending", ContractCode: "AAA", Action: "buy", Price: "100.50", Quantity: 5})
	if ev.Status != intents.StatusPendingSubmit {
		t.Fatalf("expected PENDING_SUBMIT via prefix match, got %s", ev.Status)
	}
	if ev.StrategyID != "S1" {
		t.Fatalf("expected resolved strategy S1, got %s", ev.StrategyID)
	}

	events := consumer.Consume(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(events))
	}
}

func TestHandleOrderTerminalNotifiesResolver(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{strategyID: "S1", intentID: "I1", ok: true}
	b := bus.New(4, nil)
	r := New(resolver, fakeCodec{scale: 100}, position.New(), b, nil)

	r.HandleOrder(RawOrderReport{OrdNo: "O1", Status: "FILLED", ContractCode: "AAA", Action: "buy", Price: "1.00", Quantity: 5, FilledQty: 5})
	if len(resolver.terminalCalls) != 1 || resolver.terminalCalls[0] != "S1:I1" {
		t.Fatalf("expected terminal-state notification for S1:I1, got %v", resolver.terminalCalls)
	}
}

func TestHandleOrderUnresolvedFallsBackToUnknown(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{ok: false}
	b := bus.New(4, nil)
	r := New(resolver, fakeCodec{scale: 100}, position.New(), b, nil)

	ev := r.HandleOrder(RawOrderReport{OrdNo: "O-unknown", Status: "submitted", ContractCode: "AAA", Action: "sell"})
	if ev.StrategyID != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN strategy for unresolved order id, got %s", ev.StrategyID)
	}
}

func TestHandleDealAppliesFillAndPublishesAdjacently(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{strategyID: "S1", intentID: "I1", ok: true}
	b := bus.New(8, nil)
	consumer := b.NewConsumer()
	store := position.New()
	r := New(resolver, fakeCodec{scale: 10050}, store, b, nil)

	fill, delta := r.HandleDeal(RawDeal{FillID: "F1", OrdNo: "O1", AccountID: "ACC1", ContractCode: "AAA", Action: "buy", Price: "100.50", Quantity: 2})
	if fill.StrategyID != "S1" {
		t.Fatalf("expected resolved strategy, got %s", fill.StrategyID)
	}
	if delta.NetQty != 2 {
		t.Fatalf("expected net_qty=2 after opening fill, got %d", delta.NetQty)
	}

	evs := consumer.Consume(10)
	if len(evs) != 2 {
		t.Fatalf("expected fill+delta published adjacently, got %d events", len(evs))
	}
	if _, ok := evs[0].(intents.FillEvent); !ok {
		t.Fatalf("expected first event to be FillEvent, got %T", evs[0])
	}
	if _, ok := evs[1].(intents.PositionDelta); !ok {
		t.Fatalf("expected second event to be PositionDelta, got %T", evs[1])
	}
}

func TestMapStatusCaseInsensitivePrefix(t *testing.T) {
	t.Parallel()
	cases := map[string]intents.OrderStatus{
		"FILLED":            intents.StatusFilled,
		"partially_filled":  intents.StatusPartiallyFilled,
		"Cancelled":         intents.StatusCancelled,
		"failed: bad price": intents.StatusFailed,
		"f pending":         intents.StatusPendingSubmit,
	}
	for raw, want := range cases {
		if got := mapStatus(raw); got != want {
			t.Errorf("mapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
