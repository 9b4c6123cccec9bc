package position

import (
	"testing"

	"github.com/hftplatform/engine/pkg/intents"
)

func TestOpenFromZero(t *testing.T) {
	t.Parallel()
	s := New()
	delta := s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 2, Price: 10050})

	if delta.NetQty != 2 || delta.AvgPrice != 10050 || delta.RealizedDelta != 0 {
		t.Fatalf("delta = %+v, want net=2 avg=10050 realized=0", delta)
	}
}

func TestCrossingZeroClosesAndReopens(t *testing.T) {
	t.Parallel()
	s := New()
	k := Key{AccountID: "A", StrategyID: "S", Symbol: "AAA"}
	s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 2, Price: 100})

	delta := s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Sell, Qty: 3, Price: 110})

	// Realized = (110-100)*2 = 20; net_qty = -1; avg_price = 110.
	if delta.RealizedDelta != 20 {
		t.Fatalf("RealizedDelta = %d, want 20", delta.RealizedDelta)
	}
	if delta.NetQty != -1 {
		t.Fatalf("NetQty = %d, want -1", delta.NetQty)
	}
	if delta.AvgPrice != 110 {
		t.Fatalf("AvgPrice = %d, want 110", delta.AvgPrice)
	}

	snap, ok := s.Snapshot(k)
	if !ok || snap.NetQty != -1 || snap.AvgPrice != 110 {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
}

func TestExactZeroClearsAvgPrice(t *testing.T) {
	t.Parallel()
	s := New()
	s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 5, Price: 100})
	delta := s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Sell, Qty: 5, Price: 105})

	if delta.NetQty != 0 || delta.AvgPrice != 0 {
		t.Fatalf("delta = %+v, want net=0 avg=0", delta)
	}
	if delta.RealizedDelta != 25 {
		t.Fatalf("RealizedDelta = %d, want 25", delta.RealizedDelta)
	}
}

func TestSameSideWeightedAverage(t *testing.T) {
	t.Parallel()
	s := New()
	s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 10, Price: 100})
	delta := s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 10, Price: 110})

	if delta.NetQty != 20 {
		t.Fatalf("NetQty = %d, want 20", delta.NetQty)
	}
	if delta.AvgPrice != 105 {
		t.Fatalf("AvgPrice = %d, want 105", delta.AvgPrice)
	}
}

func TestOppositeSideReducingWithoutCrossing(t *testing.T) {
	t.Parallel()
	s := New()
	s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 10, Price: 100})
	delta := s.OnFill(intents.FillEvent{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Sell, Qty: 4, Price: 110})

	if delta.NetQty != 6 {
		t.Fatalf("NetQty = %d, want 6", delta.NetQty)
	}
	if delta.AvgPrice != 100 {
		t.Fatalf("AvgPrice = %d, want 100 (unchanged on partial reduce)", delta.AvgPrice)
	}
	if delta.RealizedDelta != 40 {
		t.Fatalf("RealizedDelta = %d, want 40", delta.RealizedDelta)
	}
}

func TestInvariantSumOfFillsEqualsNetQty(t *testing.T) {
	t.Parallel()
	s := New()
	fills := []intents.FillEvent{
		{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 5, Price: 100},
		{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Buy, Qty: 3, Price: 101},
		{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Sell, Qty: 4, Price: 102},
		{AccountID: "A", StrategyID: "S", Symbol: "AAA", Side: intents.Sell, Qty: 6, Price: 103},
	}
	var wantNet int64
	var lastDelta intents.PositionDelta
	for _, f := range fills {
		signed := f.Qty
		if f.Side == intents.Sell {
			signed = -f.Qty
		}
		wantNet += signed
		lastDelta = s.OnFill(f)
	}
	if lastDelta.NetQty != wantNet {
		t.Fatalf("NetQty = %d, want %d (sum of signed fills)", lastDelta.NetQty, wantNet)
	}
}
