package lob

import (
	"testing"
	"time"

	"github.com/hftplatform/engine/pkg/events"
)

func TestSnapshotReplacesBothSides(t *testing.T) {
	t.Parallel()
	e := New()
	e.ApplyBidAsk(events.BidAskEvent{
		Symbol:     "AAA",
		IsSnapshot: true,
		Bids:       []events.PriceLevel{{Price: 10000, Volume: 10}},
		Asks:       []events.PriceLevel{{Price: 10100, Volume: 7}},
	})

	book := e.GetBook("AAA")
	st := book.Stats(0)
	if !st.BothSidesPresent {
		t.Fatal("expected both sides present")
	}
	if st.BestBid != 10000 || st.BestAsk != 10100 {
		t.Fatalf("best bid/ask = %d/%d, want 10000/10100", st.BestBid, st.BestAsk)
	}
	if st.MidPrice != 10050 {
		t.Fatalf("MidPrice = %d, want 10050", st.MidPrice)
	}
}

func TestIncrementalZeroVolumeDeletes(t *testing.T) {
	t.Parallel()
	e := New()
	e.ApplyBidAsk(events.BidAskEvent{
		Symbol: "AAA", IsSnapshot: true,
		Bids: []events.PriceLevel{{Price: 100, Volume: 5}},
		Asks: []events.PriceLevel{{Price: 105, Volume: 5}},
	})
	e.ApplyBidAsk(events.BidAskEvent{
		Symbol: "AAA",
		Bids:   []events.PriceLevel{{Price: 100, Volume: 0}},
	})

	levels := e.GetBook("AAA").Levels("bid")
	if len(levels) != 0 {
		t.Fatalf("expected bid level deleted, got %v", levels)
	}
}

func TestEmptyBookMidPriceSentinel(t *testing.T) {
	t.Parallel()
	e := New()
	st := e.GetBook("EMPTY").Stats(0)
	if st.BothSidesPresent {
		t.Fatal("expected BothSidesPresent = false")
	}
	if st.MidPrice != events.NoMidPrice {
		t.Fatalf("MidPrice = %d, want sentinel %d", st.MidPrice, events.NoMidPrice)
	}
}

func TestTickDoesNotMutateLevels(t *testing.T) {
	t.Parallel()
	e := New()
	e.ApplyBidAsk(events.BidAskEvent{
		Symbol: "AAA", IsSnapshot: true,
		Bids: []events.PriceLevel{{Price: 100, Volume: 5}},
	})
	e.ApplyTick(events.TickEvent{Symbol: "AAA", Price: 999})

	levels := e.GetBook("AAA").Levels("bid")
	if len(levels) != 1 || levels[0].Price != 100 {
		t.Fatalf("tick mutated levels: %v", levels)
	}
}

func TestGetBookCreatesOnMiss(t *testing.T) {
	t.Parallel()
	e := New()
	b1 := e.GetBook("NEW")
	b2 := e.GetBook("NEW")
	if b1 != b2 {
		t.Fatal("GetBook should return the same instance for repeated calls")
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	e := New()
	b := e.GetBook("AAA")
	if !b.IsStale(time.Second) {
		t.Fatal("book with no updates should be stale")
	}
}

func TestLevelsSortedDescendingAscending(t *testing.T) {
	t.Parallel()
	e := New()
	e.ApplyBidAsk(events.BidAskEvent{
		Symbol: "AAA", IsSnapshot: true,
		Bids: []events.PriceLevel{{Price: 100, Volume: 1}, {Price: 102, Volume: 1}, {Price: 101, Volume: 1}},
		Asks: []events.PriceLevel{{Price: 200, Volume: 1}, {Price: 198, Volume: 1}, {Price: 199, Volume: 1}},
	})

	bids := e.GetBook("AAA").Levels("bid")
	for i := 1; i < len(bids); i++ {
		if bids[i].Price > bids[i-1].Price {
			t.Fatalf("bids not descending: %v", bids)
		}
	}
	asks := e.GetBook("AAA").Levels("ask")
	for i := 1; i < len(asks); i++ {
		if asks[i].Price < asks[i-1].Price {
			t.Fatalf("asks not ascending: %v", asks)
		}
	}
}
