package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/pkg/events"
	"github.com/hftplatform/engine/pkg/intents"
)

func TestMapEventUnknownProducesNoRow(t *testing.T) {
	t.Parallel()
	_, _, ok := MapEvent(struct{ X int }{1})
	if ok {
		t.Fatal("expected unknown event type to produce no row")
	}
}

func TestMapEventKnownTypes(t *testing.T) {
	t.Parallel()
	table, row, ok := MapEvent(events.TickEvent{Symbol: "AAA", Price: 100})
	if !ok || table != TableMarketData {
		t.Fatalf("expected market_data row, got table=%s ok=%v", table, ok)
	}
	if row.(MarketDataRow).Type != "tick" {
		t.Fatalf("expected tick type, got %+v", row)
	}

	table, _, ok = MapEvent(intents.OrderEvent{OrderID: "O1"})
	if !ok || table != TableOrders {
		t.Fatalf("expected orders row, got table=%s ok=%v", table, ok)
	}

	table, _, ok = MapEvent(intents.FillEvent{FillID: "F1"})
	if !ok || table != TableFills {
		t.Fatalf("expected fills row, got table=%s ok=%v", table, ok)
	}
}

func TestSanitizeTsDropsFarFutureAndClampsImpossible(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	skew := 5 * time.Second

	if _, dropped := sanitizeTs(now.Add(time.Minute).UnixNano(), now, skew); !dropped {
		t.Fatal("expected row with far-future timestamp to be dropped")
	}
	if ts, dropped := sanitizeTs(now.Add(time.Second).UnixNano(), now, skew); dropped || ts != now.Add(time.Second).UnixNano() {
		t.Fatalf("expected within-skew timestamp kept verbatim, got ts=%d dropped=%v", ts, dropped)
	}
	if ts, dropped := sanitizeTs(-7, now, skew); dropped || ts != now.UnixNano() {
		t.Fatalf("expected impossible timestamp clamped to now, got ts=%d dropped=%v", ts, dropped)
	}
}

func TestPipelineRecordFlushesAtLimit(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{}
	p := New(ModeDirect, w, BatcherConfig{FlushLimit: 2, MaxBufferSize: 10}, nil, testLogger())

	p.Record(intents.FillEvent{FillID: "F1", Symbol: "AAA"})
	if w.totalRows() != 0 {
		t.Fatalf("expected no flush below limit, got %d rows", w.totalRows())
	}
	p.Record(intents.FillEvent{FillID: "F2", Symbol: "AAA"})
	if w.totalRows() != 2 {
		t.Fatalf("expected inline flush at limit, got %d rows", w.totalRows())
	}
}

func TestPipelineRecordRoutesToBatcher(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{}
	p := New(ModeDirect, w, BatcherConfig{FlushLimit: 1, MaxBufferSize: 10}, nil, testLogger())

	p.Record(intents.FillEvent{FillID: "F1", Symbol: "AAA"})
	p.batchers[TableFills].Flush(context.Background())

	if w.totalRows() != 1 {
		t.Fatalf("expected 1 row routed to fills batcher, got %d", w.totalRows())
	}
}

func TestRunBridgeDrainsConsumerIntoPipeline(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{}
	p := New(ModeDirect, w, BatcherConfig{FlushLimit: 1, MaxBufferSize: 10}, nil, testLogger())

	b := bus.New(4, nil)
	consumer := b.NewConsumer()
	b.Publish(intents.FillEvent{FillID: "F1"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.RunBridge(ctx, consumer, 10)

	p.batchers[TableFills].Flush(context.Background())
	if w.totalRows() != 1 {
		t.Fatalf("expected bridged fill to reach the batcher, got %d rows", w.totalRows())
	}
}
