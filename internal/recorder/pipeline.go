package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/hftplatform/engine/internal/bus"
)

// Mode selects how the pipeline ultimately persists rows: straight to
// the analytics DB (with WAL fallback) or straight to the WAL
// regardless of DB health. Resolved once at construction time and
// immutable for the process lifetime; switching requires a restart.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeWALFirst Mode = "wal_first"
)

// Pipeline is RecorderPipeline: it maps typed events to table rows and
// fans them out to one Batcher per table, each flushing to the mode's
// configured Writer.
type Pipeline struct {
	mode     Mode
	batchers map[string]*Batcher
	logger   *slog.Logger
}

// New creates a Pipeline with one Batcher per table in recorder.AllTables,
// all sharing the same Writer (a DirectWriter or WALFirstWriter
// depending on mode).
func New(mode Mode, writer Writer, cfg BatcherConfig, metrics DropCounter, logger *slog.Logger) *Pipeline {
	p := &Pipeline{mode: mode, batchers: make(map[string]*Batcher), logger: logger.With("component", "recorder-pipeline")}
	for _, table := range AllTables {
		p.batchers[table] = NewBatcher(table, cfg, writer, metrics, logger)
	}
	return p
}

// Mode returns the pipeline's immutable persistence mode.
func (p *Pipeline) Mode() Mode { return p.mode }

// Record maps one typed event to a row and enqueues it on the
// appropriate table's batcher. Unknown event types are silently
// dropped, matching the mapper's contract. A batcher that has reached
// its flush limit is flushed inline rather than waiting for the next
// periodic tick.
func (p *Pipeline) Record(ev any) {
	table, row, ok := MapEvent(ev)
	if !ok {
		return
	}
	b, ok := p.batchers[table]
	if !ok {
		return
	}
	b.Enqueue(row)
	b.CheckFlush(context.Background())
}

// Run starts every table's batcher flush loop. Blocks until ctx is
// cancelled, at which point every batcher drains its remaining buffer.
func (p *Pipeline) Run(ctx context.Context) {
	done := make(chan struct{}, len(p.batchers))
	for _, b := range p.batchers {
		go func(b *Batcher) {
			b.Run(ctx)
			done <- struct{}{}
		}(b)
	}
	for range p.batchers {
		<-done
	}
}

// RunBridge is the recorder-bridge: it drains a bus consumer in batches
// and feeds each event to Record, looping until ctx is cancelled. This
// is the one place a Pipeline touches the RingBus.
func (p *Pipeline) RunBridge(ctx context.Context, consumer *bus.Consumer, batchMax int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		evs := consumer.Consume(batchMax)
		for _, ev := range evs {
			p.Record(ev)
		}
		if len(evs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}
}
