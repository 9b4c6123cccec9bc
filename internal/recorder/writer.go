package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// DirectWriter sanitizes row timestamps and writes batches straight to
// the analytics DB, retrying with exponential backoff and jitter before
// spilling the batch to a WAL fallback on persistent failure.
type DirectWriter struct {
	db             *gorm.DB
	fallback       *WALWriter
	maxRetries     int
	retryBaseDelay time.Duration
	maxFutureSkew  time.Duration
	logger         *slog.Logger
	now            func() time.Time
	sleep          func(time.Duration)
}

// NewDirectWriter opens a gorm/MySQL connection, migrates the three sink
// tables, and returns a DirectWriter that spills to fallback on
// persistent failure.
func NewDirectWriter(dsn string, fallback *WALWriter, maxRetries int, retryBaseDelay, maxFutureSkew time.Duration, logger *slog.Logger) (*DirectWriter, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect analytics db: %w", err)
	}
	if err := db.AutoMigrate(&MarketDataRow{}, &OrderRow{}, &FillRow{}); err != nil {
		return nil, fmt.Errorf("migrate analytics schema: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = 100 * time.Millisecond
	}
	return &DirectWriter{
		db:             db,
		fallback:       fallback,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		maxFutureSkew:  maxFutureSkew,
		logger:         logger.With("component", "recorder-direct-writer"),
		now:            time.Now,
		sleep:          time.Sleep,
	}, nil
}

// WriteBatch sanitizes timestamps, then writes rows to the DB with
// exponential-backoff-with-jitter retries. On persistent failure it
// spills the batch to the WAL fallback and returns that write's result;
// with no fallback configured it returns the DB error.
func (w *DirectWriter) WriteBatch(ctx context.Context, table string, rows []any) error {
	sanitized := w.sanitizeRows(table, rows)
	if len(sanitized) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(w.retryBaseDelay, attempt-1)
			w.sleep(delay)
		}
		if err := w.db.WithContext(ctx).Table(table).Create(sanitized).Error; err != nil {
			lastErr = err
			w.logger.Warn("db write failed, retrying", "table", table, "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	w.logger.Error("db write persistently failed, spilling to wal", "table", table, "rows", len(sanitized), "error", lastErr)
	if w.fallback == nil {
		return fmt.Errorf("db write failed after %d retries and no wal fallback configured: %w", w.maxRetries, lastErr)
	}
	return w.fallback.WriteBatch(ctx, table, sanitized)
}

// sanitizeRows drops rows whose exchange timestamp exceeds
// now+maxFutureSkew and clamps impossible (non-positive) timestamps.
func (w *DirectWriter) sanitizeRows(table string, rows []any) []any {
	now := w.now()
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		switch v := row.(type) {
		case MarketDataRow:
			clamped, dropped := sanitizeTs(v.ExchTsNs, now, w.maxFutureSkew)
			if dropped {
				continue
			}
			v.ExchTsNs = clamped
			out = append(out, v)
		case OrderRow:
			clamped, dropped := sanitizeTs(v.BrokerTsNs, now, w.maxFutureSkew)
			if dropped {
				continue
			}
			v.BrokerTsNs = clamped
			out = append(out, v)
		case FillRow:
			clamped, dropped := sanitizeTs(v.MatchTsNs, now, w.maxFutureSkew)
			if dropped {
				continue
			}
			v.MatchTsNs = clamped
			out = append(out, v)
		default:
			out = append(out, row)
		}
	}
	return out
}

// backoffWithJitter computes base*2^n scaled by a uniform [0.9,1.1)
// jitter factor.
func backoffWithJitter(base time.Duration, n int) time.Duration {
	factor := 1 << n
	jitter := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(base) * float64(factor) * jitter)
}

// Close closes the underlying DB connection pool.
func (w *DirectWriter) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
