package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestReplayArchivesOnSuccessAndMakesReplayIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wal, err := NewWALWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := NewClaimRegistry(filepath.Join(dir, "claims"))
	if err != nil {
		t.Fatal(err)
	}

	if err := wal.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatal(err)
	}

	replayer := NewReplayer(wal, claims, testLogger())

	var sent []string
	n, err := replayer.Replay(func(table string, rows []map[string]any) error {
		sent = append(sent, table)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 file replayed, got %d", n)
	}
	if len(sent) != 1 || sent[0] != TableOrders {
		t.Fatalf("expected send called for orders table, got %v", sent)
	}

	archived, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil || len(archived) != 1 {
		t.Fatalf("expected 1 archived file, err=%v entries=%v", err, archived)
	}

	remaining, _ := os.ReadDir(dir)
	for _, e := range remaining {
		if filepath.Ext(e.Name()) == ".jsonl" {
			t.Fatalf("expected wal dir clean after archive, found %s", e.Name())
		}
	}

	// Re-running replay is a no-op: no jsonl files left to send.
	n2, err := replayer.Replay(func(table string, rows []map[string]any) error {
		t.Fatal("send should not be called on an already-archived replay")
		return nil
	})
	if err != nil || n2 != 0 {
		t.Fatalf("expected idempotent no-op replay, got n=%d err=%v", n2, err)
	}
}

func TestReplayStopsOnFirstFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wal, err := NewWALWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := NewClaimRegistry(filepath.Join(dir, "claims"))
	if err != nil {
		t.Fatal(err)
	}

	if err := wal.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatal(err)
	}

	replayer := NewReplayer(wal, claims, testLogger())
	_, err = replayer.Replay(func(table string, rows []map[string]any) error {
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("expected replay to fail")
	}

	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jsonl" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the failed file to remain unarchived, preserving order")
	}
}
