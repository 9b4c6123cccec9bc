package recorder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWALWriterAtomicWriteAndFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWALWriter(dir)
	if err != nil {
		t.Fatalf("new wal writer: %v", err)
	}

	rows := []any{
		OrderRow{OrderID: "O1", Status: "FILLED"},
		OrderRow{OrderID: "O2", Status: "CANCELLED"},
	}
	if err := w.WriteBatch(context.Background(), TableOrders, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var jsonlFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			jsonlFiles = append(jsonlFiles, e.Name())
		}
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover .tmp file: %s", e.Name())
		}
	}
	if len(jsonlFiles) != 1 {
		t.Fatalf("expected exactly 1 jsonl file, got %v", jsonlFiles)
	}
	if !strings.HasPrefix(jsonlFiles[0], "orders_") {
		t.Fatalf("expected filename to start with orders_, got %s", jsonlFiles[0])
	}

	data, err := os.ReadFile(filepath.Join(dir, jsonlFiles[0]))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded OrderRow
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if decoded.OrderID != "O1" {
		t.Fatalf("expected O1, got %s", decoded.OrderID)
	}
}

func TestWALWriterCreatesArchiveAndClaimsDirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := NewWALWriter(dir); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"archive", "claims"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s dir to exist", sub)
		}
	}
}

func TestWALFirstWriterDropsAtHalt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wal, err := NewWALWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	drops := &fakeDropCounter{}
	monitor := NewMonitor(wal, DiskPressureConfig{}, nil, testLogger())
	monitor.level = LevelHalt

	w := NewWALFirstWriter(wal, monitor, nil, drops, testLogger())
	if err := w.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			t.Fatalf("expected no jsonl file written at HALT, found %s", e.Name())
		}
	}
	if drops.counts["orders:halt"] != 1 {
		t.Fatalf("expected drop counted, got %+v", drops.counts)
	}
}

func TestWALFirstWriterCriticalRespectsTablePolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wal, err := NewWALWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	monitor := NewMonitor(wal, DiskPressureConfig{}, nil, testLogger())
	monitor.level = LevelCritical

	w := NewWALFirstWriter(wal, monitor, map[string]TablePolicy{TableOrders: TablePolicyWrite, TableFills: TablePolicyDrop}, &fakeDropCounter{}, testLogger())

	if err := w.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(context.Background(), TableFills, []any{FillRow{FillID: "F1"}}); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	var orderFiles, fillFiles int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "orders_") {
			orderFiles++
		}
		if strings.HasPrefix(e.Name(), "fills_") {
			fillFiles++
		}
	}
	if orderFiles != 1 {
		t.Fatalf("expected orders table (policy=write) to be written under CRITICAL, got %d files", orderFiles)
	}
	if fillFiles != 0 {
		t.Fatalf("expected fills table (policy=drop) to be dropped under CRITICAL, got %d files", fillFiles)
	}
}
