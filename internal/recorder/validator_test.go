package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateReplayContractCleanSetup(t *testing.T) {
	t.Parallel()
	wal, err := NewWALWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := wal.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatal(err)
	}

	violations := ValidateReplayContract(wal, LoaderFlags{
		StrictNs:   true,
		ArchiveDir: filepath.Join(wal.Dir(), "archive"),
	})
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %+v", violations)
	}
}

func TestValidateReplayContractFlagsViolations(t *testing.T) {
	t.Parallel()
	wal, err := NewWALWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wal.Dir(), "garbage.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	violations := ValidateReplayContract(wal, LoaderFlags{
		StrictNs:        true,
		DedupEnabled:    false,
		ManifestEnabled: true,
		ArchiveDir:      "/somewhere/else",
	})

	byFlag := map[string]bool{}
	for _, v := range violations {
		byFlag[v.Flag] = true
	}
	for _, want := range []string{"strict_ns", "manifest_enabled", "archive_dir"} {
		if !byFlag[want] {
			t.Fatalf("expected %s violation, got %+v", want, violations)
		}
	}
}

func TestValidateReplayContractDedupRequiresStrictNs(t *testing.T) {
	t.Parallel()
	wal, err := NewWALWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	violations := ValidateReplayContract(wal, LoaderFlags{DedupEnabled: true})
	if len(violations) != 1 || violations[0].Flag != "dedup_enabled" {
		t.Fatalf("expected a single dedup_enabled violation, got %+v", violations)
	}
}
