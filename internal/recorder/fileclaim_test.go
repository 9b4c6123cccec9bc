package recorder

import (
	"path/filepath"
	"testing"
)

func TestClaimRegistryExclusiveAcquire(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	reg, err := NewClaimRegistry(filepath.Join(dir, "claims"))
	if err != nil {
		t.Fatal(err)
	}

	claim, ok, err := reg.Acquire(filepath.Join(dir, "orders_1.jsonl"))
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	_, ok2, err := reg.Acquire(filepath.Join(dir, "orders_1.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error on second acquire: %v", err)
	}
	if ok2 {
		t.Fatal("expected second acquire of the same file to fail while first is held")
	}

	if err := claim.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	claim2, ok3, err := reg.Acquire(filepath.Join(dir, "orders_1.jsonl"))
	if err != nil || !ok3 {
		t.Fatalf("expected re-acquire after release to succeed, ok=%v err=%v", ok3, err)
	}
	claim2.Release()
}

func TestReapStaleRemovesUnlockedClaims(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	reg, err := NewClaimRegistry(filepath.Join(dir, "claims"))
	if err != nil {
		t.Fatal(err)
	}

	claim, ok, err := reg.Acquire(filepath.Join(dir, "orders_1.jsonl"))
	if err != nil || !ok {
		t.Fatal("expected acquire to succeed")
	}
	claim.Release() // simulate clean worker exit; file removed, nothing to reap

	// Recreate a claim file without holding its lock, simulating a crash
	// that left the claim file behind.
	claim2, ok2, err := reg.Acquire(filepath.Join(dir, "orders_2.jsonl"))
	if err != nil || !ok2 {
		t.Fatal("expected acquire to succeed")
	}
	claim2.file.Close() // release the OS lock without removing the file, like a crash

	reaped, err := reg.ReapStale()
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if len(reaped) != 1 {
		t.Fatalf("expected 1 stale claim reaped, got %v", reaped)
	}
}
