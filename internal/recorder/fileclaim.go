package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Claim represents exclusive ownership of one WAL file, held via an OS
// advisory lock on a sibling `<name>.claim` file so multiple replay
// workers (potentially in separate processes) never double-send the
// same file.
type Claim struct {
	path string
	file *os.File
}

// ClaimRegistry manages file-claim locks under wal_dir/claims/.
type ClaimRegistry struct {
	dir string
}

// NewClaimRegistry creates a ClaimRegistry rooted at claimsDir.
func NewClaimRegistry(claimsDir string) (*ClaimRegistry, error) {
	if err := os.MkdirAll(claimsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create claims dir: %w", err)
	}
	return &ClaimRegistry{dir: claimsDir}, nil
}

// Acquire attempts to take exclusive ownership of walFile for replay.
// Returns ok=false (no error) if another worker currently holds the
// claim; the caller should skip this file and try the next one.
func (r *ClaimRegistry) Acquire(walFile string) (*Claim, bool, error) {
	claimPath := filepath.Join(r.dir, filepath.Base(walFile)+".claim")

	f, err := os.OpenFile(claimPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open claim file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock claim file: %w", err)
	}

	return &Claim{path: claimPath, file: f}, true, nil
}

// Release unlocks and removes the claim file.
func (c *Claim) Release() error {
	if err := syscall.Flock(int(c.file.Fd()), syscall.LOCK_UN); err != nil {
		c.file.Close()
		return fmt.Errorf("unlock claim file: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close claim file: %w", err)
	}
	return os.Remove(c.path)
}

// ReapStale scans the claims directory and removes claim files whose
// lock is not currently held by any process; a worker that crashed
// mid-replay leaves a claim file behind, but the OS releases the flock
// the moment its process exits, so a non-blocking lock attempt here
// either succeeds (stale, safe to remove) or fails (still live, leave
// it alone).
func (r *ClaimRegistry) ReapStale() (reaped []string, err error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read claims dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		lockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if lockErr != nil {
			f.Close()
			continue // still held by a live process
		}
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		if err := os.Remove(path); err == nil {
			reaped = append(reaped, path)
		}
	}
	return reaped, nil
}
