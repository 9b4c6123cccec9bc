package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoaderFlags mirrors the analytics-side loader's configured
// preconditions for consuming replayed WAL data. The recorder doesn't
// control the loader, but it can check its own WAL layout against what
// the loader expects before a replay run.
type LoaderFlags struct {
	StrictNs        bool
	DedupEnabled    bool
	ManifestEnabled bool
	ArchiveDir      string
}

// Violation is one precondition the current WAL setup fails to satisfy.
type Violation struct {
	Flag   string
	Reason string
}

// ValidateReplayContract checks flags against this pipeline's WAL
// directory and returns every violation found, rather than failing
// fast; callers decide whether any are fatal.
func ValidateReplayContract(wal *WALWriter, flags LoaderFlags) []Violation {
	var violations []Violation

	if flags.StrictNs {
		// strict_ns requires every WAL filename to carry a parseable
		// nanosecond suffix.
		entries, err := os.ReadDir(wal.dir)
		if err != nil {
			violations = append(violations, Violation{
				Flag:   "strict_ns",
				Reason: fmt.Sprintf("cannot read wal dir to verify filename timestamps: %v", err),
			})
		} else {
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
					continue
				}
				if _, _, ok := parseWALFilename(e.Name()); !ok {
					violations = append(violations, Violation{
						Flag:   "strict_ns",
						Reason: fmt.Sprintf("wal file %q lacks a parseable nanosecond suffix", e.Name()),
					})
				}
			}
		}
	}

	if flags.ManifestEnabled {
		violations = append(violations, Violation{
			Flag:   "manifest_enabled",
			Reason: "this recorder does not emit a replay manifest; loader must tolerate manifest-less directories",
		})
	}

	if archiveDir := filepath.Join(wal.dir, "archive"); flags.ArchiveDir != "" && flags.ArchiveDir != archiveDir {
		violations = append(violations, Violation{
			Flag:   "archive_dir",
			Reason: fmt.Sprintf("loader expects archive_dir=%q but this pipeline archives to %q", flags.ArchiveDir, archiveDir),
		})
	}

	if flags.DedupEnabled && !flags.StrictNs {
		violations = append(violations, Violation{
			Flag:   "dedup_enabled",
			Reason: "dedup relies on strictly monotonic, parseable timestamps; strict_ns is not set",
		})
	}

	return violations
}
