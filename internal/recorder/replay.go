package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SendFunc delivers one WAL file's decoded rows for table to the
// analytics sink. Replay stops on the first error to preserve
// per-table ordering.
type SendFunc func(table string, rows []map[string]any) error

// Replayer scans a WAL directory in filename order (the nanosecond
// suffix encodes publish time, so lexicographic == chronological once
// zero-padded; this pipeline doesn't zero-pad, so it sorts numerically
// on the parsed timestamp instead) and replays each file through a
// caller-supplied SendFunc, archiving on success, skipping files claimed
// by another worker, and stopping on the first failure.
type Replayer struct {
	wal    *WALWriter
	claims *ClaimRegistry
	logger *slog.Logger
}

// NewReplayer creates a Replayer over wal's directory, claiming each
// file before replay so concurrent workers never double-send one.
func NewReplayer(wal *WALWriter, claims *ClaimRegistry, logger *slog.Logger) *Replayer {
	return &Replayer{wal: wal, claims: claims, logger: logger.With("component", "recorder-replayer")}
}

// walFile is one parsed WAL filename.
type walFile struct {
	path  string
	table string
	nanos int64
}

func parseWALFilename(name string) (table string, nanos int64, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".jsonl")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return "", 0, false
	}
	table = base[:idx]
	var n int64
	if _, err := fmt.Sscanf(base[idx+1:], "%d", &n); err != nil {
		return "", 0, false
	}
	return table, n, true
}

// listSorted returns every .jsonl file directly under the WAL dir,
// sorted by the nanosecond timestamp encoded in its name.
func (r *Replayer) listSorted() ([]walFile, error) {
	entries, err := os.ReadDir(r.wal.dir)
	if err != nil {
		return nil, fmt.Errorf("read wal dir: %w", err)
	}

	var files []walFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		table, nanos, ok := parseWALFilename(e.Name())
		if !ok {
			continue
		}
		files = append(files, walFile{path: filepath.Join(r.wal.dir, e.Name()), table: table, nanos: nanos})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].nanos < files[j].nanos })
	return files, nil
}

// Replay processes every pending WAL file in order, sending its rows
// via send and archiving on success. A file already claimed by another
// worker is skipped. It stops at the first claim, read, send or archive
// error, returning the count successfully replayed.
func (r *Replayer) Replay(send SendFunc) (replayed int, err error) {
	files, err := r.listSorted()
	if err != nil {
		return 0, err
	}

	for _, f := range files {
		claim, ok, cerr := r.claims.Acquire(f.path)
		if cerr != nil {
			return replayed, fmt.Errorf("claim %s: %w", f.path, cerr)
		}
		if !ok {
			r.logger.Info("skipping file claimed by another worker", "file", f.path)
			continue
		}

		rows, rerr := readJSONLRows(f.path)
		if rerr != nil {
			claim.Release()
			return replayed, fmt.Errorf("read %s: %w", f.path, rerr)
		}

		if serr := send(f.table, rows); serr != nil {
			claim.Release()
			r.logger.Error("replay send failed, stopping to preserve order", "file", f.path, "error", serr)
			return replayed, fmt.Errorf("send %s: %w", f.path, serr)
		}

		if aerr := r.archive(f.path); aerr != nil {
			claim.Release()
			return replayed, fmt.Errorf("archive %s: %w", f.path, aerr)
		}
		claim.Release()
		replayed++
	}
	return replayed, nil
}

func readJSONLRows(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

// archive moves a successfully-replayed WAL file into archive/, making
// re-replay a no-op (the file is gone from the active directory).
func (r *Replayer) archive(path string) error {
	dest := filepath.Join(r.wal.dir, "archive", filepath.Base(path))
	return os.Rename(path, dest)
}
