// Package queue implements the append-only, line-delimited log of pending
// registry mutations. Every line is one JSON Record; lines are consumed in
// file order and the file is truncated after a successful drain.
//
// Queue does no locking of its own. Callers hold the registry lock around
// Append, ReadAll and Truncate.
package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
)

// maxLineBytes bounds a single queued record.
const maxLineBytes = 1 << 20

// Queue is a file-backed FIFO of Records.
type Queue struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Queue stored at path.
func New(path string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{path: path, logger: logger, now: time.Now}
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.path }

// Append writes p as one line with a single O_APPEND write and fsyncs it.
// The returned Record carries the assigned timestamp.
func (q *Queue) Append(p Payload) (Record, error) {
	if p == nil {
		return Record{}, fmt.Errorf("queue: nil payload: %w", apperr.ErrInvalidUpdate)
	}
	if err := p.Validate(); err != nil {
		return Record{}, fmt.Errorf("queue: %s: %v: %w", p.Action(), err, apperr.ErrInvalidUpdate)
	}
	rec := Record{Payload: p, Timestamp: q.now().UTC()}
	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("queue: encode: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return Record{}, fmt.Errorf("queue: mkdir: %w", err)
	}
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("queue: open: %v: %w", err, apperr.ErrPersistence)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return Record{}, fmt.Errorf("queue: append: %v: %w", err, apperr.ErrPersistence)
	}
	if err := f.Sync(); err != nil {
		return Record{}, fmt.Errorf("queue: fsync: %v: %w", err, apperr.ErrPersistence)
	}
	return rec, nil
}

// ReadAll parses every line of the queue in file order. Malformed lines are
// logged and skipped; skipped reports how many. A missing file is an empty queue.
func (q *Queue) ReadAll() (records []Record, skipped int, err error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("queue: read: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			q.logger.Warn("queue: skipping malformed entry",
				slog.Int("line", lineNo),
				slog.String("error", fmt.Errorf("%v: %w", err, apperr.ErrMalformedEntry).Error()))
			continue
		}
		if err := rec.Payload.Validate(); err != nil {
			skipped++
			q.logger.Warn("queue: skipping invalid entry",
				slog.Int("line", lineNo),
				slog.String("action", string(rec.Action())),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, skipped, fmt.Errorf("queue: scan: %w", err)
	}
	return records, skipped, nil
}

// Pending returns the number of non-empty lines currently queued.
func (q *Queue) Pending() (int, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue: read: %w", err)
	}
	n := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n, nil
}

// Truncate empties the queue file.
func (q *Queue) Truncate() error {
	err := os.Truncate(q.path, 0)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("queue: truncate: %v: %w", err, apperr.ErrPersistence)
}
