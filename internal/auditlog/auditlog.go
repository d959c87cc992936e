// Package auditlog persists the change audit trail: one line per
// resource that completed both remote mutations successfully.
package auditlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// timeLayout is the timestamp format of audit lines.
const timeLayout = "2006-01-02 15:04:05"

// ChangeRecord describes one applied carry-over. Records are created
// by the executor on full success and are never mutated afterwards.
type ChangeRecord struct {
	Time        time.Time
	VPSID       string
	UsedBefore  int64
	LimitBefore int64
	NewLimit    int64
	PlanID      string
}

// Line renders the record in the audit log's fixed format.
func (r ChangeRecord) Line() string {
	return fmt.Sprintf("%s  VPS %s  %d/%d => 0/%d (plan %s)",
		r.Time.Format(timeLayout), r.VPSID, r.UsedBefore, r.LimitBefore, r.NewLimit, r.PlanID)
}

// Log is an append-only audit log safe for concurrent appenders.
// Each record is written as a single line under the mutex, so records
// never interleave mid-line.
type Log struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File // non-nil when backed by a file we own
}

// Open opens (or creates) a file-backed audit log in append mode.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Log{w: f, f: f}, nil
}

// NewWriter wraps an arbitrary writer as an audit log. Used in tests
// and for discard logs in dry-run mode.
func NewWriter(w io.Writer) *Log {
	return &Log{w: w}
}

// Append writes one change record.
func (l *Log) Append(rec ChangeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(l.w, rec.Line()+"\n"); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
