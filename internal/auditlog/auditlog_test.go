package auditlog

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestChangeRecordLine(t *testing.T) {
	rec := ChangeRecord{
		Time:        time.Date(2024, 3, 1, 0, 0, 5, 0, time.UTC),
		VPSID:       "901",
		UsedBefore:  3,
		LimitBefore: 3997,
		NewLimit:    3994,
		PlanID:      "2",
	}

	want := "2024-03-01 00:00:05  VPS 901  3/3997 => 0/3994 (plan 2)"
	if got := rec.Line(); got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}
}

func TestAppendToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	rec := ChangeRecord{Time: time.Now(), VPSID: "42", UsedBefore: 1, LimitBefore: 10, NewLimit: 9, PlanID: "7"}
	if err := log.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and append again: the log is append-only across runs.
	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := log.Append(rec); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	log.Close()
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf)

	const writers = 20
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := ChangeRecord{
					Time:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
					VPSID:       fmt.Sprintf("%d-%d", w, i),
					UsedBefore:  int64(i),
					LimitBefore: 1000,
					NewLimit:    1000 - int64(i),
					PlanID:      "2",
				}
				if err := log.Append(rec); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}

	// Every line must be a complete, well-formed record.
	for _, line := range lines {
		if !strings.Contains(line, "  VPS ") || !strings.Contains(line, " => 0/") {
			t.Errorf("malformed audit line: %q", line)
		}
	}
}
