package activity

import (
	"fmt"
	"testing"
	"time"
)

func TestLogIsBoundedAndNewestFirst(t *testing.T) {
	l := NewLog(3)
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Record(Entry{At: start.Add(time.Duration(i) * time.Second), Username: "ana", Message: fmt.Sprintf("edit %d", i)})
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "edit 4" || entries[2].Message != "edit 2" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if got := entries[0].String(); got != "08:00:04 ana edit 4" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestNewLogDefaultCapacity(t *testing.T) {
	l := NewLog(0)
	for i := 0; i < DefaultCapacity+10; i++ {
		l.Record(Entry{Message: "x"})
	}
	if l.Len() != DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", DefaultCapacity, l.Len())
	}
}
