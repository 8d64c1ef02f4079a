package log

import (
	"testing"
	"time"

	"lifeline.ai/internal/events"
)

func TestAuditLogger_RoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	l := NewAuditLogger(dir)
	l.w.now = func() time.Time { return at }
	if err := l.WriteEvent(events.Event{Time: at, Kind: events.KindDeath, Participant: "p1", Lives: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Same hour after a restart appends another frame to the same file.
	l = NewAuditLogger(dir)
	l.w.now = func() time.Time { return at.Add(10 * time.Minute) }
	if err := l.WriteEvent(events.Event{Time: at, Kind: events.KindLock, Participant: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = l.Close()

	files, err := AuditFiles(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var got []events.Kind
	if err := ReadAudit(files[0], func(e events.Event) error {
		got = append(got, e.Kind)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0] != events.KindDeath || got[1] != events.KindLock {
		t.Fatalf("events=%v", got)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 1, 12, 59, 0, 0, time.UTC)
	w := NewJSONLZstdWriter(dir, "audit")
	w.now = func() time.Time { return at }
	_ = w.Write(map[string]int{"n": 1})
	at = at.Add(2 * time.Minute)
	_ = w.Write(map[string]int{"n": 2})
	_ = w.Close()

	files, _ := AuditFiles(dir)
	if len(files) != 2 {
		t.Fatalf("files=%v want 2", files)
	}
}
