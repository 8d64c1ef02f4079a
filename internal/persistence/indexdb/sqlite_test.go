package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lifeline.ai/internal/events"
)

func TestSQLiteIndex_HistoryNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "events.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, k := range []events.Kind{events.KindJoin, events.KindDeath, events.KindLock} {
		_ = idx.WriteEvent(events.Event{Time: t0.Add(time.Duration(i) * time.Second), Kind: k, Participant: "p1", Lives: 2 - i})
	}
	_ = idx.WriteEvent(events.Event{Time: t0, Kind: events.KindJoin, Participant: "p2"})
	idx.RecordWeek(WeekRow{Week: "20250308", ResetAt: t0, Participants: 2, Locked: 1, ArchivePath: "archives/week_20250308"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := idx.Stats(); st.Written != 4 || st.DropEvents != 0 {
		t.Fatalf("stats=%+v", st)
	}

	db, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open ro: %v", err)
	}
	defer db.Close()

	got, err := History(context.Background(), db, "p1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 || got[0].Kind != events.KindLock || got[2].Kind != events.KindJoin {
		t.Fatalf("history=%+v", got)
	}
	var weeks int
	if err := db.QueryRow(`SELECT COUNT(*) FROM weeks`).Scan(&weeks); err != nil || weeks != 1 {
		t.Fatalf("weeks=%d err=%v", weeks, err)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	_ = s.WriteEvent(events.Event{Kind: events.KindJoin})
	_ = s.WriteEvent(events.Event{Kind: events.KindDeath})
	s.RecordWeek(WeekRow{Week: "20250308"})

	st := s.Stats()
	if st.DropEvents != 1 || st.DropWeeks != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
