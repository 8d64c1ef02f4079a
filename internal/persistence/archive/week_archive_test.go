package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lifeline.ai/internal/ledger"
)

func TestArchiveWeek_CopiesLedgerAndMeta(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "livedata.yaml")
	want := []byte("nextResetTime: 1\nlives: {}\nrevivalTimestamps: {}\n")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var recorded []string
	a := New(filepath.Join(dir, "archives"), func(m WeekArchiveMeta, d string) {
		recorded = append(recorded, m.Week)
	})
	at := time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)
	if err := a.ArchiveWeek(src, at, ledger.Stats{Participants: 4, Locked: 1}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "archives", "week_20250308", "livedata.yaml"))
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: %q", got)
	}
	if len(recorded) != 1 || recorded[0] != "20250308" {
		t.Fatalf("recorded=%v", recorded)
	}

	weeks, err := List(filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(weeks) != 1 || weeks[0].Participants != 4 || weeks[0].Locked != 1 {
		t.Fatalf("weeks=%+v", weeks)
	}
}

func TestArchiveWeek_UnsavedLedgerIsSkipped(t *testing.T) {
	dir := t.TempDir()
	a := New(filepath.Join(dir, "archives"), nil)
	if err := a.ArchiveWeek(filepath.Join(dir, "missing.yaml"), time.Now(), ledger.Stats{}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if weeks, _ := List(filepath.Join(dir, "archives")); len(weeks) != 0 {
		t.Fatalf("weeks=%v", weeks)
	}
}
