package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"lifeline.ai/internal/events"
	"lifeline.ai/internal/ledger"
)

func TestReadLedger_RowsAndStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livedata.yaml")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.Options{Path: path, DefaultLives: 1, Now: func() time.Time { return now }})
	a, b := uuid.New(), uuid.New()
	l.Touch(a)
	l.Touch(b)
	l.RecordDeath(b, now, time.Hour)
	if err := l.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, st := readLedger(path)
	if len(rows) != 2 || st.Participants != 2 || st.Locked != 1 {
		t.Fatalf("rows=%+v stats=%+v", rows, st)
	}
	var locked int
	for _, r := range rows {
		if r.LockExpiry != nil {
			locked++
			if r.ID != b.String() || r.Lives != 0 || !r.LockExpiry.Equal(now.Add(time.Hour)) {
				t.Fatalf("locked row=%+v", r)
			}
		}
	}
	if locked != 1 {
		t.Fatalf("locked rows=%d", locked)
	}
}

func TestAuditFilter(t *testing.T) {
	f := auditFilter{participant: "p1", kind: events.KindDeath}
	if !f.match(events.Event{Participant: "p1", Kind: events.KindDeath}) {
		t.Fatalf("expected match")
	}
	if f.match(events.Event{Participant: "p2", Kind: events.KindDeath}) {
		t.Fatalf("other participant matched")
	}
	if !(auditFilter{}).match(events.Event{Kind: events.KindReset}) {
		t.Fatalf("empty filter should match everything")
	}
}

func TestCallAdmin_StatusCodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin/v1/save" && r.Method == http.MethodPost {
			_, _ = rw.Write([]byte(`{"ok":true}`))
			return
		}
		http.Error(rw, "forbidden", http.StatusForbidden)
	}))
	defer ts.Close()

	if code := callAdmin(http.MethodPost, ts.URL+"/", "/admin/v1/save"); code != 0 {
		t.Fatalf("save code=%d", code)
	}
	if code := callAdmin(http.MethodGet, ts.URL, "/admin/v1/state"); code != 1 {
		t.Fatalf("state code=%d", code)
	}
}
