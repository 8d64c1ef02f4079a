// Command replay folds the audit log into per-participant lives and lock state and compares the
// result with a ledger file. Any difference means the ledger and its audit trail disagree.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"lifeline.ai/internal/events"
	"lifeline.ai/internal/ledger"
	persistlog "lifeline.ai/internal/persistence/log"
)

func main() {
	var (
		auditDir   = flag.String("audit", "./data/audit", "directory containing audit-*.jsonl.zst")
		ledgerPath = flag.String("ledger", "./data/livedata.yaml", "ledger file to verify")
		until      = flag.String("until", "", "ignore events after this RFC3339 instant (optional)")
	)
	flag.Parse()

	var cutoff time.Time
	if *until != "" {
		t, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -until:", err)
			os.Exit(2)
		}
		cutoff = t
	}

	files, err := persistlog.AuditFiles(*auditDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no audit files under", *auditDir)
		os.Exit(2)
	}

	st := newState()
	for _, path := range files {
		err := persistlog.ReadAudit(path, func(e events.Event) error {
			if !cutoff.IsZero() && e.Time.After(cutoff) {
				return nil
			}
			st.apply(e)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read audit:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replayed events=%d participants=%d resets=%d\n", st.events, len(st.lives), st.resets)

	l := ledger.New(ledger.Options{Path: *ledgerPath})
	l.Load()
	diffs := st.diff(l)
	for _, d := range diffs {
		fmt.Println(d)
	}
	if len(diffs) > 0 {
		fmt.Printf("MISMATCH: %d difference(s)\n", len(diffs))
		os.Exit(1)
	}
	fmt.Println("OK: ledger matches audit log")
}

// state is the ledger as reconstructed from events alone.
type state struct {
	lives  map[string]int
	locked map[string]bool
	events int
	resets int
}

func newState() *state {
	return &state{lives: map[string]int{}, locked: map[string]bool{}}
}

func (s *state) apply(e events.Event) {
	s.events++
	p := e.Participant
	switch e.Kind {
	case events.KindJoin, events.KindDeath:
		s.lives[p] = e.Lives
	case events.KindAdjust:
		s.lives[p] = e.Lives
		if e.Lives > 0 {
			delete(s.locked, p)
		}
	case events.KindLock:
		s.locked[p] = true
	case events.KindRelease:
		s.lives[p] = e.Lives
		delete(s.locked, p)
	case events.KindReset:
		s.resets++
		for id := range s.lives {
			s.lives[id] = e.Lives
		}
		s.locked = map[string]bool{}
	}
}

func (s *state) diff(l *ledger.Ledger) []string {
	inLedger := map[string]bool{}
	var out []string
	for _, id := range l.Participants() {
		key := id.String()
		inLedger[key] = true
		want, seen := s.lives[key]
		if !seen {
			out = append(out, fmt.Sprintf("%s: in ledger (lives=%d) but never in audit", key, l.Lives(id)))
			continue
		}
		if got := l.Lives(id); got != want {
			out = append(out, fmt.Sprintf("%s: lives ledger=%d audit=%d", key, got, want))
		}
		_, locked := l.LockExpiry(id)
		if locked != s.locked[key] {
			out = append(out, fmt.Sprintf("%s: locked ledger=%v audit=%v", key, locked, s.locked[key]))
		}
	}
	for key := range s.lives {
		if !inLedger[key] {
			out = append(out, fmt.Sprintf("%s: in audit but missing from ledger", key))
		}
	}
	sort.Strings(out)
	return out
}
