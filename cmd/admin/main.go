package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"lifeline.ai/internal/config"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/persistence/archive"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "ledger":
			ledgerCmd(os.Args[2:])
			return
		case "history":
			historyCmd(os.Args[2:])
			return
		case "weeks":
			weeksCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <ledger|history|weeks|audit|archives|state|save> [flags]")
	os.Exit(2)
}

func paths(dataDir string) config.Config {
	cfg := config.Defaults()
	cfg.DataDir = dataDir
	return cfg
}

type ledgerRow struct {
	ID         string     `json:"id"`
	Lives      int        `json:"lives"`
	LockExpiry *time.Time `json:"lock_expiry,omitempty"`
}

// readLedger loads a ledger file without touching it on disk.
func readLedger(path string) ([]ledgerRow, ledger.Stats) {
	l := ledger.New(ledger.Options{Path: path})
	l.Load()
	var rows []ledgerRow
	for _, id := range l.Participants() {
		r := ledgerRow{ID: id.String(), Lives: l.Lives(id)}
		if ts, ok := l.LockExpiry(id); ok {
			ts := ts.UTC()
			r.LockExpiry = &ts
		}
		rows = append(rows, r)
	}
	return rows, l.Stats()
}

func ledgerCmd(args []string) {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	file := fs.String("file", "", "ledger file (optional; defaults to <data>/livedata.yaml)")
	_ = fs.Parse(args)

	path := *file
	if path == "" {
		path = paths(*dataDir).LedgerPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(1)
	}
	rows, st := readLedger(path)
	for _, r := range rows {
		printJSON(r)
	}
	fmt.Fprintf(os.Stderr, "participants=%d locked=%d next_reset=%s\n", st.Participants, st.Locked, st.NextReset.UTC().Format(time.RFC3339))
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(paths(*dataDir).ArchiveRoot())
	if err != nil {
		fmt.Fprintln(os.Stderr, "archives:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		printJSON(m)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
