package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"lifeline.ai/internal/persistence/indexdb"
)

func indexPath(dataDir, dbPath string) string {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = paths(dataDir).IndexPath()
	}
	return path
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	id := fs.String("id", "", "participant id (required)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	if _, err := uuid.Parse(strings.TrimSpace(*id)); err != nil {
		fmt.Fprintln(os.Stderr, "missing or bad -id")
		os.Exit(2)
	}

	db, err := indexdb.OpenReadOnly(indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	evs, err := indexdb.History(context.Background(), db, strings.TrimSpace(*id), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, e := range evs {
		printJSON(e)
	}
}

func weeksCmd(args []string) {
	fs := flag.NewFlagSet("weeks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	db, err := indexdb.OpenReadOnly(indexPath(*dataDir, *dbPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	rows, err := db.Query(`SELECT week,reset_at,participants,locked,archive_path FROM weeks ORDER BY week DESC LIMIT ?`, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Week         string `json:"week"`
			ResetAt      string `json:"reset_at"`
			Participants int    `json:"participants"`
			Locked       int    `json:"locked"`
			ArchivePath  string `json:"archive_path"`
		}
		if err := rows.Scan(&r.Week, &r.ResetAt, &r.Participants, &r.Locked, &r.ArchivePath); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(r)
	}
}
