package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"lifeline.ai/internal/events"
	persistlog "lifeline.ai/internal/persistence/log"
)

// auditFilter keeps events matching every non-empty field.
type auditFilter struct {
	participant string
	kind        events.Kind
}

func (f auditFilter) match(e events.Event) bool {
	if f.participant != "" && e.Participant != f.participant {
		return false
	}
	if f.kind != "" && e.Kind != f.kind {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	file := fs.String("file", "", "single audit file (optional; defaults to every file under <data>/audit)")
	id := fs.String("id", "", "participant filter")
	kind := fs.String("kind", "", "event kind filter, e.g. DEATH")
	_ = fs.Parse(args)

	files := []string{strings.TrimSpace(*file)}
	if files[0] == "" {
		var err error
		files, err = persistlog.AuditFiles(paths(*dataDir).AuditDir())
		if err != nil {
			fmt.Fprintln(os.Stderr, "list audit:", err)
			os.Exit(1)
		}
	}

	f := auditFilter{participant: strings.TrimSpace(*id), kind: events.Kind(strings.ToUpper(strings.TrimSpace(*kind)))}
	for _, path := range files {
		err := persistlog.ReadAudit(path, func(e events.Event) error {
			if f.match(e) {
				printJSON(e)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read audit:", err)
			os.Exit(1)
		}
	}
}
