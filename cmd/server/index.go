package main

import (
	"time"

	"github.com/cockroachdb/errors"

	"lifeline.ai/internal/config"
	"lifeline.ai/internal/events"
	"lifeline.ai/internal/persistence/archive"
	"lifeline.ai/internal/persistence/indexdb"
)

// indexBackend is the queryable copy of the event stream. It never affects lifecycle state.
type indexBackend interface {
	events.Sink
	RecordWeek(w indexdb.WeekRow)
	Stats() indexdb.Stats
	Close() error
}

type noIndex struct{}

func (noIndex) WriteEvent(events.Event) error { return nil }
func (noIndex) RecordWeek(indexdb.WeekRow)    {}
func (noIndex) Stats() indexdb.Stats          { return indexdb.Stats{} }
func (noIndex) Close() error                  { return nil }

func openIndex(cfg config.Config) (indexBackend, error) {
	switch cfg.IndexBackend {
	case "none":
		return noIndex{}, nil
	case "sqlite":
		return indexdb.OpenSQLite(cfg.IndexPath())
	default:
		return nil, errors.Newf("unsupported index_backend: %s", cfg.IndexBackend)
	}
}

func weekRow(meta archive.WeekArchiveMeta, dir string) indexdb.WeekRow {
	at, _ := time.Parse(time.RFC3339Nano, meta.ResetAt)
	return indexdb.WeekRow{
		Week:         meta.Week,
		ResetAt:      at,
		Participants: meta.Participants,
		Locked:       meta.Locked,
		ArchivePath:  dir,
	}
}
