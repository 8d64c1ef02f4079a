// Package indexdb keeps a queryable SQLite copy of the lifecycle event stream. The compressed
// JSONL audit log stays the source of truth; the index may drop rows under pressure.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"lifeline.ai/internal/events"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
	dropWeeks  atomic.Uint64
	written    atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqWeek
)

type req struct {
	kind  reqKind
	event events.Event
	week  WeekRow
}

// WeekRow records one archived week.
type WeekRow struct {
	Week         string
	ResetAt      time.Time
	Participants int
	Locked       int
	ArchivePath  string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Written       uint64
	DropEvents    uint64
	DropWeeks     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, buffer int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create index dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, buffer)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return errors.Wrapf(err, "pragma %q", p)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			participant TEXT NOT NULL,
			name TEXT NOT NULL,
			lives INTEGER NOT NULL,
			reason TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			detail TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_participant_ts ON events(participant, ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, ts_ms);`,
		`CREATE TABLE IF NOT EXISTS weeks (
			week TEXT PRIMARY KEY,
			reset_at TEXT NOT NULL,
			participants INTEGER NOT NULL,
			locked INTEGER NOT NULL,
			archive_path TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent queues e for indexing. It never blocks; when the writer falls behind the row is
// dropped and counted.
func (s *SQLiteIndex) WriteEvent(e events.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvents.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordWeek(w WeekRow) {
	if s == nil || s.closed.Load() || w.Week == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqWeek, week: w}:
	default:
		s.dropWeeks.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		DropEvents:    s.dropEvents.Load(),
		DropWeeks:     s.dropWeeks.Load(),
	}
}

// History returns the most recent events for one participant, newest first.
func (s *SQLiteIndex) History(ctx context.Context, participant string, limit int) ([]events.Event, error) {
	return queryHistory(ctx, s.db, participant, limit)
}

// OpenReadOnly opens an index file for queries only, as the admin tool does.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "index %s", path)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	return db, nil
}

func queryHistory(ctx context.Context, db *sql.DB, participant string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT raw_json FROM events WHERE participant = ? ORDER BY ts_ms DESC, id DESC LIMIT ?`,
		participant, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		var e events.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

// History queries an index opened with OpenReadOnly.
func History(ctx context.Context, db *sql.DB, participant string, limit int) ([]events.Event, error) {
	return queryHistory(ctx, db, participant, limit)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(ts_ms,kind,participant,name,lives,reason,x,y,z,attempts,detail,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertWeek, _ := s.db.Prepare(`INSERT OR REPLACE INTO weeks(week,reset_at,participants,locked,archive_path) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertWeek != nil {
			_ = insertWeek.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for {
		var (
			r  req
			ok bool
		)
		// Commit idle batches instead of waiting for the next row.
		select {
		case r, ok = <-s.ch:
		default:
			commit()
			r, ok = <-s.ch
		}
		if !ok {
			break
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			raw, _ := json.Marshal(e)
			if insertEvent == nil {
				continue
			}
			if _, err := tx.Stmt(insertEvent).Exec(
				e.Time.UnixMilli(),
				string(e.Kind),
				e.Participant,
				e.Name,
				e.Lives,
				e.Reason,
				e.Pos[0], e.Pos[1], e.Pos[2],
				e.Attempts,
				e.Detail,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			s.written.Add(1)

		case reqWeek:
			w := r.week
			if insertWeek == nil {
				continue
			}
			if _, err := tx.Stmt(insertWeek).Exec(
				w.Week,
				w.ResetAt.UTC().Format(time.RFC3339Nano),
				w.Participants,
				w.Locked,
				w.ArchivePath,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
