// Package archive keeps a copy of the ledger as it stood at the end of each week.
package archive

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"lifeline.ai/internal/ledger"
)

type WeekArchiveMeta struct {
	Week         string `json:"week"`
	ResetAt      string `json:"reset_at"`
	Ledger       string `json:"ledger"`
	Participants int    `json:"participants"`
	Locked       int    `json:"locked"`
	CreatedAt    string `json:"created_at"`
}

// Recorder is told about every archived week.
type Recorder func(meta WeekArchiveMeta, dir string)

type Archiver struct {
	root   string
	record Recorder
}

func New(root string, record Recorder) *Archiver {
	return &Archiver{root: root, record: record}
}

// ArchiveWeek copies the ledger file into `<root>/week_<YYYYMMDD>/`, named after the reset day,
// and writes meta.json beside it. A ledger that was never saved is not an error.
func (a *Archiver) ArchiveWeek(ledgerPath string, at time.Time, s ledger.Stats) error {
	if ledgerPath == "" {
		return nil
	}
	if _, err := os.Stat(ledgerPath); os.IsNotExist(err) {
		return nil
	}
	week := at.UTC().Format("20060102")
	dir := filepath.Join(a.root, "week_"+week)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create archive dir")
	}
	dst := filepath.Join(dir, filepath.Base(ledgerPath))
	if err := copyFile(ledgerPath, dst); err != nil {
		return errors.Wrapf(err, "archive %s", ledgerPath)
	}

	meta := WeekArchiveMeta{
		Week:         week,
		ResetAt:      at.UTC().Format(time.RFC3339Nano),
		Ledger:       filepath.Base(dst),
		Participants: s.Participants,
		Locked:       s.Locked,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	if a.record != nil {
		a.record(meta, dir)
	}
	return nil
}

// List returns the archived weeks under root, oldest first.
func List(root string) ([]WeekArchiveMeta, error) {
	ents, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", root)
	}
	var out []WeekArchiveMeta
	for _, e := range ents {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "week_") {
			continue
		}
		meta := WeekArchiveMeta{Week: strings.TrimPrefix(e.Name(), "week_")}
		if b, err := os.ReadFile(filepath.Join(root, e.Name(), "meta.json")); err == nil {
			_ = json.Unmarshal(b, &meta)
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
