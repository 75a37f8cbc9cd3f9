// Package archive persists captures to local disk with a bounded retention
// window so unattended sessions cannot exhaust the disk.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qetzal/snapcourier/internal/capture"
)

// Entry describes one archived capture.
type Entry struct {
	Path      string
	Seq       int
	CreatedAt time.Time
}

// Store writes captures under a single directory, one file per capture,
// named deterministically from session ID and sequence number so restarts
// never collide. After each write it prunes the oldest files beyond the
// retention cap. Pruning considers every capture in the directory, including
// ones left by previous sessions.
type Store struct {
	dir       string
	sessionID string
	retention int
	logger    *slog.Logger
}

// NewStore creates the archive directory if needed. retention is the maximum
// number of files kept on disk after each store.
func NewStore(dir, sessionID string, retention int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &Store{
		dir:       dir,
		sessionID: sessionID,
		retention: retention,
		logger:    slog.Default(),
	}, nil
}

// Put writes one capture and applies retention. Pruning failures are logged,
// never returned; a returned error means the capture itself was not stored.
func (s *Store) Put(rec *capture.Record) (Entry, error) {
	name := fmt.Sprintf("auto_%s_%06d_%s.jpg",
		s.sessionID, rec.Seq, rec.Timestamp.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, rec.Data, 0o600); err != nil {
		return Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}

	s.prune()

	return Entry{Path: path, Seq: rec.Seq, CreatedAt: rec.Timestamp}, nil
}

// prune removes the oldest .jpg files beyond the retention cap, oldest first
// by modification time.
func (s *Store) prune() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("archive retention scan failed", "dir", s.dir, "error", err)
		return
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{
			path:    filepath.Join(s.dir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	excess := len(files) - s.retention
	if excess <= 0 {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, f := range files[:excess] {
		if err := os.Remove(f.path); err != nil {
			s.logger.Warn("archive retention delete failed", "path", f.path, "error", err)
		}
	}
}

// Count returns the number of archived captures currently on disk.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			n++
		}
	}
	return n, nil
}
