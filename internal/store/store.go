// Package store persists snapshots as one file per name under a caller
// supplied root directory. Writes go to a temp file and atomically rename
// over the target, so concurrent readers in other processes see either the
// old or the new snapshot in full, never a torn file.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
)

const snapshotExt = ".wmsn"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store manages snapshot files on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.CodeStorage, fmt.Sprintf("mkdir %s", dir), err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory snapshots live in.
func (s *Store) Dir() string { return s.dir }

// ValidateName rejects names that cannot be used as a snapshot file stem.
// Callers that do expensive work before Put can fail fast with this.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return errs.Newf(errs.CodeStorage, "invalid snapshot name: %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+snapshotExt)
}

// Put serializes the snapshot and atomically replaces any existing file
// with the same name.
func (s *Store) Put(snap *exchange.Snapshot) error {
	if err := ValidateName(snap.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+snap.Name+"-*.tmp")
	if err != nil {
		return errs.New(errs.CodeStorage, "create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if err := exchange.EncodeSnapshot(snap, tmp); err != nil {
		_ = tmp.Close()
		return errs.New(errs.CodeStorage, "encode snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.New(errs.CodeStorage, "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.CodeStorage, "close temp file", err)
	}

	if err := os.Rename(tmpName, s.path(snap.Name)); err != nil {
		return errs.New(errs.CodeStorage, "rename into place", err)
	}

	slog.Info("snapshot saved", "name", snap.Name, "exchanges", len(snap.Exchanges), "path", s.path(snap.Name))
	return nil
}

// Get loads a snapshot by name. Missing names yield not_found; files that
// fail schema or checksum validation yield corrupt_snapshot.
func (s *Store) Get(name string) (*exchange.Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.CodeNotFound, "snapshot not found: %s", name)
		}
		return nil, errs.New(errs.CodeStorage, "open snapshot", err)
	}
	defer f.Close()

	snap, err := exchange.DecodeSnapshot(f)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Meta reads only the metadata region of a named snapshot.
func (s *Store) Meta(name string) (exchange.Metadata, error) {
	if err := ValidateName(name); err != nil {
		return exchange.Metadata{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readMeta(name)
}

func (s *Store) readMeta(name string) (exchange.Metadata, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return exchange.Metadata{}, errs.Newf(errs.CodeNotFound, "snapshot not found: %s", name)
		}
		return exchange.Metadata{}, errs.New(errs.CodeStorage, "open snapshot", err)
	}
	defer f.Close()

	return exchange.DecodeMetadata(f)
}

// List returns metadata for all snapshots, newest first. Unreadable files
// are skipped, not fatal.
func (s *Store) List() ([]exchange.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+snapshotExt))
	if err != nil {
		return nil, errs.New(errs.CodeStorage, "glob snapshots", err)
	}

	metas := make([]exchange.Metadata, 0, len(matches))
	for _, path := range matches {
		name := filepath.Base(path)
		name = name[:len(name)-len(snapshotExt)]
		meta, err := s.readMeta(name)
		if err != nil {
			slog.Debug("skipping unreadable snapshot", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Delete removes a named snapshot. Deleting a missing name is not_found.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errs.Newf(errs.CodeNotFound, "snapshot not found: %s", name)
		}
		return errs.New(errs.CodeStorage, "remove snapshot", err)
	}

	slog.Info("snapshot deleted", "name", name)
	return nil
}

// Exists reports whether a named snapshot file is present.
func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(name))
	return err == nil
}
