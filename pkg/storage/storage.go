package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCorrupt is returned by Restore when a stored blob fails to decode. The
// file is already removed when Restore returns it; callers treat the key as
// missing.
var ErrCorrupt = errors.New("corrupt storage file")

// Storage is an atomic key → blob store on disk. Each key is persisted as
// {dir}/{key}.dump, written via a temporary file and rename so a successful
// Save survives a crash mid-write. Values are opaque to Storage; callers
// pick the serialization (JSON here, one value per key).
type Storage struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	mtimes  map[string]time.Time // last observed mtime per key
	lastErr error
}

// Params configures a Storage instance. OldDirectory, when set and existing,
// is migrated into Directory once: regular files and subdirectories move
// over, symlinks are removed without being followed, and emptied directories
// are pruned.
type Params struct {
	Directory    string
	OldDirectory string
	Logger       zerolog.Logger
}

// New creates a store rooted at params.Directory, creating it as needed.
func New(params Params) (*Storage, error) {
	if params.Directory == "" {
		return nil, fmt.Errorf("storage directory not set")
	}
	if err := os.MkdirAll(params.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Storage{
		dir:    params.Directory,
		logger: params.Logger,
		mtimes: make(map[string]time.Time),
	}

	if params.OldDirectory != "" && params.OldDirectory != params.Directory {
		if err := s.migrate(params.OldDirectory); err != nil {
			s.logger.Warn().Err(err).Str("from", params.OldDirectory).
				Msg("storage migration incomplete")
		}
	}

	return s, nil
}

// Directory returns the store's root directory.
func (s *Storage) Directory() string {
	return s.dir
}

// Save serializes v under name. On failure the attempted mtime is cached so
// Modified does not keep reporting a change the writer cannot apply.
func (s *Storage) Save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	if err := s.write(path, v); err != nil {
		s.lastErr = err
		s.mtimes[name] = time.Now()
		s.logger.Error().Err(err).Str("file", path).Msg("failed to save storage file")
		return err
	}

	if info, err := os.Stat(path); err == nil {
		s.mtimes[name] = info.ModTime()
	}
	return nil
}

func (s *Storage) write(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Restore loads the blob stored under name into out. It returns false when
// the key does not exist. A corrupt file is removed and reported as
// ErrCorrupt; the key is gone afterwards, so callers recover by starting
// fresh.
func (s *Storage) Restore(name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read storage file: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("removing corrupt storage file")
		os.Remove(path)
		delete(s.mtimes, name)
		return false, fmt.Errorf("%w %s: %v", ErrCorrupt, name, err)
	}

	if info, err := os.Stat(path); err == nil {
		s.mtimes[name] = info.ModTime()
	}
	return true, nil
}

// Has reports whether a blob is stored under name.
func (s *Storage) Has(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Remove deletes the blob stored under name.
func (s *Storage) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mtimes, name)
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Modified reports whether the on-disk file for name is newer than the last
// mtime observed through this instance.
func (s *Storage) Modified(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path(name))
	if err != nil {
		return false
	}
	last, ok := s.mtimes[name]
	if !ok {
		return true
	}
	return info.ModTime().After(last)
}

// LastError returns the error recorded by the most recent failed Save.
func (s *Storage) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Storage) path(name string) string {
	return filepath.Join(s.dir, name+".dump")
}

// migrate moves the contents of oldDir into the store directory. Files that
// already exist at the destination are left alone; symlinks are removed.
func (s *Storage) migrate(oldDir string) error {
	info, err := os.Lstat(oldDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	s.logger.Info().Str("from", oldDir).Str("to", s.dir).Msg("migrating storage directory")

	if err := s.migrateDir(oldDir, s.dir); err != nil {
		return err
	}

	// Prune the old tree if nothing is left behind.
	pruneEmptyDirs(oldDir)
	return nil
}

func (s *Storage) migrateDir(from, to string) error {
	entries, err := os.ReadDir(from)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		src := filepath.Join(from, entry.Name())
		dst := filepath.Join(to, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			// Never follow symlinks out of the old tree.
			if err := os.Remove(src); err != nil {
				s.logger.Warn().Err(err).Str("file", src).Msg("failed to remove symlink")
			}
			continue
		}

		if entry.IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			if err := s.migrateDir(src, dst); err != nil {
				return err
			}
			continue
		}

		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			s.logger.Warn().Err(err).Str("file", src).Msg("failed to migrate file")
		}
	}
	return nil
}

func pruneEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			pruneEmptyDirs(filepath.Join(dir, entry.Name()))
		}
	}
	// Succeeds only when empty.
	os.Remove(dir)
}
