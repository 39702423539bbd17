// Package pairstore reads and writes pair record files (spec.md §4.6,
// component C6): plain plist bytes named "<identifier>.plist" under one of
// the OS-specific system lockdown directories or the user cache directory.
// It does not parse the plist; callers (internal/lockdown) own that.
package pairstore

import (
	"os"
	"path/filepath"

	"idevicekit/internal/config"
)

// Store locates and persists pair records across the system lockdown
// directory and the user cache directory fallback (spec.md §4.5 step 1).
type Store struct {
	systemDir string
	cacheDir  string
}

// New builds a Store from host configuration.
func New(cfg *config.HostConfig) *Store {
	return &Store{
		systemDir: config.SystemLockdownDir(),
		cacheDir:  cfg.CacheDir,
	}
}

func fileName(identifier string) string {
	return identifier + ".plist"
}

// ReadSystem reads the record from the OS-specific system lockdown
// directory. A missing file is reported as (nil, nil), not an error.
func (s *Store) ReadSystem(identifier string) ([]byte, error) {
	return readIfExists(filepath.Join(s.systemDir, fileName(identifier)))
}

// ReadCache reads the record from the per-user cache fallback directory.
// A missing file is reported as (nil, nil), not an error.
func (s *Store) ReadCache(identifier string) ([]byte, error) {
	return readIfExists(filepath.Join(s.cacheDir, fileName(identifier)))
}

func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// WriteCache writes a record to the per-user cache directory, creating it
// if necessary, atomically (write-temp-then-rename) so concurrent readers
// never observe a partial file (spec.md §4.6).
func (s *Store) WriteCache(identifier string, data []byte) error {
	return atomicWrite(filepath.Join(s.cacheDir, fileName(identifier)), data)
}

// WriteSystem writes a record to the OS-specific system lockdown directory.
// Most hosts will lack permission for this outside of an installed
// lockdownd; it exists for parity with the read path and for tests.
func (s *Store) WriteSystem(identifier string, data []byte) error {
	return atomicWrite(filepath.Join(s.systemDir, fileName(identifier)), data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pairstore-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
