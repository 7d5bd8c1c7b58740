// Package status persists the lock status between runs.
package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LockStatus is whether the protected resource is locked away.
type LockStatus int

const (
	Unlocked LockStatus = iota
	Locked
)

func (s LockStatus) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Parse maps file contents to a status. Anything but "locked" is Unlocked.
func Parse(raw string) LockStatus {
	if strings.TrimSpace(raw) == "locked" {
		return Locked
	}
	return Unlocked
}

// Store is a single-line status file.
type Store struct {
	path string
}

// New returns a Store backed by path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Read returns the stored status. A missing file reads as Unlocked.
func (s *Store) Read() (LockStatus, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Unlocked, nil
	}
	if err != nil {
		return Unlocked, fmt.Errorf("read status file: %w", err)
	}
	return Parse(string(data)), nil
}

// Write replaces the stored status. The new value is written to a sibling
// temp file and renamed over the old one, so readers see one or the other.
func (s *Store) Write(st LockStatus) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(st.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Clear removes the status file. Missing files are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
