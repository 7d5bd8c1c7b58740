// Package vault moves the protected directory between its active and locked
// locations.
//
// At most one of the two locations is populated at any time; that invariant is
// the only mutual exclusion between visage and the browser.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/andresmejia3/visage/internal/platform"
	"github.com/rs/zerolog"
)

var (
	// ErrConflict means the destination of a move is already occupied.
	ErrConflict = errors.New("destination already exists")
	// ErrNotLocked means unlock was requested but there is no locked copy.
	ErrNotLocked = errors.New("resource is not locked")
	// ErrNotUnlocked means lock was requested but there is no active copy.
	ErrNotUnlocked = errors.New("resource is not unlocked")
	// ErrUnsupportedPlatform means paths could not be resolved; the vault is inert.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// State is what the filesystem currently says.
type State int

const (
	StateAbsent     State = iota // neither path exists
	StateUnlocked                // only the active path exists
	StateLocked                  // only the locked path exists
	StateConflicted              // both exist
	StateInert                   // unsupported platform
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateConflicted:
		return "conflicted"
	case StateInert:
		return "inert"
	default:
		return "absent"
	}
}

// Quiescer stops whatever holds the resource open.
type Quiescer interface {
	Quiesce(ctx context.Context) error
}

// QuiescerFunc adapts a function to Quiescer.
type QuiescerFunc func(ctx context.Context) error

func (f QuiescerFunc) Quiesce(ctx context.Context) error { return f(ctx) }

// Vault relocates the protected resource.
type Vault struct {
	paths    platform.Paths
	quiescer Quiescer
	log      zerolog.Logger
}

// New returns a Vault. A nil quiescer skips the quiesce step.
func New(paths platform.Paths, q Quiescer, log zerolog.Logger) *Vault {
	if paths == nil {
		paths = platform.Inert{}
	}
	if q == nil {
		q = QuiescerFunc(func(context.Context) error { return nil })
	}
	return &Vault{paths: paths, quiescer: q, log: log}
}

// Paths returns the layout the vault operates on.
func (v *Vault) Paths() platform.Paths { return v.paths }

// Observe reports where the resource currently is.
func (v *Vault) Observe() State {
	if !v.paths.Supported() {
		return StateInert
	}
	active := exists(v.paths.ActivePath())
	locked := exists(v.paths.LockedPath())
	switch {
	case active && locked:
		return StateConflicted
	case active:
		return StateUnlocked
	case locked:
		return StateLocked
	default:
		return StateAbsent
	}
}

// Lock moves the active directory to the locked path.
func (v *Vault) Lock(ctx context.Context) error {
	if !v.paths.Supported() {
		return ErrUnsupportedPlatform
	}
	active, locked := v.paths.ActivePath(), v.paths.LockedPath()

	if exists(locked) {
		return fmt.Errorf("lock %s: %w", locked, ErrConflict)
	}
	if !exists(active) {
		return fmt.Errorf("lock %s: %w", active, ErrNotUnlocked)
	}

	v.quiesce(ctx)
	if err := os.Rename(active, locked); err != nil {
		return fmt.Errorf("lock: move %s: %w", active, err)
	}
	v.log.Info().Str("path", locked).Msg("browser data locked")
	return nil
}

// Unlock moves the locked directory back to the active path. A stale active
// directory left by an earlier partial failure is deleted first so exactly one
// copy survives.
func (v *Vault) Unlock(ctx context.Context) error {
	if !v.paths.Supported() {
		return ErrUnsupportedPlatform
	}
	active, locked := v.paths.ActivePath(), v.paths.LockedPath()

	if !exists(locked) {
		return fmt.Errorf("unlock %s: %w", locked, ErrNotLocked)
	}

	v.quiesce(ctx)
	if exists(active) {
		v.log.Warn().Str("path", active).Msg("removing stale active data before unlock")
		if err := os.RemoveAll(active); err != nil {
			return fmt.Errorf("unlock: remove stale %s: %w", active, err)
		}
	}
	if err := os.Rename(locked, active); err != nil {
		return fmt.Errorf("unlock: move %s: %w", locked, err)
	}
	v.log.Info().Str("path", active).Msg("browser data unlocked")
	return nil
}

func (v *Vault) quiesce(ctx context.Context) {
	if err := v.quiescer.Quiesce(ctx); err != nil {
		v.log.Warn().Err(err).Msg("quiesce incomplete, moving anyway")
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
