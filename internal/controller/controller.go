// Package controller turns a stream of verification verdicts into lock and
// unlock decisions.
//
// The controller polls on a fixed interval. Each tick runs to completion
// (reconcile, verify, decide, move, persist) before the next wait begins.
// Consecutive misses lock the resource; a match while locked only offers to
// unlock, and the owner has to confirm.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/vault"
	"github.com/andresmejia3/visage/internal/verify"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultMissLimit = 5
)

// Verifier produces one verdict per call.
type Verifier interface {
	Verify(ctx context.Context) verify.Result
}

// Vault relocates the protected resource.
type Vault interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Observe() vault.State
}

// StatusStore persists the lock status.
type StatusStore interface {
	Read() (status.LockStatus, error)
	Write(status.LockStatus) error
}

// Confirmer asks the owner whether to unlock.
type Confirmer interface {
	Confirm(ctx context.Context, owner string) (bool, error)
}

// Journal records what the controller saw and did. Failures are logged only.
type Journal interface {
	RecordVerdict(ctx context.Context, res verify.Result, state status.LockStatus, misses int) error
	RecordTransition(ctx context.Context, from, to status.LockStatus, reason string) error
}

// Config tunes the controller.
type Config struct {
	Owner     string
	Interval  time.Duration
	MissLimit int
}

// Controller owns the lock state and the debounce counter.
type Controller struct {
	cfg      Config
	verifier Verifier
	vault    Vault
	store    StatusStore
	confirm  Confirmer
	journal  Journal
	log      zerolog.Logger

	state  status.LockStatus
	misses int
}

// Deps bundles the controller's collaborators. Journal may be nil.
type Deps struct {
	Verifier Verifier
	Vault    Vault
	Store    StatusStore
	Confirm  Confirmer
	Journal  Journal
	Log      zerolog.Logger
}

// New loads the persisted status and returns a ready Controller.
func New(cfg Config, d Deps) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MissLimit <= 0 {
		cfg.MissLimit = DefaultMissLimit
	}

	st, err := d.Store.Read()
	if err != nil {
		d.Log.Warn().Err(err).Msg("could not read lock status, assuming unlocked")
		st = status.Unlocked
	}

	return &Controller{
		cfg:      cfg,
		verifier: d.Verifier,
		vault:    d.Vault,
		store:    d.Store,
		confirm:  d.Confirm,
		journal:  d.Journal,
		log:      d.Log,
		state:    st,
	}
}

// State returns the current lock status.
func (c *Controller) State() status.LockStatus { return c.state }

// Misses returns the current run of consecutive failed verifications.
func (c *Controller) Misses() int { return c.misses }

// Run polls until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Stringer("state", c.state).
		Dur("interval", c.cfg.Interval).
		Int("miss_limit", c.cfg.MissLimit).
		Msg("watching")

	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		c.Tick(ctx)
		timer.Reset(c.cfg.Interval)
	}
}

// Tick runs one poll. It never returns an error: every failure is logged and
// the loop carries on.
func (c *Controller) Tick(ctx context.Context) {
	c.reconcile(ctx)

	res := c.verifier.Verify(ctx)
	ev := c.log.Debug()
	if res.Outcome == verify.OutcomeFailure {
		ev = c.log.Warn().Err(res.Err)
	}
	ev.Stringer("outcome", res.Outcome).
		Float64("distance", res.MinDistance).
		Stringer("state", c.state).
		Msg("verification")

	switch {
	case c.state == status.Unlocked && res.Matched():
		c.misses = 0

	case c.state == status.Unlocked:
		c.misses++
		c.log.Debug().Int("misses", c.misses).Int("limit", c.cfg.MissLimit).Msg("owner not verified")
		if c.misses >= c.cfg.MissLimit {
			c.lock(ctx)
		}

	case res.Matched():
		c.offerUnlock(ctx)

	default:
		// Locked and still not the owner: nothing to do.
	}

	if c.journal != nil {
		if err := c.journal.RecordVerdict(ctx, res, c.state, c.misses); err != nil {
			c.log.Warn().Err(err).Msg("journal verdict")
		}
	}
}

func (c *Controller) lock(ctx context.Context) {
	if err := c.vault.Lock(ctx); err != nil {
		c.reportVaultError("lock", err)
		return
	}
	c.transition(ctx, status.Locked, "owner absent")
}

func (c *Controller) offerUnlock(ctx context.Context) {
	ok, err := c.confirm.Confirm(ctx, c.cfg.Owner)
	if err != nil {
		c.log.Warn().Err(err).Msg("unlock confirmation failed")
		return
	}
	if !ok {
		c.log.Info().Msg("unlock declined")
		return
	}

	if err := c.vault.Unlock(ctx); err != nil {
		c.reportVaultError("unlock", err)
		return
	}
	c.transition(ctx, status.Unlocked, "owner confirmed")
}

func (c *Controller) transition(ctx context.Context, to status.LockStatus, reason string) {
	from := c.state
	c.state = to
	c.misses = 0

	if err := c.store.Write(to); err != nil {
		c.log.Error().Err(err).Stringer("state", to).Msg("persist lock status")
	}
	c.log.Info().Stringer("from", from).Stringer("to", to).Str("reason", reason).Msg("lock state changed")

	if c.journal != nil {
		if err := c.journal.RecordTransition(ctx, from, to, reason); err != nil {
			c.log.Warn().Err(err).Msg("journal transition")
		}
	}
}

// reconcile adopts the directory layout as ground truth when it disagrees
// with the in-memory state.
func (c *Controller) reconcile(ctx context.Context) {
	var observed status.LockStatus
	switch c.vault.Observe() {
	case vault.StateLocked:
		observed = status.Locked
	case vault.StateUnlocked:
		observed = status.Unlocked
	default:
		return
	}
	if observed == c.state {
		return
	}
	c.log.Warn().Stringer("believed", c.state).Stringer("observed", observed).Msg("lock status out of sync with disk")
	c.transition(ctx, observed, "reconciled with disk")
}

func (c *Controller) reportVaultError(op string, err error) {
	switch {
	case errors.Is(err, vault.ErrUnsupportedPlatform):
		c.log.Error().Str("op", op).Msg("cannot move browser data on this platform")
	case errors.Is(err, vault.ErrConflict),
		errors.Is(err, vault.ErrNotLocked),
		errors.Is(err, vault.ErrNotUnlocked):
		c.log.Warn().Err(err).Str("op", op).Msg("vault refused")
	default:
		c.log.Error().Err(err).Str("op", op).Msg("vault failed")
	}
}
