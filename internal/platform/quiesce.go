package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultProcessNames returns the Chrome process names for goos.
func DefaultProcessNames(goos string) []string {
	switch goos {
	case "windows":
		return []string{"chrome.exe"}
	case "darwin":
		return []string{"Google Chrome"}
	case "linux":
		return []string{"chrome", "google-chrome", "Google Chrome"}
	default:
		return nil
	}
}

// proc is the part of *process.Process we need.
type proc interface {
	NameWithContext(ctx context.Context) (string, error)
	KillWithContext(ctx context.Context) error
	IsRunningWithContext(ctx context.Context) (bool, error)
}

// ProcessQuiescer kills every process whose name is in Names and waits for
// them to exit. It is best effort: processes that vanish mid-scan are ignored.
type ProcessQuiescer struct {
	Names []string
	Grace time.Duration // how long to wait for killed processes to exit
	Log   zerolog.Logger

	list func(ctx context.Context) ([]proc, error)
}

// NewProcessQuiescer returns a quiescer for names.
func NewProcessQuiescer(names []string, log zerolog.Logger) *ProcessQuiescer {
	return &ProcessQuiescer{Names: names, Grace: 5 * time.Second, Log: log}
}

func listProcesses(ctx context.Context) ([]proc, error) {
	ps, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]proc, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out, nil
}

// Quiesce terminates resource holders.
func (q *ProcessQuiescer) Quiesce(ctx context.Context) error {
	if len(q.Names) == 0 {
		return nil
	}
	list := q.list
	if list == nil {
		list = listProcesses
	}

	ps, err := list(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	wanted := make(map[string]bool, len(q.Names))
	for _, n := range q.Names {
		wanted[n] = true
	}

	var killed []proc
	var errs []error
	for _, p := range ps {
		name, err := p.NameWithContext(ctx)
		if err != nil || !wanted[name] {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kill %s: %w", name, err))
			continue
		}
		killed = append(killed, p)
	}

	if len(killed) > 0 {
		q.Log.Info().Int("processes", len(killed)).Strs("names", q.Names).Msg("terminated resource holders")
		if err := q.waitExit(ctx, killed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *ProcessQuiescer) waitExit(ctx context.Context, ps []proc) error {
	deadline := time.Now().Add(q.Grace)
	for {
		alive := 0
		for _, p := range ps {
			if running, err := p.IsRunningWithContext(ctx); err == nil && running {
				alive++
			}
		}
		if alive == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%d resource holders still running after %s", alive, q.Grace)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
