package worker

import (
	"context"
	"fmt"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/rs/zerolog"
)

// FrameProcessor is anything that turns an image into detected faces.
type FrameProcessor interface {
	ProcessScanFrame(frame []byte) ([]types.FaceResult, error)
	Close()
}

// StartFunc launches a fresh engine.
type StartFunc func(ctx context.Context) (FrameProcessor, error)

// Supervisor keeps a single engine alive across polls. The engine is started on
// first use and thrown away after any protocol error so the next call gets a
// clean process.
type Supervisor struct {
	ctx   context.Context
	start StartFunc
	log   zerolog.Logger
	cur   FrameProcessor
}

// NewSupervisor returns a Supervisor that starts python workers with cfg.
func NewSupervisor(ctx context.Context, cfg ScanConfig, log zerolog.Logger) *Supervisor {
	return NewSupervisorWith(ctx, func(ctx context.Context) (FrameProcessor, error) {
		return NewPythonScanWorker(ctx, 0, cfg)
	}, log)
}

// NewSupervisorWith is NewSupervisor with a custom start function.
func NewSupervisorWith(ctx context.Context, start StartFunc, log zerolog.Logger) *Supervisor {
	return &Supervisor{ctx: ctx, start: start, log: log}
}

// ProcessScanFrame runs frame through the current engine, starting one if needed.
func (s *Supervisor) ProcessScanFrame(frame []byte) ([]types.FaceResult, error) {
	if s.cur == nil {
		w, err := s.start(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("start face engine: %w", err)
		}
		s.log.Debug().Msg("face engine started")
		s.cur = w
	}

	faces, err := s.cur.ProcessScanFrame(frame)
	if err != nil {
		failed := s.cur
		s.cur = nil
		// Failed engines are killed, not closed: a hung one never exits on its own.
		if k, ok := failed.(killer); ok {
			k.Kill()
		} else {
			failed.Close()
		}
		s.log.Warn().Err(err).Str("logs", engineLogs(failed)).Msg("face engine failed, restarting on next frame")
		return nil, err
	}
	return faces, nil
}

type killer interface {
	Kill()
}

// Close stops the running engine, if any.
func (s *Supervisor) Close() {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}

func engineLogs(p FrameProcessor) string {
	if w, ok := p.(*PythonWorker); ok && w.Cmd != nil {
		return w.Cmd.Logs()
	}
	return ""
}
