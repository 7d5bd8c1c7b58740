package cmd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/andresmejia3/visage/internal/capture"
	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/controller"
	"github.com/andresmejia3/visage/internal/enroll"
	"github.com/andresmejia3/visage/internal/platform"
	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/vault"
	"github.com/andresmejia3/visage/internal/worker"
	"github.com/rs/zerolog"
)

// newEngine returns a supervised python face engine. Callers must Close it.
func newEngine(ctx context.Context, cfg config.Config, log zerolog.Logger) *worker.Supervisor {
	return worker.NewSupervisor(ctx, worker.ScanConfig{
		Command:            cfg.Verify.Engine,
		DetectionThreshold: cfg.Verify.DetectionThreshold,
		ReadTimeout:        cfg.Verify.EngineTimeout,
	}, log.With().Str("component", "engine").Logger())
}

func newCamera(cfg config.Config) *capture.Camera {
	return capture.NewCamera(cfg.Camera.Device, cfg.Camera.Format)
}

// resolvePaths applies the configured overrides to the OS layout.
func resolvePaths(cfg config.Config) platform.Paths {
	return platform.WithOverrides(platform.ResolveCurrent(), cfg.Resource.ActivePath, cfg.Resource.StatusFile)
}

// statusPath is the layout's status file, or one under the data directory when
// the platform has no layout.
func statusPath(cfg config.Config, p platform.Paths) string {
	if path := p.StatusPath(); path != "" {
		return path
	}
	return filepath.Join(cfg.System.DataDir, platform.StatusFileName)
}

func newVault(cfg config.Config, p platform.Paths, log zerolog.Logger) *vault.Vault {
	names := cfg.Resource.Processes
	if len(names) == 0 {
		names = platform.DefaultProcessNames(runtime.GOOS)
	}
	q := platform.NewProcessQuiescer(names, log.With().Str("component", "quiesce").Logger())
	return vault.New(p, q, log.With().Str("component", "vault").Logger())
}

func newStatusStore(cfg config.Config, p platform.Paths) *status.Store {
	return status.New(statusPath(cfg, p))
}

// loadReferences returns the owner's reference set, building the cache from the
// reference images on first run.
func loadReferences(ctx context.Context, cfg config.Config, enc enroll.FaceEncoder, log zerolog.Logger) (*enroll.ReferenceSet, error) {
	return enroll.LoadOrBuild(ctx, cfg.System.FeaturesFile, cfg.System.ImageDir, enc, enroll.BuildOptions{
		Progress: os.Stderr,
		Log:      log,
	})
}

// journal returns the database as a controller journal, or nil without one.
func journal() controller.Journal {
	if DB == nil {
		return nil
	}
	return DB
}
