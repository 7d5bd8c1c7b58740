package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/visage/internal/controller"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/verify"
	"github.com/spf13/cobra"
)

var (
	watchInterval  string
	watchMissLimit int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Verify the owner on an interval and lock the browser profile when they leave",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyWatchFlags(cmd); err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		return runWatch(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchInterval, "interval", "i", "", "Time between verifications, e.g. '5s' (default: controller.interval)")
	watchCmd.Flags().IntVarP(&watchMissLimit, "miss-limit", "m", 0, "Consecutive failed verifications before locking (default: controller.miss_limit)")
	rootCmd.AddCommand(watchCmd)
}

// applyWatchFlags layers explicitly set flags over the loaded config.
func applyWatchFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("interval") {
		d, err := parsePositiveDuration(watchInterval)
		if err != nil {
			return fmt.Errorf("invalid --interval: %w", err)
		}
		Cfg.Controller.Interval = d
	}
	if cmd.Flags().Changed("miss-limit") {
		if watchMissLimit < 1 {
			return fmt.Errorf("invalid --miss-limit: must be >= 1, got %d", watchMissLimit)
		}
		Cfg.Controller.MissLimit = watchMissLimit
	}
	return nil
}

func runWatch(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	engine := newEngine(ctx, Cfg, Log)
	defer engine.Close()

	refs, err := loadReferences(ctx, Cfg, engine, Log)
	if err != nil {
		utils.ShowError("Failed to load reference embeddings", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🧬 Loaded %d reference embeddings\n", refs.Len())

	paths := resolvePaths(Cfg)
	if !paths.Supported() {
		Log.Warn().Msg("no browser profile location for this platform, verdicts will be logged only")
	}
	v := newVault(Cfg, paths, Log)
	store := newStatusStore(Cfg, paths)

	verifier := verify.NewEngine(newCamera(Cfg), engine, refs, Cfg.Verify.Threshold, Log.With().Str("component", "verify").Logger())
	c := controller.New(controller.Config{
		Owner:     Cfg.Owner.Name,
		Interval:  Cfg.Controller.Interval,
		MissLimit: Cfg.Controller.MissLimit,
	}, controller.Deps{
		Verifier: verifier,
		Vault:    v,
		Store:    store,
		Confirm:  controller.NewPromptConfirmer(os.Stdin, os.Stderr),
		Journal:  journal(),
		Log:      Log.With().Str("component", "controller").Logger(),
	})

	fmt.Fprintf(os.Stderr, "👁️  Watching %s (status: %s)\n", paths.ActivePath(), store.Path())
	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "👋 Stopped.")
		return nil
	}
	return err
}
