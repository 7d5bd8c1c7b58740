package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vault"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Move the browser profile out of reach now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runMove(cmd.Context(), status.Locked)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Restore the browser profile without verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runMove(cmd.Context(), status.Unlocked)
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}

// runMove performs a manual lock or unlock and records it like the watcher does.
func runMove(ctx context.Context, to status.LockStatus) error {
	paths := resolvePaths(Cfg)
	v := newVault(Cfg, paths, Log)
	store := newStatusStore(Cfg, paths)

	from, err := store.Read()
	if err != nil {
		Log.Warn().Err(err).Msg("could not read lock status")
	}

	move, verb, icon := v.Lock, "lock", "🔒"
	if to == status.Unlocked {
		move, verb, icon = v.Unlock, "unlock", "🔓"
	}
	if err := move(ctx); err != nil {
		switch {
		case errors.Is(err, vault.ErrConflict):
			utils.ShowError("Both the profile and its locked copy exist, resolve manually", err, nil)
		case errors.Is(err, vault.ErrUnsupportedPlatform):
			utils.ShowError("No browser profile location for this platform (set resource.active_path)", err, nil)
		default:
			utils.ShowError(fmt.Sprintf("Failed to %s", verb), err, nil)
		}
		return err
	}

	if err := store.Write(to); err != nil {
		utils.ShowError("Failed to write status file", err, nil)
		return err
	}
	if j := journal(); j != nil {
		if err := j.RecordTransition(ctx, from, to, "manual "+verb); err != nil {
			Log.Warn().Err(err).Msg("journal transition")
		}
	}

	fmt.Printf("%s Profile %s (%s)\n", icon, to, paths.ActivePath())
	return nil
}
