package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetCache  bool
	resetStatus bool
	resetImages bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Embeddings Cache, Status File, Journal)",
	Long: `Clears stored state. By default it clears the embeddings cache, the status file and the journal.
Reference images are only removed with --images. Use flags to clear specific components.`,
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing everything except the reference images
		if !resetDB && !resetCache && !resetStatus && !resetImages {
			resetDB = true
			resetCache = true
			resetStatus = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetCache {
			if confirm(reader, "⚠️  Are you sure you want to delete the embeddings cache?") {
				fmt.Println("🗑️  Clearing Embeddings Cache...")
				removeFile(Cfg.System.FeaturesFile)
			}
		}

		if resetStatus {
			store := newStatusStore(Cfg, resolvePaths(Cfg))
			if confirm(reader, "⚠️  Are you sure you want to delete the status file? The profile itself is not moved.") {
				fmt.Println("🗑️  Clearing Status File...")
				if err := store.Clear(); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", store.Path(), err)
				}
			}
		}

		if resetImages {
			if confirm(reader, "⚠️  Are you sure you want to delete all reference images?") {
				fmt.Println("🗑️  Clearing Reference Images...")
				removeDir(Cfg.System.ImageDir)
			}
		}

		if resetDB {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping journal.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all journal tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the PostgreSQL audit journal")
	resetCmd.Flags().BoolVar(&resetCache, "cache", false, "Clear the embeddings cache")
	resetCmd.Flags().BoolVar(&resetStatus, "status", false, "Clear the lock status file")
	resetCmd.Flags().BoolVar(&resetImages, "images", false, "Clear the reference images")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
