package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/visage/internal/enroll"
	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vault"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded lock status next to what is on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runStatus(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is what the status command prints.
type statusReport struct {
	Recorded   status.LockStatus
	OnDisk     vault.State
	ActivePath string
	StatusPath string
	Images     int
	Embeddings int // -1 when the cache is missing or unreadable
	Owner      string
}

func runStatus(out io.Writer) error {
	paths := resolvePaths(Cfg)
	store := newStatusStore(Cfg, paths)

	recorded, err := store.Read()
	if err != nil {
		utils.ShowError("Failed to read status file", err, nil)
		return err
	}

	r := statusReport{
		Recorded:   recorded,
		OnDisk:     newVault(Cfg, paths, Log).Observe(),
		ActivePath: paths.ActivePath(),
		StatusPath: store.Path(),
		Embeddings: -1,
		Owner:      Cfg.Owner.Name,
	}
	r.Images, _ = enroll.Ready(Cfg.System.ImageDir)
	if set, err := enroll.Load(Cfg.System.FeaturesFile); err == nil {
		r.Embeddings = set.Len()
	}

	printStatus(out, r)
	return nil
}

func printStatus(out io.Writer, r statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "OWNER\t%s\n", orDash(r.Owner))
	fmt.Fprintf(w, "RECORDED\t%s\n", r.Recorded)
	fmt.Fprintf(w, "ON DISK\t%s\n", r.OnDisk)
	fmt.Fprintf(w, "PROFILE\t%s\n", orDash(r.ActivePath))
	fmt.Fprintf(w, "STATUS FILE\t%s\n", r.StatusPath)
	fmt.Fprintf(w, "REFERENCE IMAGES\t%d\n", r.Images)
	if r.Embeddings < 0 {
		fmt.Fprintln(w, "EMBEDDINGS\tnot enrolled")
	} else {
		fmt.Fprintf(w, "EMBEDDINGS\t%d\n", r.Embeddings)
	}
	w.Flush()

	if drift := statusDrift(r.Recorded, r.OnDisk); drift != "" {
		fmt.Fprintf(out, "⚠️  %s\n", drift)
	}
}

// statusDrift explains a disagreement between the status file and the disk.
func statusDrift(recorded status.LockStatus, disk vault.State) string {
	switch {
	case disk == vault.StateConflicted:
		return "Both the profile and its locked copy exist; lock will refuse, unlock will discard the profile in place and restore the locked copy."
	case disk == vault.StateAbsent:
		return "Neither the profile nor its locked copy exists."
	case recorded == status.Locked && disk == vault.StateUnlocked:
		return "Status file says locked but the profile is in place; the watcher will adopt the disk state."
	case recorded == status.Unlocked && disk == vault.StateLocked:
		return "Status file says unlocked but the profile is locked; the watcher will adopt the disk state."
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
