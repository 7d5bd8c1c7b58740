package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/visage/internal/store"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var errNoDatabase = errors.New("no database configured (set database.url or --db)")

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent lock and unlock events from the audit journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			utils.ShowError("History needs the audit journal", errNoDatabase, nil)
			return errNoDatabase
		}
		events, err := DB.ListEvents(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list events", err, nil)
			return err
		}
		printEvents(os.Stdout, events, time.Now())
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of events to show")
	rootCmd.AddCommand(historyCmd)
}

func printEvents(out io.Writer, events []store.Event, now time.Time) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No lock events recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "WHEN\tAGO\tFROM\tTO\tREASON\tSESSION")
	fmt.Fprintln(w, "----\t---\t----\t--\t------\t-------")

	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmtAgo(now.Sub(e.CreatedAt)),
			e.From, e.To, e.Reason,
			e.Session.String()[:8],
		)
	}
	w.Flush()
}
