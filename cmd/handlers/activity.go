package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"letterdesk/internal/core"
	"letterdesk/internal/persistence"
	"letterdesk/internal/tui"
)

// NewActivityCmd creates the activity command
func NewActivityCmd() *cobra.Command {
	var (
		limit      int
		sequenceID string
		event      string
		watch      bool
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log",
		Long: `Print recent activity entries, newest first. With --watch an interactive
viewer opens and refreshes on an interval.

Examples:
  letterdesk activity --limit 20
  letterdesk activity --event distribution_failed
  letterdesk activity --watch --interval 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := persistence.ActivityFilter{SequenceID: sequenceID, Event: event, Limit: limit}
			load := func(ctx context.Context) ([]core.ActivityLog, error) {
				return a.db.Activity().List(ctx, filter)
			}

			if watch {
				return tui.Run(load, interval)
			}

			entries, err := load(ctx)
			if err != nil {
				return err
			}
			printActivity(os.Stdout, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	cmd.Flags().StringVar(&sequenceID, "sequence", "", "Only entries for this sequence")
	cmd.Flags().StringVar(&event, "event", "", "Only entries with this event name")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Open the interactive viewer")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Refresh interval for --watch")

	return cmd
}

func printActivity(w io.Writer, entries []core.ActivityLog) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No activity recorded")
		return
	}
	for _, e := range entries {
		seq := "-"
		if e.SequenceID != nil {
			seq = *e.SequenceID
		}
		fmt.Fprintf(w, "%s  %-7s  %-28s  %-36s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Status, e.Event, seq, e.Message)
	}
}
