package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"letterdesk/internal/logger"
	"letterdesk/internal/scheduler"
)

// NewScheduleCmd creates the schedule command
func NewScheduleCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run active sequences on their configured days and times",
		Long: `Run the scheduler in the foreground. Every active sequence with an
audience is sent on its days of week at its send time in its timezone.
The sequence table is reloaded periodically so edits made through the
admin API are picked up. Ingestion runs on scheduler.ingestion_schedule.

Use --list to print the computed schedule and exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), list)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "Print the schedule and exit")

	return cmd
}

func runSchedule(ctx context.Context, list bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, _ := a.orchestrator(ctx)
	sched := scheduler.New(a.db.Sequences(), orch, a.ingester(ctx), scheduler.OptionsFromConfig(a.cfg.Scheduler))

	if list {
		if err := sched.Reload(ctx); err != nil {
			return err
		}
		specs := sched.Specs()
		ids := make([]string, 0, len(specs))
		for id := range specs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("%-38s %s\n", id, specs[id])
		}
		if len(ids) == 0 {
			fmt.Println("No active sequences")
		}
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("Scheduler running", "sequences", sched.Len())
	fmt.Println("Press Ctrl+C to stop")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("Scheduler shutdown initiated", "signal", sig.String())
	case <-ctx.Done():
	}
	return nil
}
