package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch configured feeds and store new articles",
		Long: `Poll every active feed, skip items that are too old or already stored,
and save the rest. When Airtable is configured articles are written there
first and to the local database when Airtable fails.

Feeds listed under ingestion.feeds in the config are added on first run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context())
		},
	}
}

func runIngest(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.ingester(ctx).Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("✅ %d feeds (%d errors): %d items, %d saved, %d duplicates, %d too old\n",
		report.Feeds, report.FeedErrors, report.Items, report.Saved, report.Duplicates, report.Old)
	return nil
}
