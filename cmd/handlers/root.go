package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"letterdesk/internal/config"
	"letterdesk/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "letterdesk",
		Short: "Letterdesk curates articles and distributes AI-written newsletters.",
		Long: `Letterdesk ingests articles from RSS feeds, asks Gemini to write a
newsletter issue for each sequence, renders it with the sequence template and
sends it through Resend.

Run 'letterdesk serve' for the redirect endpoints and admin API, or trigger
work directly with 'letterdesk distribute' and 'letterdesk ingest'.`,
		SilenceUsage: true,
	}

	// Initialize configuration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.letterdesk.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewDistributeCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewScheduleCmd())
	rootCmd.AddCommand(NewTemplateCmd())
	rootCmd.AddCommand(NewFeedsCmd())
	rootCmd.AddCommand(NewActivityCmd())
	rootCmd.AddCommand(NewKeysCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Logging.Level)
}
