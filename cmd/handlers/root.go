// Package handlers builds the cobra command tree for the newsbrief CLI.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newsbrief/internal/config"
	"newsbrief/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsbrief",
		Short: "Ingest feeds, cluster near-duplicate stories, and publish ranked briefs",
		Long: `newsbrief is a batch pipeline over RSS/Atom sources:

  ingest     fetch configured feeds and store new entries
  extract    fetch article pages and extract main text
  cluster    group near-duplicate articles into stories
  summarize  write cached per-cluster summaries
  rank       score clusters by freshness, trust, and cues
  publish    render ranked output files
  run        all of the above in order

Every stage is idempotent; rerunning on unchanged input is cheap.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default newsbrief.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newClusterCmd())
	rootCmd.AddCommand(newRankCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newCacheCmd())

	cobra.OnInitialize(initConfig)
	return rootCmd
}

func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
	logger.Init(cfg.App.LogLevel, cfg.App.LogConsole)
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
