package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsbrief/internal/store"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local datastore",
	}
	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheClearCmd())
	return cacheCmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("Raw entries: %d\n", stats.RawEntryCount)
			fmt.Printf("Articles:    %d\n", stats.ArticleCount)
			fmt.Printf("Clusters:    %d\n", stats.ClusterCount)
			fmt.Printf("Summaries:   %d\n", stats.SummaryCount)
			fmt.Printf("Size:        %.1f KiB\n", float64(stats.SizeBytes)/1024)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached rows (feeds, articles, clusters, summaries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear without --confirm")
			}
			st, err := store.New(cfg.App.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clear(); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip confirmation")
	return cmd
}
