package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsbrief/internal/pipeline"
)

// withPipeline builds a Pipeline for one command invocation and tears it
// down afterwards.
func withPipeline(ctx context.Context, fn func(*pipeline.Pipeline) error) error {
	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

// sinceCutoff turns a --since window into an absolute cutoff; zero means no
// cutoff.
func sinceCutoff(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().Add(-window)
}

func newRunCmd() *cobra.Command {
	var (
		since    time.Duration
		maxItems int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: ingest, extract, cluster, summarize, rank, publish",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				dir, err := p.Run(cmd.Context(), sinceCutoff(since), maxItems)
				if err != nil {
					return err
				}
				if dir == "" {
					fmt.Println("Nothing to publish.")
					return nil
				}
				fmt.Printf("Published to %s\n", dir)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only ingest entries published within this window (e.g. 72h)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "cap entries taken per feed (0 = no cap)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		since    time.Duration
		maxItems int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch configured feeds and store new raw entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				totals, err := p.Ingest(cmd.Context(), sinceCutoff(since), maxItems)
				if err != nil {
					return err
				}
				fmt.Printf("Ingested %d feeds: %d entries seen, %d new\n", totals.Feeds, totals.Entries, totals.Inserted)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only ingest entries published within this window (e.g. 72h)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "cap entries taken per feed (0 = no cap)")
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Fetch article pages for new entries and extract main text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				n, err := p.Extract(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Extracted %d articles\n", n)
				return nil
			})
		},
	}
}

func newClusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Group articles into near-duplicate story clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				clusters, err := p.Cluster(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Built %d clusters\n", len(clusters))
				return nil
			})
		},
	}
}

func newRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Score clusters by freshness, source trust, size, and text cues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				scored, err := p.Rank()
				if err != nil {
					return err
				}
				for _, s := range scored {
					fmt.Printf("%s  score=%.3f  size=%d\n", s.ClusterID, s.Score, s.Size)
				}
				return nil
			})
		},
	}
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Write or refresh per-cluster summaries (cached by version hash)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				n, err := p.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Wrote %d summaries\n", n)
				return nil
			})
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Render ranked summaries to clusters.json and summaries.md",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				scored, err := p.Rank()
				if err != nil {
					return err
				}
				dir, err := p.Publish(scored)
				if err != nil {
					return err
				}
				if dir == "" {
					fmt.Println("Nothing to publish.")
					return nil
				}
				fmt.Printf("Published to %s\n", dir)
				return nil
			})
		},
	}
}
