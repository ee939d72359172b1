// Package pipeline wires the stages together: ingest, extract, cluster,
// rank, summarize, publish. Every stage is safely re-runnable; a full Run is
// batch, run-to-completion.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newsbrief/internal/cluster"
	"newsbrief/internal/config"
	"newsbrief/internal/core"
	"newsbrief/internal/extract"
	"newsbrief/internal/feeds"
	"newsbrief/internal/fetch"
	"newsbrief/internal/llm"
	"newsbrief/internal/logger"
	"newsbrief/internal/publish"
	"newsbrief/internal/rank"
	"newsbrief/internal/store"
	"newsbrief/internal/summarize"
)

// Pipeline owns the shared store, fetch client, and model client for a run.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	client   *fetch.Client
	ai       *llm.Client
	embedder cluster.Embedder
	gen      summarize.Generator
	log      zerolog.Logger
}

// New opens the datastore and the model client (offline mode or a missing
// API key downgrades to the deterministic offline embedder and heuristic
// summaries).
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	st, err := store.New(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := fetch.NewClient(st, fetch.Options{
		UserAgent:      cfg.Fetch.UserAgent,
		RequestsPerSec: cfg.Fetch.RequestsPerSec,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		Timeout:        time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
	})

	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		client: client,
		log:    logger.With("pipeline"),
	}

	if cfg.AI.Offline || cfg.AI.APIKey == "" {
		p.embedder = &llm.OfflineEmbedder{}
		p.log.Info().Msg("running offline: deterministic embeddings, heuristic summaries")
		return p, nil
	}

	ai, err := llm.NewClient(ctx, llm.Config{
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		Temperature:    cfg.AI.Temperature,
		TopP:           cfg.AI.TopP,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	p.ai = ai
	p.embedder = ai
	p.gen = ai
	return p, nil
}

// Close releases the store and model client.
func (p *Pipeline) Close() {
	if p.ai != nil {
		p.ai.Close()
	}
	p.store.Close()
}

// Store exposes the shared store to the CLI layer.
func (p *Pipeline) Store() *store.Store { return p.store }

func (p *Pipeline) sources() ([]core.Source, error) {
	sources, err := config.LoadSources(p.cfg.App.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return sources, nil
}

// Ingest fetches every configured feed and stores new raw entries.
func (p *Pipeline) Ingest(ctx context.Context, since time.Time, maxItems int) (feeds.Totals, error) {
	sources, err := p.sources()
	if err != nil {
		return feeds.Totals{}, err
	}
	return feeds.NewIngestor(p.client, p.store).Run(ctx, sources, since, maxItems)
}

// Extract turns unprocessed raw entries into articles.
func (p *Pipeline) Extract(ctx context.Context) (int, error) {
	ex := extract.New(p.client, p.store, p.cfg.Extract.Parallel)
	return ex.Run(ctx, p.cfg.Extract.Limit)
}

// Cluster groups articles into near-duplicate clusters.
func (p *Pipeline) Cluster(ctx context.Context) ([]core.Cluster, error) {
	return cluster.New(p.store, p.embedder, p.cfg.Cluster).Run(ctx)
}

// Rank scores all clusters and returns them in publish order.
func (p *Pipeline) Rank() ([]core.ScoredCluster, error) {
	sources, err := p.sources()
	if err != nil {
		return nil, err
	}
	return rank.New(p.store, p.cfg.Rank, config.SourceWeights(sources)).Run()
}

// Summarize writes or refreshes per-cluster summaries.
func (p *Pipeline) Summarize(ctx context.Context) (int, error) {
	return summarize.New(p.store, p.gen, p.cfg.Summarize).Run(ctx)
}

// Publish renders ranked output files and stamps published clusters.
func (p *Pipeline) Publish(scored []core.ScoredCluster) (string, error) {
	return publish.New(p.store, p.cfg.Output.Directory).Run(scored)
}

// Run executes the whole pipeline in order. Per-item failures inside a stage
// are logged and skipped by the stage itself; an error here means the stage
// could not run at all.
func (p *Pipeline) Run(ctx context.Context, since time.Time, maxItems int) (string, error) {
	totals, err := p.Ingest(ctx, since, maxItems)
	if err != nil {
		return "", fmt.Errorf("ingest failed: %w", err)
	}
	p.log.Info().Int("feeds", totals.Feeds).Int("inserted", totals.Inserted).Msg("ingest complete")

	if _, err := p.Extract(ctx); err != nil {
		return "", fmt.Errorf("extract failed: %w", err)
	}
	if _, err := p.Cluster(ctx); err != nil {
		return "", fmt.Errorf("cluster failed: %w", err)
	}
	if _, err := p.Summarize(ctx); err != nil {
		return "", fmt.Errorf("summarize failed: %w", err)
	}
	scored, err := p.Rank()
	if err != nil {
		return "", fmt.Errorf("rank failed: %w", err)
	}
	dir, err := p.Publish(scored)
	if err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}
	return dir, nil
}
