// Package publish renders ranked summaries into per-run output files and
// marks the published clusters.
package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsbrief/internal/core"
	"newsbrief/internal/logger"
	"newsbrief/internal/store"
)

// Row is one published cluster, the shape written to clusters.json.
type Row struct {
	ClusterID string          `json:"cluster_id"`
	TLDR      string          `json:"tl_dr"`
	Bullets   []string        `json:"bullets"`
	Citations []core.Citation `json:"citations"`
	Score     float64         `json:"score"`
	Size      int             `json:"size"`
	CreatedAt time.Time       `json:"created_at"`
}

// Publisher writes clusters.json and summaries.md for a run.
type Publisher struct {
	store  *store.Store
	outDir string
	log    zerolog.Logger
}

func New(st *store.Store, outDir string) *Publisher {
	return &Publisher{
		store:  st,
		outDir: outDir,
		log:    logger.With("publish"),
	}
}

// Run persists the ranked scores, writes the output files into a timestamped
// run directory, and stamps published_at on every included cluster (first
// publish only). Returns the run directory path, or "" when there was
// nothing to publish.
func (p *Publisher) Run(scored []core.ScoredCluster) (string, error) {
	rows, err := p.buildRows(scored)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		p.log.Info().Msg("no summaries to publish")
		return "", nil
	}

	now := time.Now().UTC()
	dir := filepath.Join(p.outDir, now.Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode clusters.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "clusters.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write clusters.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summaries.md"), []byte(renderMarkdown(rows)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summaries.md: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ClusterID)
	}
	if err := p.store.MarkPublished(ids, now); err != nil {
		// Output files are already on disk; losing the stamp is recoverable.
		p.log.Warn().Err(err).Msg("failed to mark clusters published")
	}

	p.log.Info().Int("clusters", len(rows)).Str("dir", dir).Msg("published")
	return dir, nil
}

// buildRows joins ranked scores with their persisted summaries, preserving
// the ranked order. Clusters without a summary are skipped; their score is
// not persisted either.
func (p *Publisher) buildRows(scored []core.ScoredCluster) ([]Row, error) {
	rows := make([]Row, 0, len(scored))
	for _, sc := range scored {
		sum, err := p.store.Summary(sc.ClusterID)
		if err != nil {
			return nil, fmt.Errorf("failed to load summary for cluster %s: %w", sc.ClusterID, err)
		}
		if sum == nil {
			continue
		}
		if err := p.store.SetSummaryScore(sc.ClusterID, sc.Score); err != nil {
			return nil, fmt.Errorf("failed to store score for cluster %s: %w", sc.ClusterID, err)
		}
		rows = append(rows, Row{
			ClusterID: sc.ClusterID,
			TLDR:      sum.TLDR,
			Bullets:   sum.Bullets,
			Citations: sum.Citations,
			Score:     sc.Score,
			Size:      sc.Size,
			CreatedAt: sum.CreatedAt,
		})
	}
	return rows, nil
}

func renderMarkdown(rows []Row) string {
	var b strings.Builder
	b.WriteString("# newsbrief summaries\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n## Cluster %s — score %.3f, size %d\n", r.ClusterID, r.Score, r.Size)
		for _, bullet := range r.Bullets {
			fmt.Fprintf(&b, "- %s\n", bullet)
		}
		b.WriteString("\nCitations:\n")
		for _, c := range r.Citations {
			fmt.Fprintf(&b, "- [%s](%s) — %s — %s\n", c.Title, c.URL, c.Outlet, c.Date)
		}
	}
	return b.String()
}
