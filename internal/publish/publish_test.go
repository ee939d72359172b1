package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"newsbrief/internal/core"
	"newsbrief/internal/store"
)

func newTestPublisher(t *testing.T) (*Publisher, *store.Store, string) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	outDir := t.TempDir()
	return New(st, outDir), st, outDir
}

func seedSummary(t *testing.T, st *store.Store, clusterID string) {
	t.Helper()
	sum := core.Summary{
		ClusterID: clusterID,
		TLDR:      "Lead for " + clusterID,
		Bullets:   []string{"What changed: something.", "Bottom line: see citations."},
		Citations: []core.Citation{{Title: "T", Outlet: "example.com", URL: "https://example.com/t", Date: "2026-08-20"}},

		VersionHash: strings.Repeat("a", 64),
		CreatedAt:   time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
	}
	if err := st.UpsertSummary(sum); err != nil {
		t.Fatalf("failed to seed summary: %v", err)
	}
}

func TestRunWritesArtifactsInRankedOrder(t *testing.T) {
	p, st, _ := newTestPublisher(t)
	seedSummary(t, st, "c-high")
	seedSummary(t, st, "c-low")

	scored := []core.ScoredCluster{
		{ClusterID: "c-high", Score: 0.9, Size: 3},
		{ClusterID: "c-low", Score: 0.2, Size: 1},
	}

	dir, err := p.Run(scored)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dir == "" {
		t.Fatal("expected a run directory")
	}

	data, err := os.ReadFile(filepath.Join(dir, "clusters.json"))
	if err != nil {
		t.Fatalf("clusters.json missing: %v", err)
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("clusters.json malformed: %v", err)
	}
	if len(rows) != 2 || rows[0].ClusterID != "c-high" || rows[1].ClusterID != "c-low" {
		t.Errorf("rows out of ranked order: %+v", rows)
	}
	if rows[0].Score != 0.9 || rows[0].Size != 3 {
		t.Errorf("score/size not carried through: %+v", rows[0])
	}

	md, err := os.ReadFile(filepath.Join(dir, "summaries.md"))
	if err != nil {
		t.Fatalf("summaries.md missing: %v", err)
	}
	if !strings.Contains(string(md), "Bottom line:") {
		t.Errorf("markdown missing bottom line: %s", md)
	}
	if !strings.Contains(string(md), "[T](https://example.com/t)") {
		t.Errorf("markdown missing citation link: %s", md)
	}

	// Scores persisted on the summary rows.
	sum, err := st.Summary("c-high")
	if err != nil || sum == nil {
		t.Fatalf("summary missing: %v", err)
	}
	if sum.Score != 0.9 {
		t.Errorf("score not persisted, got %f", sum.Score)
	}
}

func TestRunMarksPublishedOnce(t *testing.T) {
	p, st, _ := newTestPublisher(t)
	seedSummary(t, st, "c1")
	scored := []core.ScoredCluster{{ClusterID: "c1", Score: 0.5, Size: 1}}

	if _, err := p.Run(scored); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	first, err := st.Summary("c1")
	if err != nil || first == nil || first.PublishedAt.IsZero() {
		t.Fatalf("published_at not set: %+v err=%v", first, err)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := p.Run(scored); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	second, err := st.Summary("c1")
	if err != nil || second == nil {
		t.Fatalf("summary missing: %v", err)
	}
	if !second.PublishedAt.Equal(first.PublishedAt) {
		t.Errorf("published_at must be set once: %v vs %v", second.PublishedAt, first.PublishedAt)
	}
}

func TestRunSkipsClustersWithoutSummaries(t *testing.T) {
	p, st, _ := newTestPublisher(t)
	seedSummary(t, st, "c1")

	dir, err := p.Run([]core.ScoredCluster{
		{ClusterID: "c1", Score: 0.5, Size: 1},
		{ClusterID: "missing", Score: 0.4, Size: 1},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "clusters.json"))
	if err != nil {
		t.Fatalf("clusters.json missing: %v", err)
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("clusters.json malformed: %v", err)
	}
	if len(rows) != 1 || rows[0].ClusterID != "c1" {
		t.Errorf("expected only summarized clusters, got %+v", rows)
	}
}

func TestRunNothingToPublish(t *testing.T) {
	p, _, outDir := newTestPublisher(t)
	dir, err := p.Run(nil)
	if err != nil {
		t.Fatalf("empty publish should not fail: %v", err)
	}
	if dir != "" {
		t.Errorf("expected no run directory, got %s", dir)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Errorf("output directory should stay empty, found %d entries", len(entries))
	}
}
