package store

import (
	"testing"
	"time"

	"newsbrief/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFeedCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)

	etag, lm, err := s.FeedCache("https://example.com/feed")
	if err != nil {
		t.Fatalf("FeedCache: %v", err)
	}
	if etag != "" || lm != "" {
		t.Error("expected empty validators for unseen feed")
	}

	if err := s.UpsertFeedCache("https://example.com/feed", "src", `"v1"`, "Mon, 01 Sep 2025 00:00:00 GMT"); err != nil {
		t.Fatalf("UpsertFeedCache: %v", err)
	}
	if err := s.UpsertFeedCache("https://example.com/feed", "src", `"v2"`, "Tue, 02 Sep 2025 00:00:00 GMT"); err != nil {
		t.Fatalf("UpsertFeedCache update: %v", err)
	}
	etag, lm, err = s.FeedCache("https://example.com/feed")
	if err != nil {
		t.Fatalf("FeedCache: %v", err)
	}
	if etag != `"v2"` || lm != "Tue, 02 Sep 2025 00:00:00 GMT" {
		t.Errorf("validators not updated: etag=%q lm=%q", etag, lm)
	}
}

func TestInsertRawEntriesIdempotent(t *testing.T) {
	s := newTestStore(t)

	entry := core.RawEntry{
		EntryID:   "guid-1",
		FeedURL:   "https://example.com/feed",
		SourceID:  "src",
		Link:      "https://example.com/story",
		Title:     "Story",
		FetchedAt: time.Now(),
	}
	n, err := s.InsertRawEntries([]core.RawEntry{entry})
	if err != nil {
		t.Fatalf("InsertRawEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted, got %d", n)
	}

	n, err = s.InsertRawEntries([]core.RawEntry{entry})
	if err != nil {
		t.Fatalf("InsertRawEntries again: %v", err)
	}
	if n != 0 {
		t.Errorf("duplicate insert should be ignored, got %d new rows", n)
	}

	raws, err := s.UnprocessedRawEntries(0)
	if err != nil {
		t.Fatalf("UnprocessedRawEntries: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected exactly 1 raw entry, got %d", len(raws))
	}
}

func TestMarkRawProcessed(t *testing.T) {
	s := newTestStore(t)

	entry := core.RawEntry{EntryID: "e1", FeedURL: "f1", SourceID: "src", FetchedAt: time.Now()}
	if _, err := s.InsertRawEntries([]core.RawEntry{entry}); err != nil {
		t.Fatalf("InsertRawEntries: %v", err)
	}
	if err := s.MarkRawProcessed("e1", "f1"); err != nil {
		t.Fatalf("MarkRawProcessed: %v", err)
	}
	raws, err := s.UnprocessedRawEntries(0)
	if err != nil {
		t.Fatalf("UnprocessedRawEntries: %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("processed entries should not be returned, got %d", len(raws))
	}
}

func TestUpsertArticleContentHashDedup(t *testing.T) {
	s := newTestStore(t)

	a1 := core.Article{
		ArticleID:    "id-first",
		CanonicalURL: "https://example.com/a",
		Title:        "Title",
		SourceID:     "src",
		Text:         "body",
		ContentHash:  "hash-shared",
	}
	a2 := a1
	a2.ArticleID = "id-second"
	a2.Title = "Title updated"

	if err := s.UpsertArticle(a1); err != nil {
		t.Fatalf("UpsertArticle first: %v", err)
	}
	if err := s.UpsertArticle(a2); err != nil {
		t.Fatalf("UpsertArticle second: %v", err)
	}

	arts, err := s.ListArticles()
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("same content hash must collapse to a single row, got %d", len(arts))
	}
	if arts[0].ArticleID != "id-first" {
		t.Errorf("first article id must win, got %q", arts[0].ArticleID)
	}
	if arts[0].Title != "Title updated" {
		t.Errorf("content fields should be overwritten in place, got title %q", arts[0].Title)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)

	vec, err := s.Embedding("missing")
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if vec != nil {
		t.Error("expected nil vector on cache miss")
	}

	want := []float64{0.1, -0.5, 0.25}
	if err := s.PutEmbedding("hash1", "test-model", want); err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}
	got, err := s.Embedding("hash1")
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d dims, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dim %d: got %f want %f", i, got[i], want[i])
		}
	}
}

func TestUpsertClusterPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)

	c := core.Cluster{
		ClusterID:               "c1",
		Method:                  "minhash-lsh",
		RepresentativeArticleID: "a1",
		MemberIDs:               []string{"a1", "a2"},
		CreatedAt:               time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertCluster(c); err != nil {
		t.Fatalf("UpsertCluster: %v", err)
	}

	c.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertCluster(c); err != nil {
		t.Fatalf("UpsertCluster rerun: %v", err)
	}

	clusters, err := s.ListClusters()
	if err != nil {
		t.Fatalf("ListClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	got := clusters[0]
	if !got.CreatedAt.Equal(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at must survive reruns, got %v", got.CreatedAt)
	}
	if len(got.MemberIDs) != 2 {
		t.Errorf("expected 2 members, got %d", len(got.MemberIDs))
	}
}

func TestSummaryIdempotentWrite(t *testing.T) {
	s := newTestStore(t)

	sum := core.Summary{
		ClusterID:   "c1",
		TLDR:        "Lead line",
		Bullets:     []string{"- one", "Bottom line: two"},
		Citations:   []core.Citation{{Title: "t", Outlet: "example.com", URL: "https://example.com/a"}},
		VersionHash: "vh-1",
		CreatedAt:   time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertSummary(sum); err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}

	// Same version hash, later created_at: must be a true no-op.
	again := sum
	again.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	again.TLDR = "Different lead that must not land"
	if err := s.UpsertSummary(again); err != nil {
		t.Fatalf("UpsertSummary no-op: %v", err)
	}
	got, err := s.Summary("c1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got == nil {
		t.Fatal("summary missing")
	}
	if !got.CreatedAt.Equal(sum.CreatedAt) {
		t.Errorf("created_at changed on identical version hash: %v", got.CreatedAt)
	}
	if got.TLDR != "Lead line" {
		t.Errorf("content changed on identical version hash: %q", got.TLDR)
	}

	// New version hash: row is replaced, created_at moves.
	changed := again
	changed.VersionHash = "vh-2"
	if err := s.UpsertSummary(changed); err != nil {
		t.Fatalf("UpsertSummary changed: %v", err)
	}
	got, err = s.Summary("c1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got.VersionHash != "vh-2" || got.TLDR != "Different lead that must not land" {
		t.Errorf("changed version hash must overwrite, got %q/%q", got.VersionHash, got.TLDR)
	}
}

func TestMarkPublishedSetOnce(t *testing.T) {
	s := newTestStore(t)

	sum := core.Summary{
		ClusterID:   "c1",
		TLDR:        "lead",
		Bullets:     []string{"Bottom line: done"},
		Citations:   []core.Citation{},
		VersionHash: "vh",
	}
	if err := s.UpsertSummary(sum); err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}

	first := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkPublished([]string{"c1"}, first); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	if err := s.MarkPublished([]string{"c1"}, first.Add(24*time.Hour)); err != nil {
		t.Fatalf("MarkPublished again: %v", err)
	}
	got, err := s.Summary("c1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !got.PublishedAt.Equal(first) {
		t.Errorf("published_at must be set once, got %v", got.PublishedAt)
	}
}

func TestStatsAndClear(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertArticle(core.Article{ArticleID: "a1", ContentHash: "h1"}); err != nil {
		t.Fatalf("UpsertArticle: %v", err)
	}
	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.ArticleCount != 1 {
		t.Errorf("expected 1 article, got %d", stats.ArticleCount)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, err = s.GetStats()
	if err != nil {
		t.Fatalf("GetStats after clear: %v", err)
	}
	if stats.ArticleCount != 0 {
		t.Errorf("expected 0 articles after clear, got %d", stats.ArticleCount)
	}
}
