package core

import "time"

// Source is one configured feed, loaded from sources.yml and immutable
// during a run.
type Source struct {
	ID      string  `yaml:"id" json:"id"`
	FeedURL string  `yaml:"url" json:"feed_url"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// RawEntry is a single feed item as discovered during ingestion, before any
// content extraction. The (EntryID, FeedURL) pair is the identity key:
// re-ingesting the same entry is a no-op.
type RawEntry struct {
	EntryID     string    `json:"entry_id"`
	FeedURL     string    `json:"feed_url"`
	SourceID    string    `json:"source_id"`
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Article is an extracted, normalized article. ArticleID is derived from
// ContentHash, so identical content is the same entity regardless of which
// feed entry produced it.
type Article struct {
	ArticleID         string    `json:"article_id"`
	CanonicalURL      string    `json:"canonical_url"`
	Title             string    `json:"title"`
	Byline            string    `json:"byline"`
	PublishedAt       time.Time `json:"published_at"`
	SourceID          string    `json:"source_id"`
	IsPreprint        bool      `json:"is_preprint"`
	Text              string    `json:"text"`
	Lang              string    `json:"lang"`
	ExtractionQuality float64   `json:"extraction_quality"`
	ContentHash       string    `json:"content_hash"`
}

// Cluster groups near-duplicate articles covering the same story. ClusterID
// is derived deterministically from the representative article's canonical
// URL so re-clustering identical input is name-stable.
type Cluster struct {
	ClusterID               string    `json:"cluster_id"`
	Method                  string    `json:"method"` // which clustering technique produced it
	CentroidEmbedding       []float64 `json:"centroid_embedding,omitempty"`
	RepresentativeArticleID string    `json:"representative_article_id"`
	MemberIDs               []string  `json:"member_ids"`
	CreatedAt               time.Time `json:"created_at"`
}

// Citation points a summary reader back at one member article.
type Citation struct {
	Title  string `json:"title"`
	Outlet string `json:"outlet"`
	URL    string `json:"url"`
	Date   string `json:"date,omitempty"`
}

// Summary is the per-cluster summary row. VersionHash is a digest over the
// summary's inputs; a write with an unchanged hash must not touch CreatedAt.
type Summary struct {
	ClusterID   string     `json:"cluster_id"`
	TLDR        string     `json:"tl_dr"`
	Bullets     []string   `json:"bullets"`
	Citations   []Citation `json:"citations"`
	Score       float64    `json:"score"`
	VersionHash string     `json:"version_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt time.Time  `json:"published_at,omitempty"` // set once, by the publisher
}

// ScoredCluster is one row of the ranked output consumed by the publisher.
type ScoredCluster struct {
	ClusterID string  `json:"cluster_id"`
	Score     float64 `json:"score"`
	Size      int     `json:"size"`
}
