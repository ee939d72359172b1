// Package store is the SQLite-backed persistence layer. Every write that
// must be atomic is a single upsert statement; all stages of the pipeline are
// safely re-runnable against it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"newsbrief/internal/core"
)

// Store wraps the SQLite database holding all pipeline state.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if necessary) the database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "newsbrief.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS feeds (
			feed_url TEXT PRIMARY KEY,
			source_id TEXT,
			etag TEXT,
			last_modified TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS http_cache (
			url TEXT PRIMARY KEY,
			etag TEXT,
			last_modified TEXT,
			updated_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS raw_articles (
			entry_id TEXT,
			feed_url TEXT,
			source_id TEXT,
			link TEXT,
			title TEXT,
			summary TEXT,
			published_at TEXT,
			fetched_at TEXT,
			processed INTEGER DEFAULT 0,
			PRIMARY KEY (entry_id, feed_url)
		);`,
		`CREATE TABLE IF NOT EXISTS articles (
			article_id TEXT PRIMARY KEY,
			canonical_url TEXT,
			title TEXT,
			byline TEXT,
			published_at TEXT,
			source_id TEXT,
			is_preprint INTEGER,
			text TEXT,
			lang TEXT,
			extraction_quality REAL,
			content_hash TEXT UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			content_hash TEXT PRIMARY KEY,
			model TEXT,
			dims INTEGER,
			vector TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS clusters (
			cluster_id TEXT PRIMARY KEY,
			method TEXT,
			centroid_embedding TEXT,
			representative_article_id TEXT,
			created_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS cluster_members (
			cluster_id TEXT,
			article_id TEXT,
			PRIMARY KEY (cluster_id, article_id)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			cluster_id TEXT PRIMARY KEY,
			tl_dr TEXT,
			bullets_json TEXT,
			citations_json TEXT,
			score REAL DEFAULT 0,
			version_hash TEXT,
			created_at TEXT,
			published_at TEXT
		);`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// --- feed cache ---

// FeedCache returns the stored conditional-request validators for a feed URL.
// Both values are empty when the feed has never been fetched.
func (s *Store) FeedCache(feedURL string) (etag, lastModified string, err error) {
	row := s.db.QueryRow(`SELECT etag, last_modified FROM feeds WHERE feed_url = ?`, feedURL)
	if err := row.Scan(&etag, &lastModified); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to read feed cache: %w", err)
	}
	return etag, lastModified, nil
}

// UpsertFeedCache records the validators returned by the last 200 response.
func (s *Store) UpsertFeedCache(feedURL, sourceID, etag, lastModified string) error {
	_, err := s.db.Exec(`
		INSERT INTO feeds (feed_url, source_id, etag, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_url) DO UPDATE SET
			source_id = excluded.source_id,
			etag = excluded.etag,
			last_modified = excluded.last_modified`,
		feedURL, sourceID, etag, lastModified)
	return err
}

// --- generic HTTP validator cache ---

// HTTPCache returns the stored validators for an arbitrary fetched URL.
func (s *Store) HTTPCache(url string) (etag, lastModified string, err error) {
	row := s.db.QueryRow(`SELECT etag, last_modified FROM http_cache WHERE url = ?`, url)
	if err := row.Scan(&etag, &lastModified); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to read http cache: %w", err)
	}
	return etag, lastModified, nil
}

// UpsertHTTPCache stores validators for an arbitrary fetched URL.
func (s *Store) UpsertHTTPCache(url, etag, lastModified string) error {
	_, err := s.db.Exec(`
		INSERT INTO http_cache (url, etag, last_modified, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			updated_at = excluded.updated_at`,
		url, etag, lastModified, fmtTime(time.Now()))
	return err
}

// --- raw entries ---

// InsertRawEntries inserts feed items, silently ignoring entries already seen
// in a previous run. Returns the number of newly inserted rows.
func (s *Store) InsertRawEntries(entries []core.RawEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO raw_articles
		(entry_id, feed_url, source_id, link, title, summary, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.Exec(e.EntryID, e.FeedURL, e.SourceID, e.Link, e.Title,
			e.Summary, fmtTime(e.PublishedAt), fmtTime(e.FetchedAt))
		if err != nil {
			return inserted, fmt.Errorf("failed to insert raw entry %s: %w", e.EntryID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit raw entries: %w", err)
	}
	return inserted, nil
}

// UnprocessedRawEntries returns raw entries not yet handled by the extractor,
// in feed parse order. limit <= 0 means no limit.
func (s *Store) UnprocessedRawEntries(limit int) ([]core.RawEntry, error) {
	query := `SELECT entry_id, feed_url, source_id, link, title, summary, published_at, fetched_at
		FROM raw_articles WHERE processed = 0 ORDER BY rowid`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw entries: %w", err)
	}
	defer rows.Close()

	var out []core.RawEntry
	for rows.Next() {
		var e core.RawEntry
		var published, fetched string
		if err := rows.Scan(&e.EntryID, &e.FeedURL, &e.SourceID, &e.Link,
			&e.Title, &e.Summary, &published, &fetched); err != nil {
			return nil, fmt.Errorf("failed to scan raw entry: %w", err)
		}
		e.PublishedAt = parseTime(published)
		e.FetchedAt = parseTime(fetched)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkRawProcessed marks one raw entry as handled by the extractor.
func (s *Store) MarkRawProcessed(entryID, feedURL string) error {
	_, err := s.db.Exec(`UPDATE raw_articles SET processed = 1 WHERE entry_id = ? AND feed_url = ?`,
		entryID, feedURL)
	return err
}

// --- articles ---

// UpsertArticle writes an article keyed by content hash. A second upsert with
// the same hash overwrites the row in place; the originally stored article_id
// is kept.
func (s *Store) UpsertArticle(a core.Article) error {
	preprint := 0
	if a.IsPreprint {
		preprint = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO articles
		(article_id, canonical_url, title, byline, published_at, source_id,
		 is_preprint, text, lang, extraction_quality, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			canonical_url = excluded.canonical_url,
			title = excluded.title,
			byline = excluded.byline,
			published_at = excluded.published_at,
			source_id = excluded.source_id,
			is_preprint = excluded.is_preprint,
			text = excluded.text,
			lang = excluded.lang,
			extraction_quality = excluded.extraction_quality`,
		a.ArticleID, a.CanonicalURL, a.Title, a.Byline, fmtTime(a.PublishedAt),
		a.SourceID, preprint, a.Text, a.Lang, a.ExtractionQuality, a.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to upsert article %s: %w", a.ArticleID, err)
	}
	return nil
}

func scanArticles(rows *sql.Rows) ([]core.Article, error) {
	var out []core.Article
	for rows.Next() {
		var a core.Article
		var published string
		var preprint int
		if err := rows.Scan(&a.ArticleID, &a.CanonicalURL, &a.Title, &a.Byline,
			&published, &a.SourceID, &preprint, &a.Text, &a.Lang,
			&a.ExtractionQuality, &a.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.PublishedAt = parseTime(published)
		a.IsPreprint = preprint == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

const articleColumns = `article_id, canonical_url, title, byline, published_at,
	source_id, is_preprint, text, lang, extraction_quality, content_hash`

// ListArticles returns all stored articles ordered by id for deterministic
// downstream processing.
func (s *Store) ListArticles() ([]core.Article, error) {
	rows, err := s.db.Query(`SELECT ` + articleColumns + ` FROM articles ORDER BY article_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ArticlesByIDs returns the articles with the given ids, ordered by id.
func (s *Store) ArticlesByIDs(ids []string) ([]core.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+articleColumns+` FROM articles
		WHERE article_id IN (`+placeholders+`) ORDER BY article_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles by id: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// --- embeddings ---

// Embedding returns the cached vector for a content hash, or nil on a miss.
func (s *Store) Embedding(contentHash string) ([]float64, error) {
	var vectorJSON string
	row := s.db.QueryRow(`SELECT vector FROM embeddings WHERE content_hash = ?`, contentHash)
	if err := row.Scan(&vectorJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	var vec []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vec); err != nil {
		return nil, fmt.Errorf("failed to decode embedding vector: %w", err)
	}
	return vec, nil
}

// PutEmbedding caches an embedding vector keyed by content hash.
func (s *Store) PutEmbedding(contentHash, model string, vec []float64) error {
	vectorJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to encode embedding vector: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO embeddings (content_hash, model, dims, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			model = excluded.model,
			dims = excluded.dims,
			vector = excluded.vector`,
		contentHash, model, len(vec), string(vectorJSON))
	return err
}

// --- clusters ---

// UpsertCluster persists a cluster and its membership. created_at is written
// only on first insert so reruns stay name- and time-stable.
func (s *Store) UpsertCluster(c core.Cluster) error {
	var centroidJSON any
	if c.CentroidEmbedding != nil {
		b, err := json.Marshal(c.CentroidEmbedding)
		if err != nil {
			return fmt.Errorf("failed to encode centroid: %w", err)
		}
		centroidJSON = string(b)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO clusters (cluster_id, method, centroid_embedding, representative_article_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cluster_id) DO UPDATE SET
			method = excluded.method,
			centroid_embedding = excluded.centroid_embedding,
			representative_article_id = excluded.representative_article_id`,
		c.ClusterID, c.Method, centroidJSON, c.RepresentativeArticleID, fmtTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to upsert cluster %s: %w", c.ClusterID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin member insert: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO cluster_members (cluster_id, article_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare member insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range c.MemberIDs {
		if _, err := stmt.Exec(c.ClusterID, id); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListClusters returns all clusters with their membership, ordered by
// cluster id.
func (s *Store) ListClusters() ([]core.Cluster, error) {
	rows, err := s.db.Query(`SELECT cluster_id, method, centroid_embedding,
		representative_article_id, created_at FROM clusters ORDER BY cluster_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var out []core.Cluster
	for rows.Next() {
		var c core.Cluster
		var centroid sql.NullString
		var created string
		if err := rows.Scan(&c.ClusterID, &c.Method, &centroid,
			&c.RepresentativeArticleID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if centroid.Valid && centroid.String != "" {
			if err := json.Unmarshal([]byte(centroid.String), &c.CentroidEmbedding); err != nil {
				return nil, fmt.Errorf("failed to decode centroid for %s: %w", c.ClusterID, err)
			}
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		members, err := s.clusterMembers(out[i].ClusterID)
		if err != nil {
			return nil, err
		}
		out[i].MemberIDs = members
	}
	return out, nil
}

func (s *Store) clusterMembers(clusterID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT article_id FROM cluster_members WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, id)
	}
	sort.Strings(members)
	return members, rows.Err()
}

// --- summaries ---

// Summary returns the stored summary for a cluster, or nil when absent.
func (s *Store) Summary(clusterID string) (*core.Summary, error) {
	row := s.db.QueryRow(`SELECT cluster_id, tl_dr, bullets_json, citations_json,
		score, version_hash, created_at, published_at FROM summaries WHERE cluster_id = ?`, clusterID)
	return scanSummary(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*core.Summary, error) {
	var sum core.Summary
	var bulletsJSON, citationsJSON, created, published string
	err := row.Scan(&sum.ClusterID, &sum.TLDR, &bulletsJSON, &citationsJSON,
		&sum.Score, &sum.VersionHash, &created, &published)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	if err := json.Unmarshal([]byte(bulletsJSON), &sum.Bullets); err != nil {
		return nil, fmt.Errorf("failed to decode bullets: %w", err)
	}
	if err := json.Unmarshal([]byte(citationsJSON), &sum.Citations); err != nil {
		return nil, fmt.Errorf("failed to decode citations: %w", err)
	}
	sum.CreatedAt = parseTime(created)
	sum.PublishedAt = parseTime(published)
	return &sum, nil
}

// UpsertSummary writes a summary row. When the stored version hash equals the
// incoming one the write is a true no-op: created_at (and everything else)
// stays untouched. published_at is never written here.
func (s *Store) UpsertSummary(sum core.Summary) error {
	bulletsJSON, err := json.Marshal(sum.Bullets)
	if err != nil {
		return fmt.Errorf("failed to encode bullets: %w", err)
	}
	citationsJSON, err := json.Marshal(sum.Citations)
	if err != nil {
		return fmt.Errorf("failed to encode citations: %w", err)
	}
	createdAt := sum.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO summaries (cluster_id, tl_dr, bullets_json, citations_json, score, version_hash, created_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '')
		ON CONFLICT(cluster_id) DO UPDATE SET
			tl_dr = excluded.tl_dr,
			bullets_json = excluded.bullets_json,
			citations_json = excluded.citations_json,
			score = excluded.score,
			version_hash = excluded.version_hash,
			created_at = excluded.created_at
		WHERE summaries.version_hash != excluded.version_hash`,
		sum.ClusterID, sum.TLDR, string(bulletsJSON), string(citationsJSON),
		sum.Score, sum.VersionHash, fmtTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", sum.ClusterID, err)
	}
	return nil
}

// SetSummaryScore records the ranking score for a cluster's summary without
// disturbing the idempotence contract on the content fields.
func (s *Store) SetSummaryScore(clusterID string, score float64) error {
	_, err := s.db.Exec(`UPDATE summaries SET score = ? WHERE cluster_id = ?`, score, clusterID)
	return err
}

// ListSummaries returns all stored summaries ordered by cluster id.
func (s *Store) ListSummaries() ([]core.Summary, error) {
	rows, err := s.db.Query(`SELECT cluster_id, tl_dr, bullets_json, citations_json,
		score, version_hash, created_at, published_at FROM summaries ORDER BY cluster_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()
	var out []core.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

// MarkPublished sets published_at for the given clusters, once. Already
// published rows keep their original timestamp.
func (s *Store) MarkPublished(clusterIDs []string, at time.Time) error {
	stamp := fmtTime(at)
	for _, id := range clusterIDs {
		_, err := s.db.Exec(`UPDATE summaries SET published_at = ?
			WHERE cluster_id = ? AND (published_at IS NULL OR published_at = '')`, stamp, id)
		if err != nil {
			return fmt.Errorf("failed to mark %s published: %w", id, err)
		}
	}
	return nil
}

// Stats summarizes row counts and database size, for the cache command.
type Stats struct {
	RawEntryCount int
	ArticleCount  int
	ClusterCount  int
	SummaryCount  int
	SizeBytes     int64
}

// GetStats returns row counts and the database file size.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := map[string]*int{
		`SELECT COUNT(*) FROM raw_articles`: &stats.RawEntryCount,
		`SELECT COUNT(*) FROM articles`:     &stats.ArticleCount,
		`SELECT COUNT(*) FROM clusters`:     &stats.ClusterCount,
		`SELECT COUNT(*) FROM summaries`:    &stats.SummaryCount,
	}
	for query, target := range counts {
		if err := s.db.QueryRow(query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

// Clear removes all rows from every table and reclaims space.
func (s *Store) Clear() error {
	tables := []string{"feeds", "http_cache", "raw_articles", "articles",
		"embeddings", "clusters", "cluster_members", "summaries"}
	for _, table := range tables {
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
