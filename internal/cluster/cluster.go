// Package cluster groups near-duplicate articles into stories. Candidate
// pairs come from MinHash signatures in an LSH index, are confirmed with
// exact shingle Jaccard, merged with same-canonical-URL articles, and the
// resulting graph's connected components become clusters.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsbrief/internal/config"
	"newsbrief/internal/core"
	"newsbrief/internal/logger"
	"newsbrief/internal/store"
)

// Method is recorded on every cluster row as an audit field.
const Method = "minhash-lsh"

// Embedder provides fixed-dimension text embeddings for cluster centroids.
type Embedder interface {
	EmbeddingModelName() string
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Engine runs one clustering pass over all stored articles.
type Engine struct {
	store    *store.Store
	embedder Embedder
	cfg      config.Cluster
	log      zerolog.Logger
}

// New builds an Engine. embedder may be nil; clusters then carry no centroid.
func New(st *store.Store, embedder Embedder, cfg config.Cluster) *Engine {
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = 5
	}
	if cfg.NumHashes <= 0 {
		cfg.NumHashes = 128
	}
	if cfg.Bands <= 0 {
		cfg.Bands = 32
	}
	if cfg.JaccardThreshold <= 0 {
		cfg.JaccardThreshold = 0.85
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		log:      logger.With("cluster"),
	}
}

// Run clusters every stored article and persists the result. Rerunning on an
// unchanged article set produces identical cluster ids, memberships, and
// centroids. An empty article set is not an error.
func (e *Engine) Run(ctx context.Context) ([]core.Cluster, error) {
	articles, err := e.store.ListArticles()
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}
	if len(articles) == 0 {
		e.log.Info().Msg("no articles to cluster")
		return nil, nil
	}

	byID := make(map[string]core.Article, len(articles))
	shingles := make(map[string]ShingleSet, len(articles))
	hasher := NewMinHasher(e.cfg.NumHashes)
	index := NewLSHIndex(e.cfg.Bands, e.cfg.NumHashes/e.cfg.Bands)
	sigs := make(map[string]Signature, len(articles))

	for _, a := range articles {
		byID[a.ArticleID] = a
		set := Shingles(a.Text, e.cfg.ShingleSize)
		shingles[a.ArticleID] = set
		sig := hasher.Signature(set)
		sigs[a.ArticleID] = sig
		index.Add(a.ArticleID, sig)
	}

	edges := e.buildEdges(articles, sigs, shingles, index)
	components := connectedComponents(articles, edges)

	clusters := make([]core.Cluster, 0, len(components))
	for _, members := range components {
		c, err := e.buildCluster(ctx, members, byID)
		if err != nil {
			return nil, err
		}
		if err := e.store.UpsertCluster(c); err != nil {
			return nil, fmt.Errorf("failed to persist cluster %s: %w", c.ClusterID, err)
		}
		clusters = append(clusters, c)
	}

	e.log.Info().Int("articles", len(articles)).Int("clusters", len(clusters)).Msg("clustering done")
	return clusters, nil
}

// buildEdges collects confirmed similarity edges plus forced same-URL edges.
func (e *Engine) buildEdges(articles []core.Article, sigs map[string]Signature, shingles map[string]ShingleSet, index *LSHIndex) map[string][]string {
	edges := make(map[string][]string)
	addEdge := func(a, b string) {
		edges[a] = append(edges[a], b)
		edges[b] = append(edges[b], a)
	}

	for _, a := range articles {
		for _, cand := range index.Candidates(sigs[a.ArticleID]) {
			// Each unordered pair is considered once.
			if cand <= a.ArticleID {
				continue
			}
			if Jaccard(shingles[a.ArticleID], shingles[cand]) >= e.cfg.JaccardThreshold {
				addEdge(a.ArticleID, cand)
			}
		}
	}

	// Identical canonical URLs always merge, even with disjoint text.
	byURL := make(map[string][]string)
	for _, a := range articles {
		if a.CanonicalURL != "" {
			byURL[a.CanonicalURL] = append(byURL[a.CanonicalURL], a.ArticleID)
		}
	}
	for _, ids := range byURL {
		sort.Strings(ids)
		for i := 1; i < len(ids); i++ {
			addEdge(ids[0], ids[i])
		}
	}
	return edges
}

// connectedComponents walks the similarity graph in sorted article-id order,
// so component membership and ordering are stable across runs.
func connectedComponents(articles []core.Article, edges map[string][]string) [][]string {
	ids := make([]string, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ArticleID)
	}
	sort.Strings(ids)
	for _, neighbors := range edges {
		sort.Strings(neighbors)
	}

	visited := make(map[string]bool, len(ids))
	var components [][]string
	for _, start := range ids {
		if visited[start] {
			continue
		}
		var members []string
		stack := []string{start}
		visited[start] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, id)
			for _, n := range edges[id] {
				if !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		sort.Strings(members)
		components = append(components, members)
	}
	return components
}

func (e *Engine) buildCluster(ctx context.Context, members []string, byID map[string]core.Article) (core.Cluster, error) {
	rep := byID[members[0]]
	for _, id := range members[1:] {
		a := byID[id]
		if len(a.Text) > len(rep.Text) || (len(a.Text) == len(rep.Text) && a.ArticleID < rep.ArticleID) {
			rep = a
		}
	}

	centroid, err := e.centroid(ctx, members, byID)
	if err != nil {
		return core.Cluster{}, err
	}

	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(rep.CanonicalURL))
	return core.Cluster{
		ClusterID:               clusterIDString(id),
		Method:                  Method,
		CentroidEmbedding:       centroid,
		RepresentativeArticleID: rep.ArticleID,
		MemberIDs:               members,
		CreatedAt:               time.Now().UTC(),
	}, nil
}

// centroid averages member embeddings element-wise. Members without an
// embedding (nil embedder, provider failure) simply do not contribute;
// inconsistent dimensions are an error, never coerced.
func (e *Engine) centroid(ctx context.Context, members []string, byID map[string]core.Article) ([]float64, error) {
	if e.embedder == nil {
		return nil, nil
	}

	var sum []float64
	contributed := 0
	for _, id := range members {
		a := byID[id]
		vec, err := e.memberEmbedding(ctx, a)
		if err != nil {
			e.log.Warn().Str("article", a.ArticleID).Err(err).Msg("embedding unavailable, member skipped in centroid")
			continue
		}
		if vec == nil {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(vec))
		} else if len(vec) != len(sum) {
			return nil, fmt.Errorf("embedding dimension mismatch for article %s: got %d, want %d", a.ArticleID, len(vec), len(sum))
		}
		for i, v := range vec {
			sum[i] += v
		}
		contributed++
	}
	if contributed == 0 {
		return nil, nil
	}
	for i := range sum {
		sum[i] /= float64(contributed)
	}
	return sum, nil
}

// memberEmbedding reads the cached vector or computes and caches a new one.
func (e *Engine) memberEmbedding(ctx context.Context, a core.Article) ([]float64, error) {
	if vec, err := e.store.Embedding(a.ContentHash); err == nil && vec != nil {
		return vec, nil
	}
	vec, err := e.embedder.Embed(ctx, a.Text)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutEmbedding(a.ContentHash, e.embedder.EmbeddingModelName(), vec); err != nil {
		e.log.Warn().Str("article", a.ArticleID).Err(err).Msg("failed to cache embedding")
	}
	return vec, nil
}

// clusterIDString is the first 16 hex characters of a UUIDv5 over the
// representative's canonical URL, name-stable across reruns.
func clusterIDString(id uuid.UUID) string {
	hex := make([]byte, 0, 16)
	for _, c := range id.String() {
		if c == '-' {
			continue
		}
		hex = append(hex, byte(c))
		if len(hex) == 16 {
			break
		}
	}
	return string(hex)
}
