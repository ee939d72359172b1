// Package rank scores clusters from freshness, source trust, size, and text
// cues, and orders them for publication.
package rank

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsbrief/internal/config"
	"newsbrief/internal/core"
	"newsbrief/internal/logger"
	"newsbrief/internal/store"
)

const (
	defaultHalfLifeHours = 24.0
	defaultSourceWeight  = 1.0
)

var (
	preregCue      = regexp.MustCompile(`(?i)prereg|registered report`)
	openAccessCue  = regexp.MustCompile(`(?i)github|open (code|data)|(code|data) available`)
	replicationCue = regexp.MustCompile(`(?i)replicat`)
	policyCue      = regexp.MustCompile(`(?i)policy|regulat`)
	methodCue      = regexp.MustCompile(`(?i)random|double-blind|n=`)
)

// Engine scores all persisted clusters.
type Engine struct {
	store    *store.Store
	halfLife float64
	weights  map[string]float64
	now      func() time.Time
	log      zerolog.Logger
}

// New builds an Engine. weights maps source id to its configured trust
// weight; unknown sources default to 1.
func New(st *store.Store, cfg config.Rank, weights map[string]float64) *Engine {
	halfLife := cfg.HalfLifeHours
	if halfLife <= 0 {
		halfLife = defaultHalfLifeHours
	}
	return &Engine{
		store:    st,
		halfLife: halfLife,
		weights:  weights,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With("rank"),
	}
}

// Run scores every cluster and returns them sorted by descending score, ties
// broken by cluster id for a stable order.
func (e *Engine) Run() ([]core.ScoredCluster, error) {
	clusters, err := e.store.ListClusters()
	if err != nil {
		return nil, fmt.Errorf("failed to load clusters: %w", err)
	}

	scored := make([]core.ScoredCluster, 0, len(clusters))
	for _, c := range clusters {
		members, err := e.store.ArticlesByIDs(c.MemberIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load members of cluster %s: %w", c.ClusterID, err)
		}
		scored = append(scored, core.ScoredCluster{
			ClusterID: c.ClusterID,
			Score:     e.ScoreMembers(members),
			Size:      len(members),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ClusterID < scored[j].ClusterID
	})
	e.log.Info().Int("clusters", len(scored)).Msg("ranking done")
	return scored, nil
}

// ScoreMembers computes the score in [0,1] for one cluster's member articles.
func (e *Engine) ScoreMembers(members []core.Article) float64 {
	if len(members) == 0 {
		return 0
	}

	var latest time.Time
	weightSum := 0.0
	var text strings.Builder
	for _, a := range members {
		if !a.PublishedAt.IsZero() && a.PublishedAt.After(latest) {
			latest = a.PublishedAt
		}
		w, ok := e.weights[a.SourceID]
		if !ok {
			w = defaultSourceWeight
		}
		weightSum += w
		text.WriteString(a.Title)
		text.WriteByte(' ')
		text.WriteString(a.Text)
		text.WriteByte(' ')
	}

	freshness := Freshness(latest, e.now(), e.halfLife)
	sourceWeight := weightSum / float64(len(members))
	sizeSignal := math.Min(1, float64(len(members))/5)

	score := 0.5*freshness + 0.3*sourceWeight + 0.2*sizeSignal
	score += adjustments(text.String())
	return clamp01(score)
}

// Freshness is an exponential half-life decay on the latest publish time:
// 2^(-age_hours/half_life), clamped to [0,1]. A zero latest time means no
// member had a timestamp and yields 0.
func Freshness(latest, now time.Time, halfLifeHours float64) float64 {
	if latest.IsZero() {
		return 0
	}
	ageHours := now.Sub(latest).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return clamp01(math.Pow(2, -ageHours/halfLifeHours))
}

// adjustments applies the heuristic cue boosts and the missing-methods
// penalty over the concatenated member titles and texts.
func adjustments(text string) float64 {
	adj := 0.0
	if preregCue.MatchString(text) {
		adj += 0.1
	}
	if openAccessCue.MatchString(text) {
		adj += 0.1
	}
	if replicationCue.MatchString(text) {
		adj += 0.2
	}
	if policyCue.MatchString(text) {
		adj += 0.2
	}
	if !methodCue.MatchString(text) {
		adj -= 0.1
	}
	return adj
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
