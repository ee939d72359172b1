// Package summarize builds per-cluster summaries, either from a pure
// heuristic template or an LLM reduce step, behind a version-hashed cache
// that makes reruns free: an unchanged cluster never reaches the model twice.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsbrief/internal/config"
	"newsbrief/internal/core"
	"newsbrief/internal/logger"
	"newsbrief/internal/normalize"
	"newsbrief/internal/store"
)

// StrategyHeuristic and StrategyLLM select how summary text is produced.
const (
	StrategyHeuristic = "heuristic"
	StrategyLLM       = "llm"
)

// Generator is the external text-generation call. Errors are recoverable:
// the affected cluster falls back to the heuristic strategy.
type Generator interface {
	ModelName() string
	GenerateText(ctx context.Context, system, user string) (string, error)
}

// Summarizer runs one summarization pass over all persisted clusters.
type Summarizer struct {
	store    *store.Store
	gen      Generator
	strategy string
	log      zerolog.Logger
}

// New builds a Summarizer. gen may be nil, which forces the heuristic
// strategy regardless of configuration.
func New(st *store.Store, gen Generator, cfg config.Summarize) *Summarizer {
	strategy := cfg.Strategy
	if strategy != StrategyLLM || gen == nil {
		strategy = StrategyHeuristic
	}
	return &Summarizer{
		store:    st,
		gen:      gen,
		strategy: strategy,
		log:      logger.With("summarize"),
	}
}

// Run summarizes every cluster, skipping those whose persisted summary
// already matches the current version hash. Returns the number of summaries
// (re)generated.
func (s *Summarizer) Run(ctx context.Context) (int, error) {
	clusters, err := s.store.ListClusters()
	if err != nil {
		return 0, fmt.Errorf("failed to load clusters: %w", err)
	}
	if len(clusters) == 0 {
		s.log.Info().Msg("no clusters to summarize")
		return 0, nil
	}

	written := 0
	for _, c := range clusters {
		members, err := s.store.ArticlesByIDs(c.MemberIDs)
		if err != nil {
			return written, fmt.Errorf("failed to load members of cluster %s: %w", c.ClusterID, err)
		}
		if len(members) == 0 {
			continue
		}

		facts := make([]string, 0, len(members))
		for _, a := range members {
			facts = append(facts, mapFacts(a))
		}
		vh := versionHash(s.modelLabel(), c.MemberIDs, facts)

		// Cache-hit check before any model call. The read is not atomic with
		// the write below; the only race is a duplicate model call.
		if existing, err := s.store.Summary(c.ClusterID); err == nil && existing != nil && existing.VersionHash == vh {
			continue
		}

		tldr, bullets := s.compose(ctx, c.ClusterID, members, facts)
		sum := core.Summary{
			ClusterID:   c.ClusterID,
			TLDR:        tldr,
			Bullets:     bullets,
			Citations:   citations(members),
			VersionHash: vh,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.UpsertSummary(sum); err != nil {
			return written, fmt.Errorf("failed to persist summary for cluster %s: %w", c.ClusterID, err)
		}
		written++
	}

	s.log.Info().Int("written", written).Int("clusters", len(clusters)).Msg("summarization done")
	return written, nil
}

func (s *Summarizer) modelLabel() string {
	if s.strategy == StrategyLLM {
		return s.gen.ModelName()
	}
	return StrategyHeuristic
}

// compose produces the lead and bullets via the configured strategy,
// falling back to the heuristic on model failure.
func (s *Summarizer) compose(ctx context.Context, clusterID string, members []core.Article, facts []string) (string, []string) {
	if s.strategy == StrategyLLM {
		text, err := s.gen.GenerateText(ctx, systemPrompt(), reducePrompt(members, facts))
		if err == nil {
			return parseGenerated(text, members)
		}
		s.log.Warn().Str("cluster", clusterID).Err(err).Msg("model call failed, falling back to heuristic summary")
	}
	return heuristicSummary(members)
}

// heuristicSummary is the pure template strategy: what changed, preprint
// count, top domains, disagreement flag, fixed closer.
func heuristicSummary(members []core.Article) (string, []string) {
	lead := strings.TrimSpace(members[0].Title)
	if len(lead) > 160 {
		lead = lead[:160]
	}

	preprints := 0
	titles := make(map[string]struct{})
	domainCount := make(map[string]int)
	var domainOrder []string
	for _, a := range members {
		if a.IsPreprint {
			preprints++
		}
		titles[a.Title] = struct{}{}
		if d := normalize.Outlet(a.CanonicalURL); d != "" {
			if domainCount[d] == 0 {
				domainOrder = append(domainOrder, d)
			}
			domainCount[d]++
		}
	}

	bullets := []string{"What changed: " + strings.TrimSuffix(lead, ".") + "."}
	if preprints > 0 {
		bullets = append(bullets, fmt.Sprintf("Preprints: %d in this cluster; interpret cautiously (%s).", preprints, preprintGuardrail))
	}
	if top := topDomains(domainCount, domainOrder, 2); top != "" {
		bullets = append(bullets, "Coverage: "+top+".")
	}
	if len(titles) > 1 {
		bullets = append(bullets, "Disagreements: reports vary; check methods and sample sizes.")
	}
	// Per-article bullets fill any remaining room under the five-bullet cap.
	for _, a := range members[1:] {
		if len(bullets) >= 4 {
			break
		}
		t := strings.TrimSpace(a.Title)
		if t == "" || t == lead {
			continue
		}
		bullets = append(bullets, "Also reported: "+strings.TrimSuffix(t, ".")+".")
	}
	bullets = append(bullets, "Bottom line: evidence-first reading over hype; see citations.")
	return lead, bullets
}

// topDomains returns the n most common domains, most frequent first, ties
// broken by first appearance for determinism.
func topDomains(count map[string]int, order []string, n int) string {
	sort.SliceStable(order, func(i, j int) bool {
		return count[order[i]] > count[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return strings.Join(order, ", ")
}

// parseGenerated extracts the lead and bullets from model output and
// enforces the output contract: 3-5 bullets with a guaranteed bottom line.
func parseGenerated(text string, members []core.Article) (string, []string) {
	var lead string
	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Lead:"):
			lead = strings.TrimSpace(strings.TrimPrefix(line, "Lead:"))
		case strings.HasPrefix(line, "- "):
			bullets = append(bullets, strings.TrimPrefix(line, "- "))
		}
	}

	if lead == "" {
		lead = strings.TrimSpace(members[0].Title)
	}
	if len(bullets) < 3 {
		// Pad from the heuristic template rather than under-delivering.
		_, fallback := heuristicSummary(members)
		for _, b := range fallback {
			if len(bullets) >= 3 {
				break
			}
			bullets = append(bullets, b)
		}
	}

	bottom := -1
	for i, b := range bullets {
		if strings.HasPrefix(b, "Bottom line:") {
			bottom = i
			break
		}
	}
	if bottom == -1 {
		bullets = append(bullets, "Bottom line: "+lead)
		bottom = len(bullets) - 1
	}
	if len(bullets) > 5 {
		trimmed := make([]string, 0, 5)
		for i, b := range bullets {
			if i == bottom {
				continue
			}
			if len(trimmed) == 4 {
				break
			}
			trimmed = append(trimmed, b)
		}
		bullets = append(trimmed, bullets[bottom])
	}
	return lead, bullets
}

// citations lists every member deterministically in member order.
func citations(members []core.Article) []core.Citation {
	out := make([]core.Citation, 0, len(members))
	for _, a := range members {
		c := core.Citation{
			Title:  a.Title,
			Outlet: normalize.Outlet(a.CanonicalURL),
			URL:    a.CanonicalURL,
		}
		if !a.PublishedAt.IsZero() {
			c.Date = a.PublishedAt.UTC().Format("2006-01-02")
		}
		out = append(out, c)
	}
	return out
}

// versionHash digests everything that determines summary content: prompt and
// guardrail versions, the model label, sorted member ids, and sorted facts.
// Identical inputs yield an identical 64-hex digest across runs.
func versionHash(modelLabel string, memberIDs, facts []string) string {
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids)
	fs := append([]string(nil), facts...)
	sort.Strings(fs)

	h := sha256.New()
	for _, part := range []string{promptVersion, guardrailsVersion, modelLabel} {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	for _, f := range fs {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
