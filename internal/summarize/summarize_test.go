package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"newsbrief/internal/config"
	"newsbrief/internal/core"
	"newsbrief/internal/store"
)

type fakeGen struct {
	model string
	text  string
	err   error
	calls int
}

func (f *fakeGen) ModelName() string { return f.model }

func (f *fakeGen) GenerateText(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedCluster(t *testing.T, st *store.Store, preprint bool) {
	t.Helper()
	published := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	articles := []core.Article{
		{
			ArticleID: "a1", ContentHash: "h1",
			CanonicalURL: "https://example.com/one",
			Title:        "Study on hippocampal memory",
			Text:         "Researchers report improved memory consolidation in mice; n=24; optogenetics.",
			SourceID:     "src", IsPreprint: preprint, PublishedAt: published,
		},
		{
			ArticleID: "a2", ContentHash: "h2",
			CanonicalURL: "https://mirror.example.org/two",
			Title:        "Memory consolidation improved via optogenetics",
			Text:         "Authors claim memory consolidation improved using optogenetics; randomized; n=24.",
			SourceID:     "src", IsPreprint: preprint, PublishedAt: published,
		},
	}
	for _, a := range articles {
		if err := st.UpsertArticle(a); err != nil {
			t.Fatalf("failed to seed article: %v", err)
		}
	}
	c := core.Cluster{
		ClusterID: "c1", Method: "test",
		RepresentativeArticleID: "a1",
		MemberIDs:               []string{"a1", "a2"},
		CreatedAt:               published,
	}
	if err := st.UpsertCluster(c); err != nil {
		t.Fatalf("failed to seed cluster: %v", err)
	}
}

const sampleGenerated = "Lead: New receipts on memory consolidation.\n" +
	"- Guardrail: preprint; may change post-review.\n" +
	"- Findings: small n, randomized.\n" +
	"- Bottom line: promising but needs replication.\n"

func TestRunCachesLLMSummary(t *testing.T) {
	st := newTestStore(t)
	seedCluster(t, st, true)
	gen := &fakeGen{model: "gemini-1.5-flash", text: sampleGenerated}
	s := New(st, gen, config.Summarize{Strategy: StrategyLLM})

	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if n != 1 || gen.calls != 1 {
		t.Fatalf("expected one summary from one model call, got n=%d calls=%d", n, gen.calls)
	}

	first, err := st.Summary("c1")
	if err != nil || first == nil {
		t.Fatalf("summary not persisted: %v", err)
	}
	if len(first.VersionHash) != 64 {
		t.Errorf("version hash should be 64 hex chars, got %d", len(first.VersionHash))
	}
	joined := strings.Join(first.Bullets, "\n")
	if !strings.Contains(joined, "Bottom line:") {
		t.Errorf("missing bottom line bullet: %q", joined)
	}
	if !strings.Contains(joined, preprintGuardrail) {
		t.Errorf("missing preprint guardrail: %q", joined)
	}
	if len(first.Citations) != 2 {
		t.Errorf("expected 2 citations, got %d", len(first.Citations))
	}

	// Unchanged inputs: no second model call, created_at untouched.
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("cache miss on unchanged inputs: %d calls", gen.calls)
	}
	second, err := st.Summary("c1")
	if err != nil || second == nil {
		t.Fatalf("summary missing after second run: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on no-op rewrite: %v vs %v", second.CreatedAt, first.CreatedAt)
	}

	// A different model invalidates the cache exactly once.
	gen.model = "gemini-1.5-pro"
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("third Run failed: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("model change should force exactly one more call, got %d", gen.calls)
	}
}

func TestRunFallsBackOnModelFailure(t *testing.T) {
	st := newTestStore(t)
	seedCluster(t, st, false)
	gen := &fakeGen{model: "gemini-1.5-flash", err: errors.New("quota exceeded")}
	s := New(st, gen, config.Summarize{Strategy: StrategyLLM})

	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should not fail on model errors: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected heuristic fallback summary, got %d", n)
	}

	sum, err := st.Summary("c1")
	if err != nil || sum == nil {
		t.Fatalf("fallback summary not persisted: %v", err)
	}
	joined := strings.Join(sum.Bullets, "\n")
	if !strings.Contains(joined, "Bottom line:") {
		t.Errorf("fallback missing bottom line: %q", joined)
	}
	if !strings.Contains(joined, "What changed:") {
		t.Errorf("fallback should use heuristic template: %q", joined)
	}
}

func TestHeuristicStrategyNeverCallsModel(t *testing.T) {
	st := newTestStore(t)
	seedCluster(t, st, true)
	gen := &fakeGen{model: "gemini-1.5-flash", text: sampleGenerated}
	s := New(st, gen, config.Summarize{Strategy: StrategyHeuristic})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("heuristic strategy made %d model calls", gen.calls)
	}

	sum, err := st.Summary("c1")
	if err != nil || sum == nil {
		t.Fatalf("summary not persisted: %v", err)
	}
	joined := strings.Join(sum.Bullets, "\n")
	if !strings.Contains(joined, "Preprints: 2") {
		t.Errorf("expected preprint count bullet: %q", joined)
	}
	if !strings.Contains(joined, "Disagreements:") {
		t.Errorf("expected disagreement bullet for differing titles: %q", joined)
	}
}

func TestParseGeneratedSynthesizesBottomLine(t *testing.T) {
	members := []core.Article{{Title: "Fallback title"}}
	lead, bullets := parseGenerated("Lead: Something happened.\n- one\n- two\n- three\n", members)
	if lead != "Something happened." {
		t.Errorf("lead = %q", lead)
	}
	last := bullets[len(bullets)-1]
	if !strings.HasPrefix(last, "Bottom line:") {
		t.Errorf("bottom line not synthesized: %v", bullets)
	}
}

func TestParseGeneratedCapsAtFiveKeepingBottomLine(t *testing.T) {
	text := "Lead: L.\n- a\n- b\n- Bottom line: core point.\n- c\n- d\n- e\n"
	_, bullets := parseGenerated(text, []core.Article{{Title: "t"}})
	if len(bullets) != 5 {
		t.Fatalf("expected 5 bullets, got %d: %v", len(bullets), bullets)
	}
	if !strings.HasPrefix(bullets[4], "Bottom line:") {
		t.Errorf("bottom line must survive the cap: %v", bullets)
	}
}

func TestVersionHashStability(t *testing.T) {
	a := versionHash("m", []string{"b", "a"}, []string{"f2", "f1"})
	b := versionHash("m", []string{"a", "b"}, []string{"f1", "f2"})
	if a != b {
		t.Error("hash must not depend on input order")
	}
	if a == versionHash("other", []string{"a", "b"}, []string{"f1", "f2"}) {
		t.Error("model label must change the hash")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
