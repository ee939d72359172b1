package summarize

import (
	"fmt"
	"strings"

	"newsbrief/internal/core"
)

// Versioned prompt knobs. Bumping either invalidates every cached summary.
const (
	promptVersion     = "v1"
	guardrailsVersion = "v1"
)

const preprintGuardrail = "preprint; may change post-review"

func systemPrompt() string {
	return "You are an evidence-first news watchdog. " +
		"Tone: direct, receipts-led. Contrast claims vs practice; cite primary sources; " +
		"label preprints; use absolute dates; short, firm bullets; end with 'Bottom line: ...'."
}

// mapFacts extracts salient facts from one article as short lines, keeping
// the reduce prompt focused.
func mapFacts(a core.Article) string {
	parts := []string{
		"Title: " + strings.TrimSpace(a.Title),
		fmt.Sprintf("Preprint: %t", a.IsPreprint),
		"URL: " + a.CanonicalURL,
	}
	text := strings.TrimSpace(a.Text)
	if text != "" {
		if len(text) > 500 {
			text = text[:500]
		}
		parts = append(parts, "Body: "+text)
	}
	return strings.Join(parts, "\n")
}

// reducePrompt instructs the model to produce a lead line plus 3-5 bullets
// ending with a bottom-line bullet.
func reducePrompt(members []core.Article, facts []string) string {
	preprintHint := "If peer-reviewed status is unclear, avoid overclaiming."
	for _, a := range members {
		if a.IsPreprint {
			preprintHint = "At least one item is a preprint; include the phrase '" + preprintGuardrail + "'."
			break
		}
	}

	var b strings.Builder
	b.WriteString("Instructions:\n")
	b.WriteString("Write a concise, receipts-led summary for a cluster of near-duplicate news items.\n")
	b.WriteString("- Produce one lead line prefixed with 'Lead: '.\n")
	b.WriteString("- Then produce 3-5 short bullets (each starts with '- ').\n")
	b.WriteString("- End with a bullet starting with 'Bottom line: ' summarizing what changed and why.\n")
	b.WriteString("- Do not fabricate citations; they are provided separately.\n")
	b.WriteString("- " + preprintHint + "\n")
	b.WriteString("- No medical advice; critique claims & methods, not people.\n")
	b.WriteString("- Keep it factual, with numbers if present; absolute dates.\n\n")
	fmt.Fprintf(&b, "Cluster items: %d\n\n", len(members))
	b.WriteString("Extracted facts (map outputs):\n")
	b.WriteString(strings.Join(facts, "\n\n"))
	b.WriteString("\n")
	return b.String()
}
