// Package normalize canonicalizes URLs and text and computes the content
// hashes used as dedup identity keys.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// trackingParams are query parameters stripped during URL canonicalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
}

var preprintMarkers = []string{"arxiv", "biorxiv", "medrxiv"}

// CanonicalizeURL normalizes scheme/host casing, strips the fragment and
// known tracking parameters, and drops a trailing slash. The result is a
// fixed point: canonicalizing it again returns it unchanged.
func CanonicalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		kept := make([]string, 0, 4)
		for _, kv := range strings.Split(u.RawQuery, "&") {
			if kv == "" {
				continue
			}
			key := strings.ToLower(strings.SplitN(kv, "=", 2)[0])
			if trackingParams[key] || strings.HasPrefix(key, "utm_") {
				continue
			}
			kept = append(kept, kv)
		}
		u.RawQuery = strings.Join(kept, "&")
	}

	out := u.String()
	out = strings.TrimSuffix(out, "?")
	return strings.TrimSuffix(out, "/")
}

// CleanText collapses all whitespace runs to single spaces and trims.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// ContentHash is the dedup identity for an article: SHA-256 over title, text
// and canonical URL joined by newlines.
func ContentHash(title, text, canonicalURL string) string {
	sum := sha256.Sum256([]byte(title + "\n" + text + "\n" + canonicalURL))
	return hex.EncodeToString(sum[:])
}

// ArticleID derives the article identifier from its content hash.
func ArticleID(contentHash string) string {
	if len(contentHash) < 16 {
		return contentHash
	}
	return contentHash[:16]
}

// IsPreprint reports whether the source id or URL carries a known
// preprint-server marker.
func IsPreprint(sourceID, rawURL string) bool {
	s := strings.ToLower(sourceID)
	u := strings.ToLower(rawURL)
	for _, m := range preprintMarkers {
		if strings.Contains(s, m) || strings.Contains(u, m) {
			return true
		}
	}
	return false
}

// dateFormats are the publish-date layouts seen across RSS/Atom feeds and
// article metadata.
var dateFormats = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a publish date in any of the common feed formats and
// returns it in UTC. The zero time signals an unparseable or empty input.
func ParseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Outlet returns the host of a canonical URL for citation display.
func Outlet(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil || u.Host == "" {
		return canonicalURL
	}
	return u.Host
}
