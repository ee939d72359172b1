package normalize

import (
	"strings"
	"testing"
	"time"
)

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips tracking params and fragment",
			in:   "https://example.com/a?utm_source=x&id=1#frag",
			want: "https://example.com/a?id=1",
		},
		{
			name: "strips trailing slash",
			in:   "https://example.com/story/",
			want: "https://example.com/story",
		},
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "drops fbclid and gclid",
			in:   "https://example.com/a?fbclid=abc&gclid=def&page=2",
			want: "https://example.com/a?page=2",
		},
		{
			name: "all params stripped leaves no query",
			in:   "https://example.com/a?utm_medium=rss",
			want: "https://example.com/a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalizeURL(tt.in)
			if got != tt.want {
				t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.Contains(got, "utm_") || strings.Contains(got, "#") {
				t.Errorf("canonical URL still carries tracking state: %q", got)
			}
		})
	}
}

func TestCanonicalizeURLIdempotent(t *testing.T) {
	urls := []string{
		"https://example.com/a?utm_source=x&id=1#frag",
		"http://News.Example.org/path/?",
		"https://example.com/plain",
	}
	for _, u := range urls {
		once := CanonicalizeURL(u)
		twice := CanonicalizeURL(once)
		if once != twice {
			t.Errorf("canonicalization not idempotent for %q: %q != %q", u, once, twice)
		}
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  hello \n\t world  \n ")
	if got != "hello world" {
		t.Errorf("CleanText = %q, want %q", got, "hello world")
	}
	if CleanText("") != "" {
		t.Error("CleanText of empty string should be empty")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash("title", "body text", "https://example.com/a")
	h2 := ContentHash("title", "body text", "https://example.com/a")
	if h1 != h2 {
		t.Error("identical inputs must hash identically")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
	h3 := ContentHash("title", "body text", "https://example.com/b")
	if h1 == h3 {
		t.Error("different canonical URLs must change the hash")
	}
}

func TestIsPreprint(t *testing.T) {
	if !IsPreprint("arxiv-cs", "") {
		t.Error("arxiv source id should be a preprint")
	}
	if !IsPreprint("some-src", "https://www.biorxiv.org/content/10.1101/x") {
		t.Error("biorxiv URL should be a preprint")
	}
	if IsPreprint("nature-news", "https://www.nature.com/articles/x") {
		t.Error("journal article should not be a preprint")
	}
}

func TestParseDate(t *testing.T) {
	got := ParseDate("Mon, 02 Jan 2006 15:04:05 GMT")
	if got.IsZero() {
		t.Fatal("RFC1123 date should parse")
	}
	got = ParseDate("2025-09-01T12:30:00Z")
	want := time.Date(2025, 9, 1, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseDate = %v, want %v", got, want)
	}
	if !ParseDate("not a date").IsZero() {
		t.Error("unparseable dates should return the zero time")
	}
}

func TestOutlet(t *testing.T) {
	if got := Outlet("https://www.nature.com/articles/x"); got != "www.nature.com" {
		t.Errorf("Outlet = %q", got)
	}
}
