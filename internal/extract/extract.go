// Package extract turns raw feed entries into normalized Article records by
// fetching the article page, pulling out the main text, and falling back to
// the feed's title+summary when extraction fails.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"newsbrief/internal/core"
	"newsbrief/internal/fetch"
	"newsbrief/internal/logger"
	"newsbrief/internal/normalize"
	"newsbrief/internal/store"
)

const (
	defaultParallel = 4
	// fullQualityChars is text length at which extraction quality saturates.
	fullQualityChars = 2000
	fallbackQuality  = 0.2
)

// Extractor runs the per-entry fetch+extract step over a bounded worker pool.
type Extractor struct {
	client   *fetch.Client
	store    *store.Store
	parallel int
	log      zerolog.Logger
}

// New builds an Extractor. parallel <= 0 selects the default pool width.
func New(client *fetch.Client, st *store.Store, parallel int) *Extractor {
	if parallel <= 0 {
		parallel = defaultParallel
	}
	return &Extractor{
		client:   client,
		store:    st,
		parallel: parallel,
		log:      logger.With("extract"),
	}
}

// Run processes all unextracted raw entries, at most limit when limit > 0.
// Workers are independent; persistence is idempotent per article id so
// completion order does not affect stored state. Returns the number of
// articles written.
func (e *Extractor) Run(ctx context.Context, limit int) (int, error) {
	raws, err := e.store.UnprocessedRawEntries(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load raw entries: %w", err)
	}
	if len(raws) == 0 {
		e.log.Info().Msg("no new raw entries to extract")
		return 0, nil
	}

	jobs := make(chan core.RawEntry)
	var extracted int64
	var wg sync.WaitGroup

	for i := 0; i < e.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				if e.processEntry(ctx, raw) {
					atomic.AddInt64(&extracted, 1)
				}
			}
		}()
	}

	for _, raw := range raws {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return int(atomic.LoadInt64(&extracted)), ctx.Err()
		case jobs <- raw:
		}
	}
	close(jobs)
	wg.Wait()

	n := int(atomic.LoadInt64(&extracted))
	e.log.Info().Int("extracted", n).Int("entries", len(raws)).Msg("extraction pass done")
	return n, nil
}

// processEntry handles one raw entry. It returns true when an article was
// written. A transient fetch failure leaves the entry unprocessed so the
// next run retries it; everything else marks it processed.
func (e *Extractor) processEntry(ctx context.Context, raw core.RawEntry) bool {
	text, title, byline := "", strings.TrimSpace(raw.Title), ""
	quality := 0.0

	if raw.Link != "" {
		if !e.client.RobotsAllowed(ctx, raw.Link, e.client.UserAgent()) {
			e.log.Info().Str("url", raw.Link).Msg("disallowed by robots.txt, skipping")
			e.markProcessed(raw)
			return false
		}

		res, err := e.client.Fetch(ctx, raw.Link)
		switch {
		case fetch.IsPermanent(err):
			// The page is gone; the feed's own text is all we will ever get.
			e.log.Info().Str("url", raw.Link).Err(err).Msg("article page unavailable, using feed text")
		case err != nil:
			e.log.Warn().Str("url", raw.Link).Err(err).Msg("article fetch failed, will retry next run")
			return false
		case res.NotModified:
			// Page unchanged since a previous run; the article row already exists.
			e.markProcessed(raw)
			return false
		default:
			text, title, byline = e.extractBody(res.Body, raw.Link, title)
		}
	}

	if text == "" {
		// Extraction produced nothing usable: fall back to the feed's own
		// title and summary.
		fallback := normalize.CleanText(raw.Title + "\n" + raw.Summary)
		if fallback == "" {
			e.log.Info().Str("entry", raw.EntryID).Msg("no extractable text and empty fallback, skipping")
			e.markProcessed(raw)
			return false
		}
		text = fallback
		quality = fallbackQuality
	} else {
		quality = float64(len(text)) / fullQualityChars
		if quality > 1 {
			quality = 1
		}
	}

	canonical := normalize.CanonicalizeURL(raw.Link)
	if title == "" {
		title = canonical
	}

	contentHash := normalize.ContentHash(title, text, canonical)
	article := core.Article{
		ArticleID:         normalize.ArticleID(contentHash),
		CanonicalURL:      canonical,
		Title:             title,
		Byline:            byline,
		PublishedAt:       raw.PublishedAt,
		SourceID:          raw.SourceID,
		IsPreprint:        normalize.IsPreprint(raw.SourceID, canonical),
		Text:              text,
		Lang:              DetectISO6391(text),
		ExtractionQuality: quality,
		ContentHash:       contentHash,
	}

	if err := e.store.UpsertArticle(article); err != nil {
		e.log.Error().Str("article", article.ArticleID).Err(err).Msg("failed to persist article")
		return false
	}
	e.markProcessed(raw)
	return true
}

// extractBody runs readability over the fetched page. The feed title wins
// when present; otherwise the page's own title fills in.
func (e *Extractor) extractBody(body []byte, pageURL, feedTitle string) (text, title, byline string) {
	title = feedTitle

	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		e.log.Warn().Str("url", pageURL).Err(err).Msg("readability extraction failed")
		if title == "" {
			title = titleFromHTML(body)
		}
		return "", title, ""
	}

	text = normalize.CleanText(article.TextContent)
	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	if title == "" {
		title = titleFromHTML(body)
	}
	return text, title, strings.TrimSpace(article.Byline)
}

func (e *Extractor) markProcessed(raw core.RawEntry) {
	if err := e.store.MarkRawProcessed(raw.EntryID, raw.FeedURL); err != nil {
		e.log.Warn().Str("entry", raw.EntryID).Err(err).Msg("failed to mark raw entry processed")
	}
}
