// Package feeds walks the configured source list and stores newly discovered
// feed entries. Ingestion is idempotent on the (entry id, feed URL) key, so
// reruns only add what is genuinely new.
package feeds

import (
	"bytes"
	"context"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"newsbrief/internal/core"
	"newsbrief/internal/fetch"
	"newsbrief/internal/logger"
	"newsbrief/internal/store"
)

// Ingestor fetches feeds through the shared client and persists raw entries.
type Ingestor struct {
	client *fetch.Client
	store  *store.Store
	parser *gofeed.Parser
	log    zerolog.Logger
}

// NewIngestor builds an Ingestor on top of the shared fetch client and store.
func NewIngestor(client *fetch.Client, st *store.Store) *Ingestor {
	return &Ingestor{
		client: client,
		store:  st,
		parser: gofeed.NewParser(),
		log:    logger.With("feeds"),
	}
}

// Totals reports what one ingestion pass did.
type Totals struct {
	Feeds    int
	Entries  int
	Inserted int
}

// Run ingests every source. A failing feed is logged and skipped; the pass
// continues. since (when non-zero) drops entries published before it, and
// maxItems (when > 0) caps the entries taken per feed.
func (in *Ingestor) Run(ctx context.Context, sources []core.Source, since time.Time, maxItems int) (Totals, error) {
	var totals Totals
	fetchedAt := time.Now().UTC()

	for _, src := range sources {
		totals.Feeds++

		res, err := in.client.Fetch(ctx, src.FeedURL)
		if err != nil {
			in.log.Warn().Str("source", src.ID).Err(err).Msg("feed fetch failed, skipping")
			continue
		}
		if res.NotModified {
			in.log.Info().Str("source", src.ID).Msg("feed not modified")
			continue
		}

		if err := in.store.UpsertFeedCache(src.FeedURL, src.ID, res.ETag, res.LastModified); err != nil {
			in.log.Warn().Str("source", src.ID).Err(err).Msg("failed to update feed cache")
		}

		feed, err := in.parser.Parse(bytes.NewReader(res.Body))
		if err != nil {
			in.log.Warn().Str("source", src.ID).Err(err).Msg("feed parse failed, skipping")
			continue
		}

		entries := make([]core.RawEntry, 0, len(feed.Items))
		for _, item := range feed.Items {
			totals.Entries++

			published := publishedTime(item)
			if !since.IsZero() && !published.IsZero() && published.Before(since) {
				continue
			}
			entryID := item.GUID
			if entryID == "" {
				entryID = item.Link
			}
			if entryID == "" {
				continue
			}
			entries = append(entries, core.RawEntry{
				EntryID:     entryID,
				FeedURL:     src.FeedURL,
				SourceID:    src.ID,
				Link:        item.Link,
				Title:       item.Title,
				Summary:     item.Description,
				PublishedAt: published,
				FetchedAt:   fetchedAt,
			})
			if maxItems > 0 && len(entries) >= maxItems {
				break
			}
		}

		inserted, err := in.store.InsertRawEntries(entries)
		if err != nil {
			in.log.Error().Str("source", src.ID).Err(err).Msg("failed to insert raw entries")
			continue
		}
		totals.Inserted += inserted
		in.log.Info().Str("source", src.ID).Int("new", inserted).Int("seen", len(feed.Items)).Msg("feed ingested")
	}
	return totals, nil
}

func publishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
