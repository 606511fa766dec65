package feed

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/RBWare/rss2mastodon/models"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

const userAgent = "rss2mastodon/1.0"

// Client fetches and parses RSS and Atom feeds.
type Client struct {
	parser *gofeed.Parser
}

// NewClient returns a feed client whose HTTP requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: timeout}

	return &Client{parser: parser}
}

// Fetch retrieves feedURL and returns its entries newest first.
func (c *Client) Fetch(ctx context.Context, feedURL string) ([]models.Entry, error) {
	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	return EntriesFromFeed(parsed), nil
}

// EntriesFromFeed maps a parsed feed onto entries. When every item carries
// a parsed publish date the entries are sorted newest first; otherwise the
// feed's native order is kept as-is.
func EntriesFromFeed(parsed *gofeed.Feed) []models.Entry {
	entries := make([]models.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, entryFromItem(item))
	}

	if datesComplete(entries) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Published.After(entries[j].Published)
		})
	} else if len(entries) > 0 {
		log.WithField("feed", parsed.Title).Debug("Entries missing publish dates, trusting feed order")
	}

	return entries
}

func entryFromItem(item *gofeed.Item) models.Entry {
	entry := models.Entry{
		GUID:    item.GUID,
		Title:   item.Title,
		Summary: item.Description,
		Link:    item.Link,
	}

	if entry.Summary == "" {
		entry.Summary = item.Content
	}

	if item.PublishedParsed != nil {
		entry.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		entry.Published = *item.UpdatedParsed
	}

	// media:content attachments take priority over plain enclosures.
	if media, ok := item.Extensions["media"]; ok {
		for _, content := range media["content"] {
			if url := content.Attrs["url"]; url != "" {
				entry.Media = append(entry.Media, models.MediaRef{
					URL:      url,
					MimeType: content.Attrs["type"],
				})
			}
		}
	}
	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" {
			entry.Media = append(entry.Media, models.MediaRef{
				URL:      enclosure.URL,
				MimeType: enclosure.Type,
			})
		}
	}

	return entry
}

func datesComplete(entries []models.Entry) bool {
	for _, entry := range entries {
		if entry.Published.IsZero() {
			return false
		}
	}
	return len(entries) > 0
}
