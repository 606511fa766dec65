// Package pipeline drives the dedup-and-publish loop for each configured
// account: fetch entries, decide novelty, format, attach media, post, and
// persist each published digest immediately.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/RBWare/rss2mastodon/config"
	"github.com/RBWare/rss2mastodon/feed"
	"github.com/RBWare/rss2mastodon/models"
	"github.com/RBWare/rss2mastodon/store"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Fetcher retrieves and parses a feed into entries, newest first.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]models.Entry, error)
}

// Publisher is the posting side of one Mastodon account.
type Publisher interface {
	UploadMedia(ctx context.Context, data []byte, mime string) (string, error)
	PostStatus(ctx context.Context, text string, mediaIDs []string) error
	RateLimit() (remaining int, reset time.Time, ok bool)
}

// MediaDownloader fetches attachment bytes referenced by an entry.
type MediaDownloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// PublisherFactory builds a Publisher for one account.
type PublisherFactory func(account config.Account) Publisher

// Options bound the pipeline's output and pacing.
type Options struct {
	// MaxChars is the hard character budget per status.
	MaxChars int
	// RateLimitFloor stops posting for the rest of a feed's run when the
	// instance reports fewer remaining requests than this.
	RateLimitFloor int
	// PostDelay is the pause after each successful post.
	PostDelay time.Duration
	// FetchTimeout bounds the feed fetch+parse call.
	FetchTimeout time.Duration
}

// DefaultOptions returns the stock pacing and budget values.
func DefaultOptions() Options {
	return Options{
		MaxChars:       500,
		RateLimitFloor: 5,
		PostDelay:      15 * time.Second,
		FetchTimeout:   10 * time.Second,
	}
}

// Pipeline processes configured accounts strictly sequentially. All
// collaborators are injected; there is no package-level state.
type Pipeline struct {
	fetcher      Fetcher
	store        *store.Store
	media        MediaDownloader
	newPublisher PublisherFactory
	opts         Options
}

func New(fetcher Fetcher, st *store.Store, media MediaDownloader, newPublisher PublisherFactory, opts Options) *Pipeline {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}
	if opts.RateLimitFloor <= 0 {
		opts.RateLimitFloor = DefaultOptions().RateLimitFloor
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultOptions().FetchTimeout
	}

	return &Pipeline{
		fetcher:      fetcher,
		store:        st,
		media:        media,
		newPublisher: newPublisher,
		opts:         opts,
	}
}

// RunAll processes every account in order. A failing account is logged
// and never affects the others.
func (p *Pipeline) RunAll(ctx context.Context, accounts []config.Account) {
	for _, account := range accounts {
		if err := p.Run(ctx, account); err != nil {
			log.WithError(err).WithField("account", account.Name).Error("Feed run failed")
		}
	}
}

// Run processes a single account: every entry not yet published is
// formatted and posted, and its digest recorded immediately on success.
func (p *Pipeline) Run(ctx context.Context, account config.Account) error {
	log.WithFields(log.Fields{
		"account": account.Name,
		"feed":    account.FeedURL,
	}).Info("Fetching feed")

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	entries, err := p.fetcher.Fetch(fetchCtx, account.FeedURL)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	ids, err := p.store.Open(account.Name)
	if err != nil {
		return fmt.Errorf("load id store: %w", err)
	}

	if len(entries) == 0 {
		log.WithField("account", account.Name).Info("Feed has no entries")
		return nil
	}

	if ids.FirstRun() {
		log.WithField("account", account.Name).Info("First run, posting only the most recent entry")
		entries = entries[:1]
	}

	publisher := p.newPublisher(account)

	for _, entry := range entries {
		digest, err := feed.Identify(entry)
		if err != nil {
			log.WithFields(log.Fields{
				"account": account.Name,
				"title":   entry.Title,
			}).Warn("Entry has no identity, skipping")
			continue
		}

		if ids.Contains(digest) {
			continue
		}

		text := feed.Format(entry, p.opts.MaxChars)
		mediaIDs := p.resolveMedia(ctx, publisher, account.Name, entry)

		if remaining, reset, ok := publisher.RateLimit(); ok && remaining < p.opts.RateLimitFloor {
			log.WithFields(log.Fields{
				"account":   account.Name,
				"remaining": remaining,
				"reset":     reset,
			}).Warn("Rate limit nearly exhausted, stopping this feed for now")
			break
		}

		if err := publisher.PostStatus(ctx, text, mediaIDs); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"account": account.Name,
				"title":   entry.Title,
			}).Error("Failed to post entry")
			continue
		}

		log.WithFields(log.Fields{
			"account": account.Name,
			"title":   entry.Title,
		}).Info("Posted entry")

		// Persist before anything else so a crash here cannot repost.
		if err := ids.Record(digest); err != nil {
			log.WithError(err).WithField("account", account.Name).
				Error("Failed to persist posted id, entry may be reposted on the next run")
		}

		p.pause(ctx)
	}

	return nil
}

// resolveMedia downloads and uploads the entry's first usable attachment.
// Any failure is logged and the post proceeds without media.
func (p *Pipeline) resolveMedia(ctx context.Context, publisher Publisher, name string, entry models.Entry) []string {
	ref, found := lo.Find(entry.Media, func(m models.MediaRef) bool {
		return m.URL != ""
	})
	if !found {
		return nil
	}

	data, contentType, err := p.media.Download(ctx, ref.URL)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"account": name,
			"media":   ref.URL,
		}).Warn("Media download failed, posting without media")
		return nil
	}

	mime := ref.MimeType
	if mime == "" {
		mime = contentType
	}

	id, err := publisher.UploadMedia(ctx, data, mime)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"account": name,
			"media":   ref.URL,
		}).Warn("Media upload failed, posting without media")
		return nil
	}

	log.WithFields(log.Fields{
		"account": name,
		"media":   ref.URL,
	}).Info("Attached media")

	return []string{id}
}

func (p *Pipeline) pause(ctx context.Context) {
	if p.opts.PostDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.opts.PostDelay):
	}
}
