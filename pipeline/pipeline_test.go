package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RBWare/rss2mastodon/config"
	"github.com/RBWare/rss2mastodon/feed"
	"github.com/RBWare/rss2mastodon/models"
	"github.com/RBWare/rss2mastodon/pipeline"
	"github.com/RBWare/rss2mastodon/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	entries []models.Entry
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) ([]models.Entry, error) {
	return f.entries, f.err
}

type postCall struct {
	text     string
	mediaIDs []string
}

type fakePublisher struct {
	rateSeq   []int // one reading per RateLimit call; empty means unknown
	rateIdx   int
	failFirst bool
	uploadErr error

	posts       []postCall
	uploadMimes []string
}

func (p *fakePublisher) PostStatus(ctx context.Context, text string, mediaIDs []string) error {
	if p.failFirst {
		p.failFirst = false
		return errors.New("instance returned 500")
	}
	p.posts = append(p.posts, postCall{text: text, mediaIDs: mediaIDs})
	return nil
}

func (p *fakePublisher) UploadMedia(ctx context.Context, data []byte, mime string) (string, error) {
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	p.uploadMimes = append(p.uploadMimes, mime)
	return "media-1", nil
}

func (p *fakePublisher) RateLimit() (int, time.Time, bool) {
	if len(p.rateSeq) == 0 {
		return 0, time.Time{}, false
	}
	reading := p.rateSeq[p.rateIdx]
	if p.rateIdx < len(p.rateSeq)-1 {
		p.rateIdx++
	}
	return reading, time.Now(), true
}

type fakeDownloader struct {
	data []byte
	mime string
	err  error
}

func (d *fakeDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	return d.data, d.mime, d.err
}

func testAccount() config.Account {
	return config.Account{
		Name:        "blog",
		FeedURL:     "http://example.com/feed.xml",
		InstanceURL: "https://mastodon.example",
		AccessToken: "token",
	}
}

func newPipeline(t *testing.T, dir string, fetcher pipeline.Fetcher, publisher pipeline.Publisher, downloader pipeline.MediaDownloader) *pipeline.Pipeline {
	t.Helper()

	st, err := store.New(dir)
	require.NoError(t, err)

	opts := pipeline.DefaultOptions()
	opts.PostDelay = 0

	return pipeline.New(fetcher, st, downloader, func(config.Account) pipeline.Publisher {
		return publisher
	}, opts)
}

// seedState creates an empty (but existing) id store so a run is not
// treated as a first run.
func seedState(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644))
}

func entryDigest(t *testing.T, entry models.Entry) string {
	t.Helper()
	digest, err := feed.Identify(entry)
	require.NoError(t, err)
	return digest
}

func TestFirstRunPostsOnlyNewestEntry(t *testing.T) {
	entries := []models.Entry{
		{ID: "b", Title: "T2", Link: "http://x/2"},
		{ID: "a", Title: "T1", Link: "http://x/1"},
	}
	publisher := &fakePublisher{}
	dir := t.TempDir()
	p := newPipeline(t, dir, &fakeFetcher{entries: entries}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Contains(t, publisher.posts[0].text, "T2")

	st, err := store.New(dir)
	require.NoError(t, err)
	ids, err := st.Open("blog")
	require.NoError(t, err)
	assert.Equal(t, 1, ids.Len())
	assert.True(t, ids.Contains(entryDigest(t, entries[0])))
}

func TestRestartAfterPostDoesNotRepost(t *testing.T) {
	entries := []models.Entry{{ID: "a", Title: "T1", Link: "http://x/1"}}
	publisher := &fakePublisher{}
	dir := t.TempDir()

	first := newPipeline(t, dir, &fakeFetcher{entries: entries}, publisher, &fakeDownloader{})
	require.NoError(t, first.Run(context.Background(), testAccount()))
	require.Len(t, publisher.posts, 1)

	// A fresh pipeline over the same state directory stands in for a
	// process restart right after the digest was recorded.
	second := newPipeline(t, dir, &fakeFetcher{entries: entries}, publisher, &fakeDownloader{})
	require.NoError(t, second.Run(context.Background(), testAccount()))

	assert.Len(t, publisher.posts, 1, "restart must not repost the same entry")
}

func TestSecondRunPostsNothingNew(t *testing.T) {
	entries := []models.Entry{
		{ID: "b", Title: "T2", Link: "http://x/2"},
		{ID: "a", Title: "T1", Link: "http://x/1"},
	}
	publisher := &fakePublisher{}
	dir := t.TempDir()
	seedState(t, dir, "blog", `["`+entryDigest(t, entries[0])+`","`+entryDigest(t, entries[1])+`"]`)
	p := newPipeline(t, dir, &fakeFetcher{entries: entries}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	assert.Empty(t, publisher.posts)
}

func TestOnlyUnseenEntriesArePosted(t *testing.T) {
	seen := models.Entry{ID: "a", Title: "Old", Link: "http://x/1"}
	fresh := models.Entry{ID: "b", Title: "New", Link: "http://x/2"}
	publisher := &fakePublisher{}
	dir := t.TempDir()
	seedState(t, dir, "blog", `["`+entryDigest(t, seen)+`"]`)
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{fresh, seen}}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Contains(t, publisher.posts[0].text, "New")
}

func TestRateLimitFloorStopsRemainderOfFeed(t *testing.T) {
	first := models.Entry{ID: "1", Title: "First", Link: "http://x/1"}
	second := models.Entry{ID: "2", Title: "Second", Link: "http://x/2"}
	publisher := &fakePublisher{rateSeq: []int{300, 3}}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{first, second}}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Contains(t, publisher.posts[0].text, "First")

	st, err := store.New(dir)
	require.NoError(t, err)
	ids, err := st.Open("blog")
	require.NoError(t, err)
	assert.True(t, ids.Contains(entryDigest(t, first)))
	assert.False(t, ids.Contains(entryDigest(t, second)), "skipped entry must not be recorded")
}

func TestPublishFailureIsNotRecorded(t *testing.T) {
	first := models.Entry{ID: "1", Title: "Fails", Link: "http://x/1"}
	second := models.Entry{ID: "2", Title: "Succeeds", Link: "http://x/2"}
	publisher := &fakePublisher{failFirst: true}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{first, second}}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	// The failed entry is skipped, the next one still goes out.
	require.Len(t, publisher.posts, 1)
	assert.Contains(t, publisher.posts[0].text, "Succeeds")

	st, err := store.New(dir)
	require.NoError(t, err)
	ids, err := st.Open("blog")
	require.NoError(t, err)
	assert.False(t, ids.Contains(entryDigest(t, first)), "failed post must not be marked as published")
	assert.True(t, ids.Contains(entryDigest(t, second)))
}

func TestMediaUploadFailureStillPosts(t *testing.T) {
	entry := models.Entry{
		ID:    "1",
		Title: "With media",
		Link:  "http://x/1",
		Media: []models.MediaRef{{URL: "http://x/img.jpg", MimeType: "image/jpeg"}},
	}
	publisher := &fakePublisher{uploadErr: errors.New("instance rejected upload")}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{entry}}, publisher, &fakeDownloader{data: []byte("img")})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Empty(t, publisher.posts[0].mediaIDs)
}

func TestMediaDownloadFailureStillPosts(t *testing.T) {
	entry := models.Entry{
		ID:    "1",
		Title: "With media",
		Link:  "http://x/1",
		Media: []models.MediaRef{{URL: "http://x/img.jpg"}},
	}
	publisher := &fakePublisher{}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{entry}}, publisher, &fakeDownloader{err: errors.New("404")})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Empty(t, publisher.posts[0].mediaIDs)
}

func TestMediaIsAttached(t *testing.T) {
	entry := models.Entry{
		ID:    "1",
		Title: "With media",
		Link:  "http://x/1",
		Media: []models.MediaRef{{URL: "http://x/img.jpg"}},
	}
	publisher := &fakePublisher{}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	// No mime hint on the ref, so the server-reported type is used.
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{entry}}, publisher, &fakeDownloader{data: []byte("img"), mime: "image/png"})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	require.Len(t, publisher.posts, 1)
	assert.Equal(t, []string{"media-1"}, publisher.posts[0].mediaIDs)
	assert.Equal(t, []string{"image/png"}, publisher.uploadMimes)
}

func TestEntryWithoutIdentityIsSkipped(t *testing.T) {
	publisher := &fakePublisher{}
	dir := t.TempDir()
	seedState(t, dir, "blog", "[]")
	p := newPipeline(t, dir, &fakeFetcher{entries: []models.Entry{{}}}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	assert.Empty(t, publisher.posts)
}

func TestFetchFailureReturnsError(t *testing.T) {
	publisher := &fakePublisher{}
	p := newPipeline(t, t.TempDir(), &fakeFetcher{err: errors.New("connection refused")}, publisher, &fakeDownloader{})

	err := p.Run(context.Background(), testAccount())

	assert.Error(t, err)
	assert.Empty(t, publisher.posts)
}

func TestEmptyFeedDoesNothing(t *testing.T) {
	publisher := &fakePublisher{}
	dir := t.TempDir()
	p := newPipeline(t, dir, &fakeFetcher{}, publisher, &fakeDownloader{})

	require.NoError(t, p.Run(context.Background(), testAccount()))

	assert.Empty(t, publisher.posts)

	// An empty fetch must not create first-run state either.
	st, err := store.New(dir)
	require.NoError(t, err)
	ids, err := st.Open("blog")
	require.NoError(t, err)
	assert.True(t, ids.FirstRun())
}

func TestRunAllContinuesPastFailingFeeds(t *testing.T) {
	publisher := &fakePublisher{}
	p := newPipeline(t, t.TempDir(), &fakeFetcher{err: errors.New("boom")}, publisher, &fakeDownloader{})

	// Must not panic or stop on the first failing account.
	p.RunAll(context.Background(), []config.Account{
		testAccount(),
		{Name: "news", FeedURL: "http://example.com/news.xml", InstanceURL: "https://m", AccessToken: "t"},
	})

	assert.Empty(t, publisher.posts)
}
