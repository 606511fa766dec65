package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
)

const (
	statusesPath          = "/api/v1/statuses"
	mediaPath             = "/api/v2/media"
	verifyCredentialsPath = "/api/v1/accounts/verify_credentials"
)

// Client talks to a single Mastodon instance with a single access token.
type Client struct {
	base  string
	token string
	http  *http.Client

	mu        sync.Mutex
	remaining int
	reset     time.Time
	seen      bool
}

// NewClient returns a client for the given instance. No network call is
// made until the first request, so the rate limit is unknown initially.
func NewClient(instanceURL, accessToken string) *Client {
	return &Client{
		base:  strings.TrimRight(instanceURL, "/"),
		token: accessToken,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// PostStatus publishes text with optional previously uploaded media ids.
func (c *Client) PostStatus(ctx context.Context, text string, mediaIDs []string) error {
	form := url.Values{}
	form.Set("status", text)
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+statusesPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp.Body)
		log.Errorf("failed to post status: %d %s", resp.StatusCode, body)
		return fmt.Errorf("post status: unexpected status %d: %s", resp.StatusCode, body)
	}

	return nil
}

type mediaResponse struct {
	ID string `json:"id"`
}

// UploadMedia uploads an attachment and returns its opaque media id.
// The mime hint is attached to the multipart file part; the instance does
// its own sniffing on top of it.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mime string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="media"`)
	if mime == "" {
		mime = "application/octet-stream"
	}
	header.Set("Content-Type", mime)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build media part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write media part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize media body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+mediaPath, &buf)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()

	// 202 means the attachment is still processing but has an id already.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body := readErrorBody(resp.Body)
		log.Errorf("failed to upload media: %d %s", resp.StatusCode, body)
		return "", fmt.Errorf("upload media: unexpected status %d: %s", resp.StatusCode, body)
	}

	var media mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", fmt.Errorf("decode media response: %w", err)
	}
	if media.ID == "" {
		return "", fmt.Errorf("media response missing id")
	}

	return media.ID, nil
}

type account struct {
	Acct string `json:"acct"`
}

// VerifyCredentials checks the access token against the instance and
// returns the account handle it belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+verifyCredentialsPath, nil)
	if err != nil {
		return "", fmt.Errorf("build verify request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verify credentials: unexpected status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var acc account
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		return "", fmt.Errorf("decode account response: %w", err)
	}

	return acc.Acct, nil
}

// RateLimit returns the remaining request budget and its reset time as
// reported by the instance on the most recent response. ok is false until
// at least one response has been seen.
func (c *Client) RateLimit() (remaining int, reset time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, c.reset, c.seen
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	c.updateRateLimit(resp)
	return resp, nil
}

func (c *Client) updateRateLimit(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	value, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = value
	c.seen = true
	if reset, err := time.Parse(time.RFC3339, resp.Header.Get("X-RateLimit-Reset")); err == nil {
		c.reset = reset
	}
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
