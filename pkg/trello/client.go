package trello

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/clients"
	"github.com/cardflow-io/cardflow/pkg/errors"
	jsonpkg "github.com/cardflow-io/cardflow/pkg/json"
	"github.com/cardflow-io/cardflow/pkg/logger"
	"github.com/cardflow-io/cardflow/pkg/metrics"
)

const (
	// DefaultBaseURL is the public Trello REST API root.
	DefaultBaseURL = "https://api.trello.com/1"

	// defaultRetryAfterSeconds applies when a 429 carries no usable
	// Retry-After header.
	defaultRetryAfterSeconds = 5

	maxLoggedBodyBytes = 512
)

// RateLimitSignal reports throttling detected on a response. It is
// returned in-band alongside data so callers can checkpoint and emit a
// delay instead of unwinding through error paths.
type RateLimitSignal struct {
	Throttled    bool
	DelaySeconds int
	StatusCode   int
}

// Client is a typed Trello API client. All calls authenticate with the
// key/token query parameters and decode into the typed records in this
// package.
type Client struct {
	baseURL string
	creds   Credentials
	http    *clients.HTTPClient
	logger  *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root, used by tests and proxies.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient supplies a preconfigured transport.
func WithHTTPClient(hc *clients.HTTPClient) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a Trello client from a parsed connection key.
func NewClient(creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		creds:   creds,
		logger:  logger.Get().With(zap.String("component", "trello_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = clients.NewHTTPClient(clients.DefaultHTTPConfig(), c.logger)
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestStats reports transport-level request totals for this client.
func (c *Client) RequestStats() (total, failed int64) {
	return c.http.Stats()
}

// GetOrganizationBoards lists the open boards of an organization.
func (c *Client) GetOrganizationBoards(ctx context.Context, orgID string) ([]Board, *RateLimitSignal, error) {
	return getJSON[[]Board](ctx, c, "/organizations/"+orgID+"/boards", url.Values{"filter": {"open"}})
}

// GetOrganizationMembers lists the members of an organization.
func (c *Client) GetOrganizationMembers(ctx context.Context, orgID string) ([]Member, *RateLimitSignal, error) {
	return getJSON[[]Member](ctx, c, "/organizations/"+orgID+"/members", nil)
}

// GetMemberDetails fetches one member with its email field, which the
// membership listing omits.
func (c *Client) GetMemberDetails(ctx context.Context, memberID string) (*Member, *RateLimitSignal, error) {
	member, rl, err := getJSON[Member](ctx, c, "/members/"+memberID,
		url.Values{"fields": {"id,username,fullName,initials,email,bio,url,avatarUrl"}})
	if err != nil || rl != nil {
		return nil, rl, err
	}
	return &member, nil, nil
}

// GetBoardCards fetches one page of cards on a board, newest first,
// attachments included inline. An empty before means the first page.
func (c *Client) GetBoardCards(ctx context.Context, boardID string, limit int, before string) ([]Card, *RateLimitSignal, error) {
	q := url.Values{
		"limit":       {strconv.Itoa(limit)},
		"attachments": {"true"},
	}
	if before != "" {
		q.Set("before", before)
	}
	return getJSON[[]Card](ctx, c, "/boards/"+boardID+"/cards", q)
}

// GetBoardLabels lists the labels defined on a board.
func (c *Client) GetBoardLabels(ctx context.Context, boardID string) ([]Label, *RateLimitSignal, error) {
	return getJSON[[]Label](ctx, c, "/boards/"+boardID+"/labels", nil)
}

// GetBoardLists lists the columns of a board, used to resolve card
// stage names from idList.
func (c *Client) GetBoardLists(ctx context.Context, boardID string) ([]List, *RateLimitSignal, error) {
	return getJSON[[]List](ctx, c, "/boards/"+boardID+"/lists", nil)
}

// GetCardComments fetches the commentCard actions of a card.
func (c *Client) GetCardComments(ctx context.Context, cardID string) ([]CommentAction, *RateLimitSignal, error) {
	return getJSON[[]CommentAction](ctx, c, "/cards/"+cardID+"/actions", url.Values{"filter": {"commentCard"}})
}

// DownloadAttachment streams an uploaded attachment body. Trello
// requires OAuth-style header authentication on download URLs, and the
// body is requested without transport compression so byte counts match
// the attachment metadata.
func (c *Client) DownloadAttachment(ctx context.Context, cardID, attachmentID, fileName string) (io.ReadCloser, *RateLimitSignal, error) {
	u := fmt.Sprintf("%s/cards/%s/attachments/%s/download/%s",
		c.baseURL, cardID, attachmentID, url.PathEscape(fileName))

	headers := map[string]string{
		"Authorization":   fmt.Sprintf(`OAuth oauth_consumer_key="%s", oauth_token="%s"`, c.creds.APIKey, c.creds.Token),
		"Accept-Encoding": "identity",
		"Accept":          "*/*",
	}

	timer := metrics.NewTimer("attachment_download")
	resp, err := c.http.Get(ctx, u, headers)
	if err != nil {
		timer.Stop(0)
		return nil, nil, c.classifyTransportError(err, u)
	}

	if rl := c.checkRateLimit(resp); rl != nil {
		timer.Stop(resp.StatusCode)
		drainAndClose(resp.Body)
		return nil, rl, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		timer.Stop(resp.StatusCode)
		defer drainAndClose(resp.Body)
		return nil, nil, c.classifyStatus(resp, u)
	}
	timer.Stop(resp.StatusCode)
	return resp.Body, nil, nil
}

// DownloadExternal streams a link attachment hosted outside the API.
// No credentials are sent; the body is requested uncompressed.
func (c *Client) DownloadExternal(ctx context.Context, rawURL string) (io.ReadCloser, *RateLimitSignal, error) {
	headers := map[string]string{
		"Accept-Encoding": "identity",
		"Accept":          "*/*",
	}
	resp, err := c.http.Get(ctx, rawURL, headers)
	if err != nil {
		return nil, nil, c.classifyTransportError(err, rawURL)
	}
	if rl := c.checkRateLimit(resp); rl != nil {
		drainAndClose(resp.Body)
		return nil, rl, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer drainAndClose(resp.Body)
		return nil, nil, c.classifyStatus(resp, rawURL)
	}
	return resp.Body, nil, nil
}

// getJSON performs an authenticated GET and decodes the JSON body.
func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, *RateLimitSignal, error) {
	var zero T

	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	c.creds.apply(q)
	u := c.baseURL + path + "?" + q.Encode()

	timer := metrics.NewTimer(path)
	resp, err := c.http.Get(ctx, u, nil)
	if err != nil {
		timer.Stop(0)
		return zero, nil, c.classifyTransportError(err, u)
	}
	defer drainAndClose(resp.Body)
	timer.Stop(resp.StatusCode)

	if rl := c.checkRateLimit(resp); rl != nil {
		return zero, rl, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, nil, c.classifyStatus(resp, u)
	}

	var out T
	if err := jsonpkg.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, nil, errors.Wrap(err, errors.ErrorTypeData,
			"failed to decode response from "+sanitizeURL(u))
	}
	return out, nil, nil
}

// checkRateLimit turns a 429 into a RateLimitSignal.
func (c *Client) checkRateLimit(resp *http.Response) *RateLimitSignal {
	if resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	delay := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	metrics.RateLimitHits.WithLabelValues(resp.Request.URL.Path).Inc()
	c.logger.Warn("rate limited",
		zap.String("url", sanitizeURL(resp.Request.URL.String())),
		zap.Int("delay_seconds", delay))
	return &RateLimitSignal{
		Throttled:    true,
		DelaySeconds: delay,
		StatusCode:   resp.StatusCode,
	}
}

// classifyStatus maps a non-2xx, non-429 response to a structured error.
func (c *Client) classifyStatus(resp *http.Response, u string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBodyBytes))
	excerpt := strings.TrimSpace(string(body))

	c.logger.Warn("api request failed",
		zap.String("url", sanitizeURL(u)),
		zap.Int("status_code", resp.StatusCode),
		zap.String("body", excerpt))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errors.New(errors.ErrorTypeAuthentication,
			"Authentication failed - invalid API key or token").
			WithDetail("status_code", resp.StatusCode)
	case http.StatusForbidden:
		return errors.New(errors.ErrorTypeAuthentication,
			"Access forbidden - insufficient permissions").
			WithDetail("status_code", resp.StatusCode)
	case http.StatusNotFound:
		return errors.New(errors.ErrorTypeNotFound, "resource not found").
			WithDetail("status_code", resp.StatusCode)
	default:
		return errors.Newf(errors.ErrorTypeData,
			"unexpected response status %d: %s", resp.StatusCode, excerpt).
			WithDetail("status_code", resp.StatusCode)
	}
}

// classifyTransportError maps dial/transport failures. Status code
// zero marks errors that never reached the server.
func (c *Client) classifyTransportError(err error, u string) error {
	c.logger.Warn("api request error",
		zap.String("url", sanitizeURL(u)),
		zap.Error(err))
	if ctxErr := errFromContext(err); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
		WithDetail("status_code", 0)
}

func errFromContext(err error) error {
	msg := err.Error()
	if strings.Contains(msg, context.DeadlineExceeded.Error()) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return nil
}

// parseRetryAfter interprets a Retry-After header as either an integer
// number of seconds or an HTTP-date, falling back to a fixed default.
func parseRetryAfter(header string, now time.Time) int {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfterSeconds
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return defaultRetryAfterSeconds
		}
		return secs
	}
	if t, err := http.ParseTime(header); err == nil {
		diff := t.Sub(now).Seconds()
		if diff <= 0 {
			return 0
		}
		return int(math.Ceil(diff))
	}
	return defaultRetryAfterSeconds
}

// sanitizeURL strips credentials from a URL before it reaches a log.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "***")
	}
	if q.Has("token") {
		q.Set("token", "***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
