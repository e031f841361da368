// Package falcon implements the authenticated client for the vendor's
// alert APIs: OAuth2 client-credentials token management, the paginated
// alert ID query, and chunked bulk record fetches. Rate limiting (HTTP
// 429) is absorbed here so callers only ever see auth or transport
// failures.
package falcon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/metrics"
)

const (
	tokenPath    = "/oauth2/token"
	queryPath    = "/alerts/queries/alerts/v1"
	entitiesPath = "/alerts/entities/alerts/v1"

	// tokenExpiryMargin treats a token within this window of its expiry
	// as already expired, guarding against clock skew and in-flight
	// request latency.
	tokenExpiryMargin = 60 * time.Second

	// defaultTokenTTL applies when the token response omits expires_in.
	defaultTokenTTL = 1800 * time.Second

	// defaultPageSize is the query page size. The vendor caps it at 10k;
	// one page normally covers an entire poll interval.
	defaultPageSize = 5000

	// maxFetchChunk is the vendor's hard limit on ids per bulk fetch.
	maxFetchChunk = 500

	// defaultRateLimitWait applies when a 429 carries no usable
	// Retry-After header. Never zero.
	defaultRateLimitWait = 2 * time.Second

	defaultTimeout   = 30 * time.Second
	defaultCacheSize = 512

	opQueryAlerts = "query alerts"
	opFetchAlerts = "fetch alerts"
)

// Config holds the settings for one vendor API client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.crowdstrike.com.
	BaseURL string

	// ClientID and ClientSecret are the OAuth2 client credentials.
	ClientID     string
	ClientSecret string

	// Timeout bounds each HTTP request. Zero means the default.
	Timeout time.Duration

	// PageSize overrides the query page size. Zero means the default.
	PageSize int

	// CacheSize bounds the point-lookup record cache. Zero means the
	// default.
	CacheSize int
}

// Client talks to the vendor's alert APIs on behalf of one credential.
// It is driven by a single goroutine at a time; the poll loop and the
// shell never use it concurrently.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	pageSize     int
	httpClient   *http.Client
	logger       *slog.Logger

	token       string
	tokenExpiry time.Time

	// records caches fetched alerts by full id for shell point lookups.
	// The poll loop never reads it; polls always hit the API.
	records *lru.Cache[string, domain.Alert]

	// now and sleep are replaceable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client for the given credential.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	records, err := lru.New[string, domain.Alert](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		pageSize:     cfg.PageSize,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
		records:      records,
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// EnsureToken returns a bearer token, reusing the cached one while it
// has more than the safety margin left, otherwise performing a
// client-credentials exchange against the token endpoint.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	if c.tokenValid() {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return "", &AuthError{StatusCode: resp.StatusCode}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if body.AccessToken == "" {
		return "", &AuthError{Reason: "token response missing access_token"}
	}

	ttl := defaultTokenTTL
	if body.ExpiresIn > 0 {
		ttl = time.Duration(body.ExpiresIn) * time.Second
	}
	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	metrics.TokenRefreshesTotal.Inc()
	c.logger.Debug("access token refreshed",
		slog.Time("expiry", c.tokenExpiry))

	return c.token, nil
}

// tokenValid reports whether the cached token is still usable.
func (c *Client) tokenValid() bool {
	return c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenExpiryMargin))
}

// QueryNewAlertIDs lists the full ids of alerts created strictly after
// since (vendor FQL timestamp), ascending by creation time, walking the
// offset/limit cursor until the reported total is covered. A 429
// response sleeps for Retry-After and retries the same page without
// advancing.
func (c *Client) QueryNewAlertIDs(ctx context.Context, since string) ([]string, error) {
	var ids []string
	offset := 0
	for {
		resources, page, err := c.queryPage(ctx, since, offset)
		if err != nil {
			return nil, err
		}
		ids = append(ids, resources...)
		if page.Offset+page.Limit >= page.Total {
			break
		}
		offset = page.Offset + page.Limit
	}
	if len(ids) > 0 {
		c.logger.Debug("alert id query complete",
			slog.String("since", since),
			slog.Int("count", len(ids)))
	}
	return ids, nil
}

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// queryPage fetches a single page of the id query, retrying in place on
// rate limits.
func (c *Client) queryPage(ctx context.Context, since string, offset int) ([]string, pagination, error) {
	params := url.Values{}
	params.Set("filter", fmt.Sprintf("created_timestamp:>'%s'", since))
	params.Set("sort", "created_timestamp.asc")
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))
	endpoint := c.baseURL + queryPath + "?" + params.Encode()

	for {
		token, err := c.EnsureToken(ctx)
		if err != nil {
			return nil, pagination{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, pagination{}, &TransportError{Op: opQueryAlerts, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		start := c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(opQueryAlerts, "failure").Inc()
			return nil, pagination{}, &TransportError{Op: opQueryAlerts, Err: err}
		}
		metrics.APIRequestLatency.WithLabelValues(opQueryAlerts).Observe(time.Since(start).Seconds())

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterWait(resp)
			drain(resp.Body)
			resp.Body.Close()
			metrics.RateLimitedTotal.WithLabelValues(opQueryAlerts).Inc()
			c.logger.Warn("rate limited on alert id query",
				slog.Int("offset", offset),
				slog.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, pagination{}, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drain(resp.Body)
			resp.Body.Close()
			metrics.APIRequestsTotal.WithLabelValues(opQueryAlerts, "failure").Inc()
			return nil, pagination{}, &TransportError{Op: opQueryAlerts, StatusCode: resp.StatusCode}
		}

		var body struct {
			Resources []string `json:"resources"`
			Meta      struct {
				Pagination pagination `json:"pagination"`
			} `json:"meta"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(opQueryAlerts, "failure").Inc()
			return nil, pagination{}, &TransportError{Op: opQueryAlerts, Err: fmt.Errorf("decode response: %w", err)}
		}

		metrics.APIRequestsTotal.WithLabelValues(opQueryAlerts, "success").Inc()
		return body.Resources, body.Meta.Pagination, nil
	}
}

// FetchAlerts retrieves full records for the given full ids, splitting
// into chunks within the vendor's bulk limit and concatenating results
// in per-chunk response order. Empty input returns nil without a
// network call.
func (c *Client) FetchAlerts(ctx context.Context, ids []string) ([]domain.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var records []domain.Alert
	for start := 0; start < len(ids); start += maxFetchChunk {
		end := start + maxFetchChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := c.fetchChunk(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}

	for _, rec := range records {
		c.records.Add(rec.ID(), rec)
	}
	return records, nil
}

// fetchChunk issues one bulk-fetch request, retrying exactly once on a
// rate limit. A second consecutive 429 surfaces as a transport error.
func (c *Client) fetchChunk(ctx context.Context, ids []string) ([]domain.Alert, error) {
	payload, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, &TransportError{Op: opFetchAlerts, Err: err}
	}

	retried := false
	for {
		token, err := c.EnsureToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+entitiesPath, bytes.NewReader(payload))
		if err != nil {
			return nil, &TransportError{Op: opFetchAlerts, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		start := c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(opFetchAlerts, "failure").Inc()
			return nil, &TransportError{Op: opFetchAlerts, Err: err}
		}
		metrics.APIRequestLatency.WithLabelValues(opFetchAlerts).Observe(time.Since(start).Seconds())

		if resp.StatusCode == http.StatusTooManyRequests && !retried {
			retried = true
			wait := retryAfterWait(resp)
			drain(resp.Body)
			resp.Body.Close()
			metrics.RateLimitedTotal.WithLabelValues(opFetchAlerts).Inc()
			c.logger.Warn("rate limited on alert fetch",
				slog.Int("ids", len(ids)),
				slog.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drain(resp.Body)
			resp.Body.Close()
			metrics.APIRequestsTotal.WithLabelValues(opFetchAlerts, "failure").Inc()
			return nil, &TransportError{Op: opFetchAlerts, StatusCode: resp.StatusCode}
		}

		var body struct {
			Resources []domain.Alert `json:"resources"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(opFetchAlerts, "failure").Inc()
			return nil, &TransportError{Op: opFetchAlerts, Err: fmt.Errorf("decode response: %w", err)}
		}

		metrics.APIRequestsTotal.WithLabelValues(opFetchAlerts, "success").Inc()
		return body.Resources, nil
	}
}

// FetchAlertByID retrieves a single record by full id, serving from the
// point-lookup cache when the record was fetched recently. Returns
// ErrAlertNotFound when the vendor knows no such record.
func (c *Client) FetchAlertByID(ctx context.Context, id string) (domain.Alert, error) {
	if rec, ok := c.records.Get(id); ok {
		return rec, nil
	}
	records, err := c.FetchAlerts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrAlertNotFound
	}
	return records[0], nil
}

// retryAfterWait reads the Retry-After header in seconds, falling back
// to the default wait, which is never zero.
func retryAfterWait(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRateLimitWait
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain consumes a response body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
