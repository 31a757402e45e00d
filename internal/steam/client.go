package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	matchHistoryPath      = "/IDOTA2Match_570/GetMatchHistory/V001/"
	matchHistorySeqPath   = "/IDOTA2Match_570/GetMatchHistoryBySequenceNum/V001/"
	playerSummariesPath   = "/ISteamUser/GetPlayerSummaries/v0002/"
	defaultRatePerSecond  = 1 // Valve asks applications to stay at ~1 req/s
	defaultRequestTimeout = 10 * time.Second
)

// Client wraps the Dota 2 match-history endpoints of the Steam Web API.
// It owns a single underlying connection pool with a bounded timeout and a
// rate limiter.
//
// A Client is meant to be exclusively owned by one poll loop; it is not safe
// for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a Steam API client. timeout bounds each outbound call;
// zero means the default of 10 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient: newHTTPClient(timeout),
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRatePerSecond*2),
		logger:     logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:    10,
		MaxConnsPerHost: 2,
		IdleConnTimeout: 90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// FetchSince returns matches with a sequence number strictly greater than
// seq, in ascending sequence order. An empty result is a valid outcome and
// means "no new matches yet".
func (c *Client) FetchSince(ctx context.Context, seq uint64) ([]MatchRecord, error) {
	const op = "fetch_since"
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("start_at_match_seq_num", strconv.FormatUint(seq+1, 10))

	hist, err := c.getMatchHistory(ctx, op, matchHistorySeqPath, params)
	if err != nil {
		return nil, err
	}
	if hist.Result.Matches == nil {
		// Reached the head of the feed for now.
		return nil, nil
	}
	return *hist.Result.Matches, nil
}

// FetchRecent returns the most recent count matches. It is used only to
// bootstrap the sequence cursor.
func (c *Client) FetchRecent(ctx context.Context, count uint32) ([]MatchRecord, error) {
	const op = "fetch_recent"
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("matches_requested", strconv.FormatUint(uint64(count), 10))

	hist, err := c.getMatchHistory(ctx, op, matchHistoryPath, params)
	if err != nil {
		return nil, err
	}
	if hist.Result.Matches == nil || len(*hist.Result.Matches) == 0 {
		return nil, malformedErr(op, fmt.Errorf("no matches in bootstrap response"))
	}
	return *hist.Result.Matches, nil
}

// Reconnect drops the underlying connection pool and builds a fresh one.
// Called by the poll loop after a transient failure.
func (c *Client) Reconnect() {
	c.httpClient.CloseIdleConnections()
	c.httpClient = newHTTPClient(c.timeout)
	c.logger.Debug("steam connection recycled")
}

func (c *Client) getMatchHistory(ctx context.Context, op, path string, params url.Values) (*matchHistoryResponse, error) {
	body, err := c.get(ctx, op, path, params)
	if err != nil {
		return nil, err
	}

	var hist matchHistoryResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, malformedErr(op, fmt.Errorf("decoding response: %w", err))
	}
	if hist.Result == nil {
		return nil, malformedErr(op, ErrNoResult)
	}
	return &hist, nil
}

// get performs one rate-limited GET and returns the raw body. Failures are
// classified per the taxonomy in errors.go.
func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transientErr(op, fmt.Errorf("rate limiter: %w", err))
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	c.logger.Debug("requesting", zap.String("op", op), zap.String("url", maskQueryKey(reqURL)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, malformedErr(op, fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transientErr(op, err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if readErr != nil {
		return nil, transientErr(op, fmt.Errorf("reading response: %w", readErr))
	}

	if resp.StatusCode != http.StatusOK {
		// Rate limiting and server-side errors are both worth a retry.
		return nil, transientErr(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if len(body) == 0 {
		return nil, transientErr(op, ErrEmptyResponse)
	}

	return body, nil
}

// maskQueryKey masks the "key" parameter in a URL so the API key never lands
// in logs.
func maskQueryKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	values := u.Query()
	if key := values.Get("key"); key != "" {
		if len(key) > 4 {
			values.Set("key", key[:4]+"****")
		} else {
			values.Set("key", "****")
		}
	}
	u.RawQuery = values.Encode()
	return u.String()
}
