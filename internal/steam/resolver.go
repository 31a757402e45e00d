package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resolver looks up the display name for a 64-bit account ID via
// GetPlayerSummaries. It owns its own connection pool, separate from the
// match-history client, and recycles it whenever a lookup fails.
//
// Exactly one request is in flight at a time; concurrent callers serialize
// on the internal mutex. Resolve never fails outward: on any error it
// degrades to a placeholder embedding the numeric ID.
type Resolver struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	cacheTTL   time.Duration
	cache      map[uint64]nameCacheEntry
	logger     *zap.Logger
}

type nameCacheEntry struct {
	name       string
	resolvedAt time.Time
}

// NewResolver creates a name resolver. cacheTTL bounds how long a resolved
// name is reused before hitting the profile API again; zero disables the
// cache.
func NewResolver(baseURL, apiKey string, timeout, cacheTTL time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Resolver{
		httpClient: newHTTPClient(timeout),
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		cacheTTL:   cacheTTL,
		cache:      make(map[uint64]nameCacheEntry),
		logger:     logger,
	}
}

// Resolve returns the display name for id64, or "Player number: <id64>" if
// the lookup fails for any reason.
func (r *Resolver) Resolve(ctx context.Context, id64 uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[id64]; ok && time.Since(entry.resolvedAt) < r.cacheTTL {
		return entry.name
	}

	name, err := r.lookup(ctx, id64)
	if err != nil {
		r.logger.Error("name lookup failed",
			zap.Uint64("accountID64", id64),
			zap.Error(err),
		)
		// The connection may be wedged; throw it away.
		r.httpClient.CloseIdleConnections()
		r.httpClient = newHTTPClient(r.timeout)
		return fmt.Sprintf("Player number: %d", id64)
	}

	if r.cacheTTL > 0 {
		r.cache[id64] = nameCacheEntry{name: name, resolvedAt: time.Now()}
	}
	return name
}

func (r *Resolver) lookup(ctx context.Context, id64 uint64) (string, error) {
	params := url.Values{}
	params.Set("key", r.apiKey)
	params.Set("steamids", strconv.FormatUint(id64, 10))
	reqURL := r.baseURL + playerSummariesPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", fmt.Errorf("reading response: %w", readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var summaries playerSummariesResponse
	if err := json.Unmarshal(body, &summaries); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	// One ID requested, so anything but one player back is an error.
	if n := len(summaries.Response.Players); n != 1 {
		return "", fmt.Errorf("expected exactly one player, got %d", n)
	}
	return summaries.Response.Players[0].PersonaName, nil
}
