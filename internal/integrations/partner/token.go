package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"login-management-go/internal/logger"
	"login-management-go/internal/observability"
)

// ErrAuth is returned when no access token could be obtained
var ErrAuth = errors.New("partner authentication failed")

// RefreshMargin is the minimum remaining lifetime of a token handed out
const RefreshMargin = 30 * time.Second

const defaultScope = "partner_management"

// TokenConfig holds the client-credentials exchange settings
type TokenConfig struct {
	AuthURL             string
	AuthorizationHeader string // sent verbatim, e.g. "Basic <base64>"
	Scope               string
	Timeout             time.Duration
}

// TokenStatus describes the cached token for the health surface
type TokenStatus struct {
	HasToken  bool      `json:"hasToken"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Valid     bool      `json:"valid"`
}

// TokenCache holds a single access token obtained via client credentials
// and refreshes it on demand once it is within RefreshMargin of expiry.
type TokenCache struct {
	config     TokenConfig
	httpClient *http.Client
	metrics    *observability.Metrics
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

// NewTokenCache creates an empty cache; the first GetValidToken performs the exchange
func NewTokenCache(cfg TokenConfig, metrics *observability.Metrics) *TokenCache {
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &TokenCache{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
		now:        time.Now,
	}
}

// WithClock replaces the clock used for expiry checks
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// GetValidToken returns the cached token or performs a synchronous exchange.
// Concurrent callers wait on the same refresh.
func (c *TokenCache) GetValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-RefreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.exchange(ctx)
	c.metrics.RecordTokenRefresh(ctx, err == nil)
	if err != nil {
		logger.Component("token").Errorf("Token refresh failed: %v", err)
		return "", err
	}

	c.token = token
	c.expiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)
	logger.Component("token").Infof("Token refreshed, expires in %d seconds", expiresIn)
	return c.token, nil
}

// Invalidate forces the next GetValidToken to perform an exchange
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
	logger.Component("token").Info("Token invalidated")
}

// Status reports the cached token without refreshing it
func (c *TokenCache) Status() TokenStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return TokenStatus{}
	}
	return TokenStatus{
		HasToken:  true,
		ExpiresAt: c.expiresAt,
		Valid:     c.now().Before(c.expiresAt.Add(-RefreshMargin)),
	}
}

func (c *TokenCache) exchange(ctx context.Context) (string, int64, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", c.config.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: failed to create request: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.AuthorizationHeader != "" {
		req.Header.Set("Authorization", c.config.AuthorizationHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: failed to send request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: failed to read response: %v", ErrAuth, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: token endpoint returned status %d: %s", ErrAuth, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("%w: failed to decode response: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn == nil {
		return "", 0, fmt.Errorf("%w: access_token or expires_in missing in response", ErrAuth)
	}
	return tr.AccessToken, *tr.ExpiresIn, nil
}
