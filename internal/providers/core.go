// Package providers holds the external evidence clients: fact-check search,
// economic indicators, and legislative status. All three return the common
// finding shape and degrade to typed states instead of failing the pipeline.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/cache"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/util"
)

const (
	maxBodyBytes    = 2 << 20 // provider responses are small JSON documents
	errBodyPreview  = 160
	defaultCacheTTL = 2 * time.Minute
)

// StatusError reports a non-2xx provider response with a truncated body
// preview for operator-facing summaries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Core is the shared HTTP engine under every provider client: proxy-aware
// transport, per-host pacing, and a short-TTL response cache.
type Core struct {
	client   *http.Client
	limiter  *hostLimiter
	cache    cache.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// CoreConfig tunes the shared engine. Zero values take defaults.
type CoreConfig struct {
	Timeout            time.Duration
	RequestsPerSecond  float64
	Burst              int
	Cache              cache.Cache // nil disables caching
	CacheTTL           time.Duration
	HTTPProxy          string
	HTTPSProxy         string
	InsecureSkipVerify bool
}

// NewCore builds the shared engine used by all provider clients.
func NewCore(cfg CoreConfig) *Core {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	transport := &http.Transport{
		Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, ""),
	}
	return &Core{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:  newHostLimiter(rps, cfg.Burst),
		cache:    cfg.Cache,
		cacheTTL: ttl,
		log:      log.With().Str("component", "providers").Logger(),
	}
}

// GetJSON performs a paced GET and decodes the JSON body into out. Responses
// are cached by full URL; non-2xx responses return a *StatusError carrying a
// truncated body preview and are never cached.
func (c *Core) GetJSON(ctx context.Context, rawURL string, out any) error {
	key := cache.Key(rawURL)
	if c.cache != nil {
		if body, found := c.cache.Get(key); found {
			return json.Unmarshal(body, out)
		}
	}

	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > errBodyPreview {
			preview = preview[:errBodyPreview]
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.Host).Msg("provider error response")
		return &StatusError{StatusCode: resp.StatusCode, Body: preview}
	}

	if c.cache != nil {
		_ = c.cache.Set(key, body, c.cacheTTL)
	}
	return json.Unmarshal(body, out)
}
