package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/smallbiznis/allocledger/internal/cache"
	"github.com/smallbiznis/allocledger/internal/config"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	"github.com/smallbiznis/allocledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	backoffInterval = 250 * time.Millisecond
	backoffMax      = 5 * time.Second

	maxBodyBytes = 4 << 20
)

// Client talks to the allocation authority.
type Client interface {
	// RemoteUsername resolves the authority's identity for a local user.
	// It returns *NoMappingError when none exists.
	RemoteUsername(ctx context.Context, username string) (string, error)
	// Projects lists the projects and allocations of a remote user.
	Projects(ctx context.Context, remoteUsername string) ([]Project, error)
	// ClearCache drops every cached response.
	ClearCache()
}

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Cache      *cache.ResponseCache
	Limiter    ratelimit.Limiter   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type httpClient struct {
	baseURL    string
	token      string
	maxRetries int
	timeout    time.Duration

	http       *http.Client
	limiter    ratelimit.Limiter
	cache      *cache.ResponseCache
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewClient(p Params) Client {
	cfg := p.Config.Remote
	limiter := p.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLocal(cfg.RequestsPerSecond, cfg.Burst)
	}
	respCache := p.Cache
	if respCache == nil {
		respCache = cache.NewResponseCache(cfg.CacheTTL)
	}

	return &httpClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		http:       cleanhttp.DefaultPooledClient(),
		limiter:    limiter,
		cache:      respCache,
		log:        p.Log.Named("remote.client"),
		obsMetrics: p.ObsMetrics,
	}
}

// NewResponseCache sizes the shared response cache from config.
func NewResponseCache(cfg config.Config) *cache.ResponseCache {
	return cache.NewResponseCache(cfg.Remote.CacheTTL)
}

func (c *httpClient) RemoteUsername(ctx context.Context, username string) (string, error) {
	endpoint := "/users/mapping/" + url.PathEscape(username)
	raw, err := c.get(ctx, endpoint)
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) && strings.HasPrefix(apiErr.Message, NoMappingPrefix) {
		return "", &NoMappingError{Username: username}
	}
	if err != nil {
		return "", err
	}

	var remoteUsername string
	if err := json.Unmarshal(raw, &remoteUsername); err != nil {
		return "", &RemoteAPIError{Endpoint: endpoint, Message: "malformed result: " + err.Error()}
	}
	if strings.TrimSpace(remoteUsername) == "" {
		return "", &NoMappingError{Username: username}
	}
	return remoteUsername, nil
}

func (c *httpClient) Projects(ctx context.Context, remoteUsername string) ([]Project, error) {
	endpoint := "/projects/username/" + url.PathEscape(remoteUsername)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := json.Unmarshal(raw, &projects); err != nil {
		return nil, &RemoteAPIError{Endpoint: endpoint, Message: "malformed result: " + err.Error()}
	}
	return projects, nil
}

func (c *httpClient) ClearCache() {
	c.cache.Clear()
}

// get returns the result member of a successful envelope, served from the
// response cache when possible.
func (c *httpClient) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if cached, ok := c.cache.Get(endpoint); ok {
		return cached, nil
	}

	var result json.RawMessage
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return back.Permanent(err)
		}
		out, err := c.do(ctx, endpoint)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	if err := back.Retry(operation, c.backoff(ctx)); err != nil {
		return nil, err
	}
	c.cache.Set(result, endpoint)
	return result, nil
}

func (c *httpClient) backoff(ctx context.Context) back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = backoffInterval
	bf.MaxInterval = backoffMax
	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}
	return back.WithContext(back.WithMaxRetries(bf, uint64(retries)), ctx)
}

// do performs one attempt. Transport failures and 5xx responses are
// retryable; everything else is permanent.
func (c *httpClient) do(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, back.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.obsMetrics.RecordRemoteCall(ctx, endpointLabel(endpoint), 0, time.Since(start))
		c.log.Warn("remote request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &RemoteAPIError{Endpoint: endpoint, Message: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("failed to close response body", zap.Error(err))
		}
	}()
	c.obsMetrics.RecordRemoteCall(ctx, endpointLabel(endpoint), resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &RemoteAPIError{Endpoint: endpoint, Status: resp.StatusCode, Message: err.Error()}
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode >= 500:
		return nil, &RemoteAPIError{Endpoint: endpoint, Status: resp.StatusCode, Message: messageOr(env, decodeErr, resp.Status)}
	case decodeErr != nil:
		return nil, back.Permanent(&RemoteAPIError{Endpoint: endpoint, Status: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()})
	case env.Status == nil || env.Message == nil || env.Result == nil:
		return nil, back.Permanent(&RemoteAPIError{Endpoint: endpoint, Status: resp.StatusCode, Message: "response missing status, message or result"})
	case *env.Status != StatusSuccess || resp.StatusCode >= 400:
		return nil, back.Permanent(&RemoteAPIError{Endpoint: endpoint, Status: resp.StatusCode, Message: *env.Message})
	}
	return env.Result, nil
}

func messageOr(env envelope, decodeErr error, fallback string) string {
	if decodeErr == nil && env.Message != nil && *env.Message != "" {
		return *env.Message
	}
	return fallback
}

// endpointLabel strips the path parameter to keep metric cardinality low.
func endpointLabel(endpoint string) string {
	if i := strings.LastIndex(endpoint, "/"); i > 0 {
		return endpoint[:i]
	}
	return endpoint
}
