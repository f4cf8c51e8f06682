package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamscraper/pkg/backoff"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/config"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/ratelimit"
)

// Mode selects how rules reach the upstream
type Mode string

const (
	ModeV2 Mode = "v2"
	ModeV1 Mode = "v1"
)

// Defaults applied when Options leave a field empty
const (
	DefaultMaxLineBytes   = 1 << 20
	DefaultStallTimeout   = 90 * time.Second
	DefaultConnectTimeout = 30 * time.Second

	errorBodyLimit = 4 << 10
)

// Options configures a Client
type Options struct {
	BaseURL     string
	Mode        Mode
	StreamPath  string
	RulesPath   string
	UserAgent   string
	BearerToken string

	ConnectTimeout time.Duration
	StallTimeout   time.Duration
	MaxLineBytes   int

	// RulesLimiter paces calls to the rules endpoint; nil disables pacing
	RulesLimiter  ratelimit.Limiter
	RetryAttempts int

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     logger.Logger
}

// OptionsFromConfig maps the upstream configuration section onto Options
func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	opts := Options{
		BaseURL:        cfg.BaseURL,
		Mode:           Mode(strings.ToLower(cfg.Mode)),
		StreamPath:     cfg.StreamPath,
		RulesPath:      cfg.RulesPath,
		UserAgent:      cfg.UserAgent,
		BearerToken:    cfg.BearerToken,
		ConnectTimeout: cfg.ConnectTimeout,
		StallTimeout:   cfg.StallTimeout,
		MaxLineBytes:   cfg.MaxLineBytes,
		RetryAttempts:  cfg.RetryAttempts,
	}
	if cfg.RulesRequestsPerMinute > 0 {
		burst := cfg.RulesBurst
		if burst <= 0 {
			burst = 1
		}
		period := time.Minute * time.Duration(burst) / time.Duration(cfg.RulesRequestsPerMinute)
		opts.RulesLimiter = ratelimit.NewTokenBucket(burst, period)
	}
	return opts
}

// Client is the streaming API client
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	opts       Options
	clock      clock.Clock
	logger     logger.Logger
}

// NewClient validates opts and builds a Client
func NewClient(opts Options) (*Client, error) {
	if opts.BearerToken == "" {
		return nil, errors.New(errors.ErrorTypeAuth, "bearer token is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid base URL %q", opts.BaseURL))
	}

	switch opts.Mode {
	case "":
		opts.Mode = ModeV2
	case ModeV1, ModeV2:
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown upstream mode %q", opts.Mode))
	}
	if opts.StreamPath == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "stream path is required")
	}
	if opts.Mode == ModeV2 && opts.RulesPath == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "rules path is required in v2 mode")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall timeout: stream responses stay open indefinitely.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ConnectTimeout,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          4,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger.WithField("component", "upstream"),
	}, nil
}

// Mode returns the client's rule mode
func (c *Client) Mode() Mode {
	return c.opts.Mode
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeInvalidRequest, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the response when the status is 2xx
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	duration := c.clock.Now().Sub(start)

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Wrap(errors.ErrorTypeNetwork, "request failed", err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, duration)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, c.statusError(resp)
}

// statusError converts a non-2xx response into a typed error
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	e := errors.FromStatus(resp.StatusCode, message)
	if e.Type == errors.ErrorTypeRateLimit {
		e.RetryAfter, e.ResetAt = resetHints(resp.Header, c.clock.Now())
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.Path,
		"type":   string(e.Type),
	}
	if !e.ResetAt.IsZero() {
		fields["reset_at"] = e.ResetAt
	}
	c.logger.WarnWithFields("Upstream returned an error status", fields)
	return e
}

// resetHints reads Retry-After (seconds or HTTP date) and x-rate-limit-reset
// (unix seconds). A reset time wins over a relative delay.
func resetHints(h http.Header, now time.Time) (time.Duration, time.Time) {
	var retryAfter time.Duration
	var resetAt time.Time

	if v := strings.TrimSpace(h.Get("x-rate-limit-reset")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			resetAt = time.Unix(secs, 0)
		}
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil && resetAt.IsZero() {
			resetAt = at
		}
	}
	if !resetAt.IsZero() && !resetAt.After(now) {
		resetAt = time.Time{}
	}
	return retryAfter, resetAt
}

// retry runs op with the client's retry budget for one-shot calls
func (c *Client) retry(ctx context.Context, name string, op backoff.Operation) error {
	cfg := backoff.DefaultRetryConfig()
	cfg.MaxAttempts = c.opts.RetryAttempts
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	cfg.Clock = c.clock
	cfg.Logger = c.logger.WithField("call", name)

	return backoff.Retry(ctx, cfg, func(ctx context.Context) error {
		if c.opts.RulesLimiter != nil {
			if err := c.opts.RulesLimiter.Wait(ctx); err != nil {
				return err
			}
		}
		return op(ctx)
	})
}
