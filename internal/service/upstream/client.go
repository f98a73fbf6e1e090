// internal/service/upstream/client.go
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recipe-gateway/internal/pkg/cookies"
	xerrors "recipe-gateway/internal/pkg/errors"
	"recipe-gateway/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Config locates the upstream backend.
type Config struct {
	BaseURL         string   // e.g. http://localhost:8080
	APIPrefix       string   // e.g. /api/v1
	ProxyBase       string   // base for /api/proxy/*, defaults to BaseURL+APIPrefix
	RefreshPath     string   // relative to BaseURL
	LogoutPath      string   // relative to BaseURL
	MeFallbackPaths []string // tried after the role-based path
	Timeout         time.Duration
}

// Response is a fully buffered upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Forward carries what a relay route passes through to the backend.
type Forward struct {
	Cookie      string
	ContentType string
	Body        []byte
}

// ForwardRequest is a generic proxied call.
type ForwardRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// WhoAmIResult is a successful "who am I" lookup.
type WhoAmIResult struct {
	User     json.RawMessage
	Used     string
	Attempts []xerrors.Attempt
}

// Client talks to the upstream backend on behalf of the relay routes.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ProxyBase == "" {
		cfg.ProxyBase = cfg.BaseURL + cfg.APIPrefix
	}
	cfg.ProxyBase = strings.TrimRight(cfg.ProxyBase, "/")

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are relayed to the browser, never followed here
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		metrics: m,
	}
}

// MeCandidates returns the ordered "who am I" paths for a principal.
func (c *Client) MeCandidates(admin bool) []string {
	base := "users"
	if admin {
		base = "admin"
	}
	primary := c.cfg.APIPrefix + "/" + base + "/me"

	out := []string{primary}
	for _, p := range c.cfg.MeFallbackPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if p != primary {
			out = append(out, p)
		}
	}
	return out
}

// WhoAmI walks the candidate paths until one answers 2xx. Each candidate is
// tried with the forwarded cookies; a 401 with an access token available is
// retried once with a Bearer header.
func (c *Client) WhoAmI(ctx context.Context, tokens cookies.Tokens, admin bool) (*WhoAmIResult, error) {
	start := time.Now()
	cookieHeader := cookies.BuildOutgoingCookieHeader(tokens)
	var attempts []xerrors.Attempt

	for _, path := range c.MeCandidates(admin) {
		url := c.cfg.BaseURL + path

		resp, err := c.get(ctx, url, func(h http.Header) {
			if cookieHeader != "" {
				h.Set("Cookie", cookieHeader)
			}
		})
		if err == nil && resp.Status == http.StatusUnauthorized && tokens.Access != "" {
			c.logger.Debug("cookie auth rejected, retrying with bearer", zap.String("path", path))
			resp, err = c.get(ctx, url, func(h http.Header) {
				h.Set("Authorization", "Bearer "+tokens.Access)
			})
		}

		if err != nil {
			msg := err.Error()
			attempts = append(attempts, xerrors.Attempt{Path: path, Status: 0, Text: &msg})
			c.logger.Warn("who-am-i call failed", zap.String("path", path), zap.Error(err))
			continue
		}

		text := string(resp.Body)
		attempts = append(attempts, xerrors.Attempt{Path: path, Status: resp.Status, Text: &text})

		if resp.OK() {
			c.metrics.ObserveUpstream("me", "ok", time.Since(start))
			return &WhoAmIResult{
				User:     AsJSON(resp.Body),
				Used:     path,
				Attempts: attempts,
			}, nil
		}
	}

	c.metrics.ObserveUpstream("me", "rejected", time.Since(start))
	return nil, &xerrors.UpstreamError{
		Kind:     xerrors.KindUpstreamRejected,
		Status:   lastStatus(attempts),
		Attempts: attempts,
	}
}

// Refresh forwards a refresh call. Any upstream status is returned as a
// Response; only transport failures are errors.
func (c *Client) Refresh(ctx context.Context, f Forward) (*Response, error) {
	return c.post(ctx, "refresh", c.cfg.BaseURL+c.cfg.RefreshPath, f)
}

// Logout forwards a logout call.
func (c *Client) Logout(ctx context.Context, f Forward) (*Response, error) {
	return c.post(ctx, "logout", c.cfg.BaseURL+c.cfg.LogoutPath, f)
}

// Forward proxies an arbitrary call under ProxyBase.
func (c *Client) Forward(ctx context.Context, fr ForwardRequest) (*Response, error) {
	target := c.cfg.ProxyBase + "/" + strings.TrimLeft(fr.Path, "/")
	if fr.RawQuery != "" {
		target += "?" + fr.RawQuery
	}

	var body io.Reader
	if fr.Method != http.MethodGet && fr.Method != http.MethodHead && len(fr.Body) > 0 {
		body = bytes.NewReader(fr.Body)
	}

	req, err := http.NewRequestWithContext(ctx, fr.Method, target, body)
	if err != nil {
		return nil, xerrors.Wrap(err, "build proxy request")
	}
	copyRequestHeaders(req.Header, fr.Header)

	return c.do(req, "proxy")
}

func (c *Client) get(ctx context.Context, url string, decorate func(http.Header)) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	decorate(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) post(ctx context.Context, route, url string, f Forward) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(f.Body))
	if err != nil {
		return nil, xerrors.Wrap(err, "build "+route+" request")
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if f.Cookie != "" {
		req.Header.Set("Cookie", f.Cookie)
	}

	return c.do(req, route)
}

func (c *Client) do(req *http.Request, route string) (*Response, error) {
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(route, "unreachable", time.Since(start))
		c.logger.Error("upstream call failed",
			zap.String("route", route),
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err),
		)
		return nil, xerrors.Unreachable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveUpstream(route, "unreachable", time.Since(start))
		return nil, xerrors.Unreachable(fmt.Errorf("read body: %w", err))
	}

	c.metrics.ObserveUpstream(route, outcome(resp.StatusCode), time.Since(start))
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// AsJSON returns body unchanged when it is valid JSON, null when empty, and
// the body as a JSON string otherwise.
func AsJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, xerrors.ErrUpstreamUnreachable)
}

func outcome(status int) string {
	switch {
	case status >= 200 && status < 400:
		return "ok"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "unauthorized"
	default:
		return "rejected"
	}
}

func lastStatus(attempts []xerrors.Attempt) int {
	if len(attempts) == 0 {
		return 0
	}
	return attempts[len(attempts)-1].Status
}
