// internal/pkg/session/manager.go
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"recipe-gateway/internal/domain/auth"
	"recipe-gateway/internal/pkg/cookies"
	xerrors "recipe-gateway/internal/pkg/errors"
	"recipe-gateway/internal/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("session manager closed")

// Manager keeps a client-side session fresh against the gateway relay routes.
// It holds the gateway cookies in its own jar, the way a browser would, and
// arms a single refresh timer from the access token's expiry.
type Manager struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
	clock  Clock
	sched  *Scheduler

	margin       time.Duration
	floor        time.Duration
	pollAttempts int
	pollStep     time.Duration
	onChange     func(Session)

	refreshGroup singleflight.Group

	mu       sync.Mutex
	session  Session
	inflight int

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Manager)

// WithHTTPClient uses c for gateway calls. A cookie jar is added when c has none.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.http = c }
}

// WithClock replaces the clock used for refresh scheduling.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

func WithMinRefreshDelay(d time.Duration) Option {
	return func(m *Manager) { m.floor = d }
}

// WithPollPolicy sets how often and how patiently PollSession retries.
func WithPollPolicy(attempts int, step time.Duration) Option {
	return func(m *Manager) {
		m.pollAttempts = attempts
		m.pollStep = step
	}
}

// WithOnChange registers a callback that receives a snapshot after every
// session change. It runs outside the manager lock.
func WithOnChange(fn func(Session)) Option {
	return func(m *Manager) { m.onChange = fn }
}

func NewManager(baseURL string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q: scheme and host required", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		base:         base,
		logger:       logger,
		clock:        RealClock{},
		margin:       60 * time.Second,
		floor:        5 * time.Second,
		pollAttempts: 6,
		pollStep:     250 * time.Millisecond,
		session:      Session{State: StateUninitialized},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.http == nil {
		m.http = &http.Client{Timeout: 15 * time.Second}
	}
	if m.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c := *m.http
		c.Jar = jar
		m.http = &c
	}
	if m.pollAttempts < 1 {
		m.pollAttempts = 1
	}

	m.sched = NewScheduler(m.clock)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// RefreshPending reports whether a refresh timer is armed.
func (m *Manager) RefreshPending() bool {
	return m.sched.Pending()
}

// ========== Initialize ==========

// Initialize resolves the session once through /api/me. It never returns an
// error: any failure ends in the Anonymous state.
func (m *Manager) Initialize(ctx context.Context) State {
	if !m.setState(StateInitializing) {
		return StateClosed
	}
	m.begin()
	defer m.end()

	body, status, err := m.fetchMe(ctx)
	switch {
	case err != nil:
		m.logger.Warn("session lookup failed", zap.Int("status", status), zap.Error(err))
	case status < 200 || status >= 300:
		m.logger.Warn("session lookup rejected", zap.Int("status", status))
	default:
		access := firstNonEmpty(deref(body.AccessToken), m.jarCookie(cookies.AccessTokenName))
		refresh := firstNonEmpty(deref(body.RefreshToken), m.jarCookie(cookies.RefreshTokenName))
		m.establish(auth.ParsePrincipal(body.User), access, refresh)
		return m.Snapshot().State
	}

	// Cookies the gateway could not confirm never stand in for a session.
	m.sched.Cancel()
	m.clear(StateAnonymous)
	return m.Snapshot().State
}

// ========== Refresh ==========

// RefreshNow asks the gateway to rotate the tokens. Concurrent callers share
// one request. On failure the session is cleared and ErrRefreshExhausted is
// returned. A throttled refresh keeps the session, re-arms the timer and
// returns ErrRateLimited.
func (m *Manager) RefreshNow(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	if m.closed() {
		return ErrClosed
	}
	m.begin()
	defer m.end()

	resp, err := m.call(ctx, http.MethodPost, "/api/refresh", nil)
	if err != nil {
		m.logger.Warn("refresh call failed", zap.Error(err))
		m.sched.Cancel()
		m.clear(StateAnonymous)
		return fmt.Errorf("%w: %v", xerrors.ErrRefreshExhausted, err)
	}
	if resp.status == http.StatusTooManyRequests {
		return m.deferRefresh(resp)
	}
	if resp.status < 200 || resp.status >= 300 {
		m.logger.Warn("refresh rejected", zap.Int("status", resp.status))
		m.sched.Cancel()
		m.clear(StateAnonymous)
		return fmt.Errorf("%w: status %d", xerrors.ErrRefreshExhausted, resp.status)
	}

	var body meBody
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &body); err != nil {
			m.logger.Debug("refresh body is not json", zap.Error(err))
		}
	}

	access := firstNonEmpty(deref(body.AccessToken), m.jarCookie(cookies.AccessTokenName))
	refresh := firstNonEmpty(deref(body.RefreshToken), m.jarCookie(cookies.RefreshTokenName))

	user := auth.ParsePrincipal(body.User)
	if user == nil {
		user = m.Snapshot().User
	}
	if !m.establish(user, access, refresh) {
		return xerrors.ErrNoSession
	}
	return nil
}

// deferRefresh keeps the session when the gateway throttles a refresh and
// retries after Retry-After, never sooner than the refresh floor.
func (m *Manager) deferRefresh(resp *rawResponse) error {
	delay := m.floor
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.header.Get("Retry-After"))); err == nil {
		if d := time.Duration(secs) * time.Second; d > delay {
			delay = d
		}
	}

	if m.Snapshot().State == StateAuthenticated && !m.closed() {
		m.sched.Schedule(delay, m.scheduledRefresh)
	}
	m.logger.Warn("refresh throttled, retrying later", zap.Duration("in", delay))
	return fmt.Errorf("%w: retry in %s", xerrors.ErrRateLimited, delay)
}

// establish adopts the tokens when the gateway reported a user and arms the
// refresh timer from the access token. Without a user the session is cleared.
func (m *Manager) establish(user *auth.Principal, access, refresh string) bool {
	if user == nil {
		m.sched.Cancel()
		m.clear(StateAnonymous)
		return false
	}
	m.adopt(user, access, refresh)
	m.scheduleFrom(access)
	return true
}

// scheduleFrom arms the refresh timer from the token's exp claim. Tokens that
// do not decode or carry no exp leave no timer armed.
func (m *Manager) scheduleFrom(access string) {
	if access == "" || m.closed() {
		m.sched.Cancel()
		return
	}
	claims, err := jwt.Decode(access)
	if err != nil {
		m.logger.Debug("access token not decodable, refresh not scheduled", zap.Error(err))
		m.sched.Cancel()
		return
	}
	exp, ok := claims.Expiry()
	if !ok {
		m.sched.Cancel()
		return
	}

	delay := RefreshDelay(exp, m.clock.Now(), m.margin, m.floor)
	m.sched.Schedule(delay, m.scheduledRefresh)
	m.logger.Debug("refresh scheduled", zap.Duration("in", delay))
}

func (m *Manager) scheduledRefresh() {
	if err := m.RefreshNow(m.ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn("scheduled refresh failed", zap.Error(err))
	}
}

// ========== Logout ==========

// Logout signs out through the gateway. The local session is cleared even when
// the gateway cannot be reached.
func (m *Manager) Logout(ctx context.Context) {
	m.begin()
	defer m.end()

	if _, err := m.call(ctx, http.MethodPost, "/api/logout", nil); err != nil {
		m.logger.Warn("logout call failed", zap.Error(err))
	}

	m.sched.Cancel()
	m.forgetJarCookies()
	m.clear(StateAnonymous)
}

// ========== Login ==========

// Login submits credentials through the gateway proxy and waits for the new
// session to become visible on /api/me.
func (m *Manager) Login(ctx context.Context, cred Credentials) (*LoginResult, error) {
	prefix := "auth"
	if cred.Admin {
		prefix = "admin"
	}
	payload, err := json.Marshal(auth.LoginRequest{Username: cred.Username, Password: cred.Password})
	if err != nil {
		return nil, err
	}

	m.begin()
	resp, err := m.call(ctx, http.MethodPost, "/api/proxy/"+prefix+"/login", payload)
	m.end()
	if err != nil {
		return nil, xerrors.Unreachable(err)
	}

	var body auth.LoginResponse
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &body); err != nil {
			m.logger.Debug("login body is not json", zap.Int("status", resp.status), zap.Error(err))
		}
	}
	result := &LoginResult{Status: resp.status, Message: firstNonEmpty(body.Error, body.Message)}

	if resp.status < 200 || resp.status >= 300 {
		if result.Message == "" {
			result.Message = strings.TrimSpace(string(resp.body))
		}
		kind := xerrors.KindUpstreamRejected
		if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
			kind = xerrors.KindUpstreamUnauthorized
		}
		return result, &xerrors.UpstreamError{
			Kind:   kind,
			Status: resp.status,
			Body:   resp.body,
			Err:    errors.New(result.Message),
		}
	}

	ready, err := m.PollSession(ctx)
	result.SessionReady = ready
	result.User = m.Snapshot().User
	return result, err
}

// PollSession calls /api/me until it reports a user, waiting step×attempt
// between tries. Giving up is not an error: the caller proceeds with a
// possibly stale session.
func (m *Manager) PollSession(ctx context.Context) (bool, error) {
	for attempt := 1; attempt <= m.pollAttempts; attempt++ {
		body, status, err := m.fetchMe(ctx)
		if err == nil && status >= 200 && status < 300 {
			if user := auth.ParsePrincipal(body.User); user != nil {
				access := firstNonEmpty(deref(body.AccessToken), m.jarCookie(cookies.AccessTokenName))
				refresh := firstNonEmpty(deref(body.RefreshToken), m.jarCookie(cookies.RefreshTokenName))
				m.establish(user, access, refresh)
				m.logger.Debug("session visible", zap.Int("attempt", attempt))
				return true, nil
			}
		}

		if attempt == m.pollAttempts {
			break
		}
		if err := sleep(ctx, m.pollStep*time.Duration(attempt)); err != nil {
			return false, err
		}
	}

	m.logger.Warn("session not visible after login, continuing",
		zap.Int("attempts", m.pollAttempts),
	)
	return false, nil
}

// ========== Teardown ==========

// Close cancels the refresh timer and any scheduled work. The manager cannot
// be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.session.State == StateClosed {
		m.mu.Unlock()
		return
	}
	m.session.State = StateClosed
	snap := m.session
	m.mu.Unlock()

	m.sched.Cancel()
	m.cancel()
	m.http.CloseIdleConnections()
	m.notify(snap)
}

// ========== internals ==========

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (m *Manager) call(ctx context.Context, method, path string, payload []byte) (*rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.endpoint(path).String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (m *Manager) fetchMe(ctx context.Context) (*meBody, int, error) {
	resp, err := m.call(ctx, http.MethodGet, "/api/me", nil)
	if err != nil {
		return nil, 0, err
	}
	var body meBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, resp.status, fmt.Errorf("decode /api/me: %w", err)
	}
	return &body, resp.status, nil
}

func (m *Manager) endpoint(path string) *url.URL {
	return m.base.ResolveReference(&url.URL{Path: m.base.Path + path})
}

func (m *Manager) jarCookie(name string) string {
	for _, c := range m.http.Jar.Cookies(m.endpoint("/")) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (m *Manager) forgetJarCookies() {
	expired := make([]*http.Cookie, 0, len(cookies.SessionCookieNames))
	for _, name := range cookies.SessionCookieNames {
		expired = append(expired, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
	}
	m.http.Jar.SetCookies(m.endpoint("/"), expired)
}

func (m *Manager) adopt(user *auth.Principal, access, refresh string) {
	m.mu.Lock()
	if m.session.State == StateClosed {
		m.mu.Unlock()
		return
	}
	m.session.User = user
	m.session.AccessToken = access
	m.session.RefreshToken = refresh
	m.session.State = StateAuthenticated
	snap := m.session
	m.mu.Unlock()

	m.notify(snap)
}

func (m *Manager) clear(state State) {
	m.mu.Lock()
	if m.session.State == StateClosed {
		m.mu.Unlock()
		return
	}
	m.session.User = nil
	m.session.AccessToken = ""
	m.session.RefreshToken = ""
	m.session.State = state
	snap := m.session
	m.mu.Unlock()

	m.notify(snap)
}

func (m *Manager) setState(state State) bool {
	m.mu.Lock()
	if m.session.State == StateClosed {
		m.mu.Unlock()
		return false
	}
	m.session.State = state
	snap := m.session
	m.mu.Unlock()

	m.notify(snap)
	return true
}

func (m *Manager) closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State == StateClosed
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.inflight++
	m.session.Loading = true
	snap := m.session
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) end() {
	m.mu.Lock()
	if m.inflight > 0 {
		m.inflight--
	}
	m.session.Loading = m.inflight > 0
	snap := m.session
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) notify(s Session) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
