package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-gateway/internal/domain/auth"
	xerrors "recipe-gateway/internal/pkg/errors"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeGateway stands in for the relay routes a browser would talk to.
type fakeGateway struct {
	t     *testing.T
	clock *manualClock
	srv   *httptest.Server

	accessTTL time.Duration

	mu            sync.Mutex
	meLag         int // /api/me calls that still answer anonymous after login
	refreshStatus int
	refreshGate   chan struct{}
	issued        int

	meCalls      int32
	refreshCalls int32
	logoutCalls  int32
}

func newFakeGateway(t *testing.T, clock *manualClock) *fakeGateway {
	g := &fakeGateway{t: t, clock: clock, accessTTL: 65 * time.Second}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/proxy/auth/login", g.login)
	mux.HandleFunc("/api/me", g.me)
	mux.HandleFunc("/api/refresh", g.refresh)
	mux.HandleFunc("/api/logout", g.logout)

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) mint(ttl time.Duration) string {
	g.mu.Lock()
	g.issued++
	n := g.issued
	g.mu.Unlock()

	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"id":  7,
		"exp": g.clock.Now().Add(ttl).Unix(),
		"jti": fmt.Sprintf("t%d", n),
	}).SignedString([]byte("gateway-test"))
	require.NoError(g.t, err)
	return tok
}

func (g *fakeGateway) setTokens(w http.ResponseWriter, access string) {
	http.SetCookie(w, &http.Cookie{Name: "access_token", Value: access, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r-" + access[len(access)-6:], Path: "/", HttpOnly: true})
}

func (g *fakeGateway) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")
	if body.Password != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
		return
	}
	g.setTokens(w, g.mint(g.accessTTL))
	_, _ = w.Write([]byte(`{"message":"login successful"}`))
}

func (g *fakeGateway) me(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&g.meCalls, 1)
	w.Header().Set("Content-Type", "application/json")

	access, err := r.Cookie("access_token")
	g.mu.Lock()
	lagging := g.meLag > 0
	if lagging {
		g.meLag--
	}
	g.mu.Unlock()

	if err != nil || lagging {
		_, _ = w.Write([]byte(`{"user":null,"accessToken":null,"refreshToken":null}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"user":         map[string]interface{}{"id": 7, "username": "cook"},
		"accessToken":  access.Value,
		"refreshToken": nil,
	})
}

func (g *fakeGateway) refresh(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&g.refreshCalls, 1)

	g.mu.Lock()
	status, gate := g.refreshStatus, g.refreshGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if status != 0 {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(status)
		return
	}
	if _, err := r.Cookie("refresh_token"); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	// new tokens travel only as cookies
	g.setTokens(w, g.mint(10*time.Minute))
	w.WriteHeader(http.StatusOK)
}

func (g *fakeGateway) logout(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&g.logoutCalls, 1)
	http.SetCookie(w, &http.Cookie{Name: "access_token", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Path: "/", MaxAge: -1})
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newTestManager(t *testing.T, g *fakeGateway, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithClock(g.clock),
		WithPollPolicy(6, time.Millisecond),
	}, opts...)
	m, err := NewManager(g.srv.URL, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func expiryOf(t *testing.T, token string) time.Time {
	t.Helper()
	claims := gojwt.MapClaims{}
	_, _, err := gojwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	return exp.Time
}

func TestNewManager_RejectsRelativeURL(t *testing.T) {
	_, err := NewManager("/api", nil)
	assert.Error(t, err)
}

func TestInitialize_Anonymous(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	assert.Equal(t, StateAnonymous, m.Initialize(context.Background()))
	s := m.Snapshot()
	assert.Nil(t, s.User)
	assert.False(t, s.Loading)
	assert.False(t, m.RefreshPending())
}

func TestLogin_PollsUntilSessionVisible(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	g.meLag = 2
	m := newTestManager(t, g)

	res, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)

	assert.True(t, res.SessionReady)
	require.NotNil(t, res.User)
	assert.Equal(t, "7", res.User.ID.String())
	assert.EqualValues(t, 3, atomic.LoadInt32(&g.meCalls))

	s := m.Snapshot()
	assert.Equal(t, StateAuthenticated, s.State)
	assert.NotEmpty(t, s.AccessToken)
	// refreshToken was null in the body, so it comes from the jar
	assert.NotEmpty(t, s.RefreshToken)
	assert.True(t, m.RefreshPending())
}

func TestLogin_GivesUpAfterPollBudget(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	g.meLag = 100
	m := newTestManager(t, g)

	res, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)
	assert.False(t, res.SessionReady)
	assert.EqualValues(t, 6, atomic.LoadInt32(&g.meCalls))
}

func TestLogin_RejectedCredentials(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	res, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrUpstreamUnauthorized))
	require.NotNil(t, res)
	assert.Equal(t, "invalid credentials", res.Message)
	assert.EqualValues(t, 0, atomic.LoadInt32(&g.meCalls))
}

func TestExpiringTokenRefreshesAutomatically(t *testing.T) {
	clock := newManualClock()
	g := newFakeGateway(t, clock)
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)

	before := m.Snapshot().AccessToken
	require.Equal(t, clock.Now().Add(65*time.Second).Unix(), expiryOf(t, before).Unix())

	clock.Advance(4 * time.Second)
	assert.EqualValues(t, 0, atomic.LoadInt32(&g.refreshCalls))

	clock.Advance(time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.refreshCalls))

	after := m.Snapshot()
	assert.Equal(t, StateAuthenticated, after.State)
	assert.NotEqual(t, before, after.AccessToken)
	assert.True(t, expiryOf(t, after.AccessToken).After(expiryOf(t, before)))
	assert.NotNil(t, after.User)

	// re-armed 60s ahead of the new ten minute expiry
	assert.True(t, m.RefreshPending())
	clock.Advance(539 * time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.refreshCalls))
	clock.Advance(time.Second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&g.refreshCalls))
}

func TestRefreshFailureClearsSession(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)

	g.mu.Lock()
	g.refreshStatus = http.StatusUnauthorized
	g.mu.Unlock()

	err = m.RefreshNow(context.Background())
	assert.True(t, errors.Is(err, xerrors.ErrRefreshExhausted))

	s := m.Snapshot()
	assert.Equal(t, StateAnonymous, s.State)
	assert.Nil(t, s.User)
	assert.Empty(t, s.AccessToken)
	assert.False(t, m.RefreshPending())
}

func TestRefreshNow_ConcurrentCallsShareOneRequest(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)

	gate := make(chan struct{})
	g.mu.Lock()
	g.refreshGate = gate
	g.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.RefreshNow(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&g.refreshCalls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.refreshCalls))
}

// meServer answers /api/me with a fixed status and body.
func meServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitialize_FailedLookupIgnoresJarCookies(t *testing.T) {
	clock := newManualClock()
	srv := meServer(t, http.StatusBadGateway,
		`{"user":null,"accessToken":null,"refreshToken":null,"debug":{"tried":[{"path":"/api/v1/admin/me","status":401,"text":"unauthorized"}]}}`)

	m, err := NewManager(srv.URL, nil, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user": map[string]interface{}{"id": "u-1", "username": "chef", "role": "admin"},
		"exp":  clock.Now().Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	u, _ := url.Parse(srv.URL)
	m.http.Jar.SetCookies(u, []*http.Cookie{
		{Name: "access_token", Value: tok, Path: "/", HttpOnly: true},
		{Name: "refresh_token", Value: "r", Path: "/", HttpOnly: true},
	})

	assert.Equal(t, StateAnonymous, m.Initialize(context.Background()))
	s := m.Snapshot()
	assert.Nil(t, s.User)
	assert.Empty(t, s.AccessToken)
	assert.Empty(t, s.RefreshToken)
	assert.False(t, m.RefreshPending())
}

func TestInitialize_GatewayDownIsAnonymous(t *testing.T) {
	m, err := NewManager("http://127.0.0.1:1", nil, WithClock(newManualClock()))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	assert.Equal(t, StateAnonymous, m.Initialize(context.Background()))
	assert.Nil(t, m.Snapshot().User)
	assert.False(t, m.RefreshPending())
}

func TestInitialize_NoUserHoldsNoTokens(t *testing.T) {
	clock := newManualClock()
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"exp": clock.Now().Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	srv := meServer(t, http.StatusOK, fmt.Sprintf(`{"user":{},"accessToken":%q,"refreshToken":"r"}`, tok))
	m, err := NewManager(srv.URL, nil, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	assert.Equal(t, StateAnonymous, m.Initialize(context.Background()))
	s := m.Snapshot()
	assert.Nil(t, s.User)
	assert.Empty(t, s.AccessToken)
	assert.Empty(t, s.RefreshToken)
	assert.False(t, m.RefreshPending())
}

func TestInitialize_EnvelopedUser(t *testing.T) {
	clock := newManualClock()
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"exp": clock.Now().Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	srv := meServer(t, http.StatusOK,
		fmt.Sprintf(`{"user":{"success":true,"data":{"id":1,"username":"chef"}},"accessToken":%q,"refreshToken":"r"}`, tok))
	m, err := NewManager(srv.URL, nil, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	assert.Equal(t, StateAuthenticated, m.Initialize(context.Background()))
	s := m.Snapshot()
	require.NotNil(t, s.User)
	assert.Equal(t, "1", s.User.ID.String())
	assert.Equal(t, tok, s.AccessToken)
	assert.Equal(t, "r", s.RefreshToken)
	assert.True(t, m.RefreshPending())
}

func TestRefreshNow_ThrottledKeepsSession(t *testing.T) {
	clock := newManualClock()
	g := newFakeGateway(t, clock)
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)
	before := m.Snapshot()

	g.mu.Lock()
	g.refreshStatus = http.StatusTooManyRequests
	g.mu.Unlock()

	err = m.RefreshNow(context.Background())
	assert.ErrorIs(t, err, xerrors.ErrRateLimited)
	assert.False(t, errors.Is(err, xerrors.ErrRefreshExhausted))

	s := m.Snapshot()
	assert.Equal(t, StateAuthenticated, s.State)
	assert.NotNil(t, s.User)
	assert.Equal(t, before.AccessToken, s.AccessToken)
	assert.True(t, m.RefreshPending())

	g.mu.Lock()
	g.refreshStatus = 0
	g.mu.Unlock()

	// retried after Retry-After, not at the original 5s mark
	clock.Advance(29 * time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.refreshCalls))
	clock.Advance(time.Second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&g.refreshCalls))
	assert.Equal(t, StateAuthenticated, m.Snapshot().State)
	assert.NotEqual(t, before.AccessToken, m.Snapshot().AccessToken)
}

func TestLogin_NonJSONRejectionLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	m, err := NewManager(srv.URL, zap.New(core), WithClock(newManualClock()))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	res, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, "bad gateway", res.Message)
	assert.Equal(t, 1, logs.FilterMessage("login body is not json").Len())
}

func TestLogout_ClearsAndCancels(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)
	require.True(t, m.RefreshPending())

	m.Logout(context.Background())

	s := m.Snapshot()
	assert.Equal(t, StateAnonymous, s.State)
	assert.Nil(t, s.User)
	assert.False(t, m.RefreshPending())
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.logoutCalls))
	assert.Empty(t, m.jarCookie("access_token"))

	// the jar no longer carries a session
	assert.Equal(t, StateAnonymous, m.Initialize(context.Background()))
}

func TestLogout_GatewayDownStillClears(t *testing.T) {
	m, err := NewManager("http://127.0.0.1:1", nil, WithClock(newManualClock()))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	m.adopt(&auth.Principal{ID: auth.NumericID(1)}, "a", "r")
	m.Logout(context.Background())
	assert.Equal(t, StateAnonymous, m.Snapshot().State)
	assert.Empty(t, m.Snapshot().AccessToken)
}

func TestClose_StopsTimerAndRejectsRefresh(t *testing.T) {
	g := newFakeGateway(t, newManualClock())
	m := newTestManager(t, g)

	_, err := m.Login(context.Background(), Credentials{Username: "cook", Password: "secret"})
	require.NoError(t, err)

	m.Close()
	assert.Equal(t, StateClosed, m.Snapshot().State)
	assert.False(t, m.RefreshPending())

	g.clock.Advance(time.Hour)
	assert.EqualValues(t, 0, atomic.LoadInt32(&g.refreshCalls))
	assert.ErrorIs(t, m.RefreshNow(context.Background()), ErrClosed)
	assert.Equal(t, StateClosed, m.Initialize(context.Background()))
}

func TestOnChange_ReportsLoading(t *testing.T) {
	g := newFakeGateway(t, newManualClock())

	var mu sync.Mutex
	var loading []bool
	m := newTestManager(t, g, WithOnChange(func(s Session) {
		mu.Lock()
		loading = append(loading, s.Loading)
		mu.Unlock()
	}))

	m.Initialize(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, loading)
	assert.Contains(t, loading, true)
	assert.False(t, loading[len(loading)-1])
}
