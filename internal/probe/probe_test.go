package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMe_Anonymous(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"user":null,"accessToken":null,"refreshToken":null}`))
	}))
	defer gw.Close()

	out, err := run(t, "--gateway", gw.URL, "me")
	require.NoError(t, err)

	var r Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "anonymous", r.State)
	assert.Nil(t, r.User)
	assert.False(t, r.RefreshPending)
}

func TestMe_Authenticated(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":{"id":3,"username":"cook","email":"cook@recipes.local"}}`))
	}))
	defer gw.Close()

	out, err := run(t, "--gateway", gw.URL, "me")
	require.NoError(t, err)

	var r Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "authenticated", r.State)
	require.NotNil(t, r.User)
	assert.Equal(t, "cook", r.User.Username)
	assert.Nil(t, r.AccessExpiresAt)
}

func TestLogin_Rejected(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proxy/admin/login", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer gw.Close()

	_, err := run(t, "--gateway", gw.URL, "login", "-u", "admin", "-p", "wrong", "--admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestLogin_PasswordRequired(t *testing.T) {
	t.Setenv("PROBE_PASSWORD", "")
	_, err := run(t, "--gateway", "http://127.0.0.1:1", "login", "-u", "cook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password required")
}
