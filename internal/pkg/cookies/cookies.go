// Package cookies translates Set-Cookie headers issued by the upstream backend
// into cookies scoped to the gateway's own origin.
package cookies

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "recipe-gateway/internal/pkg/errors"
)

const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"
)

// SessionCookieNames are the cookies the gateway clears on logout.
var SessionCookieNames = []string{AccessTokenName, RefreshTokenName}

// RelayedCookie is one parsed upstream Set-Cookie header.
type RelayedCookie struct {
	Name     string
	Value    string // raw, as received
	Path     string
	Domain   string // parsed for diagnostics, never emitted
	MaxAge   *int
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite string // lower-cased attribute value, empty when absent
}

// netscapeExpires is the dashed date form some backends still send.
const netscapeExpires = "Mon, 02-Jan-2006 15:04:05 MST"

// ParseSetCookie parses a single Set-Cookie header value. Attribute names are
// matched case-insensitively and unknown attributes are ignored.
func ParseSetCookie(raw string) (RelayedCookie, error) {
	parts := strings.Split(raw, ";")

	nameValue := strings.TrimSpace(parts[0])
	eq := strings.IndexByte(nameValue, '=')
	if eq <= 0 {
		return RelayedCookie{}, fmt.Errorf("%w: missing name=value pair", xerrors.ErrMalformedCookie)
	}

	c := RelayedCookie{
		Name:  strings.TrimSpace(nameValue[:eq]),
		Value: strings.TrimSpace(nameValue[eq+1:]),
	}
	if c.Name == "" {
		return RelayedCookie{}, fmt.Errorf("%w: empty cookie name", xerrors.ErrMalformedCookie)
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		key, val, _ := strings.Cut(attr, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "path":
			c.Path = val
		case "domain":
			c.Domain = val
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				c.MaxAge = &n
			}
		case "expires":
			if t, err := http.ParseTime(val); err == nil {
				c.Expires = t
			} else if t, err := time.Parse(netscapeExpires, val); err == nil {
				c.Expires = t
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			c.SameSite = strings.ToLower(val)
		}
	}

	return c, nil
}

// Downgraded reports whether emitting the cookie on this origin drops Secure.
func (c RelayedCookie) Downgraded(https bool) bool {
	return c.Secure && !https
}

// ForOrigin rewrites the cookie for the gateway origin:
//   - Secure survives only when the request reached the gateway over HTTPS
//   - SameSite=None survives only together with Secure, otherwise Lax
//   - Domain is dropped so the cookie is host-only
//   - Path defaults to "/"
func (c RelayedCookie) ForOrigin(https bool) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure && https,
	}
	if out.Path == "" {
		out.Path = "/"
	}

	switch {
	case c.MaxAge != nil && *c.MaxAge > 0:
		out.MaxAge = *c.MaxAge
	case c.MaxAge != nil:
		// Max-Age<=0 upstream means delete now
		out.MaxAge = -1
	case !c.Expires.IsZero():
		out.Expires = c.Expires
	}

	switch c.SameSite {
	case "none":
		if out.Secure {
			out.SameSite = http.SameSiteNoneMode
		} else {
			out.SameSite = http.SameSiteLaxMode
		}
	case "strict":
		out.SameSite = http.SameSiteStrictMode
	default:
		out.SameSite = http.SameSiteLaxMode
	}

	return out
}

// ClearCookie returns a deletion instruction for name on the gateway origin.
func ClearCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Tokens are the session cookie values the relay forwards upstream.
type Tokens struct {
	Access  string
	Refresh string
}

// Empty reports whether neither token is present.
func (t Tokens) Empty() bool {
	return t.Access == "" && t.Refresh == ""
}

// FromRequest reads the session cookies of an incoming request.
func FromRequest(r *http.Request) Tokens {
	var t Tokens
	if c, err := r.Cookie(AccessTokenName); err == nil {
		t.Access = c.Value
	}
	if c, err := r.Cookie(RefreshTokenName); err == nil {
		t.Refresh = c.Value
	}
	return t
}

// BuildOutgoingCookieHeader joins the non-empty tokens into a Cookie header
// value for a server-to-server call.
func BuildOutgoingCookieHeader(t Tokens) string {
	pairs := make([]string, 0, 2)
	if t.Access != "" {
		pairs = append(pairs, AccessTokenName+"="+t.Access)
	}
	if t.Refresh != "" {
		pairs = append(pairs, RefreshTokenName+"="+t.Refresh)
	}
	return strings.Join(pairs, "; ")
}

// RequestIsHTTPS reports whether the client reached the gateway over HTTPS,
// either directly or through a TLS-terminating proxy.
func RequestIsHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		return false
	}
	first, _, _ := strings.Cut(proto, ",")
	return strings.EqualFold(strings.TrimSpace(first), "https")
}
