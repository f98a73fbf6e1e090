package cookies

import (
	"net/http"
	"strings"
)

// SplitSetCookieHeader splits a header that folds several Set-Cookie values
// into one comma-joined string. A comma only separates cookies when it is
// followed (after optional whitespace) by "token=", so the comma inside an
// Expires date never splits.
func SplitSetCookieHeader(folded string) []string {
	var out []string
	start := 0

	for i := 0; i < len(folded); i++ {
		if folded[i] != ',' || !startsCookie(folded[i+1:]) {
			continue
		}
		if piece := strings.TrimSpace(folded[start:i]); piece != "" {
			out = append(out, piece)
		}
		start = i + 1
	}

	if piece := strings.TrimSpace(folded[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}

// ExtractSetCookies returns every Set-Cookie value in h, unfolding values that
// carry more than one cookie.
func ExtractSetCookies(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Set-Cookie") {
		out = append(out, SplitSetCookieHeader(v)...)
	}
	return out
}

func startsCookie(s string) bool {
	s = strings.TrimLeft(s, " \t")
	n := 0
	for n < len(s) && isTokenChar(s[n]) {
		n++
	}
	return n > 0 && n < len(s) && s[n] == '='
}

// isTokenChar reports whether b is an RFC 7230 tchar.
func isTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0
}
