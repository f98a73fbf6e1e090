package cookies

import (
	"net/http"

	"recipe-gateway/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Translator rewrites upstream Set-Cookie headers onto the gateway origin.
type Translator struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewTranslator(logger *zap.Logger, m *metrics.Metrics) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{logger: logger, metrics: m}
}

// Translate parses every Set-Cookie in h and returns the rewritten cookies.
// Malformed values are logged and skipped; they never abort the rest.
func (t *Translator) Translate(h http.Header, https bool) []*http.Cookie {
	raw := ExtractSetCookies(h)
	out := make([]*http.Cookie, 0, len(raw))

	for _, sc := range raw {
		parsed, err := ParseSetCookie(sc)
		if err != nil {
			t.logger.Warn("discarding upstream cookie", zap.Error(err))
			t.metrics.CookieRelayed("malformed")
			continue
		}

		if parsed.Downgraded(https) {
			t.logger.Debug("secure cookie downgraded for plain http origin",
				zap.String("cookie", parsed.Name),
			)
			t.metrics.CookieRelayed("downgraded")
		} else {
			t.metrics.CookieRelayed("relayed")
		}
		out = append(out, parsed.ForOrigin(https))
	}

	return out
}

// Apply writes the translated cookies to w and returns their names.
func (t *Translator) Apply(w http.ResponseWriter, h http.Header, https bool) []string {
	translated := t.Translate(h, https)
	names := make([]string, 0, len(translated))
	for _, c := range translated {
		http.SetCookie(w, c)
		names = append(names, c.Name)
	}
	return names
}
