// internal/handlers/relay/relay_handler.go
package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"recipe-gateway/internal/domain/auth"
	"recipe-gateway/internal/pkg/cookies"
	xerrors "recipe-gateway/internal/pkg/errors"
	"recipe-gateway/internal/pkg/jwt"
	"recipe-gateway/internal/pkg/response"
	"recipe-gateway/internal/service/upstream"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const jsonContentType = "application/json; charset=utf-8"

type RelayHandler struct {
	client     *upstream.Client
	translator *cookies.Translator
	logger     *zap.Logger
}

func NewRelayHandler(client *upstream.Client, translator *cookies.Translator, logger *zap.Logger) *RelayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayHandler{
		client:     client,
		translator: translator,
		logger:     logger,
	}
}

// ========== Who am I ==========

// Me resolves the current principal by forwarding the session cookies to the
// backend. A request without session cookies is anonymous, not an error.
func (h *RelayHandler) Me(c *gin.Context) {
	tokens := cookies.FromRequest(c.Request)
	if tokens.Empty() {
		c.JSON(http.StatusOK, auth.MeResponse{})
		return
	}

	// role is read without verification and only picks the path variant
	claims := jwt.DecodeFirst(tokens.Access, tokens.Refresh)
	admin := claims != nil && claims.HasRole()

	res, err := h.client.WhoAmI(c.Request.Context(), tokens, admin)
	if err != nil {
		tried := []xerrors.Attempt{}
		if ue, ok := xerrors.AsUpstream(err); ok && ue.Attempts != nil {
			tried = ue.Attempts
		}
		h.logger.Warn("no who-am-i path matched",
			zap.Bool("admin", admin),
			zap.Int("attempts", len(tried)),
		)
		c.JSON(http.StatusBadGateway, auth.MeResponse{
			Debug: &auth.MeDebug{Tried: tried},
		})
		return
	}

	c.JSON(http.StatusOK, auth.MeResponse{
		User:         res.User,
		AccessToken:  optional(tokens.Access),
		RefreshToken: optional(tokens.Refresh),
		Debug:        &auth.MeDebug{Tried: res.Attempts, Used: res.Used},
	})
}

// ========== Refresh ==========

// Refresh relays a token refresh and rewrites the new cookies for this origin.
func (h *RelayHandler) Refresh(c *gin.Context) {
	if cookies.FromRequest(c.Request).Refresh == "" {
		response.Unauthorized(c, "no refresh token")
		return
	}

	body, err := readBody(c.Request)
	if err != nil {
		response.ValidationError(c, "unreadable request body", err)
		return
	}

	resp, err := h.client.Refresh(c.Request.Context(), upstream.Forward{
		Cookie:      c.GetHeader("Cookie"),
		ContentType: c.GetHeader("Content-Type"),
		Body:        body,
	})
	if err != nil {
		h.logger.Error("refresh relay failed", zap.Error(err))
		response.BadGateway(c, "refresh failed", err)
		return
	}

	names := h.translator.Apply(c.Writer, resp.Header, cookies.RequestIsHTTPS(c.Request))
	h.logger.Debug("refresh relayed",
		zap.Int("status", resp.Status),
		zap.Strings("cookies", names),
	)

	c.Data(resp.Status, jsonContentType, refreshBody(resp.Body))
}

// refreshBody returns the upstream body as JSON: {} when empty, the body when
// it parses, {"text": ...} otherwise.
func refreshBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	wrapped, _ := json.Marshal(map[string]string{"text": string(body)})
	return wrapped
}

// ========== Logout ==========

// Logout relays the logout call and always leaves the session cookies cleared
// on this origin, even when the backend is unreachable.
func (h *RelayHandler) Logout(c *gin.Context) {
	body, _ := readBody(c.Request)

	resp, err := h.client.Logout(c.Request.Context(), upstream.Forward{
		Cookie:      c.GetHeader("Cookie"),
		ContentType: c.GetHeader("Content-Type"),
		Body:        body,
	})
	if err != nil {
		h.logger.Error("logout relay failed", zap.Error(err))
		clearSessionCookies(c.Writer, nil)
		response.Error(c, http.StatusInternalServerError, "logout failed", err)
		return
	}

	names := h.translator.Apply(c.Writer, resp.Header, cookies.RequestIsHTTPS(c.Request))
	clearSessionCookies(c.Writer, names)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = jsonContentType
	}
	c.Data(resp.Status, contentType, resp.Body)
}

func clearSessionCookies(w http.ResponseWriter, alreadySet []string) {
	seen := make(map[string]bool, len(alreadySet))
	for _, n := range alreadySet {
		seen[n] = true
	}
	for _, name := range cookies.SessionCookieNames {
		if !seen[name] {
			http.SetCookie(w, cookies.ClearCookie(name))
		}
	}
}

// ========== Generic proxy ==========

// Proxy forwards any call under /api/proxy/ to the backend and relays the
// response byte for byte.
func (h *RelayHandler) Proxy(c *gin.Context) {
	var body []byte
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		var err error
		if body, err = readBody(c.Request); err != nil {
			response.ValidationError(c, "unreadable request body", err)
			return
		}
	}

	resp, err := h.client.Forward(c.Request.Context(), upstream.ForwardRequest{
		Method:   c.Request.Method,
		Path:     c.Param("path"),
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header,
		Body:     body,
	})
	if err != nil {
		h.logger.Error("proxy relay failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Param("path")),
			zap.Error(err),
		)
		response.BadGateway(c, "upstream unavailable", err)
		return
	}

	h.translator.Apply(c.Writer, resp.Header, cookies.RequestIsHTTPS(c.Request))
	upstream.CopyResponseHeaders(c.Writer.Header(), resp.Header)

	c.Status(resp.Status)
	if c.Request.Method == http.MethodHead || len(resp.Body) == 0 {
		c.Writer.WriteHeaderNow()
		return
	}
	if _, err := c.Writer.Write(resp.Body); err != nil {
		h.logger.Debug("client went away during proxy write", zap.Error(err))
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
