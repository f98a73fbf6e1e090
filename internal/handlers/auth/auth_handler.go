// internal/handlers/auth/auth_handler.go
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"recipe-gateway/internal/domain/auth"
	"recipe-gateway/internal/middleware"
	"recipe-gateway/internal/pkg/cookies"
	"recipe-gateway/internal/pkg/response"
	authUsecase "recipe-gateway/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CookieConfig controls the attributes of the session cookies this backend
// sets. They mimic a cross-site API host: Domain pinned, Secure, SameSite=None.
type CookieConfig struct {
	Domain string
	Secure bool
}

type AuthHandler struct {
	authService *authUsecase.AuthService
	cookies     CookieConfig
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, cookieCfg CookieConfig, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		cookies:     cookieCfg,
		logger:      logger,
	}
}

// ========== Login ==========

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	h.login(c, false)
}

// AdminLogin handles admin login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	h.login(c, true)
}

func (h *AuthHandler) login(c *gin.Context, admin bool) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, auth.LoginResponse{Error: "username and password are required"})
		return
	}

	sess, err := h.authService.Login(c.Request.Context(), &req, admin)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, authUsecase.ErrWrongPortal) {
			status = http.StatusForbidden
		}
		h.logger.Warn("login failed",
			zap.String("username", req.Username),
			zap.Bool("admin", admin),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(status, auth.LoginResponse{Error: err.Error()})
		return
	}

	h.setSessionCookies(c, sess)
	c.JSON(http.StatusOK, auth.LoginResponse{Message: "login successful", User: toJSON(sess.User)})
}

// ========== Refresh ==========

// Refresh rotates the refresh token carried by the refresh_token cookie.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := cookies.FromRequest(c.Request).Refresh
	if token == "" {
		response.Unauthorized(c, "missing refresh token")
		return
	}

	sess, err := h.authService.Refresh(c.Request.Context(), token)
	if err != nil {
		h.logger.Info("refresh rejected", zap.Error(err))
		h.clearSessionCookies(c)
		response.Error(c, http.StatusUnauthorized, "refresh failed", err)
		return
	}

	h.setSessionCookies(c, sess)
	c.JSON(http.StatusOK, gin.H{"message": "token refreshed", "user": sess.User})
}

// ========== Logout ==========

// Logout revokes the refresh token, if any, and expires both cookies.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.authService.Logout(c.Request.Context(), cookies.FromRequest(c.Request).Refresh)
	h.clearSessionCookies(c)
	response.Success(c, http.StatusOK, "logout successful", nil)
}

// ========== Profile ==========

// GetMe returns the principal of the verified access token as a bare object.
func (h *AuthHandler) GetMe(c *gin.Context) {
	claims := middleware.MustGetClaims(c)

	profile, err := h.authService.GetProfile(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, http.StatusNotFound, "profile not found", err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *AuthHandler) setSessionCookies(c *gin.Context, sess *authUsecase.Session) {
	http.SetCookie(c.Writer, h.cookie(cookies.AccessTokenName, sess.AccessToken, sess.AccessExpiresAt))
	http.SetCookie(c.Writer, h.cookie(cookies.RefreshTokenName, sess.RefreshToken, sess.RefreshExpiresAt))
}

func (h *AuthHandler) clearSessionCookies(c *gin.Context) {
	for _, name := range cookies.SessionCookieNames {
		ck := h.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		http.SetCookie(c.Writer, ck)
	}
}

func (h *AuthHandler) cookie(name, value string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		Expires:  expires,
		Secure:   h.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
	if maxAge := int(time.Until(expires).Seconds()); maxAge > 0 {
		ck.MaxAge = maxAge
	}
	return ck
}

func toJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
