// internal/app/router.go
package app

import (
	"net/http"

	chatHandler "recipe-gateway/internal/handlers/chat"
	relayHandler "recipe-gateway/internal/handlers/relay"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	RelayHandler *relayHandler.RelayHandler
	ChatHandler  *chatHandler.ChatHandler
	RateLimit    func(scope string) gin.HandlerFunc
	Metrics      http.Handler
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	// ==================== Health Check ====================
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := r.Group("/api")

	// ==================== Session Relay ====================
	api.GET("/me", h.RelayHandler.Me)
	api.POST("/refresh", h.RateLimit("refresh"), h.RelayHandler.Refresh)
	api.POST("/logout", h.RelayHandler.Logout)
	api.Any("/proxy/*path", h.RelayHandler.Proxy)

	// ==================== Chat Relay ====================
	api.POST("/chat", h.RateLimit("chat"), h.ChatHandler.Chat)
	api.POST("/train", h.RateLimit("train"), h.ChatHandler.Train)

	logger.Debug("routes registered", zap.Int("count", len(r.Routes())))
}
