// internal/handlers/chat/chat_handler.go
package chat

import (
	"errors"
	"net/http"

	"recipe-gateway/internal/domain/chat"
	xerrors "recipe-gateway/internal/pkg/errors"
	"recipe-gateway/internal/pkg/response"
	chatsvc "recipe-gateway/internal/service/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler struct {
	service *chatsvc.ChatService
	logger  *zap.Logger
}

func NewChatHandler(service *chatsvc.ChatService, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// Chat answers one message using retrieved recipe documents as context.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	if req.Message == "" {
		response.ValidationError(c, "No message provided", nil)
		return
	}
	if !h.service.Configured() {
		response.Error(c, http.StatusInternalServerError, "Server not configured with LLM API key", nil)
		return
	}

	answer, err := h.service.Ask(c.Request.Context(), req.Message, req.System)
	if err != nil {
		var ue *xerrors.UpstreamError
		if errors.As(err, &ue) {
			h.logger.Warn("chat completion failed", zap.Stringer("kind", ue.Kind), zap.Int("status", ue.Status))
			upstreamFailure(c, http.StatusBadGateway, "Upstream error", ue)
			return
		}
		h.logger.Error("chat route error", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "chat failed", err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// Train forwards a training job to the vector backend.
func (h *ChatHandler) Train(c *gin.Context) {
	var req chat.TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	if req.SourceURL == "" {
		response.ValidationError(c, "source_url is required", nil)
		return
	}

	data, err := h.service.Train(c.Request.Context(), req)
	if err != nil {
		var ue *xerrors.UpstreamError
		if errors.As(err, &ue) {
			status := ue.Status
			if status == 0 {
				status = http.StatusBadGateway
			}
			h.logger.Warn("train relay failed", zap.Stringer("kind", ue.Kind), zap.Int("status", ue.Status))
			upstreamFailure(c, status, "Train API error", ue)
			return
		}
		h.logger.Error("train route error", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "train failed", err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// upstreamFailure writes {error, details} where details is the upstream body
// or the transport error.
func upstreamFailure(c *gin.Context, status int, message string, ue *xerrors.UpstreamError) {
	details := string(ue.Body)
	if ue.Err != nil {
		details = ue.Err.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "details": details})
}
