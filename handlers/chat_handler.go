package handlers

import (
	"context"
	"net/http"

	"github.com/NomadCrew/chatpulse-backend/middleware"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/gin-gonic/gin"
)

// ChatNotifier accepts chat messages and reports the sender's counters.
type ChatNotifier interface {
	Notify(ctx context.Context, userKey, message string) (*types.NotifyResponse, error)
	Stats(ctx context.Context, userKey string) (*types.ChatStats, error)
}

type ChatHandler struct {
	chat ChatNotifier
}

func NewChatHandler(chat ChatNotifier) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Notify godoc
// @Summary Send a chat message
// @Description Broadcasts the message to chat-room subscribers, or queues it when queued delivery is on
// @Tags chat
// @Accept json
// @Produce json
// @Param request body types.NotifyRequest true "Message"
// @Success 200 {object} types.NotifyResponse
// @Failure 400 {object} map[string]interface{} "Missing or too long message"
// @Failure 429 {object} map[string]interface{} "Too many messages, see retry_after"
// @Failure 500 {object} map[string]interface{} "Broadcast failed"
// @Router /notify [post]
func (h *ChatHandler) Notify(c *gin.Context) {
	var req types.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	resp, err := h.chat.Notify(c.Request.Context(), middleware.ClientKey(c), req.Message)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stats godoc
// @Summary Chat counters
// @Tags chat
// @Produce json
// @Success 200 {object} types.ChatStats
// @Router /chat/stats [get]
func (h *ChatHandler) Stats(c *gin.Context) {
	stats, err := h.chat.Stats(c.Request.Context(), middleware.ClientKey(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
