package handlers

import (
	"errors"
	"net/http"

	"quizzy-backend/logger"
	"quizzy-backend/models"
	"quizzy-backend/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler handles HTTP requests for the legal assistant
type ChatHandler struct {
	chatService *service.ChatService
	log         *logger.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		log:         log.With("handler", "ChatHandler"),
	}
}

// RegisterRoutes mounts the assistant routes on an authenticated group
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chat", h.Chat)
	rg.POST("/reinitialize", h.Reinitialize)
	rg.GET("/status", h.Status)
}

// ChatRequest represents the request body for a chat message
type ChatRequest struct {
	Message             string            `json:"message"`
	ConversationHistory []models.ChatTurn `json:"conversationHistory"`
}

// Chat handles POST /api/v1/ai/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	ctx := c.Request.Context()
	session, err := h.chatService.Open(ctx, service.ChatRequest{
		Message: req.Message,
		History: req.ConversationHistory,
	})
	if err != nil {
		h.failBeforeStream(c, err)
		return
	}
	defer session.Close()

	w := newSSEWriter(c)
	err = session.Run(ctx, w)
	switch {
	case err == nil:
		h.log.Debug("chat completed", "sources", len(session.Sources()))
	case !w.Started():
		h.failBeforeStream(c, err)
	case errors.Is(err, service.ErrAborted):
		h.log.Info("chat aborted by client", "error", err.Error())
	default:
		// The stream is cut without a terminal frame
		h.log.Warn("chat failed mid-stream", "error", err.Error())
	}
}

func (h *ChatHandler) failBeforeStream(c *gin.Context, err error) {
	if errors.Is(err, service.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Le message est requis",
				"details": err.Error(),
			},
		})
		return
	}
	if errors.Is(err, service.ErrAborted) {
		h.log.Info("chat aborted before streaming", "error", err.Error())
		return
	}

	h.log.Error("chat failed", "error", err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "GENERATION_FAILED",
			"message": "Erreur lors de la génération de la réponse",
			"details": err.Error(),
		},
	})
}

// Reinitialize handles POST /api/v1/ai/reinitialize
func (h *ChatHandler) Reinitialize(c *gin.Context) {
	count, err := h.chatService.Reinitialize(c.Request.Context())
	if err != nil {
		h.log.Error("reinitialize failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "REINITIALIZE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Vector store réinitialisé avec succès",
		"documentsCount": count,
	})
}

// Status handles GET /api/v1/ai/status
func (h *ChatHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.chatService.Status(),
	})
}
