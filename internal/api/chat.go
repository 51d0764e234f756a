package api

import (
	"net/http"
	"strconv"

	"github.com/magicyang-1/chatshare-sub001/ai"
	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/internal/service"
	"github.com/magicyang-1/chatshare-sub001/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves chat sessions and their messages
type ChatHandler struct {
	sessions *service.SessionManager
}

func NewChatHandler(sessions *service.SessionManager) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

// RegisterRoutes mounts the chat routes on an authenticated group
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup) {
	chats := rg.Group("/chats")
	{
		chats.POST("", h.CreateChat)
		chats.GET("", h.ListChats)
		chats.GET("/:id", h.GetChat)
		chats.DELETE("/:id", h.DeleteChat)
		chats.GET("/:id/messages", h.ListMessages)
		chats.POST("/:id/messages", h.SendMessage)
		chats.PUT("/:id/title", h.RenameChat)
		chats.PUT("/:id/model", h.SetModel)
		chats.POST("/:id/favorite", h.ToggleFavorite)
		chats.POST("/:id/protection", h.ToggleProtection)
	}
}

type createChatRequest struct {
	Title   string `json:"title"`
	AIType  string `json:"aiType"`
	AIModel string `json:"aiModel"`
}

// CreateChat starts a new chat for the caller
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req createChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
			return
		}
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), service.CreateSessionRequest{
		OwnerID:    userID,
		Title:      req.Title,
		Capability: req.AIType,
		Model:      req.AIModel,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListChats returns a page of the caller's chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), userID, page, size)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chats": sessions,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// GetChat returns one chat
func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListMessages returns a chat's messages, oldest first
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	chatID := c.Param("id")
	messages, err := h.sessions.Messages(c.Request.Context(), chatID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chatId":   chatID,
		"messages": messages,
		"count":    len(messages),
	})
}

type sendMessageRequest struct {
	Content     string                        `json:"content"`
	Attachments []service.ClientAttachmentRef `json:"attachments"`
	AIType      string                        `json:"aiType"`
	AIModel     string                        `json:"aiModel"`
	Model       string                        `json:"model"`
	Options     ai.Options                    `json:"options"`
}

type sendMessageResponse struct {
	UserMessage           *models.Message               `json:"userMessage"`
	AssistantMessage      *models.Message               `json:"assistantMessage"`
	AIType                ai.Capability                 `json:"aiType"`
	State                 ai.State                      `json:"state"`
	ImageURL              string                        `json:"imageUrl,omitempty"`
	BoundAttachments      int                           `json:"boundAttachments"`
	UnresolvedAttachments []service.ClientAttachmentRef `json:"unresolvedAttachments,omitempty"`
}

// SendMessage runs one user turn. Provider failures still answer 200 with a degraded reply.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid request format"))
		return
	}

	model := req.AIModel
	if model == "" {
		model = req.Model
	}

	result, err := h.sessions.Send(c.Request.Context(), service.SendRequest{
		SessionID:   c.Param("id"),
		CallerID:    userID,
		Text:        req.Content,
		Attachments: req.Attachments,
		Capability:  req.AIType,
		Model:       model,
		Options:     req.Options,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, sendMessageResponse{
		UserMessage:           result.UserMessage,
		AssistantMessage:      result.AssistantMessage,
		AIType:                result.Outcome.Capability,
		State:                 result.Outcome.State,
		ImageURL:              result.Outcome.ImageURL,
		BoundAttachments:      result.BoundCount,
		UnresolvedAttachments: result.Unresolved,
	})
}

// RenameChat sets the chat title
func (h *ChatHandler) RenameChat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "title is required"))
		return
	}
	h.respondSession(c)(h.sessions.Rename(c.Request.Context(), c.Param("id"), userID, req.Title))
}

// SetModel sets the chat's preferred model
func (h *ChatHandler) SetModel(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req struct {
		AIModel string `json:"aiModel" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "aiModel is required"))
		return
	}
	h.respondSession(c)(h.sessions.SetModel(c.Request.Context(), c.Param("id"), userID, req.AIModel))
}

func (h *ChatHandler) ToggleFavorite(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	h.respondSession(c)(h.sessions.ToggleFavorite(c.Request.Context(), c.Param("id"), userID))
}

func (h *ChatHandler) ToggleProtection(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	h.respondSession(c)(h.sessions.ToggleProtection(c.Request.Context(), c.Param("id"), userID))
}

// DeleteChat removes a chat unless it is protected
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.sessions.DeleteSession(c.Request.Context(), c.Param("id"), userID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) respondSession(c *gin.Context) func(*models.ChatSession, error) {
	return func(session *models.ChatSession, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}
