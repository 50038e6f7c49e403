package handler

import (
	"errors"
	"net/http"

	"sharecare/internal/model"
	"sharecare/internal/repo"
	"sharecare/internal/service"

	"github.com/gin-gonic/gin"
)

type ChatHandler interface {
	CreateChat(c *gin.Context)
	ListChats(c *gin.Context)
	GetMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	RequestReveal(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(service service.ChatService) ChatHandler {
	return &chatHandler{service: service}
}

type createChatRequest struct {
	Participants []model.Participant `json:"participants"`
	Context      model.ChatContext   `json:"context"`

	// Direct-message shorthand
	TargetUserID  string `json:"targetUserId"`
	CurrentUserID string `json:"currentUserId"`
}

type sendMessageRequest struct {
	SenderID string `json:"senderId" binding:"required"`
	Text     string `json:"text"`
	Kind     string `json:"kind"`
	MediaURL string `json:"mediaUrl"`
}

type revealRequest struct {
	UserID string `json:"userId" binding:"required"`
	Action string `json:"action" binding:"required"`
}

func (h *chatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
		return
	}

	participants := req.Participants
	chatCtx := req.Context

	// Direct messages skip the anonymity flow: both sides already chose
	// each other by name.
	if req.TargetUserID != "" && req.CurrentUserID != "" {
		participants = []model.Participant{
			{UserID: req.CurrentUserID, Role: model.RoleRequester, IdentityRevealed: true},
			{UserID: req.TargetUserID, Role: model.RoleDonor, IdentityRevealed: true},
		}
		chatCtx = model.ChatContext{Kind: model.ContextDirect, ItemID: "direct_inquiry"}
	}

	chat, created, err := h.service.CreateChat(c.Request.Context(), participants, chatCtx)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"success": true, "data": chat}
	if !created {
		resp["message"] = "Chat exists"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *chatHandler) ListChats(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "User ID required"})
		return
	}

	chats, err := h.service.ListChats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": chats})
}

func (h *chatHandler) GetMessages(c *gin.Context) {
	msgs, err := h.service.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": msgs})
}

func (h *chatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), c.Param("id"), req.SenderID, req.Text, req.Kind, req.MediaURL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
}

func (h *chatHandler) RequestReveal(c *gin.Context) {
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
		return
	}

	chat, err := h.service.RequestReveal(c.Request.Context(), c.Param("id"), req.UserID, req.Action)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": chat})
}

// respondError maps service errors onto the side-channel's
// machine-distinguishable reasons.
func respondError(c *gin.Context, err error) {
	var blocked *service.BlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":    false,
			"error":      "Message Blocked",
			"reason":     blocked.Reason,
			"violations": blocked.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, repo.ErrChatNotFound), errors.Is(err, repo.ErrInvalidChatID):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Chat not found"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Unauthorized"})
	case errors.Is(err, service.ErrChatExpired):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Chat has expired"})
	case errors.Is(err, repo.ErrAlreadyRevealed):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Already revealed"})
	case errors.Is(err, service.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid action"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
	}
}
