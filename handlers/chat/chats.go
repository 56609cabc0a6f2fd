package chat

import (
	"github.com/gofiber/fiber/v2"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services"
	"github.com/driftchat/api/utils/middleware"
	"github.com/driftchat/api/utils/response"
	"github.com/driftchat/api/utils/validation"
)

// ChatHandler handles chat lifecycle requests
type ChatHandler struct {
	validator   *validation.Validator
	chatService *services.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{
		validator:   validation.NewValidator(),
		chatService: chatService,
	}
}

// CreateChatRequest represents the request to start a chat without sending
type CreateChatRequest struct {
	Title string `json:"title" validate:"omitempty,max=255"`
	Model string `json:"model" validate:"omitempty,max=100"`
}

// RenameRequest represents the request to rename a chat
type RenameRequest struct {
	Title string `json:"title" validate:"required,min=1,max=255"`
}

// VisibilityRequest represents the request to change listing state
type VisibilityRequest struct {
	Visibility string `json:"visibility" validate:"omitempty,oneof='' pinned archived private"`
}

// BranchRequest represents the request to branch at a message
type BranchRequest struct {
	MessageID string `json:"message_id" validate:"required,uuid4"`
	Model     string `json:"model" validate:"omitempty,max=100"`
}

// Create handles POST /api/v1/chats
func (h *ChatHandler) Create(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req CreateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	chat, err := h.chatService.Create(c.Context(), userID, services.CreateChatInput{
		Title: req.Title,
		Model: req.Model,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, chat)
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	list, err := h.chatService.List(c.Context(), userID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, list)
}

// Search handles GET /api/v1/chats/search?q=
func (h *ChatHandler) Search(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	query := c.Query("q", "")
	if query == "" {
		return response.BadRequest(c, "Missing search query")
	}

	chats, err := h.chatService.Search(c.Context(), userID, query, c.QueryInt("limit", 20))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, chats)
}

// Get handles GET /api/v1/chats/:id
func (h *ChatHandler) Get(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	chat, err := h.chatService.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, chat)
}

// Messages handles GET /api/v1/chats/:id/messages
func (h *ChatHandler) Messages(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	messages, err := h.chatService.Messages(c.Context(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, messages)
}

// Rename handles PATCH /api/v1/chats/:id
func (h *ChatHandler) Rename(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req RenameRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.chatService.Rename(c.Context(), userID, c.Params("id"), req.Title); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, fiber.Map{"renamed": true})
}

// SetVisibility handles PUT /api/v1/chats/:id/visibility
func (h *ChatHandler) SetVisibility(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req VisibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	err := h.chatService.SetVisibility(c.Context(), userID, c.Params("id"), model.Visibility(req.Visibility))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, fiber.Map{"visibility": req.Visibility})
}

// Delete handles DELETE /api/v1/chats/:id
func (h *ChatHandler) Delete(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	if err := h.chatService.SoftDelete(c.Context(), userID, c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Share handles POST /api/v1/chats/:id/share
func (h *ChatHandler) Share(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	snapshot, err := h.chatService.Share(c.Context(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, snapshot)
}

// Branch handles POST /api/v1/chats/:id/branch
func (h *ChatHandler) Branch(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req BranchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	branch, err := h.chatService.Branch(c.Context(), userID, c.Params("id"), req.MessageID, req.Model)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, branch)
}
