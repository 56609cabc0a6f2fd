package linking

import (
	"github.com/gofiber/fiber/v2"

	"github.com/driftchat/api/services"
	"github.com/driftchat/api/utils/middleware"
	"github.com/driftchat/api/utils/response"
	"github.com/driftchat/api/utils/validation"
)

// LinkingHandler handles anonymous-to-account transfer requests
type LinkingHandler struct {
	validator      *validation.Validator
	linkingService *services.LinkingService
}

// NewLinkingHandler creates a new linking handler
func NewLinkingHandler(linkingService *services.LinkingService) *LinkingHandler {
	return &LinkingHandler{
		validator:      validation.NewValidator(),
		linkingService: linkingService,
	}
}

// LinkRequest represents the request to redeem a transfer code
type LinkRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid4"`
	Token     string `json:"token" validate:"required,len=32"`
}

// CreateSession handles POST /api/v1/linking/sessions. Called from the
// anonymous session; the returned code is redeemed from the real account.
func (h *LinkingHandler) CreateSession(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	sessionID, token, err := h.linkingService.CreateSession(c.Context(), userID, middleware.IsAnonymous(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, fiber.Map{
		"session_id": sessionID,
		"token":      token,
	})
}

// Link handles POST /api/v1/linking/link, moving the anonymous session's
// chats into the calling account
func (h *LinkingHandler) Link(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	err := h.linkingService.Link(c.Context(), userID, middleware.IsAnonymous(c), req.SessionID, req.Token)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, fiber.Map{"linked": true})
}
