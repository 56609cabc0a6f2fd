package user

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/auth"
	"github.com/driftchat/api/utils/middleware"
	"github.com/driftchat/api/utils/response"
	"github.com/driftchat/api/utils/validation"
)

// UserHandler handles session bootstrap, profile and model preferences
type UserHandler struct {
	db         *gorm.DB
	validator  *validation.Validator
	jwtManager *auth.JWTManager
	limits     *services.RateLimitService
}

// NewUserHandler creates a new user handler
func NewUserHandler(db *gorm.DB, jwtManager *auth.JWTManager, limits *services.RateLimitService) *UserHandler {
	return &UserHandler{
		db:         db,
		validator:  validation.NewValidator(),
		jwtManager: jwtManager,
		limits:     limits,
	}
}

// Anonymous handles POST /api/v1/auth/anonymous. It mints a throwaway user
// and a token for it, so people can try the app before signing in.
func (h *UserHandler) Anonymous(c *fiber.Ctx) error {
	newUser := model.User{IsAnonymous: true}
	if err := h.db.Create(&newUser).Error; err != nil {
		return response.InternalServerError(c, "Failed to create session")
	}

	token, err := h.jwtManager.GenerateToken(newUser.ID, true)
	if err != nil {
		return response.InternalServerError(c, "Failed to issue token")
	}
	return response.Created(c, fiber.Map{
		"user":  newUser,
		"token": token,
	})
}

// Me handles GET /api/v1/me: the profile plus the remaining daily allowance
func (h *UserHandler) Me(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var u model.User
	if err := h.db.Where("id = ?", userID).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "User not found")
		}
		return response.InternalServerError(c, "Failed to load user")
	}

	remaining, err := h.limits.RemainingDaily(h.db, userID)
	if err != nil {
		return response.InternalServerError(c, "Failed to load quota")
	}
	return response.Success(c, fiber.Map{
		"user":          u,
		"messages_left": remaining,
	})
}

// ListModels handles GET /api/v1/models, returning the static catalog
func (h *UserHandler) ListModels(c *fiber.Ctx) error {
	return response.Success(c, provider.Catalog)
}

// FavoriteModelsRequest represents the request to replace the favorites list
type FavoriteModelsRequest struct {
	Models []string `json:"models" validate:"required,max=20,dive,max=100"`
}

// SetFavoriteModels handles PUT /api/v1/me/favorite-models
func (h *UserHandler) SetFavoriteModels(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req FavoriteModelsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	for _, id := range req.Models {
		if _, ok := provider.Find(id); !ok {
			return response.BadRequest(c, "Unknown model "+id)
		}
	}

	err := h.db.Model(&model.User{}).
		Where("id = ?", userID).
		Update("favorite_models", model.FavoriteModels(req.Models)).Error
	if err != nil {
		return response.InternalServerError(c, "Failed to update favorites")
	}
	return response.Success(c, fiber.Map{"models": req.Models})
}
