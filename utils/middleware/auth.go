package middleware

import (
	"strings"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/utils/auth"
	"github.com/driftchat/api/utils/response"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthMiddleware verifies bearer tokens issued by the identity provider and
// mirrors the identity into the users table on first sight.
type AuthMiddleware struct {
	jwtManager *auth.JWTManager
	db         *gorm.DB
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *auth.JWTManager, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
		db:         db,
	}
}

// Required is middleware that requires a valid JWT token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization token")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Unauthorized(c, "Invalid authorization format")
		}

		claims, err := m.jwtManager.ValidateToken(parts[1])
		if err != nil {
			if err == auth.ErrExpiredToken {
				return response.Unauthorized(c, "Token has expired")
			}
			return response.Unauthorized(c, "Invalid token")
		}

		// Upsert the user row so services can rely on it existing.
		user := model.User{
			ID:          claims.UserID,
			IsAnonymous: claims.Anonymous,
			Name:        claims.Name,
			Email:       claims.Email,
		}
		if err := m.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&user).Error; err != nil {
			return response.InternalServerError(c, "Failed to load user")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("user_anonymous", claims.Anonymous)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// GetUserID extracts the authenticated user id from context
func GetUserID(c *fiber.Ctx) (string, bool) {
	userID := c.Locals("user_id")
	if userID == nil {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

// IsAnonymous reports whether the authenticated user is an anonymous session
func IsAnonymous(c *fiber.Ctx) bool {
	anon, ok := c.Locals("user_anonymous").(bool)
	return ok && anon
}

// GetClaims extracts full claims from context
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims := c.Locals("claims")
	if claims == nil {
		return nil, false
	}
	claimsData, ok := claims.(*auth.Claims)
	return claimsData, ok
}
