package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/driftchat/api/database"
	"github.com/driftchat/api/utils/cache"
	"github.com/driftchat/api/utils/response"
)

// HealthHandler reports liveness of the API and its backing stores
type HealthHandler struct {
	store      database.Storage
	redisCache *cache.RedisCache
}

// NewHealthHandler creates a new health handler. redisCache may be nil.
func NewHealthHandler(store database.Storage, redisCache *cache.RedisCache) *HealthHandler {
	return &HealthHandler{store: store, redisCache: redisCache}
}

// Check handles GET /ping
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := fiber.Map{
		"status":   "ok",
		"database": "ok",
		"cache":    "ok",
	}

	if err := h.store.HealthCheck(); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	}
	if h.redisCache == nil {
		status["cache"] = "disabled"
	} else if err := h.redisCache.GetClient().Ping(c.Context()).Err(); err != nil {
		status["status"] = "degraded"
		status["cache"] = err.Error()
	}
	return response.Success(c, status)
}
