package router

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/driftchat/api/config"
	"github.com/driftchat/api/database"
	"github.com/driftchat/api/handlers"
	chat_handlers "github.com/driftchat/api/handlers/chat"
	linking_handlers "github.com/driftchat/api/handlers/linking"
	upload_handlers "github.com/driftchat/api/handlers/upload"
	user_handlers "github.com/driftchat/api/handlers/user"
	"github.com/driftchat/api/services"
	"github.com/driftchat/api/services/blobstore"
	"github.com/driftchat/api/utils/auth"
	"github.com/driftchat/api/utils/cache"
	"github.com/driftchat/api/utils/middleware"
)

// Dependencies collects everything the routes need beyond the database
type Dependencies struct {
	Env        *config.EnvironmentVariable
	RedisCache *cache.RedisCache
	Blobs      blobstore.Store

	// Filled in by SetupRoutes so the caller can hand them to the scheduler
	Retention *services.RetentionService
	Linking   *services.LinkingService
	Limits    *services.RateLimitService
}

// SetupRoutes wires services and handlers onto the Fiber app
func SetupRoutes(app *fiber.App, store database.Storage, deps *Dependencies) {
	env := deps.Env
	if env.JWT_SECRET == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: env.JWT_SECRET,
		Expiry: 24 * time.Hour,
		Issuer: env.JWT_ISSUER,
	})

	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)

	// Services
	limitService := services.NewRateLimitService(deps.RedisCache, env.MESSAGES_PER_DAY)
	attachmentService := services.NewAttachmentService(deps.Blobs)
	chatService := services.NewChatService(db)
	responseService := services.NewResponseService(db, chatService, attachmentService, deps.Blobs, env.OPENROUTER_API_KEY)
	messageService := services.NewMessageService(db, chatService, limitService, attachmentService, responseService)
	linkingService := services.NewLinkingService(db)
	retentionService := services.NewRetentionService(db, deps.Blobs)

	deps.Retention = retentionService
	deps.Linking = linkingService
	deps.Limits = limitService

	// Handlers
	healthHandler := handlers.NewHealthHandler(store, deps.RedisCache)
	userHandler := user_handlers.NewUserHandler(db, jwtManager, limitService)
	chatHandler := chat_handlers.NewChatHandler(chatService)
	messageHandler := chat_handlers.NewMessageHandler(messageService)
	uploadHandler := upload_handlers.NewUploadHandler(deps.Blobs, attachmentService)
	linkingHandler := linking_handlers.NewLinkingHandler(linkingService)

	// Security middleware
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,
		RateLimitWindow:   1 * time.Minute,
	})

	// Health check endpoint (public)
	app.Get("/ping", healthHandler.Check)

	// API v1 group
	api := app.Group("/api/v1")

	// Session bootstrap (public)
	api.Post("/auth/anonymous", userHandler.Anonymous)

	// Model catalog (public)
	api.Get("/models", userHandler.ListModels)

	// Profile routes
	api.Get("/me", authMiddleware.Required(), userHandler.Me)
	api.Put("/me/favorite-models", authMiddleware.Required(), userHandler.SetFavoriteModels)

	// Chat routes
	chats := api.Group("/chats", authMiddleware.Required())
	chats.Post("/", chatHandler.Create)
	chats.Get("/", chatHandler.List)
	chats.Get("/search", chatHandler.Search)
	chats.Get("/:id", chatHandler.Get)
	chats.Patch("/:id", chatHandler.Rename)
	chats.Delete("/:id", chatHandler.Delete)
	chats.Put("/:id/visibility", chatHandler.SetVisibility)
	chats.Post("/:id/share", chatHandler.Share)
	chats.Post("/:id/branch", chatHandler.Branch)
	chats.Get("/:id/messages", chatHandler.Messages)

	// Message routes
	messages := api.Group("/messages", authMiddleware.Required())
	messages.Post("/", messageHandler.Send)
	messages.Get("/:id", messageHandler.Get)
	messages.Get("/:id/stream", messageHandler.Stream)

	// Upload routes
	uploads := api.Group("/uploads", authMiddleware.Required())
	uploads.Post("/", uploadHandler.Presign)
	uploads.Get("/:id", uploadHandler.Download)
	uploads.Delete("/:id", uploadHandler.Remove)

	// Account linking routes
	linking := api.Group("/linking", authMiddleware.Required())
	linking.Post("/sessions", linkingHandler.CreateSession)
	linking.Post("/link", linkingHandler.Link)
}
