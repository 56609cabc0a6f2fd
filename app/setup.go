package app

import (
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/driftchat/api/api"
	"github.com/driftchat/api/config"
	"github.com/driftchat/api/database"
	"github.com/driftchat/api/router"
	"github.com/driftchat/api/services/blobstore"
	"github.com/driftchat/api/services/cron"
	"github.com/driftchat/api/utils/cache"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		return err
	}

	// Redis is optional; the hourly limiter degrades gracefully without it
	redisCache, err := cache.NewRedisCache(getEnv.REDIS_URL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Hourly rate limiting will be disabled.", err)
		redisCache = nil
	}

	// Blob storage for attachments and generated files
	blobs, err := blobstore.New(blobstore.Config{
		AccessKey: getEnv.SPACES_ACCESS_KEY,
		SecretKey: getEnv.SPACES_SECRET_KEY,
		Bucket:    getEnv.SPACES_BUCKET,
		Region:    getEnv.SPACES_REGION,
		Endpoint:  getEnv.SPACES_ENDPOINT,
	})
	if err != nil {
		return err
	}

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	deps := &router.Dependencies{
		Env:        getEnv,
		RedisCache: redisCache,
		Blobs:      blobs,
	}
	router.SetupRoutes(app, store, deps)

	// Scheduler for retention sweeps, quota resets and cleanup jobs
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		db, ok := store.GetDB().(*gorm.DB)
		if !ok {
			log.Println("Warning: Failed to get database connection for cron jobs")
		} else {
			cronManager = cron.NewCronManager(db, deps.Retention, deps.Linking, deps.Limits)
			if err := cronManager.Start(); err != nil {
				log.Printf("Warning: Failed to start cron jobs: %v", err)
			}
		}
	}

	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		if redisCache != nil {
			redisCache.Close()
		}
		store.Close()
	}()

	return server.Run()
}
