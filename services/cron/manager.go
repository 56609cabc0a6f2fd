package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services"
)

// CronManager runs the periodic maintenance jobs: retention sweeps, stuck
// generation reaping, linking session cleanup and daily quota resets.
type CronManager struct {
	cron      *cron.Cron
	db        *gorm.DB
	retention *services.RetentionService
	linking   *services.LinkingService
	limits    *services.RateLimitService
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, retention *services.RetentionService, linking *services.LinkingService, limits *services.RateLimitService) *CronManager {
	return &CronManager{
		cron:      cron.New(cron.WithSeconds()),
		db:        db,
		retention: retention,
		linking:   linking,
		limits:    limits,
	}
}

// Start registers and starts all jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

func (m *CronManager) registerJobs() error {
	// Every 30 minutes: purge soft-deleted chats past their grace period
	_, err := m.cron.AddFunc("0 */30 * * * *", func() {
		m.logJobStart("retention_sweep")
		m.RunRetentionSweep()
	})
	if err != nil {
		return err
	}

	// Every 10 minutes: finalize generations that died mid-stream
	_, err = m.cron.AddFunc("0 */10 * * * *", func() {
		m.logJobStart("reap_stuck_pending")
		m.RunPendingReaper()
	})
	if err != nil {
		return err
	}

	// Every 10 minutes: drop expired account linking sessions
	_, err = m.cron.AddFunc("0 5/10 * * * *", func() {
		m.logJobStart("sweep_linking_sessions")
		m.RunLinkingSweep()
	})
	if err != nil {
		return err
	}

	// Daily at midnight UTC: restore everyone's message allowance
	_, err = m.cron.AddFunc("0 0 0 * * *", func() {
		m.logJobStart("reset_daily_quotas")
		m.RunQuotaReset()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  datatypes.JSON("{}"),
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
