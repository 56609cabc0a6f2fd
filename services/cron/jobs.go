package cron

import (
	"context"
	"fmt"
	"time"
)

// RunRetentionSweep purges a bounded batch of soft-deleted chats along with
// their messages and attachment blobs
func (m *CronManager) RunRetentionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	jobName := "retention_sweep"

	stats, err := m.retention.Sweep(ctx)
	if err != nil {
		m.logJobError(jobName, err)
		return
	}
	if stats.ChatsPurged == 0 && stats.ChatsFailed == 0 {
		m.logJobComplete(jobName, "No deleted chats to purge")
		return
	}
	m.logJobComplete(jobName, fmt.Sprintf(
		"Purged %d chats (%d messages, %d blobs), %d flagged as failed",
		stats.ChatsPurged, stats.MessagesPurged, stats.BlobsDeleted, stats.ChatsFailed))
}

// RunPendingReaper finalizes assistant messages whose generation never
// reached a terminal state
func (m *CronManager) RunPendingReaper() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	jobName := "reap_stuck_pending"

	reaped, err := m.retention.ReapStuckPending(ctx)
	if err != nil {
		m.logJobError(jobName, err)
		return
	}
	if reaped == 0 {
		m.logJobComplete(jobName, "No stuck generations found")
		return
	}
	m.logJobComplete(jobName, fmt.Sprintf("Finalized %d stuck generations", reaped))
}

// RunLinkingSweep drops account linking sessions past their redemption window
func (m *CronManager) RunLinkingSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	jobName := "sweep_linking_sessions"

	removed, err := m.linking.SweepStale(ctx)
	if err != nil {
		m.logJobError(jobName, err)
		return
	}
	m.logJobComplete(jobName, fmt.Sprintf("Removed %d expired sessions", removed))
}

// RunQuotaReset restores every user's daily message allowance
func (m *CronManager) RunQuotaReset() {
	jobName := "reset_daily_quotas"

	reset, err := m.limits.ResetDailyQuotas(m.db)
	if err != nil {
		m.logJobError(jobName, err)
		return
	}
	m.logJobComplete(jobName, fmt.Sprintf("Reset %d quota rows", reset))
}
