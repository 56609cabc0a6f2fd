package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/blobstore"
)

const (
	// sweepChatBatch bounds how many deleted chats one sweep pass handles
	sweepChatBatch = 25
	// sweepMessageBatch bounds each message purge sub-batch within a chat
	sweepMessageBatch = 100
	// deletionGracePeriod keeps soft-deleted chats recoverable for a while
	deletionGracePeriod = 5 * time.Minute
	// pendingReapAge is how long a pending message may sit without progress
	// before the reaper finalizes it as failed
	pendingReapAge = 10 * time.Minute
)

// RetentionService purges soft-deleted chats and their blobs, and cleans up
// generations that died without finalizing.
type RetentionService struct {
	db    *gorm.DB
	blobs blobstore.Store
}

// NewRetentionService creates a new retention service
func NewRetentionService(db *gorm.DB, blobs blobstore.Store) *RetentionService {
	return &RetentionService{db: db, blobs: blobs}
}

// SweepStats summarizes one sweep pass
type SweepStats struct {
	ChatsPurged    int `json:"chats_purged"`
	MessagesPurged int `json:"messages_purged"`
	BlobsDeleted   int `json:"blobs_deleted"`
	ChatsFailed    int `json:"chats_failed"`
}

// Sweep permanently removes a bounded batch of soft-deleted chats whose
// grace period has passed. A chat that fails to purge is flagged and skipped
// by later sweeps so one bad row cannot wedge the job.
func (s *RetentionService) Sweep(ctx context.Context) (*SweepStats, error) {
	db := s.db.WithContext(ctx)
	cutoff := time.Now().Add(-deletionGracePeriod).UnixMilli()

	var chats []model.Chat
	err := db.Where("visibility = ? AND deletion_failed = ? AND delete_time < ?",
		model.VisibilityDeleted, false, cutoff).
		Order("delete_time").
		Limit(sweepChatBatch).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted chats: %w", err)
	}

	stats := &SweepStats{}
	for i := range chats {
		chat := &chats[i]
		if err := s.purgeChat(ctx, db, chat, stats); err != nil {
			log.Printf("[Retention] Failed to purge chat %s: %v", chat.ID, err)
			stats.ChatsFailed++
			if err := db.Model(&model.Chat{}).Where("id = ?", chat.ID).
				Update("deletion_failed", true).Error; err != nil {
				log.Printf("[Retention] Failed to flag chat %s: %v", chat.ID, err)
			}
			continue
		}
		stats.ChatsPurged++
	}
	return stats, nil
}

// purgeChat deletes a chat's messages in bounded sub-batches, removing their
// attachment blobs along the way, then drops the chat row
func (s *RetentionService) purgeChat(ctx context.Context, db *gorm.DB, chat *model.Chat, stats *SweepStats) error {
	for {
		var batch []model.Message
		err := db.Select("id", "attachments").
			Where("chat_id = ?", chat.ID).
			Limit(sweepMessageBatch).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]string, 0, len(batch))
		for i := range batch {
			msg := &batch[i]
			ids = append(ids, msg.ID)
			for _, a := range msg.Attachments {
				if a.BlobID == "" {
					continue
				}
				if err := s.blobs.Delete(ctx, a.BlobID); err != nil {
					return fmt.Errorf("failed to delete blob %s: %w", a.BlobID, err)
				}
				stats.BlobsDeleted++
			}
		}
		if err := db.Where("id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete message batch: %w", err)
		}
		stats.MessagesPurged += len(ids)
	}

	if err := db.Where("id = ?", chat.ID).Delete(&model.Chat{}).Error; err != nil {
		return fmt.Errorf("failed to delete chat row: %w", err)
	}
	return nil
}

// ReapStuckPending finalizes assistant placeholders whose generation died
// without reaching a terminal state. Active streams keep touching their row,
// so only genuinely abandoned ones age past the threshold.
func (s *RetentionService) ReapStuckPending(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-pendingReapAge)
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("status = ? AND updated_at < ?", model.MessageStatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":     model.MessageStatusCompleted,
			"end_reason": model.EndReasonError,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reap pending messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}
