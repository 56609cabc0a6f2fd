package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/utils/apperr"
)

const (
	// backfillBatchSize bounds each message copy batch during a clone backfill
	backfillBatchSize = 100
	// recentChatsLimit caps the sidebar listing
	recentChatsLimit = 100
	defaultChatTitle = "New Chat"
	derivedTitleMax  = 50
)

// ChatService handles chat lifecycle: creation, listing, lineage clones
// (branch, share, fork) and the message views over them.
type ChatService struct {
	db *gorm.DB
}

// NewChatService creates a new chat service
func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// CreateChatInput carries the fields a new chat can be seeded with
type CreateChatInput struct {
	Title       string
	Content     string
	Attachments []model.Attachment
	Model       string
}

// DeriveTitle picks a title for a new chat: the explicit title, else the
// first line of the message, else the first attachment's name.
func DeriveTitle(in CreateChatInput) string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	content := strings.TrimSpace(in.Content)
	if content != "" {
		if idx := strings.IndexByte(content, '\n'); idx >= 0 {
			content = content[:idx]
		}
		runes := []rune(content)
		if len(runes) > derivedTitleMax {
			content = string(runes[:derivedTitleMax])
		}
		if content != "" {
			return content
		}
	}
	if len(in.Attachments) > 0 && in.Attachments[0].FileName != "" {
		return in.Attachments[0].FileName
	}
	return defaultChatTitle
}

// Create starts a new chat owned by the user
func (s *ChatService) Create(ctx context.Context, userID string, in CreateChatInput) (*model.Chat, error) {
	return s.createIn(s.db.WithContext(ctx), userID, in)
}

func (s *ChatService) createIn(db *gorm.DB, userID string, in CreateChatInput) (*model.Chat, error) {
	chat := &model.Chat{
		Title:   DeriveTitle(in),
		OwnerID: userID,
		Model:   in.Model,
	}
	if err := db.Create(chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// Get loads a chat the user may read. Shared chats are readable by anyone
// holding the id; everything else only by its owner. Deleted chats read as
// missing.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.IsDeleted() {
		return nil, apperr.ErrNotFound
	}
	if !chat.IsShared() && chat.OwnerID != userID {
		return nil, apperr.ErrNotFound
	}
	return &chat, nil
}

// ChatList groups the sidebar listing
type ChatList struct {
	Pinned []model.Chat `json:"pinned"`
	Recent []model.Chat `json:"recent"`
}

// List returns the user's pinned and recent chats ordered by last activity
func (s *ChatService) List(ctx context.Context, userID string) (*ChatList, error) {
	db := s.db.WithContext(ctx)
	var out ChatList
	if err := db.Where("owner_id = ? AND visibility = ?", userID, model.VisibilityPinned).
		Order("last_message_time DESC").
		Find(&out.Pinned).Error; err != nil {
		return nil, fmt.Errorf("failed to list pinned chats: %w", err)
	}
	if err := db.Where("owner_id = ? AND visibility = ?", userID, model.VisibilityNormal).
		Order("last_message_time DESC").
		Limit(recentChatsLimit).
		Find(&out.Recent).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent chats: %w", err)
	}
	return &out, nil
}

// Search finds the user's chats by title substring. Deleted, private and
// share snapshots stay out of the results.
func (s *ChatService) Search(ctx context.Context, userID, query string, limit int) ([]model.Chat, error) {
	if limit <= 0 || limit > recentChatsLimit {
		limit = 20
	}
	var chats []model.Chat
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Where("visibility NOT IN ?", []model.Visibility{model.VisibilityDeleted, model.VisibilityPrivate}).
		Where("lineage <> ?", model.LineageShare).
		Where("LOWER(title) LIKE ?", "%"+strings.ToLower(query)+"%").
		Order("last_message_time DESC").
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search chats: %w", err)
	}
	return chats, nil
}

// getOwned loads a chat for mutation: owner only, never deleted, never a
// published share (shares are immutable snapshots).
func (s *ChatService) getOwned(db *gorm.DB, userID, chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := db.Where("id = ? AND owner_id = ?", chatID, userID).First(&chat).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.IsDeleted() {
		return nil, apperr.ErrNotFound
	}
	if chat.IsShared() {
		return nil, apperr.ErrUnauthorized
	}
	return &chat, nil
}

// Rename updates a chat's title
func (s *ChatService) Rename(ctx context.Context, userID, chatID, title string) error {
	db := s.db.WithContext(ctx)
	chat, err := s.getOwned(db, userID, chatID)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.Validationf("title must not be empty")
	}
	return db.Model(chat).Updates(map[string]interface{}{
		"title":       title,
		"update_time": time.Now().UnixMilli(),
	}).Error
}

// SetVisibility moves a chat between the normal, pinned, archived and
// private states. Deletion goes through SoftDelete.
func (s *ChatService) SetVisibility(ctx context.Context, userID, chatID string, v model.Visibility) error {
	switch v {
	case model.VisibilityNormal, model.VisibilityPinned, model.VisibilityArchived, model.VisibilityPrivate:
	default:
		return apperr.Validationf("invalid visibility %q", v)
	}
	db := s.db.WithContext(ctx)
	chat, err := s.getOwned(db, userID, chatID)
	if err != nil {
		return err
	}
	return db.Model(chat).Updates(map[string]interface{}{
		"visibility":  v,
		"update_time": time.Now().UnixMilli(),
	}).Error
}

// SoftDelete hides a chat and stamps it for the retention sweeper. Owners
// may delete their share snapshots too.
func (s *ChatService) SoftDelete(ctx context.Context, userID, chatID string) error {
	db := s.db.WithContext(ctx)
	var chat model.Chat
	err := db.Where("id = ? AND owner_id = ?", chatID, userID).First(&chat).Error
	if err == gorm.ErrRecordNotFound {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.IsDeleted() {
		return nil
	}
	now := time.Now().UnixMilli()
	return db.Model(&chat).Updates(map[string]interface{}{
		"visibility":  model.VisibilityDeleted,
		"delete_time": now,
		"update_time": now,
	}).Error
}

// Share publishes an immutable snapshot of the chat. The snapshot is a new
// chat with share lineage whose messages are copied in the background;
// readers see a merged view until the copy finishes.
func (s *ChatService) Share(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	db := s.db.WithContext(ctx)
	chat, err := s.getOwned(db, userID, chatID)
	if err != nil {
		return nil, err
	}
	clone, err := s.cloneIn(db, userID, chat, nil, model.LineageShare, chat.Model)
	if err != nil {
		return nil, err
	}
	s.StartBackfill(clone.ID)
	return clone, nil
}

// Branch forks the conversation at a specific message into a new editable
// chat, optionally switching models. Works on own chats and on shared ones.
func (s *ChatService) Branch(ctx context.Context, userID, chatID, messageID, modelID string) (*model.Chat, error) {
	chat, err := s.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var ref model.Message
	err = db.Where("id = ? AND chat_id = ?", messageID, chat.ID).First(&ref).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch point: %w", err)
	}

	newModel := chat.Model
	if modelID != "" {
		newModel = modelID
	}
	clone, err := s.cloneIn(db, userID, chat, &ref.ID, model.LineageBranch, newModel)
	if err != nil {
		return nil, err
	}
	s.StartBackfill(clone.ID)
	return clone, nil
}

// ForkShared creates the caller's own editable copy of a shared chat. Used
// when someone sends a message into a share. Runs inside the caller's
// transaction; the caller launches the backfill after commit.
func (s *ChatService) ForkShared(tx *gorm.DB, userID string, shared *model.Chat) (*model.Chat, error) {
	if !shared.IsShared() {
		return nil, apperr.ErrUnauthorized
	}
	return s.cloneIn(tx, userID, shared, nil, model.LineageBranch, shared.Model)
}

// cloneIn creates the clone row. A nil refID snapshots the parent at its
// latest message. The clone starts unbackfilled unless the copy range is
// empty.
func (s *ChatService) cloneIn(db *gorm.DB, ownerID string, parent *model.Chat, refID *string, lineage model.LineageKind, modelID string) (*model.Chat, error) {
	if refID == nil {
		var last model.Message
		err := db.Where("chat_id = ?", parent.ID).
			Order("update_time DESC, created_at DESC, id DESC").
			First(&last).Error
		if err == nil {
			refID = &last.ID
		} else if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to find snapshot point: %w", err)
		}
	}

	clone := &model.Chat{
		Title:              parent.Title,
		OwnerID:            ownerID,
		Model:              modelID,
		Lineage:            lineage,
		ParentChatID:       &parent.ID,
		ReferenceMessageID: refID,
		Backfilled:         refID == nil, // nothing to copy from an empty parent
	}
	if err := db.Create(clone).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat clone: %w", err)
	}
	return clone, nil
}

// StartBackfill launches the message copy for a clone in the background
func (s *ChatService) StartBackfill(chatID string) {
	go func() {
		if err := s.Backfill(context.Background(), chatID); err != nil {
			log.Printf("[Chat] Backfill failed for chat %s: %v", chatID, err)
		}
	}()
}

// Backfill copies the parent's messages into a clone in bounded batches,
// in merge order, then marks the clone complete. Safe to re-run: already
// copied messages are skipped by offset.
func (s *ChatService) Backfill(ctx context.Context, chatID string) error {
	db := s.db.WithContext(ctx)

	var clone model.Chat
	if err := db.Where("id = ?", chatID).First(&clone).Error; err != nil {
		return fmt.Errorf("failed to load clone: %w", err)
	}
	if clone.Backfilled || clone.ParentChatID == nil {
		return nil
	}

	ref, err := s.referenceMessage(db, &clone)
	if err != nil {
		return err
	}
	if ref == nil {
		// Snapshot point is gone; nothing left to copy
		if err := db.Model(&model.Chat{}).Where("id = ?", clone.ID).
			Update("backfilled", true).Error; err != nil {
			return fmt.Errorf("failed to mark clone backfilled: %w", err)
		}
		return nil
	}

	// The resume offset counts only backfilled copies, i.e. rows sorting at
	// or before the snapshot point. A fork already holds the message that
	// triggered it; those rows sort after the snapshot and must not shift
	// the copy window past uncopied parent history.
	var copied int64
	err = db.Model(&model.Message{}).
		Where("chat_id = ?", clone.ID).
		Where("update_time < ? OR (update_time = ? AND created_at <= ?)",
			ref.UpdateTime, ref.UpdateTime, ref.CreatedAt).
		Count(&copied).Error
	if err != nil {
		return fmt.Errorf("failed to count copied messages: %w", err)
	}

	var lastCopied *model.Message
	for {
		var batch []model.Message
		err := db.Where("chat_id = ?", *clone.ParentChatID).
			Order("update_time, created_at, id").
			Offset(int(copied)).
			Limit(backfillBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to read parent messages: %w", err)
		}

		done := false
		for i := range batch {
			msg := &batch[i]
			if ref.OrderedBefore(msg) {
				done = true
				break
			}
			cp := copyMessage(msg, clone.ID)
			if err := db.Create(cp).Error; err != nil {
				return fmt.Errorf("failed to copy message: %w", err)
			}
			lastCopied = cp
			copied++
		}
		if done || len(batch) < backfillBatchSize {
			break
		}
	}

	// Completion also adopts the last copied message's model and refreshes
	// the activity timestamp, so the clone lands where the copied
	// conversation left off.
	updates := map[string]interface{}{
		"backfilled":        true,
		"last_message_time": time.Now().UnixMilli(),
	}
	if lastCopied != nil && lastCopied.Model != "" {
		updates["model"] = lastCopied.Model
	}
	if err := db.Model(&model.Chat{}).Where("id = ?", clone.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark clone backfilled: %w", err)
	}
	log.Printf("[Chat] Backfilled chat %s with %d messages", clone.ID, copied)
	return nil
}

func (s *ChatService) referenceMessage(db *gorm.DB, clone *model.Chat) (*model.Message, error) {
	if clone.ReferenceMessageID == nil {
		return nil, nil
	}
	var ref model.Message
	err := db.Where("id = ?", *clone.ReferenceMessageID).First(&ref).Error
	if err == gorm.ErrRecordNotFound {
		// Snapshot point was deleted from under us; copy nothing further
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference message: %w", err)
	}
	return &ref, nil
}

// copyMessage clones a parent message for a derived chat. Ordering fields
// are preserved so the copy sorts exactly where the original did. A pending
// placeholder in the parent is frozen as-is; its generation belongs to the
// parent chat and will never finish here.
func copyMessage(src *model.Message, chatID string) *model.Message {
	cp := &model.Message{
		ChatID:      chatID,
		Role:        src.Role,
		Content:     src.Content,
		Reasoning:   src.Reasoning,
		Attachments: src.Attachments,
		ToolCalls:   src.ToolCalls,
		Sources:     src.Sources,
		Model:       src.Model,
		Status:      src.Status,
		EndReason:   src.EndReason,
		UpdateTime:  src.UpdateTime,
		CreatedAt:   src.CreatedAt,
	}
	if cp.Status == model.MessageStatusPending {
		cp.Status = model.MessageStatusCompleted
		cp.EndReason = model.EndReasonUnknown
	}
	return cp
}

// Messages returns the chat's messages in total order. While a clone's
// backfill is still running the copied rows are merged with the parent's
// not-yet-copied tail, so readers always see the complete conversation.
func (s *ChatService) Messages(ctx context.Context, userID, chatID string) ([]model.Message, error) {
	chat, err := s.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var own []model.Message
	if err := db.Where("chat_id = ?", chat.ID).
		Order("update_time, created_at, id").
		Find(&own).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	if chat.Backfilled || chat.ParentChatID == nil {
		return own, nil
	}

	ref, err := s.referenceMessage(db, chat)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return own, nil
	}

	var parentMsgs []model.Message
	if err := db.Where("chat_id = ?", *chat.ParentChatID).
		Order("update_time, created_at, id").
		Find(&parentMsgs).Error; err != nil {
		return nil, fmt.Errorf("failed to load parent messages: %w", err)
	}

	// Keep only the snapshot range of the parent, then skip as many as the
	// backfill has already copied. Copies preserve ordering fields and are
	// copied front to back, so the copied rows are exactly the prefix.
	inRange := parentMsgs[:0]
	for i := range parentMsgs {
		msg := &parentMsgs[i]
		if ref.OrderedBefore(msg) {
			break
		}
		inRange = append(inRange, *msg)
	}
	copied := 0
	for i := range own {
		if withinSnapshot(&own[i], ref) {
			copied++
		}
	}
	merged := own
	if copied < len(inRange) {
		merged = append(merged, inRange[copied:]...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].OrderedBefore(&merged[j])
		})
	}
	return merged, nil
}

// withinSnapshot reports whether a clone's message is a backfilled copy,
// i.e. sorts at or before the snapshot point. Copies carry new ids, so the
// id tiebreak is skipped.
func withinSnapshot(m, ref *model.Message) bool {
	if m.UpdateTime != ref.UpdateTime {
		return m.UpdateTime < ref.UpdateTime
	}
	return !m.CreatedAt.After(ref.CreatedAt)
}

// TouchActivity bumps a chat's activity timestamps and remembers the last
// model used
func (s *ChatService) TouchActivity(chatID, modelID string, at int64) {
	updates := map[string]interface{}{
		"last_message_time": at,
		"update_time":       at,
	}
	if modelID != "" {
		updates["model"] = modelID
	}
	if err := s.db.Model(&model.Chat{}).Where("id = ?", chatID).
		Updates(updates).Error; err != nil {
		log.Printf("[Chat] Failed to touch chat %s: %v", chatID, err)
	}
}
