package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/apperr"
)

// MessageService implements the send pipeline: validation, limits, chat
// resolution, the user/placeholder insert pair and the generation handoff.
type MessageService struct {
	db          *gorm.DB
	chats       *ChatService
	limits      *RateLimitService
	attachments *AttachmentService
	responses   *ResponseService
}

// NewMessageService creates a new message service
func NewMessageService(db *gorm.DB, chats *ChatService, limits *RateLimitService, attachments *AttachmentService, responses *ResponseService) *MessageService {
	return &MessageService{
		db:          db,
		chats:       chats,
		limits:      limits,
		attachments: attachments,
		responses:   responses,
	}
}

// SendInput is one send request. ChatID may be empty to start a new chat.
type SendInput struct {
	ChatID      string
	Content     string
	Attachments []model.Attachment
	Model       string
	Search      bool
	Keys        provider.UserKeys
}

// SendResult is what the client needs to render the send optimistically.
// RemainingToday is nil when the sender used their own provider credentials
// and the daily quota was never touched.
type SendResult struct {
	Chat             *model.Chat   `json:"chat"`
	UserMessage      model.Message `json:"user_message"`
	AssistantMessage model.Message `json:"assistant_message"`
	RemainingToday   *int          `json:"remaining_today,omitempty"`
}

// Send appends a user message and a pending assistant placeholder in one
// transaction, consuming one unit of daily quota, then hands the placeholder
// to the generation orchestrator. Sending into a shared chat forks it first
// and the send lands in the fork.
func (s *MessageService) Send(ctx context.Context, userID string, in SendInput) (*SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, apperr.Validationf("message must not be empty")
	}
	if err := s.attachments.Validate(in.Attachments); err != nil {
		return nil, err
	}
	if in.Model != "" {
		if _, ok := provider.Find(in.Model); !ok {
			return nil, apperr.Validationf("unknown model %q", in.Model)
		}
	}
	// Callers spending their own provider credentials skip the daily quota
	// and rate-limit in their own, larger bucket
	ownKeys := in.Keys.HasAny()
	if err := s.limits.CheckHourly(ctx, userID, ownKeys); err != nil {
		return nil, err
	}

	var (
		result    SendResult
		forked    bool
		modelUsed string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !ownKeys {
			remaining, err := s.limits.ConsumeDaily(tx, userID)
			if err != nil {
				return err
			}
			result.RemainingToday = &remaining
		}

		chat, wasForked, err := s.resolveChat(tx, userID, in)
		if err != nil {
			return err
		}
		forked = wasForked
		result.Chat = chat

		modelUsed = in.Model
		if modelUsed == "" {
			modelUsed = chat.Model
		}
		if modelUsed == "" {
			modelUsed = provider.DefaultModelID
		}

		userMsg := model.Message{
			ChatID:      chat.ID,
			Role:        model.MessageRoleUser,
			Content:     content,
			Attachments: in.Attachments,
			Status:      model.MessageStatusCompleted,
		}
		if err := tx.Create(&userMsg).Error; err != nil {
			return fmt.Errorf("failed to insert user message: %w", err)
		}
		result.UserMessage = userMsg

		placeholder := model.Message{
			ChatID:     chat.ID,
			Role:       model.MessageRoleAssistant,
			Content:    "",
			Model:      modelUsed,
			Status:     model.MessageStatusPending,
			UpdateTime: userMsg.UpdateTime + 1, // always sorts after the prompt
		}
		if err := tx.Create(&placeholder).Error; err != nil {
			return fmt.Errorf("failed to insert assistant placeholder: %w", err)
		}
		result.AssistantMessage = placeholder
		return nil
	})
	if err != nil {
		return nil, err
	}

	if forked {
		s.chats.StartBackfill(result.Chat.ID)
	}
	go s.chats.TouchActivity(result.Chat.ID, modelUsed, time.Now().UnixMilli())
	s.responses.Start(GenerationJob{
		ChatID:    result.Chat.ID,
		MessageID: result.AssistantMessage.ID,
		UserID:    userID,
		ModelID:   modelUsed,
		Search:    in.Search,
		Keys:      in.Keys,
	})
	return &result, nil
}

// resolveChat finds or creates the chat a send lands in. Shared chats are
// forked into a caller-owned copy; the fork is what gets written.
func (s *MessageService) resolveChat(tx *gorm.DB, userID string, in SendInput) (*model.Chat, bool, error) {
	if in.ChatID == "" {
		chat, err := s.chats.createIn(tx, userID, CreateChatInput{
			Content:     in.Content,
			Attachments: in.Attachments,
			Model:       in.Model,
		})
		return chat, false, err
	}

	var chat model.Chat
	err := tx.Where("id = ?", in.ChatID).First(&chat).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, apperr.ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.IsDeleted() {
		return nil, false, apperr.ErrNotFound
	}
	if chat.IsShared() {
		fork, err := s.chats.ForkShared(tx, userID, &chat)
		if err != nil {
			return nil, false, err
		}
		return fork, true, nil
	}
	if chat.OwnerID != userID {
		return nil, false, apperr.ErrNotFound
	}
	return &chat, false, nil
}

// Get loads a single message the user may read
func (s *MessageService) Get(ctx context.Context, userID, messageID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if _, err := s.chats.Get(ctx, userID, msg.ChatID); err != nil {
		return nil, err
	}
	return &msg, nil
}
