package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/apperr"
)

// newSendStack wires the full send pipeline against the test database. The
// generation client is stubbed out so placeholders stay pending.
func newSendStack(t *testing.T, db *gorm.DB, messagesPerDay int) *MessageService {
	t.Helper()
	chats := NewChatService(db)
	limits := NewRateLimitService(nil, messagesPerDay)
	blobs := newFakeBlobStore()
	attachments := NewAttachmentService(blobs)
	responses := NewResponseService(db, chats, attachments, blobs, "")
	responses.selectClient = func(provider.Model, provider.UserKeys, string, provider.SelectOptions) (provider.Client, error) {
		return nil, errors.New("generation disabled in tests")
	}
	return NewMessageService(db, chats, limits, attachments, responses)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	user := createTestUser(t, db, false)

	_, err := svc.Send(context.Background(), user, SendInput{Content: "   "})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Empty send should fail validation, got %v", err)
	}

	var count int64
	if err := db.Model(&model.Chat{}).Count(&count).Error; err != nil {
		t.Fatalf("Failed to count chats: %v", err)
	}
	if count != 0 {
		t.Fatalf("Rejected send must not create a chat, found %d", count)
	}
}

func TestSendRejectsUnknownModel(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	user := createTestUser(t, db, false)

	_, err := svc.Send(context.Background(), user, SendInput{
		Content: "hello",
		Model:   "acme/frontier-9000",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Unknown model should fail validation, got %v", err)
	}
}

func TestSendCreatesChatAndPlaceholder(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	user := createTestUser(t, db, false)

	res, err := svc.Send(context.Background(), user, SendInput{Content: "What is a goroutine?"})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if res.Chat == nil || res.Chat.OwnerID != user {
		t.Fatalf("Send should create a chat owned by the sender")
	}
	if res.Chat.Title != "What is a goroutine?" {
		t.Fatalf("Chat title should derive from the message, got %q", res.Chat.Title)
	}
	if res.UserMessage.Role != model.MessageRoleUser || res.UserMessage.Status != model.MessageStatusCompleted {
		t.Fatalf("User message should be a completed user row")
	}
	if res.AssistantMessage.Role != model.MessageRoleAssistant || !res.AssistantMessage.IsPending() {
		t.Fatalf("Assistant message should be a pending placeholder")
	}
	if res.AssistantMessage.Model != provider.DefaultModelID {
		t.Fatalf("Placeholder should fall back to the default model, got %q", res.AssistantMessage.Model)
	}
	if res.AssistantMessage.UpdateTime != res.UserMessage.UpdateTime+1 {
		t.Fatalf("Placeholder must sort directly after the prompt")
	}
	if res.RemainingToday == nil || *res.RemainingToday != 9 {
		t.Fatalf("Expected 9 messages remaining, got %v", res.RemainingToday)
	}
}

func TestSendConsumesDailyQuota(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 2)
	user := createTestUser(t, db, false)
	ctx := context.Background()

	first, err := svc.Send(ctx, user, SendInput{Content: "one"})
	if err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if first.RemainingToday == nil || *first.RemainingToday != 1 {
		t.Fatalf("Expected 1 remaining after first send, got %v", first.RemainingToday)
	}

	second, err := svc.Send(ctx, user, SendInput{ChatID: first.Chat.ID, Content: "two"})
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if second.RemainingToday == nil || *second.RemainingToday != 0 {
		t.Fatalf("Expected 0 remaining after second send, got %v", second.RemainingToday)
	}

	_, err = svc.Send(ctx, user, SendInput{ChatID: first.Chat.ID, Content: "three"})
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("Third send should exhaust the quota, got %v", err)
	}

	// A caller spending their own credentials gets through anyway
	byok, err := svc.Send(ctx, user, SendInput{
		ChatID:  first.Chat.ID,
		Content: "four",
		Keys:    provider.UserKeys{OpenRouter: "sk-or-user"},
	})
	if err != nil {
		t.Fatalf("Own-credentials send should bypass the quota, got %v", err)
	}
	if byok.RemainingToday != nil {
		t.Fatalf("Own-credentials send must not report a quota, got %d", *byok.RemainingToday)
	}

	// The quota stays where the two metered sends left it
	remaining, err := NewRateLimitService(nil, 2).RemainingDaily(db, user)
	if err != nil {
		t.Fatalf("Failed to read remaining quota: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("Own-credentials send must not consume the quota, remaining = %d", remaining)
	}

	// The rejected send must not leave messages behind
	var count int64
	if err := db.Model(&model.Message{}).Where("chat_id = ?", first.Chat.ID).Count(&count).Error; err != nil {
		t.Fatalf("Failed to count messages: %v", err)
	}
	if count != 6 {
		t.Fatalf("Expected 6 messages from the 3 accepted sends, got %d", count)
	}
}

func TestSendIntoSharedChatForks(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	ctx := context.Background()
	owner := createTestUser(t, db, false)
	visitor := createTestUser(t, db, false)

	chats := NewChatService(db)
	original, err := chats.Create(ctx, owner, CreateChatInput{Title: "Shared topic"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	share, err := chats.Share(ctx, owner, original.ID)
	if err != nil {
		t.Fatalf("Failed to share chat: %v", err)
	}

	res, err := svc.Send(ctx, visitor, SendInput{ChatID: share.ID, Content: "my take"})
	if err != nil {
		t.Fatalf("Failed to send into share: %v", err)
	}
	if res.Chat.ID == share.ID {
		t.Fatalf("Send into a share must land in a fork, not the share")
	}
	if res.Chat.OwnerID != visitor {
		t.Fatalf("Fork should belong to the sender")
	}
	if res.Chat.Lineage != model.LineageBranch {
		t.Fatalf("Fork should carry branch lineage, got %q", res.Chat.Lineage)
	}
	if res.Chat.ParentChatID == nil || *res.Chat.ParentChatID != share.ID {
		t.Fatalf("Fork should point back at the share")
	}

	// The share itself stays untouched
	var shareMessages int64
	if err := db.Model(&model.Message{}).Where("chat_id = ?", share.ID).Count(&shareMessages).Error; err != nil {
		t.Fatalf("Failed to count share messages: %v", err)
	}
	if shareMessages != 0 {
		t.Fatalf("Share gained %d messages, should be immutable", shareMessages)
	}
}

func TestSendIntoForeignChatDenied(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	ctx := context.Background()
	owner := createTestUser(t, db, false)
	stranger := createTestUser(t, db, false)

	chat, err := NewChatService(db).Create(ctx, owner, CreateChatInput{Title: "Mine"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	_, err = svc.Send(ctx, stranger, SendInput{ChatID: chat.ID, Content: "hello"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Send into a foreign chat should report not found, got %v", err)
	}
}

func TestGetMessageChecksChatAccess(t *testing.T) {
	db := newTestDB(t)
	svc := newSendStack(t, db, 10)
	ctx := context.Background()
	owner := createTestUser(t, db, false)
	stranger := createTestUser(t, db, false)

	res, err := svc.Send(ctx, owner, SendInput{Content: "secret"})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if _, err := svc.Get(ctx, owner, res.UserMessage.ID); err != nil {
		t.Fatalf("Owner should read own message: %v", err)
	}
	if _, err := svc.Get(ctx, stranger, res.UserMessage.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Stranger should not read the message, got %v", err)
	}
}
