package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/utils/apperr"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name string
		in   CreateChatInput
		want string
	}{
		{
			name: "explicit title wins",
			in:   CreateChatInput{Title: "My Chat", Content: "something else"},
			want: "My Chat",
		},
		{
			name: "first line of content",
			in:   CreateChatInput{Content: "What is Go?\nAnd why?"},
			want: "What is Go?",
		},
		{
			name: "long content truncated",
			in:   CreateChatInput{Content: strings.Repeat("a", 80)},
			want: strings.Repeat("a", 50),
		},
		{
			name: "attachment name fallback",
			in: CreateChatInput{Attachments: []model.Attachment{
				{FileName: "report.pdf", FileType: "application/pdf"},
			}},
			want: "report.pdf",
		},
		{
			name: "default title",
			in:   CreateChatInput{},
			want: "New Chat",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.in); got != tc.want {
				t.Fatalf("DeriveTitle = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChatReadPermissions(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)
	stranger := createTestUser(t, db, false)

	chat, err := svc.Create(ctx, owner, CreateChatInput{Title: "Private notes"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	if _, err := svc.Get(ctx, owner, chat.ID); err != nil {
		t.Fatalf("Owner should read own chat: %v", err)
	}
	if _, err := svc.Get(ctx, stranger, chat.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Stranger read should report not found, got %v", err)
	}

	share, err := svc.Share(ctx, owner, chat.ID)
	if err != nil {
		t.Fatalf("Failed to share chat: %v", err)
	}
	if _, err := svc.Get(ctx, stranger, share.ID); err != nil {
		t.Fatalf("Anyone should read a shared chat: %v", err)
	}

	if err := svc.SoftDelete(ctx, owner, chat.ID); err != nil {
		t.Fatalf("Failed to delete chat: %v", err)
	}
	if _, err := svc.Get(ctx, owner, chat.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Deleted chat should read as missing, got %v", err)
	}
}

func TestSharedChatIsImmutable(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	chat, err := svc.Create(ctx, owner, CreateChatInput{Title: "Original"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	share, err := svc.Share(ctx, owner, chat.ID)
	if err != nil {
		t.Fatalf("Failed to share chat: %v", err)
	}

	if err := svc.Rename(ctx, owner, share.ID, "Edited"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("Renaming a share should be unauthorized, got %v", err)
	}
	if err := svc.SetVisibility(ctx, owner, share.ID, model.VisibilityPinned); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("Changing share visibility should be unauthorized, got %v", err)
	}
	// The owner may still take their snapshot down
	if err := svc.SoftDelete(ctx, owner, share.ID); err != nil {
		t.Fatalf("Owner should be able to delete their share: %v", err)
	}
}

func TestSetVisibilityRejectsDeleted(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	chat, err := svc.Create(ctx, owner, CreateChatInput{Title: "Chat"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	if err := svc.SetVisibility(ctx, owner, chat.ID, model.VisibilityDeleted); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Deleted is not a settable visibility, got %v", err)
	}
	if err := svc.SetVisibility(ctx, owner, chat.ID, model.VisibilityPinned); err != nil {
		t.Fatalf("Failed to pin chat: %v", err)
	}

	list, err := svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(list.Pinned) != 1 || len(list.Recent) != 0 {
		t.Fatalf("Expected 1 pinned and 0 recent, got %d and %d", len(list.Pinned), len(list.Recent))
	}
}

func TestSearchMatchesCaseInsensitively(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	for _, title := range []string{"Rust borrow checker", "Go generics", "Trip planning"} {
		if _, err := svc.Create(ctx, owner, CreateChatInput{Title: title}); err != nil {
			t.Fatalf("Failed to create chat %q: %v", title, err)
		}
	}
	deleted, err := svc.Create(ctx, owner, CreateChatInput{Title: "Go deleted topic"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	if err := svc.SoftDelete(ctx, owner, deleted.ID); err != nil {
		t.Fatalf("Failed to delete chat: %v", err)
	}
	private, err := svc.Create(ctx, owner, CreateChatInput{Title: "Go private topic"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	if err := svc.SetVisibility(ctx, owner, private.ID, model.VisibilityPrivate); err != nil {
		t.Fatalf("Failed to hide chat: %v", err)
	}

	results, err := svc.Search(ctx, owner, "GO", 0)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Go generics" {
		t.Fatalf("Unexpected result %q", results[0].Title)
	}
}

func TestBranchSnapshotsAtMessage(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	parent, err := svc.Create(ctx, owner, CreateChatInput{Title: "Parent"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "first question", 1000)
	ref := model.Message{
		ChatID:     parent.ID,
		Role:       model.MessageRoleAssistant,
		Content:    "first answer",
		Model:      "google/gemini-2.5-pro",
		Status:     model.MessageStatusCompleted,
		UpdateTime: 2000,
	}
	if err := db.Create(&ref).Error; err != nil {
		t.Fatalf("Failed to seed snapshot message: %v", err)
	}
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "second question", 3000)
	seedMessage(t, db, parent.ID, model.MessageRoleAssistant, "second answer", 4000)

	branch, err := svc.Branch(ctx, owner, parent.ID, ref.ID, "openai/gpt-4o")
	if err != nil {
		t.Fatalf("Failed to branch: %v", err)
	}
	if branch.Lineage != model.LineageBranch {
		t.Fatalf("Expected branch lineage, got %q", branch.Lineage)
	}
	if branch.Model != "openai/gpt-4o" {
		t.Fatalf("Expected the model override at creation, got %q", branch.Model)
	}
	if branch.ReferenceMessageID == nil || *branch.ReferenceMessageID != ref.ID {
		t.Fatalf("Branch should reference the snapshot message")
	}

	waitForBackfill(t, svc, branch.ID)

	// Completion adopts the snapshot message's model
	var done model.Chat
	if err := db.Where("id = ?", branch.ID).First(&done).Error; err != nil {
		t.Fatalf("Failed to reload branch: %v", err)
	}
	if !done.Backfilled {
		t.Fatalf("Branch should be marked backfilled")
	}
	if done.Model != "google/gemini-2.5-pro" {
		t.Fatalf("Branch should carry the last copied message's model, got %q", done.Model)
	}

	msgs, err := svc.Messages(ctx, owner, branch.ID)
	if err != nil {
		t.Fatalf("Failed to load branch messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Branch should contain the 2 messages up to the snapshot, got %d", len(msgs))
	}
	if msgs[0].Content != "first question" || msgs[1].Content != "first answer" {
		t.Fatalf("Unexpected branch contents: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	for i := range msgs {
		if msgs[i].ChatID != branch.ID {
			t.Fatalf("Backfilled message %d still points at chat %s", i, msgs[i].ChatID)
		}
		if msgs[i].ID == ref.ID {
			t.Fatalf("Copies must carry new ids")
		}
	}
}

func TestMessagesMergeBeforeBackfill(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	parent, err := svc.Create(ctx, owner, CreateChatInput{Title: "Parent"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "hello", 1000)
	ref := seedMessage(t, db, parent.ID, model.MessageRoleAssistant, "hi there", 2000)
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "past the snapshot", 3000)

	// Clone row created directly so the backfill stays under test control
	clone := model.Chat{
		Title:              parent.Title,
		OwnerID:            owner,
		Model:              parent.Model,
		Lineage:            model.LineageBranch,
		ParentChatID:       &parent.ID,
		ReferenceMessageID: &ref.ID,
		Backfilled:         false,
	}
	if err := db.Create(&clone).Error; err != nil {
		t.Fatalf("Failed to create clone: %v", err)
	}

	// Before any copying the clone reads as the parent's snapshot range
	msgs, err := svc.Messages(ctx, owner, clone.ID)
	if err != nil {
		t.Fatalf("Failed to load merged messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Merged view should show 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Fatalf("Unexpected merged contents: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	// A message sent into the clone mid-backfill sorts after the inherited tail
	seedMessage(t, db, clone.ID, model.MessageRoleUser, "fork question", 5000)
	msgs, err = svc.Messages(ctx, owner, clone.ID)
	if err != nil {
		t.Fatalf("Failed to load merged messages: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Content != "fork question" {
		t.Fatalf("Merged view should append the clone's own message last, got %d messages", len(msgs))
	}

	if err := svc.Backfill(ctx, clone.ID); err != nil {
		t.Fatalf("Failed to backfill: %v", err)
	}
	msgs, err = svc.Messages(ctx, owner, clone.ID)
	if err != nil {
		t.Fatalf("Failed to load messages after backfill: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Backfilled view should still show 3 messages, got %d", len(msgs))
	}
	for i := range msgs {
		if msgs[i].ChatID != clone.ID {
			t.Fatalf("Message %d not owned by the clone after backfill", i)
		}
	}
}

func TestBackfillFreezesPendingCopies(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	parent, err := svc.Create(ctx, owner, CreateChatInput{Title: "Parent"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "question", 1000)
	pending := model.Message{
		ChatID:     parent.ID,
		Role:       model.MessageRoleAssistant,
		Status:     model.MessageStatusPending,
		UpdateTime: 2000,
	}
	if err := db.Create(&pending).Error; err != nil {
		t.Fatalf("Failed to create pending message: %v", err)
	}

	share, err := svc.Share(ctx, owner, parent.ID)
	if err != nil {
		t.Fatalf("Failed to share: %v", err)
	}
	waitForBackfill(t, svc, share.ID)

	var copies []model.Message
	if err := db.Where("chat_id = ?", share.ID).Order("update_time").Find(&copies).Error; err != nil {
		t.Fatalf("Failed to load copies: %v", err)
	}
	if len(copies) != 2 {
		t.Fatalf("Expected 2 copied messages, got %d", len(copies))
	}
	if copies[1].Status != model.MessageStatusCompleted {
		t.Fatalf("Pending copy should be frozen as completed, got %q", copies[1].Status)
	}
	if copies[1].EndReason != model.EndReasonUnknown {
		t.Fatalf("Frozen copy should carry the unknown end reason, got %q", copies[1].EndReason)
	}
}

func TestShareOfEmptyChatNeedsNoBackfill(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	chat, err := svc.Create(ctx, owner, CreateChatInput{Title: "Empty"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	share, err := svc.Share(ctx, owner, chat.ID)
	if err != nil {
		t.Fatalf("Failed to share: %v", err)
	}
	if !share.Backfilled {
		t.Fatalf("Share of an empty chat should be born backfilled")
	}
	if share.ReferenceMessageID != nil {
		t.Fatalf("Share of an empty chat should carry no reference message")
	}
}

func TestUnbackfilledFlagSurvivesInsert(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	parent, err := svc.Create(ctx, owner, CreateChatInput{Title: "Parent"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	ref := seedMessage(t, db, parent.ID, model.MessageRoleUser, "hello", 1000)

	clone := model.Chat{
		Title:              parent.Title,
		OwnerID:            owner,
		Lineage:            model.LineageBranch,
		ParentChatID:       &parent.ID,
		ReferenceMessageID: &ref.ID,
		Backfilled:         false,
	}
	if err := db.Create(&clone).Error; err != nil {
		t.Fatalf("Failed to create clone: %v", err)
	}

	// The false must round-trip the insert; a column default would turn
	// every fresh clone into a finished one and skip the copy entirely
	var persisted model.Chat
	if err := db.Where("id = ?", clone.ID).First(&persisted).Error; err != nil {
		t.Fatalf("Failed to reload clone: %v", err)
	}
	if persisted.Backfilled {
		t.Fatalf("Fresh clone must persist backfilled=false")
	}

	// Plain chats are born complete
	var plain model.Chat
	if err := db.Where("id = ?", parent.ID).First(&plain).Error; err != nil {
		t.Fatalf("Failed to reload parent: %v", err)
	}
	if !plain.Backfilled {
		t.Fatalf("Original chats should persist backfilled=true")
	}
}

func TestBackfillIgnoresForkOwnMessages(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	owner := createTestUser(t, db, false)

	parent, err := svc.Create(ctx, owner, CreateChatInput{Title: "Parent"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	seedMessage(t, db, parent.ID, model.MessageRoleUser, "m1", 1000)
	seedMessage(t, db, parent.ID, model.MessageRoleAssistant, "m2", 2000)
	ref := seedMessage(t, db, parent.ID, model.MessageRoleUser, "m3", 3000)

	fork := model.Chat{
		Title:              parent.Title,
		OwnerID:            owner,
		Lineage:            model.LineageBranch,
		ParentChatID:       &parent.ID,
		ReferenceMessageID: &ref.ID,
		Backfilled:         false,
	}
	if err := db.Create(&fork).Error; err != nil {
		t.Fatalf("Failed to create fork: %v", err)
	}

	// A send into the fork lands before the copy starts: the user message
	// and its placeholder already sit in the fork when Backfill runs
	seedMessage(t, db, fork.ID, model.MessageRoleUser, "my take", 9000)
	seedMessage(t, db, fork.ID, model.MessageRoleAssistant, "", 9001)

	if err := svc.Backfill(ctx, fork.ID); err != nil {
		t.Fatalf("Failed to backfill: %v", err)
	}

	msgs, err := svc.Messages(ctx, owner, fork.ID)
	if err != nil {
		t.Fatalf("Failed to load fork messages: %v", err)
	}
	want := []string{"m1", "m2", "m3", "my take", ""}
	if len(msgs) != len(want) {
		t.Fatalf("Expected %d messages after backfill, got %d", len(want), len(msgs))
	}
	for i := range want {
		if msgs[i].Content != want[i] {
			t.Fatalf("Message %d = %q, want %q", i, msgs[i].Content, want[i])
		}
	}
}

// waitForBackfill polls until the clone's background copy finishes
func waitForBackfill(t *testing.T, svc *ChatService, chatID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var chat model.Chat
		if err := svc.db.Where("id = ?", chatID).First(&chat).Error; err == nil && chat.Backfilled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Backfill of chat %s did not finish in time", chatID)
}
