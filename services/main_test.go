package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftchat/api/database"
	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services/provider"
)

// newTestDB opens an isolated in-memory database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// createTestUser inserts a user and returns its id
func createTestUser(t *testing.T, db *gorm.DB, anonymous bool) string {
	t.Helper()
	u := model.User{IsAnonymous: anonymous}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return u.ID
}

// seedMessage inserts a completed message with a fixed ordering timestamp
func seedMessage(t *testing.T, db *gorm.DB, chatID string, role model.MessageRole, content string, updateTime int64) model.Message {
	t.Helper()
	msg := model.Message{
		ChatID:     chatID,
		Role:       role,
		Content:    content,
		Status:     model.MessageStatusCompleted,
		UpdateTime: updateTime,
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("Failed to seed message: %v", err)
	}
	return msg
}

// fakeBlobStore is an in-memory blob store for tests. Individual blob ids
// can be set to fail deletion to exercise sweep error handling.
type fakeBlobStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	types      map[string]string
	failDelete map[string]bool
	puts       int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		blobs:      make(map[string][]byte),
		types:      make(map[string]string),
		failDelete: make(map[string]bool),
	}
}

func (f *fakeBlobStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	id := fmt.Sprintf("blob-%d", f.puts)
	f.blobs[id] = data
	f.types[id] = contentType
	return id, nil
}

func (f *fakeBlobStore) PutWithID(id string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = data
	f.types[id] = contentType
}

func (f *fakeBlobStore) Get(_ context.Context, blobID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[blobID]
	if !ok {
		return nil, "", fmt.Errorf("blob %s not found", blobID)
	}
	return data, f.types[blobID], nil
}

func (f *fakeBlobStore) Delete(_ context.Context, blobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[blobID] {
		return fmt.Errorf("simulated delete failure for %s", blobID)
	}
	delete(f.blobs, blobID)
	delete(f.types, blobID)
	return nil
}

func (f *fakeBlobStore) Has(blobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[blobID]
	return ok
}

func (f *fakeBlobStore) PresignUpload(blobID string, _ time.Duration) (string, error) {
	return "https://blobs.test/upload/" + blobID, nil
}

func (f *fakeBlobStore) PresignDownload(blobID string, _ time.Duration) (string, error) {
	return "https://blobs.test/download/" + blobID, nil
}

// fakeStream replays a scripted sequence of events, optionally ending with
// an error instead of a clean EOF
type fakeStream struct {
	events []*provider.Event
	err    error
	pos    int
}

func (s *fakeStream) Recv() (*provider.Event, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeClient hands out one scripted stream per call
type fakeClient struct {
	events []*provider.Event
	err    error

	lastRequest *provider.ChatRequest
}

func (c *fakeClient) StreamChat(_ context.Context, req provider.ChatRequest) (provider.Stream, error) {
	c.lastRequest = &req
	return &fakeStream{events: c.events, err: c.err}, nil
}

// withFakeClient points a response service at the scripted client
func withFakeClient(rs *ResponseService, client provider.Client) {
	rs.selectClient = func(provider.Model, provider.UserKeys, string, provider.SelectOptions) (provider.Client, error) {
		return client, nil
	}
}

func textEvent(s string) *provider.Event {
	return &provider.Event{Type: provider.EventTextDelta, Text: s}
}

func finishEvent(reason string) *provider.Event {
	return &provider.Event{Type: provider.EventFinish, FinishReason: reason}
}
