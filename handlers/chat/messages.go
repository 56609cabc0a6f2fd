package chat

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services"
	"github.com/driftchat/api/services/provider"
	"github.com/driftchat/api/utils/middleware"
	"github.com/driftchat/api/utils/response"
	"github.com/driftchat/api/utils/sse"
	"github.com/driftchat/api/utils/validation"
)

const (
	// streamPollInterval is how often the stream endpoint re-reads the row
	streamPollInterval = 300 * time.Millisecond
	// streamMaxDuration bounds a single stream connection
	streamMaxDuration = 15 * time.Minute
)

// MessageHandler handles message sends and response streaming
type MessageHandler struct {
	validator      *validation.Validator
	messageService *services.MessageService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messageService *services.MessageService) *MessageHandler {
	return &MessageHandler{
		validator:      validation.NewValidator(),
		messageService: messageService,
	}
}

// AttachmentRef references an already uploaded blob
type AttachmentRef struct {
	BlobID   string `json:"blob_id" validate:"required"`
	FileName string `json:"file_name" validate:"required,max=255"`
	FileType string `json:"file_type" validate:"required,max=100"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
}

// SendMessageRequest represents the request to send a message
type SendMessageRequest struct {
	ChatID      string          `json:"chat_id" validate:"omitempty,uuid4"`
	Content     string          `json:"content" validate:"max=40000"`
	Attachments []AttachmentRef `json:"attachments" validate:"omitempty,max=10,dive"`
	Model       string          `json:"model" validate:"omitempty,max=100"`
	Search      bool            `json:"search"`
}

// Send handles POST /api/v1/messages
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	attachments := make([]model.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, model.Attachment{
			BlobID:   a.BlobID,
			FileName: a.FileName,
			FileType: a.FileType,
			FileSize: a.FileSize,
		})
	}

	result, err := h.messageService.Send(c.Context(), userID, services.SendInput{
		ChatID:      req.ChatID,
		Content:     req.Content,
		Attachments: attachments,
		Model:       req.Model,
		Search:      req.Search,
		Keys: provider.UserKeys{
			OpenAI:     c.Get("X-OpenAI-Key"),
			OpenRouter: c.Get("X-OpenRouter-Key"),
		},
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, result)
}

// Get handles GET /api/v1/messages/:id
func (h *MessageHandler) Get(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	msg, err := h.messageService.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, msg)
}

// streamPayload is one delta frame of the response stream
type streamPayload struct {
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	Status    string          `json:"status"`
	EndReason model.EndReason `json:"end_reason,omitempty"`
}

// Stream handles GET /api/v1/messages/:id/stream. It follows a pending
// assistant message as SSE, replaying whatever has been generated so far
// and then deltas until the row reaches a terminal state.
func (h *MessageHandler) Stream(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	messageID := c.Params("id")

	// Permission check happens before the stream starts so errors still get
	// a proper status code
	if _, err := h.messageService.Get(c.Context(), userID, messageID); err != nil {
		return response.FromError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The Fiber context is not valid inside the stream writer
		ctx, cancel := context.WithTimeout(context.Background(), streamMaxDuration)
		defer cancel()

		sentContent := 0
		sentReasoning := 0
		ticks := 0
		for {
			msg, err := h.messageService.Get(ctx, userID, messageID)
			if err != nil {
				sse.SendError(w, err)
				return
			}

			if len(msg.Content) > sentContent || len(msg.Reasoning) > sentReasoning {
				if err := sse.SendDelta(w, streamPayload{
					Content:   msg.Content[sentContent:],
					Reasoning: msg.Reasoning[sentReasoning:],
					Status:    string(msg.Status),
				}); err != nil {
					return
				}
				sentContent = len(msg.Content)
				sentReasoning = len(msg.Reasoning)
			}

			if !msg.IsPending() {
				sse.SendComplete(w, msg)
				return
			}

			ticks++
			if ticks%30 == 0 {
				if err := sse.SendKeepAlive(w); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				sse.SendError(w, ctx.Err())
				return
			case <-time.After(streamPollInterval):
			}
		}
	})
	return nil
}
