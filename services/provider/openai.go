package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient streams completions directly from the OpenAI API. Used when
// the account holds its own OpenAI key, bypassing the gateway.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for one model. Catalog ids carry an
// "openai/" vendor prefix that the native API does not use.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  strings.TrimPrefix(model, "openai/"),
	}
}

func toOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	// Single text part stays a plain-content message
	if len(m.Parts) == 1 && m.Parts[0].Type == PartText {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Parts[0].Text}
	}
	var parts []openai.ChatMessagePart
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case PartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.MIMEType, base64.StdEncoding.EncodeToString(p.Data)),
				},
			})
		case PartFile:
			// The chat completions API takes no raw file parts; document
			// content reaches the model through the text expansion instead.
		}
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}

// StreamChat opens a streaming completion and adapts it to the Stream interface
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return &openAIStream{inner: stream}, nil
}

type openAIStream struct {
	inner *openai.ChatCompletionStream
	done  bool
}

func (s *openAIStream) Recv() (*Event, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("stream reading error: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			return &Event{
				Type:         EventFinish,
				FinishReason: NormalizeFinishReason(string(choice.FinishReason)),
			}, nil
		}
		if choice.Delta.Content != "" {
			return &Event{Type: EventTextDelta, Text: choice.Delta.Content}, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.inner.Close()
	return nil
}
