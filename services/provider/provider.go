package provider

import "context"

// EventType discriminates the kinds of stream events a model can emit
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventSource         EventType = "source"
	EventToolCall       EventType = "tool-call"
	EventFile           EventType = "file"
	EventFinish         EventType = "finish"
)

// SourceInfo is a web citation attached to a response by a search-capable model
type SourceInfo struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

// ToolCallInfo records one tool invocation surfaced by the model
type ToolCallInfo struct {
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

// FileInfo is a binary artifact generated by the model (e.g. an image)
type FileInfo struct {
	MIMEType string
	Data     []byte
}

// Event is one increment of a model response stream. Exactly the fields
// relevant to Type are populated.
type Event struct {
	Type         EventType
	Text         string
	Source       *SourceInfo
	ToolCall     *ToolCallInfo
	File         *FileInfo
	FinishReason string
}

// Stream is a pull-based model response stream. Recv blocks until the next
// event is available and returns io.EOF when the stream is exhausted.
type Stream interface {
	Recv() (*Event, error)
	Close() error
}

// PartType discriminates the kinds of content parts in a chat message
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one piece of a multi-modal message. Text parts carry Text; image
// and file parts carry raw bytes plus their MIME type.
type Part struct {
	Type     PartType
	Text     string
	Data     []byte
	MIMEType string
	FileName string
}

// ChatMessage is one turn of conversation history sent to a model
type ChatMessage struct {
	Role  string
	Parts []Part
}

// ChatRequest is a provider-agnostic streaming completion request
type ChatRequest struct {
	System    string
	Messages  []ChatMessage
	MaxTokens int
}

// Client is implemented by each upstream gateway
type Client interface {
	StreamChat(ctx context.Context, req ChatRequest) (Stream, error)
}

// NormalizeFinishReason maps a gateway finish reason onto the stable
// vocabulary persisted with completed messages.
func NormalizeFinishReason(reason string) string {
	switch reason {
	case "stop", "end_turn":
		return "stop"
	case "length", "max_tokens":
		return "length"
	case "content_filter":
		return "content-filter"
	case "tool_calls", "tool_use", "function_call":
		return "tool-calls"
	case "":
		return "unknown"
	default:
		return "other"
	}
}
