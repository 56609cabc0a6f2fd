package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// OpenRouterBaseURL is the OpenRouter API base URL
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	// SearchSuffix routes a model through OpenRouter's web search plugin
	SearchSuffix = ":online"

	defaultDialTimeout   = 10 * time.Second
	defaultTLSTimeout    = 10 * time.Second
	defaultHeaderTimeout = 30 * time.Second
)

// OpenRouterClient streams chat completions from the OpenRouter gateway
type OpenRouterClient struct {
	apiKey  string
	model   string
	baseURL string
	// No client-level timeout: SSE streams can run for minutes. Connection
	// establishment is bounded by Transport timeouts instead.
	httpClient *http.Client
}

// NewOpenRouterClient creates a client bound to one model id. When search is
// set the model id gets the web plugin suffix appended.
func NewOpenRouterClient(apiKey, model string, search bool) *OpenRouterClient {
	if search && !strings.HasSuffix(model, SearchSuffix) {
		model += SearchSuffix
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: defaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSTimeout,
		ResponseHeaderTimeout: defaultHeaderTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
	return &OpenRouterClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    OpenRouterBaseURL,
		httpClient: &http.Client{Transport: transport},
	}
}

// openRouterMessage is one message of the wire payload. Content is either a
// plain string or an array of typed parts, so it stays interface{}.
type openRouterMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type orTextPart struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type orImagePart struct {
	Type     string `json:"type"` // "image_url"
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type orFilePart struct {
	Type string `json:"type"` // "file"
	File struct {
		Filename string `json:"filename"`
		FileData string `json:"file_data"`
	} `json:"file"`
}

type openRouterRequest struct {
	Model     string              `json:"model"`
	Messages  []openRouterMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Stream    bool                `json:"stream"`
}

// openRouterChunk is one SSE data frame of a streaming completion
type openRouterChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content,omitempty"`
			Reasoning string `json:"reasoning,omitempty"`
			Images    []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images,omitempty"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL   string `json:"url"`
					Title string `json:"title,omitempty"`
				} `json:"url_citation"`
			} `json:"annotations,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func encodeParts(parts []Part) interface{} {
	// Plain-text messages stay a string so older models accept them
	if len(parts) == 1 && parts[0].Type == PartText {
		return parts[0].Text
	}
	encoded := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			encoded = append(encoded, orTextPart{Type: "text", Text: p.Text})
		case PartImage:
			img := orImagePart{Type: "image_url"}
			img.ImageURL.URL = fmt.Sprintf("data:%s;base64,%s", p.MIMEType, base64.StdEncoding.EncodeToString(p.Data))
			encoded = append(encoded, img)
		case PartFile:
			f := orFilePart{Type: "file"}
			f.File.Filename = p.FileName
			f.File.FileData = fmt.Sprintf("data:%s;base64,%s", p.MIMEType, base64.StdEncoding.EncodeToString(p.Data))
			encoded = append(encoded, f)
		}
	}
	return encoded
}

// StreamChat opens a streaming completion and returns a pull stream over it
func (c *OpenRouterClient) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	messages := make([]openRouterMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openRouterMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openRouterMessage{Role: m.Role, Content: encodeParts(m.Parts)})
	}

	body := openRouterRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &openRouterStream{body: resp.Body, scanner: scanner}, nil
}

// openRouterStream decodes SSE frames into events on demand. A single frame
// can carry text plus annotations plus a finish reason, so decoded events
// queue up in pending until Recv drains them.
type openRouterStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending []*Event
	done    bool
}

func (s *openRouterStream) Recv() (*Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}

		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("stream reading error: %w", err)
			}
			return nil, io.EOF
		}

		line := s.scanner.Text()
		// Skip blanks and SSE comments (OpenRouter sends ": OPENROUTER PROCESSING" keep-alives)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		var chunk openRouterChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			s.done = true
			return nil, fmt.Errorf("upstream error (code %d): %s", chunk.Error.Code, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Reasoning != "" {
			s.pending = append(s.pending, &Event{Type: EventReasoningDelta, Text: choice.Delta.Reasoning})
		}
		if choice.Delta.Content != "" {
			s.pending = append(s.pending, &Event{Type: EventTextDelta, Text: choice.Delta.Content})
		}
		for _, a := range choice.Delta.Annotations {
			if a.Type != "url_citation" {
				continue
			}
			s.pending = append(s.pending, &Event{Type: EventSource, Source: &SourceInfo{
				URL:   a.URLCitation.URL,
				Title: a.URLCitation.Title,
			}})
		}
		for _, img := range choice.Delta.Images {
			mime, raw, err := decodeDataURL(img.ImageURL.URL)
			if err != nil {
				continue
			}
			s.pending = append(s.pending, &Event{Type: EventFile, File: &FileInfo{MIMEType: mime, Data: raw}})
		}
		if choice.FinishReason != "" {
			s.pending = append(s.pending, &Event{
				Type:         EventFinish,
				FinishReason: NormalizeFinishReason(choice.FinishReason),
			})
		}
	}
}

func (s *openRouterStream) Close() error {
	return s.body.Close()
}

// decodeDataURL splits a data:<mime>;base64,<payload> URL into its parts
func decodeDataURL(url string) (string, []byte, error) {
	if !strings.HasPrefix(url, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}
	mime := rest[:idx]
	raw, err := base64.StdEncoding.DecodeString(rest[idx+len(";base64,"):])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URL: %w", err)
	}
	return mime, raw, nil
}
