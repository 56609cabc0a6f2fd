package provider

import (
	"strings"

	"github.com/driftchat/api/utils/apperr"
)

// UserKeys holds the per-request provider credentials a caller supplied
type UserKeys struct {
	OpenAI     string
	OpenRouter string
}

// HasAny reports whether the caller brought any credential of their own
func (k UserKeys) HasAny() bool {
	return k.OpenAI != "" || k.OpenRouter != ""
}

// SelectOptions carries per-request routing flags
type SelectOptions struct {
	Search bool
}

// SelectClient picks the upstream client for one generation. Precedence:
// a native OpenAI key for OpenAI models, then the caller's own OpenRouter
// key, then the platform key for models marked free. Anything else means
// the caller must supply credentials.
func SelectClient(m Model, keys UserKeys, platformKey string, opts SelectOptions) (Client, error) {
	search := opts.Search && m.Supports(CapSearch)

	if keys.OpenAI != "" && strings.HasPrefix(m.ID, "openai/") && !search {
		return NewOpenAIClient(keys.OpenAI, m.ID), nil
	}
	if keys.OpenRouter != "" {
		return NewOpenRouterClient(keys.OpenRouter, m.ID, search), nil
	}
	if keys.OpenAI != "" && strings.HasPrefix(m.ID, "openai/") {
		// Search was requested but native OpenAI has no web plugin; fall
		// back to the native client without it rather than failing.
		return NewOpenAIClient(keys.OpenAI, m.ID), nil
	}
	if m.Free && platformKey != "" {
		return NewOpenRouterClient(platformKey, m.ID, search), nil
	}
	return nil, apperr.ErrCredentialsRequired
}
