package provider

// Capability is a model feature flag used when building call payloads
type Capability string

const (
	CapText      Capability = "text"
	CapVision    Capability = "vision"
	CapFile      Capability = "file"
	CapSearch    Capability = "search"
	CapReasoning Capability = "reasoning"
)

// Model describes one entry of the static model catalog
type Model struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Provider     string       `json:"provider"`
	Capabilities []Capability `json:"capabilities"`
	Free         bool         `json:"free,omitempty"`
	Recommended  bool         `json:"recommended,omitempty"`
}

// Supports reports whether the model declares the given capability
func (m Model) Supports(c Capability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// DefaultModelID is used when a send request carries no model and the chat
// has no history to inherit one from.
const DefaultModelID = "google/gemini-2.5-flash"

// Catalog is the static configuration of supported models. Capability flags
// drive attachment expansion and search routing; Free marks models the
// platform is willing to fund through its own OpenRouter key.
var Catalog = []Model{
	{
		ID:           "google/gemini-2.5-flash",
		Name:         "Gemini 2.5 Flash",
		Provider:     "google",
		Capabilities: []Capability{CapText, CapVision, CapFile, CapSearch},
		Free:         true,
		Recommended:  true,
	},
	{
		ID:           "google/gemini-2.5-pro",
		Name:         "Gemini 2.5 Pro",
		Provider:     "google",
		Capabilities: []Capability{CapText, CapVision, CapFile, CapSearch, CapReasoning},
		Recommended:  true,
	},
	{
		ID:           "google/gemini-2.0-flash-001",
		Name:         "Gemini 2.0 Flash",
		Provider:     "google",
		Capabilities: []Capability{CapText, CapVision, CapFile, CapSearch},
		Free:         true,
	},
	{
		ID:           "openai/gpt-4o",
		Name:         "GPT-4o",
		Provider:     "openai",
		Capabilities: []Capability{CapText, CapVision, CapSearch},
		Recommended:  true,
	},
	{
		ID:           "openai/gpt-4o-mini",
		Name:         "GPT-4o mini",
		Provider:     "openai",
		Capabilities: []Capability{CapText, CapVision},
		Free:         true,
	},
	{
		ID:           "openai/o4-mini",
		Name:         "o4-mini",
		Provider:     "openai",
		Capabilities: []Capability{CapText, CapVision, CapReasoning},
	},
	{
		ID:           "anthropic/claude-sonnet-4",
		Name:         "Claude Sonnet 4",
		Provider:     "anthropic",
		Capabilities: []Capability{CapText, CapVision, CapFile, CapReasoning},
		Recommended:  true,
	},
	{
		ID:           "anthropic/claude-3.5-haiku",
		Name:         "Claude 3.5 Haiku",
		Provider:     "anthropic",
		Capabilities: []Capability{CapText, CapVision},
	},
	{
		ID:           "meta-llama/llama-3.3-70b-instruct",
		Name:         "Llama 3.3 70B",
		Provider:     "meta",
		Capabilities: []Capability{CapText},
		Free:         true,
	},
	{
		ID:           "deepseek/deepseek-r1",
		Name:         "DeepSeek R1",
		Provider:     "deepseek",
		Capabilities: []Capability{CapText, CapReasoning},
		Free:         true,
	},
}

// Find looks up a model by id in the catalog
func Find(id string) (Model, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
