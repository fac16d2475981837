package models

// Task types a configured model can serve.
const (
	TaskTypeChat          = "chat"           // Conversational text generation
	TaskTypeTextEmbedding = "text_embedding" // Text to vector
)

// ModelConfig unified struct containing common fields and vendor extension fields.
// Extra stores vendor specific additional parameters (e.g. "region" for ark).
type ModelConfig struct {
	Provider    string                 `json:"provider"`
	TaskTypes   []string               `json:"task_types"`
	Model       string                 `json:"model"`
	BaseUrl     string                 `json:"base_url"`
	ApiKey      string                 `json:"api_key"`
	Temperature float32                `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	TopP        float32                `json:"top_p,omitempty"`
	Extra       map[string]interface{} `json:"extra"`
}

func (m *ModelConfig) Normalize() {
	if m.Provider == "groq" {
		m.Provider = "openai"
	}
	if len(m.TaskTypes) == 0 {
		m.TaskTypes = []string{TaskTypeChat}
	}
	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}
}

// SupportedModelProviders supported chat model providers
var SupportedModelProviders = map[string]struct{}{
	"openai":    {},
	"groq":      {},
	"deepseek":  {},
	"anthropic": {},
	"google":    {},
	"ark":       {},
	"ollama":    {},
	"qwen":      {},
	"custom":    {},
}

// SupportedEmbeddingProviders embedding providers usable for knowledge search
var SupportedEmbeddingProviders = map[string]struct{}{
	"openai": {},
	"ollama": {},
	"google": {},
}
