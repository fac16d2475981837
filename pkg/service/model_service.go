package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/utils"
	geminiEmbed "github.com/cloudwego/eino-ext/components/embedding/gemini"
	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/cloudwego/eino/components/embedding"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

type ModelService struct {
	logger *slog.Logger
}

func NewModelService() *ModelService {
	return &ModelService{
		logger: utils.GetLogger(),
	}
}

// ChatModelConfig converts the llm config section into a ModelConfig.
func ChatModelConfig(cfg config.LLMConfig) *models.ModelConfig {
	mc := &models.ModelConfig{
		Provider:    cfg.Provider,
		TaskTypes:   []string{models.TaskTypeChat},
		Model:       cfg.Model,
		BaseUrl:     cfg.BaseURL,
		ApiKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
	}
	mc.Normalize()
	return mc
}

// EmbeddingModelConfig converts the knowledge config section into a ModelConfig.
// It returns nil when no embedding provider is configured.
func EmbeddingModelConfig(cfg config.KnowledgeConfig) *models.ModelConfig {
	if cfg.EmbeddingProvider == "" {
		return nil
	}
	mc := &models.ModelConfig{
		Provider:  cfg.EmbeddingProvider,
		TaskTypes: []string{models.TaskTypeTextEmbedding},
		Model:     cfg.EmbeddingModel,
		BaseUrl:   cfg.EmbeddingBaseURL,
		ApiKey:    cfg.EmbeddingAPIKey,
	}
	mc.Normalize()
	return mc
}

// CallOptions returns the per-call generation options for config.
func CallOptions(config *models.ModelConfig) []einoModel.Option {
	var opts []einoModel.Option
	if config == nil {
		return opts
	}
	if config.Temperature > 0 {
		opts = append(opts, einoModel.WithTemperature(config.Temperature))
	}
	if config.MaxTokens > 0 {
		opts = append(opts, einoModel.WithMaxTokens(config.MaxTokens))
	}
	if config.TopP > 0 {
		opts = append(opts, einoModel.WithTopP(config.TopP))
	}
	return opts
}

// CreateChatModel creates an eino chat model from config
func (m *ModelService) CreateChatModel(ctx context.Context, config *models.ModelConfig) (einoModel.ToolCallingChatModel, error) {
	if config == nil {
		return nil, fmt.Errorf("model config is nil")
	}
	if _, ok := models.SupportedModelProviders[config.Provider]; !ok {
		return nil, fmt.Errorf("unsupported model provider: %s", config.Provider)
	}

	m.logger.Info("Creating chat model",
		"provider", config.Provider,
		"model", config.Model,
		"baseURL", config.BaseUrl,
		"apiKey", utils.MaskSensitiveString(config.ApiKey))

	switch config.Provider {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := 60 * time.Second
		// Turns are never retried, the pipeline surfaces MODEL_UNAVAILABLE instead.
		retries := 0
		region := ""
		if v, ok := config.Extra["region"]; ok {
			region, _ = v.(string)
		}
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    config.BaseUrl,
			Region:     region,
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     config.ApiKey,
			Model:      config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		maxTokens := config.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 1024
		}
		var baseURL *string
		if config.BaseUrl != "" {
			baseURL = &config.BaseUrl
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   baseURL,
			APIKey:    config.ApiKey,
			Model:     config.Model,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: config.BaseUrl,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := newGenaiClient(ctx, config)
		if err != nil {
			return nil, err
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", config.Provider)
	}
}

// CreateEmbedder creates an eino embedder for the knowledge search index.
func (m *ModelService) CreateEmbedder(ctx context.Context, config *models.ModelConfig) (embedding.Embedder, error) {
	if config == nil {
		return nil, fmt.Errorf("embedding config is nil")
	}
	if _, ok := models.SupportedEmbeddingProviders[config.Provider]; !ok {
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}

	switch config.Provider {
	case "openai":
		model := config.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		embedder, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			BaseURL: config.BaseUrl,
			APIKey:  config.ApiKey,
			Model:   model,
			Timeout: 30 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		return embedder, nil

	case "ollama":
		baseURL := config.BaseUrl
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := config.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		embedder, err := ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
			Timeout: 30 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
		}
		return embedder, nil

	case "google":
		genaiClient, err := newGenaiClient(ctx, config)
		if err != nil {
			return nil, err
		}
		model := config.Model
		if model == "" {
			model = "text-embedding-004"
		}
		embedder, err := geminiEmbed.NewEmbedder(ctx, &geminiEmbed.EmbeddingConfig{
			Client: genaiClient,
			Model:  model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedder: %w", err)
		}
		return embedder, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}
}

func newGenaiClient(ctx context.Context, config *models.ModelConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  config.ApiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseUrl != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseUrl}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}
