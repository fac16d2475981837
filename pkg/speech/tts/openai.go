package tts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

// OpenAIProvider talks to an OpenAI-compatible /audio/speech endpoint (Groq, OpenAI).
type OpenAIProvider struct {
	client  openai.Client
	model   string
	voice   string
	format  string
	timeout time.Duration
}

// NewOpenAI creates the provider; httpClient may be nil.
func NewOpenAI(cfg config.TTSConfig, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		voice:   cfg.Voice,
		format:  cfg.Format,
		timeout: cfg.Timeout(),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) models.Result[Audio] {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Failure[Audio](models.CodeTTSFailure, errors.New("text is empty"))
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          openai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(p.format),
	})
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, errors.Wrap(err, "speech request"))
	}
	defer resp.Body.Close()

	data, err := readAudio(resp, "speech")
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, err)
	}
	return models.Success(Audio{Data: data, MIME: MIMEType(p.format)})
}
