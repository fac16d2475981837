package stt

import (
	"bytes"
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

// OpenAIProvider talks to an OpenAI-compatible /audio/transcriptions endpoint
// (Groq, OpenAI, or a local whisper server).
type OpenAIProvider struct {
	client   openai.Client
	model    string
	language string
	timeout  time.Duration
}

// NewOpenAI creates the provider; httpClient may be nil.
func NewOpenAI(cfg config.STTConfig, httpClient *http.Client) *OpenAIProvider {
	return &OpenAIProvider{
		client:   openai.NewClient(clientOptions(cfg.BaseURL, cfg.APIKey, httpClient)...),
		model:    cfg.Model,
		language: cfg.Language,
		timeout:  cfg.Timeout(),
	}
}

// clientOptions configures a single-attempt client. Retries are left to the caller.
func clientOptions(baseURL, apiKey string, httpClient *http.Client) []option.RequestOption {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return opts
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) models.Result[string] {
	if err := checkAudio(audio); err != nil {
		return models.Failure[string](models.CodeSTTFailure, err)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.transcribe(ctx, audio, opts)
	if err != nil {
		return models.Failure[string](models.CodeSTTFailure, err)
	}
	return models.Success(text)
}

func (p *OpenAIProvider) transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (string, error) {
	filename := filenameOrDefault(opts.Filename)
	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(audio), filename, MIMEType(filename)),
		Model:          p.model,
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	language := opts.Language
	if language == "" {
		language = p.language
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	out, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "transcription request")
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", errors.New("transcription is empty")
	}
	return text, nil
}
