package stt

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

const geminiTranscribePrompt = "Transcribe this audio verbatim. Output only the spoken words, with no commentary. If nothing intelligible is said, output nothing."

// GeminiProvider transcribes by sending inline audio to a Gemini model.
type GeminiProvider struct {
	client   *genai.Client
	model    string
	language string
	timeout  time.Duration
}

// NewGemini creates the provider. cfg.BaseURL, when set, overrides the API endpoint.
func NewGemini(ctx context.Context, cfg config.STTConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "gemini client init")
	}
	return &GeminiProvider{
		client:   client,
		model:    cfg.Model,
		language: cfg.Language,
		timeout:  cfg.Timeout(),
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) models.Result[string] {
	if err := checkAudio(audio); err != nil {
		return models.Failure[string](models.CodeSTTFailure, err)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	prompt := geminiTranscribePrompt
	language := opts.Language
	if language == "" {
		language = p.language
	}
	if language != "" {
		prompt += " The audio language is " + language + "."
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(audio, MIMEType(filenameOrDefault(opts.Filename))),
		}, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return models.Failure[string](models.CodeSTTFailure, errors.Wrap(err, "gemini transcription"))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return models.Failure[string](models.CodeSTTFailure, errors.New("transcription is empty"))
	}
	return models.Success(text)
}
