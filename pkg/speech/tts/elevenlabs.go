package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

const (
	elevenLabsDefaultModel = "eleven_turbo_v2_5"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
	elevenLabsOutputFormat = "mp3_44100_128"
	elevenLabsOutputMIME   = "audio/mpeg"
)

// ElevenLabsProvider uses the ElevenLabs REST text-to-speech endpoint.
type ElevenLabsProvider struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewElevenLabs(cfg config.TTSConfig, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	model := cfg.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = elevenLabsDefaultVoice
	}
	return &ElevenLabsProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		voice:      voice,
		timeout:    cfg.Timeout(),
		httpClient: client,
	}
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string) models.Result[Audio] {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Failure[Audio](models.CodeTTSFailure, errors.New("text is empty"))
	}
	if e.apiKey == "" {
		return models.Failure[Audio](models.CodeTTSFailure, errors.New("elevenlabs api key is required"))
	}

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": e.model,
	})
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, errors.Wrap(err, "marshal speech request"))
	}

	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(e.voice) + "?output_format=" + elevenLabsOutputFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, errors.Wrap(err, "create request"))
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", elevenLabsOutputMIME)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, errors.Wrap(err, "elevenlabs request"))
	}
	defer resp.Body.Close()

	data, err := readAudio(resp, "elevenlabs")
	if err != nil {
		return models.Failure[Audio](models.CodeTTSFailure, err)
	}
	return models.Success(Audio{Data: data, MIME: elevenLabsOutputMIME})
}
