// Package tts wraps hosted text-to-speech services.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

// Provider is the interface for text-to-speech services.
// Synthesize makes a single bounded attempt; callers treat failure as non-fatal.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string) models.Result[Audio]
}

// Audio is synthesized speech.
type Audio struct {
	Data []byte
	MIME string
}

const maxAudioBytes = 20 << 20

// New builds the provider selected by cfg.Provider.
func New(cfg config.TTSConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg, nil), nil
	case "elevenlabs":
		return NewElevenLabs(cfg, nil), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.Provider)
	}
}

// Disabled is used when speech output is switched off. Every call fails with TTS_FAILURE.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Synthesize(context.Context, string) models.Result[Audio] {
	return models.Failure[Audio](models.CodeTTSFailure, errors.New("speech synthesis disabled"))
}

// MIMEType maps an output format name to its MIME type.
func MIMEType(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "opus", "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/wav"
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// readAudio reads a successful audio response body or turns an error response into an error.
func readAudio(resp *http.Response, provider string) ([]byte, error) {
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("%s error %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s audio", provider)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("%s returned no audio", provider)
	}
	if len(data) > maxAudioBytes {
		return nil, errors.Errorf("%s audio exceeds %d bytes", provider, maxAudioBytes)
	}
	return data, nil
}
