// Package stt wraps hosted speech-to-text services.
package stt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

// Provider is the interface for speech-to-text services.
// Transcribe makes a single bounded attempt; it never retries.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text. An empty transcript is a failure.
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) models.Result[string]
}

// TranscribeOptions configures one transcription.
type TranscribeOptions struct {
	Filename string // used for the upload name and MIME detection (default "audio.wav")
	Language string // ISO language code, optional
}

// maxAudioBytes matches the hosted whisper upload limit.
const maxAudioBytes = 25 << 20

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.STTConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg, nil), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// checkAudio rejects inputs that can only produce an empty or refused transcription.
func checkAudio(audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("audio is empty")
	}
	if len(audio) > maxAudioBytes {
		return fmt.Errorf("audio is %d bytes, limit is %d", len(audio), maxAudioBytes)
	}
	return nil
}

func filenameOrDefault(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return "audio.wav"
	}
	if filepath.Ext(name) == "" {
		return name + ".wav"
	}
	return name
}

// MIMEType guesses the audio MIME type from a file name.
func MIMEType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".webm":
		return "audio/webm"
	case ".mp3", ".mpeg", ".mpga":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
