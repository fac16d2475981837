package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/choraleia/leadagent/pkg/config"
)

func TestGeminiTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"We need help with lead routing.\n"}]}}]}`))
	}))
	defer srv.Close()

	p, err := NewGemini(context.Background(), config.STTConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		Model:          "gemini-2.0-flash",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}

	res := p.Transcribe(context.Background(), []byte("RIFF"), TranscribeOptions{Filename: "a.webm"})
	if !res.Ok() {
		t.Fatalf("Transcribe() failed: %v", res.Err())
	}
	if got := res.Value(); got != "We need help with lead routing." {
		t.Fatalf("Transcribe() = %q", got)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(context.Background(), config.STTConfig{Provider: "openai"})
	if err != nil || p.Name() != "openai" {
		t.Fatalf("New(openai) = %v, %v", p, err)
	}
	if _, err := New(context.Background(), config.STTConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Fatalf("New(unknown) error = nil")
	}
}
