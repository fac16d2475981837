package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/models"
)

func testServer(t *testing.T, mutate func(*config.AppConfig)) *Server {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LEADAGENT_CONFIG", filepath.Join(home, "missing.yaml"))
	for _, k := range []string{"CORS_ORIGINS", "CORS_ALLOW_ALL", "PORT", "HOST"} {
		t.Setenv(k, "")
	}
	cfg, _, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(cfg, Services{Runtime: models.RuntimeInfo{LLMProvider: "openai", TTSEnabled: true}})
}

func serve(s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.ginEngine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := testServer(t, nil)
	for _, path := range []string{"/health", "/api/health"} {
		w := serve(s, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
			t.Fatalf("GET %s = %d %s", path, w.Code, w.Body.String())
		}
	}
}

func TestCORS(t *testing.T) {
	s := testServer(t, func(cfg *config.AppConfig) {
		cfg.Server.CORSOrigins = []string{"https://app.example.com/"}
	})

	w := serve(s, http.MethodOptions, "/chat/text", map[string]string{"Origin": "https://app.example.com"})
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allowed preflight = %d %v", w.Code, w.Header())
	}

	w = serve(s, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example.com"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("unknown origin = %d, want 403", w.Code)
	}

	allowAll := true
	s = testServer(t, func(cfg *config.AppConfig) { cfg.Server.CORSAllowAll = &allowAll })
	w = serve(s, http.MethodGet, "/health", map[string]string{"Origin": "http://localhost:5173"})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("allow-all = %d %v", w.Code, w.Header())
	}
}

func TestRuntimeInfo(t *testing.T) {
	s := testServer(t, nil)
	w := serve(s, http.MethodGet, "/api/runtime", nil)
	var info models.RuntimeInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Port != config.DefaultPort || info.LLMProvider != "openai" || !info.TTSEnabled {
		t.Fatalf("runtime = %+v", info)
	}
	if info.HTTPBaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("HTTPBaseURL = %q", info.HTTPBaseURL)
	}
}

func TestStaticSPA(t *testing.T) {
	dist := t.TempDir()
	if err := os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dist, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := testServer(t, func(cfg *config.AppConfig) { cfg.Frontend.DistDir = dist })

	if w := serve(s, http.MethodGet, "/", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "app") {
		t.Fatalf("GET / = %d %q", w.Code, w.Body.String())
	}
	if w := serve(s, http.MethodGet, "/app.js", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "console") {
		t.Fatalf("GET /app.js = %d", w.Code)
	}
	if w := serve(s, http.MethodGet, "/dashboard", map[string]string{"Accept": "text/html"}); w.Code != http.StatusOK {
		t.Fatalf("SPA route = %d", w.Code)
	}
	w := serve(s, http.MethodGet, "/nope.png", map[string]string{"Accept": "image/png"})
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "NOT_FOUND") {
		t.Fatalf("missing asset = %d %s", w.Code, w.Body.String())
	}
}
