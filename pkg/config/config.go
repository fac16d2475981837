package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory
// (or the path in LEADAGENT_CONFIG) and then overlaid with environment variables.
// All fields are optional; defaults are applied by Load.
//
// Example (~/.leadagent/config.yaml):
//
// server:
//   host: 0.0.0.0
//   port: 8000
//   cors_origins: ["http://localhost:5173"]
// database:
//   url: sqlite://leadagent.db
// llm:
//   provider: openai
//   base_url: https://api.groq.com/openai/v1
//   model: llama-3.3-70b-versatile
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Log            LogConfig            `yaml:"log"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	LLM            LLMConfig            `yaml:"llm"`
	STT            STTConfig            `yaml:"stt"`
	TTS            TTSConfig            `yaml:"tts"`
	Conversation   ConversationConfig   `yaml:"conversation"`
	LeadExtraction LeadExtractionConfig `yaml:"lead_extraction"`
	Knowledge      KnowledgeConfig      `yaml:"knowledge"`
	Frontend       FrontendConfig       `yaml:"frontend"`
}

type ServerConfig struct {
	Host         *string  `yaml:"host"`
	Port         *int     `yaml:"port"`
	CORSOrigins  []string `yaml:"cors_origins"`
	CORSAllowAll *bool    `yaml:"cors_allow_all"`
}

type LogConfig struct {
	Format string `yaml:"format"` // json, text
	Level  string `yaml:"level"`
}

// DatabaseConfig selects the storage backend by URL scheme:
// sqlite://path, postgres://..., mysql://...
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"` // used as the password when the URL carries none
}

// RedisConfig enables the distributed session lock when URL is set.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"` // default: TurnBudget
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"` // openai, groq, custom, deepseek, anthropic, ollama, google, qwen, ark
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TopP           float32 `yaml:"top_p"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type STTConfig struct {
	Provider       string `yaml:"provider"` // openai, gemini
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TTSConfig struct {
	Provider       string `yaml:"provider"` // openai, elevenlabs, none
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Voice          string `yaml:"voice"`
	Format         string `yaml:"format"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ConversationConfig struct {
	HistoryMaxTurns int    `yaml:"history_max_turns"`
	HistoryMinTurns int    `yaml:"history_min_turns"` // always kept in full
	HistoryMaxChars int    `yaml:"history_max_chars"`
	Greeting        string `yaml:"greeting"`
}

type LeadExtractionConfig struct {
	UseModel bool `yaml:"use_model"`
}

type KnowledgeConfig struct {
	SystemPromptPath  string `yaml:"system_prompt_path"`
	DocumentPath      string `yaml:"document_path"`
	EmbeddingProvider string `yaml:"embedding_provider"` // openai, ollama, google; empty disables search
	EmbeddingModel    string `yaml:"embedding_model"`
	EmbeddingBaseURL  string `yaml:"embedding_base_url"`
	EmbeddingAPIKey   string `yaml:"embedding_api_key"`
}

type FrontendConfig struct {
	DistDir string `yaml:"dist_dir"`
}

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8000

	DefaultDatabaseURL = "sqlite://leadagent.db"
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

	DefaultLLMModel = "llama-3.3-70b-versatile"
	DefaultSTTModel = "whisper-large-v3-turbo"
	DefaultTTSModel = "playai-tts"
	DefaultTTSVoice = "Fritz-PlayAI"

	DefaultGreeting = "Hi there! I'm Jane, a virtual sales representative. I'd like to learn more about your company and how we might be able to help you. Could you tell me the name of your company?"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	if p := strings.TrimSpace(os.Getenv("LEADAGENT_CONFIG")); p != "" {
		return filepath.Dir(p), p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".leadagent")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads the config file, applies environment overrides and defaults, and validates.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	defaultCfg.applyDefaults()
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Written with restrictive permissions since the file may later hold API keys.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

// Validate checks the values that cannot be defaulted away.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return errors.New("invalid server.host (empty)")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	if c.Conversation.HistoryMinTurns > c.Conversation.HistoryMaxTurns {
		return fmt.Errorf("conversation.history_min_turns %d exceeds history_max_turns %d",
			c.Conversation.HistoryMinTurns, c.Conversation.HistoryMaxTurns)
	}
	switch c.TTS.Provider {
	case "openai", "elevenlabs", "none":
	default:
		return fmt.Errorf("unsupported tts.provider %q", c.TTS.Provider)
	}
	switch c.STT.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported stt.provider %q", c.STT.Provider)
	}
	return nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil {
		return DefaultPort
	}
	if c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// CORSAllowAll reports whether every origin is accepted (development mode).
func (c *AppConfig) CORSAllowAll() bool {
	if c == nil || c.Server.CORSAllowAll == nil {
		return false
	}
	return *c.Server.CORSAllowAll
}

func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host(), c.Port())
}

func (c LLMConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }
func (c STTConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }
func (c TTSConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

func (c RedisConfig) LockTTL() time.Duration { return seconds(c.LockTTLSeconds) }

func (c *AppConfig) applyDefaults() {
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.URL == "" {
		c.Database.URL = DefaultDatabaseURL
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" && (c.LLM.Provider == "openai" || c.LLM.Provider == "groq") {
		c.LLM.BaseURL = DefaultGroqBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 200
	}
	if c.LLM.TopP == 0 {
		c.LLM.TopP = 0.9
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 20
	}

	if c.STT.Provider == "" {
		c.STT.Provider = "openai"
	}
	if c.STT.BaseURL == "" && c.STT.Provider == "openai" {
		c.STT.BaseURL = DefaultGroqBaseURL
	}
	if c.STT.Model == "" {
		if c.STT.Provider == "gemini" {
			c.STT.Model = "gemini-2.0-flash"
		} else {
			c.STT.Model = DefaultSTTModel
		}
	}
	if c.STT.APIKey == "" {
		c.STT.APIKey = c.LLM.APIKey
	}
	if c.STT.TimeoutSeconds <= 0 {
		c.STT.TimeoutSeconds = 8
	}

	if c.TTS.Provider == "" {
		c.TTS.Provider = "openai"
	}
	if c.TTS.BaseURL == "" {
		switch c.TTS.Provider {
		case "openai":
			c.TTS.BaseURL = DefaultGroqBaseURL
		case "elevenlabs":
			c.TTS.BaseURL = "https://api.elevenlabs.io"
		}
	}
	if c.TTS.Model == "" && c.TTS.Provider == "openai" {
		c.TTS.Model = DefaultTTSModel
	}
	if c.TTS.Voice == "" && c.TTS.Provider == "openai" {
		c.TTS.Voice = DefaultTTSVoice
	}
	if c.TTS.Format == "" {
		c.TTS.Format = "wav"
	}
	if c.TTS.APIKey == "" && c.TTS.Provider == "openai" {
		c.TTS.APIKey = c.LLM.APIKey
	}
	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = 8
	}

	if c.Conversation.HistoryMaxTurns <= 0 {
		c.Conversation.HistoryMaxTurns = 10
	}
	if c.Conversation.HistoryMinTurns <= 0 {
		c.Conversation.HistoryMinTurns = min(4, c.Conversation.HistoryMaxTurns)
	}
	if c.Conversation.HistoryMaxChars <= 0 {
		c.Conversation.HistoryMaxChars = 8000
	}
	if strings.TrimSpace(c.Conversation.Greeting) == "" {
		c.Conversation.Greeting = DefaultGreeting
	}

	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = int(c.TurnBudget() / time.Second)
	}
}

// StorageTimeout bounds each storage call made while a session is locked.
const StorageTimeout = 10 * time.Second

// TurnBudget is the longest a single turn can hold its session lock: STT,
// the state load, the reply, extraction alongside TTS, the commit, plus slack.
// The default Redis lock TTL is derived from it so a lock cannot lapse mid-turn.
func (c *AppConfig) TurnBudget() time.Duration {
	return c.STT.Timeout() + StorageTimeout + c.LLM.Timeout() +
		max(c.LLM.Timeout(), c.TTS.Timeout()) + StorageTimeout + StorageTimeout
}

// applyEnv overlays recognized environment variables on top of the file values.
func (c *AppConfig) applyEnv() error {
	if v := firstEnv("HOST"); v != "" {
		c.Server.Host = ptr(v)
	}
	if v := firstEnv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = ptr(p)
	}
	if v := firstEnv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := firstEnv("CORS_ALLOW_ALL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CORS_ALLOW_ALL %q: %w", v, err)
		}
		c.Server.CORSAllowAll = ptr(b)
	}
	if v := firstEnv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := firstEnv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := firstEnv("DATABASE_URL", "TURSO_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := firstEnv("DATABASE_AUTH_TOKEN", "TURSO_AUTH_TOKEN"); v != "" {
		c.Database.AuthToken = v
	}
	if v := firstEnv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := firstEnv("LLM_API_KEY", "GROQ_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := firstEnv("STT_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := firstEnv("TTS_API_KEY", "ELEVENLABS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func ptr[T any](v T) *T { return &v }
