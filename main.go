package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/db"
	"github.com/choraleia/leadagent/pkg/event"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/service"
	"github.com/choraleia/leadagent/pkg/speech/stt"
	"github.com/choraleia/leadagent/pkg/speech/tts"
	"github.com/choraleia/leadagent/pkg/utils"
)

// main loads configuration, wires the agent services and serves HTTP until
// SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "leadagent:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, cfgPath, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logging system
	logger := utils.InitLogger(utils.LoggerOptions{Format: cfg.Log.Format, Level: cfg.Log.Level})
	logger.Info("Configuration loaded", "path", cfgPath, "addr", cfg.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.Database.URL, cfg.Database.AuthToken)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()
	if err := service.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	locker, closeLocker, err := service.NewLocker(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	defer closeLocker()

	modelService := service.NewModelService()
	chatCfg := service.ChatModelConfig(cfg.LLM)
	chatModel, err := modelService.CreateChatModel(ctx, chatCfg)
	if err != nil {
		return fmt.Errorf("create chat model: %w", err)
	}

	knowledge, err := service.NewKnowledgeService(cfg.Knowledge)
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	if embedCfg := service.EmbeddingModelConfig(cfg.Knowledge); embedCfg != nil {
		embedder, err := modelService.CreateEmbedder(ctx, embedCfg)
		if err == nil {
			err = knowledge.EnableSearch(ctx, service.EmbeddingFuncFromEmbedder(embedder))
		}
		// Search is an extra; the agent works without it.
		if err != nil {
			logger.Warn("Knowledge search disabled", "provider", embedCfg.Provider, "error", err)
		}
	}

	speechToText, err := stt.New(ctx, cfg.STT)
	if err != nil {
		return fmt.Errorf("create stt provider: %w", err)
	}
	textToSpeech, err := tts.New(cfg.TTS)
	if err != nil {
		return fmt.Errorf("create tts provider: %w", err)
	}

	var extractorModel einoModel.BaseChatModel
	if cfg.LeadExtraction.UseModel {
		extractorModel = chatModel
	}

	emitter := event.Global()
	agent := service.NewAgentService(service.AgentDeps{
		Store:  service.NewSessionStore(gdb),
		Locker: locker,
		Engine: service.NewConversationEngine(knowledge, chatModel, service.CallOptions(chatCfg), cfg.LLM.Timeout(), service.HistoryLimits{
			MaxTurns: cfg.Conversation.HistoryMaxTurns,
			MinTurns: cfg.Conversation.HistoryMinTurns,
			MaxChars: cfg.Conversation.HistoryMaxChars,
		}),
		Extractor:     service.NewLeadExtractor(extractorModel, cfg.LLM.Timeout()),
		Selector:      service.NewMediaSelector(service.DefaultMediaTable),
		STT:           speechToText,
		TTS:           textToSpeech,
		Emitter:       emitter,
		Greeting:      cfg.Conversation.Greeting,
		STTLanguage:   cfg.STT.Language,
		HistoryTurns:  cfg.Conversation.HistoryMaxTurns,
		CommitTimeout: config.StorageTimeout,
	})

	server := NewServer(cfg, Services{
		Agent:     agent,
		Knowledge: knowledge,
		Emitter:   emitter,
		Runtime: models.RuntimeInfo{
			LLMProvider:     chatCfg.Provider,
			STTProvider:     speechToText.Name(),
			TTSEnabled:      textToSpeech.Name() != "none",
			KnowledgeSearch: knowledge.SearchEnabled(),
		},
	})
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	server.Wait()
	return nil
}
