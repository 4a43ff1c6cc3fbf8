package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/adapters/content"
	"github.com/haneul-labs/sori-server/adapters/llm"
	"github.com/haneul-labs/sori-server/adapters/mongo"
	"github.com/haneul-labs/sori-server/adapters/recognition"
	"github.com/haneul-labs/sori-server/adapters/tts"
	"github.com/haneul-labs/sori-server/domain/repositories"
	"github.com/haneul-labs/sori-server/internal/api"
	"github.com/haneul-labs/sori-server/internal/auth"
	"github.com/haneul-labs/sori-server/internal/config"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/voice"
	"github.com/haneul-labs/sori-server/internal/wakeword"
	"github.com/haneul-labs/sori-server/internal/websocket"
	"github.com/haneul-labs/sori-server/usecase"
)

func main() {
	// Environment first so config sees SORI_* overrides from .env files.
	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(settings.Debug)
	defer logger.Sync()

	// Content store: MongoDB when configured, the seeded in-memory store
	// otherwise.
	var store repositories.ContentStore
	var mongoClient *mongo.Client
	if settings.Content.MongoURI == "" {
		store = content.NewSeededStore()
		logger.Info("Using in-memory content store with sample articles")
	} else {
		mongoClient, err = mongo.NewClient(settings.Content.MongoURI, settings.Content.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		store = mongo.NewContentStore(mongoClient.Database)
	}

	// Recognition engines. Google carries the default load, whisper is the
	// self-hosted fallback, gemini is selectable ahead of its rollout.
	manager := recognition.NewManager(logger)
	engines := []repositories.Recognizer{
		recognition.NewGoogleRecognizer(logger),
		recognition.NewWhisperRecognizer(settings.Recognition.WhisperURL, logger),
		recognition.NewGeminiRecognizer(),
	}
	for _, engine := range engines {
		if err := manager.Register(engine); err != nil {
			logger.Fatal("Failed to register recognition engine", zap.Error(err))
		}
	}
	if err := manager.Use(settings.Recognition.DefaultEngine); err != nil {
		logger.Fatal("Unknown default recognition engine", zap.Error(err))
	}

	// NL interpreter and speech renderer degrade to nil when unconfigured;
	// the command service falls back to keyword rules and text-only replies.
	var interpreter repositories.CommandInterpreter
	if settings.Interpreter.GeminiAPIKey != "" {
		interpreter, err = llm.NewGeminiInterpreter(settings.Interpreter.GeminiAPIKey, settings.Interpreter.Model, logger)
		if err != nil {
			logger.Fatal("Failed to initialize NL interpreter", zap.Error(err))
		}
	} else {
		logger.Warn("No Gemini API key configured, keyword rules only")
	}

	var renderer repositories.SpeechRenderer
	if settings.Speech.ElevenLabsAPIKey != "" {
		renderer, err = tts.NewElevenLabsRenderer(tts.ElevenLabsConfig{
			APIKey:  settings.Speech.ElevenLabsAPIKey,
			VoiceID: settings.Speech.VoiceID,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize speech renderer", zap.Error(err))
		}
	} else {
		logger.Warn("No ElevenLabs API key configured, replies will be text only")
	}

	// Wake-word detection. ML and hybrid modes need the scoring service;
	// without one configured the server runs on energy detection alone.
	wakeMode, err := wakeword.ParseMode(settings.WakeWord.Mode)
	if err != nil {
		logger.Fatal("Invalid wake-word mode", zap.Error(err))
	}
	var scorer wakeword.Scorer
	if settings.WakeWord.ModelURL != "" {
		scorer = wakeword.NewModelScorer(settings.WakeWord.ModelURL, settings.WakeWord.Phrase, 16000, logger)
	} else if wakeMode != wakeword.ModeEnergy {
		logger.Warn("No wake model URL configured, using energy detection",
			zap.String("configured", string(wakeMode)))
		wakeMode = wakeword.ModeEnergy
	}

	dispatcher := usecase.NewCommandService(interpreter, store, renderer, logger)
	faults := recovery.NewEngine(logger)

	verifier := auth.NewVerifier(settings.Auth.JWTSecret, settings.Auth.DevMode)
	if settings.Auth.DevMode {
		logger.Warn("Auth dev mode enabled, any non-empty token is accepted")
	}

	hub := websocket.NewHub(verifier, manager, dispatcher, faults, websocket.Config{
		WakeMode: wakeMode,
		WakeThresholds: wakeword.Thresholds{
			Energy: settings.WakeWord.EnergyThreshold,
			Model:  settings.WakeWord.ModelThreshold,
		},
		WakeScorer: scorer,
		Pipeline: voice.Config{
			Gate: wakeword.GateConfig{
				Cooldown:       settings.WakeWord.Cooldown,
				MaxUtterance:   settings.WakeWord.MaxUtterance,
				SilenceTimeout: settings.WakeWord.SilenceTimeout,
			},
			PhraseHints: settings.Recognition.PhraseHints,
			HintBoost:   settings.Recognition.HintBoost,
		},
		AllowedOrigins: settings.Server.AllowedOrigins,
	}, logger)
	go hub.Run()

	janitor := websocket.NewJanitor(hub, settings.Session.IdleTimeout, settings.Session.SweepInterval, logger)
	janitor.Start()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, manager, faults, logger)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", settings.Server.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Sori server started",
		zap.Int("port", settings.Server.Port),
		zap.String("env", settings.Env),
		zap.String("engine", manager.ActiveName()),
		zap.String("wakeMode", string(wakeMode)))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")
	janitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if mongoClient != nil {
		if err := mongoClient.Close(ctx); err != nil {
			logger.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
