package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/careerpath/interviewcoach/server/adapters/llm"
	"github.com/careerpath/interviewcoach/server/adapters/memory"
	"github.com/careerpath/interviewcoach/server/adapters/mongo"
	"github.com/careerpath/interviewcoach/server/adapters/stt"
	"github.com/careerpath/interviewcoach/server/adapters/tts"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
	"github.com/careerpath/interviewcoach/server/internal/api"
	"github.com/careerpath/interviewcoach/server/internal/auth"
	"github.com/careerpath/interviewcoach/server/internal/config"
	"github.com/careerpath/interviewcoach/server/internal/websocket"
	"github.com/careerpath/interviewcoach/server/usecase"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the interview server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	var closers []func(context.Context) error
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](closeCtx); err != nil {
				logger.Warn("Failed to close adapter", zap.Error(err))
			}
		}
	}()

	backend, err := newDialogueBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	recognizer, err := newRecognizer(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	synthesizer, err := newSynthesizer(cfg, logger)
	if err != nil {
		return err
	}
	sessions, err := newSessionRepository(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// Initialize usecase services
	clk := clock.New()
	svc, err := usecase.NewInterviewService(cfg.Runtime(), usecase.Dependencies{
		Backend:     backend,
		Recognizer:  recognizer,
		Synthesizer: synthesizer,
		Sessions:    sessions,
		Issuer:      issuer,
		Clock:       clk,
	}, cfg.Cleanup.Retention, logger.Named("interview"))
	if err != nil {
		return err
	}
	cleanup := usecase.NewSessionCleanupService(svc, cfg.Cleanup.Interval, clk, logger.Named("cleanup"))

	hub := websocket.NewHub(svc, websocket.Config{
		FrameRate:  cfg.Websocket.FrameRate,
		FrameBurst: cfg.Websocket.FrameBurst,
	}, logger.Named("websocket"))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, svc, issuer, hub, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Server started",
			zap.String("port", cfg.Server.Port),
			zap.String("dialogue", cfg.Dialogue.Provider),
			zap.String("recognition", cfg.Recognition.Provider),
			zap.String("synthesis", cfg.Synthesis.Provider),
			zap.String("storage", cfg.Storage.Provider))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// End live sessions first so their reports are stored before the listener goes away
		err := multierr.Combine(
			svc.Shutdown(shutdownCtx),
			e.Shutdown(shutdownCtx),
		)
		if err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func newDialogueBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.DialogueBackend, error) {
	switch cfg.Dialogue.Provider {
	case config.ProviderGemini:
		backend, err := llm.NewGeminiInterviewer(ctx, cfg.Dialogue.Gemini, logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini interviewer: %w", err)
		}
		return backend, nil
	default:
		logger.Warn("Using scripted mock interviewer")
		return llm.NewMockInterviewer(), nil
	}
}

// newRecognizer returns nil when recognition runs in the client
func newRecognizer(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *[]func(context.Context) error) (repositories.SpeechToText, error) {
	switch cfg.Recognition.Provider {
	case config.ProviderGoogle:
		recognizer, err := stt.NewGoogleSpeechToText(ctx, logger.Named("stt"))
		if err != nil {
			return nil, fmt.Errorf("failed to create google speech client: %w", err)
		}
		*closers = append(*closers, func(context.Context) error { return recognizer.Close() })
		return recognizer, nil
	case config.ProviderMock:
		return stt.NewMockSpeechToText(logger.Named("stt")), nil
	default:
		return nil, nil
	}
}

// newSynthesizer returns nil when the interviewer is not voiced by the server
func newSynthesizer(cfg *config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.Synthesis.Provider {
	case config.ProviderElevenLabs:
		synthesizer, err := tts.NewElevenLabsTTS(cfg.Synthesis.ElevenLabs, nil, logger.Named("tts"))
		if err != nil {
			return nil, fmt.Errorf("failed to create elevenlabs client: %w", err)
		}
		return synthesizer, nil
	case config.ProviderMock:
		return &tts.MockTextToSpeech{}, nil
	default:
		return nil, nil
	}
}

func newSessionRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *[]func(context.Context) error) (repositories.SessionRepository, error) {
	if cfg.Storage.Provider != config.ProviderMongo {
		return memory.NewSessionRepository(), nil
	}

	client, err := mongo.NewClient(ctx, cfg.Storage.Mongo, logger.Named("mongo"))
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, client.Close)

	repo := mongo.NewSessionRepository(client.Database, logger.Named("mongo"))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return repo, nil
}
