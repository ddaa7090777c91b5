// Command go-docchat-core runs the conversation core for document Q&A chat:
// it owns the active conversation state, talks to the session store, QA
// engine, and document service over HTTP, keeps a local transcript cache, and
// exposes the conversation as a small JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/tbourn/go-docchat-core/internal/config"
	"github.com/tbourn/go-docchat-core/internal/conversation"
	"github.com/tbourn/go-docchat-core/internal/docstatus"
	"github.com/tbourn/go-docchat-core/internal/domain"
	"github.com/tbourn/go-docchat-core/internal/history"
	httpapi "github.com/tbourn/go-docchat-core/internal/http"
	"github.com/tbourn/go-docchat-core/internal/isolation"
	"github.com/tbourn/go-docchat-core/internal/observability"
	"github.com/tbourn/go-docchat-core/internal/remote"
	"github.com/tbourn/go-docchat-core/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logger := sysutil.NewLogger(cfg.LogLevel, cfg.LogPretty)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, cfg.DocumentID)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(c)
	}()

	// Backend clients.
	store, err := remote.NewSessionStore(cfg.Remote.SessionStoreURL, cfg.Remote.Timeout, cfg.Remote.RPS, cfg.Remote.Burst, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("session store client init failed")
	}
	engine, err := remote.NewQAEngine(cfg.Remote.QAEngineURL, cfg.Remote.Timeout, cfg.Remote.RPS, cfg.Remote.Burst, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("qa engine client init failed")
	}
	docs, err := remote.NewDocumentService(cfg.Remote.DocServiceURL, cfg.Remote.Timeout, cfg.Remote.RPS, cfg.Remote.Burst, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("document service client init failed")
	}

	// Local transcript cache.
	cache, err := history.Open(cfg.HistoryPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.HistoryPath).Msg("history cache open failed")
	}
	defer func() { _ = cache.Close() }()

	// Conversation controller.
	resetter := isolation.NewManager(engine, logger)
	ctrl := conversation.New(store, engine, resetter, logger)
	ctrl.History = cache
	ctrl.DocumentID = cfg.DocumentID
	ctrl.DocumentFilename = cfg.DocumentFilename
	ctrl.TitleMaxRunes = cfg.TitleMaxRunes
	ctrl.TitleLocale = language.English

	// Document status polling, only when the conversation is bound to a
	// document. The poller seeds from one synchronous status fetch so the ask
	// gate is correct before the first tick.
	var poller *docstatus.Poller
	if cfg.DocumentID != "" {
		poller = docstatus.New(docs, cfg.DocumentID, cfg.PollInterval, logger)
		initial, initialErr, err := docs.GetDocumentStatus(ctx, cfg.DocumentID)
		if err != nil {
			logger.Warn().Err(err).Msg("initial document status fetch failed; assuming processing")
			initial = domain.DocProcessing
		}
		poller.OnReady = func(doc *domain.Document) {
			// Runs on the poller goroutine; the configured filename, when
			// set, wins over the backfilled one.
			if doc.Filename != "" && cfg.DocumentFilename == "" {
				ctrl.SetDocumentFilename(doc.Filename)
			}
			logger.Info().Str("document_id", cfg.DocumentID).Msg("document ready")
		}
		poller.OnError = func(msg string) {
			logger.Warn().Str("document_id", cfg.DocumentID).Str("error", msg).Msg("document ingestion failed")
		}
		poller.Start(ctx, initial, initialErr)
		defer poller.Stop()
	}

	// HTTP server.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	deps := httpapi.Deps{
		Controller: ctrl,
		Chats:      store,
		Documents:  docs,
	}
	if poller != nil {
		deps.Status = poller
	}
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
	}
}
