package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"HNSummaries/internal/config"
	"HNSummaries/internal/infrastructure/httpapi"
	"HNSummaries/internal/infrastructure/llm"
	"HNSummaries/internal/infrastructure/ml"
	"HNSummaries/internal/infrastructure/parser"
	"HNSummaries/internal/infrastructure/scheduler"
	"HNSummaries/internal/infrastructure/storage"
	"HNSummaries/internal/infrastructure/telegram"
	"HNSummaries/internal/logging"
	"HNSummaries/internal/metrics"
	"HNSummaries/internal/ports"
	"HNSummaries/internal/scanner"
	"HNSummaries/internal/usecase"
	stdlogger "HNSummaries/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	closeStore func() error
	pipeline   *usecase.Pipeline
	scheduler  *usecase.Scheduler
	server     *http.Server
}

// New opens the configured store, prepares its schema and wires every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("prepare %s storage: %w", cfg.Storage.Backend, err)
	}

	application, err := NewWithStore(cfg, baseLogger, store)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	application.closeStore = closeStore
	return application, nil
}

// NewWithStore wires the application around an already prepared store.
func NewWithStore(cfg config.Config, baseLogger *slog.Logger, store ports.ArticleStore) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.Discard()
	}
	if store == nil {
		return nil, errors.New("application requires a store")
	}

	httpClient := &http.Client{Timeout: cfg.Source.FetchTimeout}

	registry := scanner.NewRegistry()
	hn := parser.NewHackerNewsScanner(httpClient, cfg.Source.UserAgent, baseLogger.With("component", "scanner.hackernews"))
	if err := registry.Register(hn); err != nil {
		return nil, fmt.Errorf("register scanner: %w", err)
	}
	for _, site := range cfg.Sites {
		if _, err := registry.Resolve(site.Scanner); err != nil {
			return nil, fmt.Errorf("site %q: %w", site.Name, err)
		}
	}
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source"))

	fetcher := parser.NewContentFetcher(parser.ContentFetcherOptions{
		BaseURL:           contentBaseURL(cfg.Sites),
		UserAgent:         cfg.Source.UserAgent,
		RequestsPerSecond: cfg.Source.FetchRate(),
		Client:            httpClient,
		Logger:            baseLogger.With("component", "fetcher"),
	})

	if cfg.LLM.APIKey == "" {
		baseLogger.Warn("no LLM API key configured; every candidate will be classified irrelevant")
	}
	chat := llm.NewOpenAIClient(cfg.LLM, nil)
	classifier := ml.NewClassifier(chat, baseLogger.With("component", "classifier"))
	summarizer := ml.NewSummarizer(chat, cfg.LLM.MaxInputChars, baseLogger.With("component", "summarizer"))

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(telegram.Options{BotToken: tg.BotToken, ChatID: tg.ChatID})
	}

	m := metrics.New()
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Repository:   store,
		Classifier:   classifier,
		Fetcher:      fetcher,
		Summarizer:   summarizer,
		Notifier:     notifier,
		Metrics:      m,
		Logger:       baseLogger.With("component", "pipeline"),
		SummaryWords: cfg.LLM.SummaryWords,
	})

	driver, err := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, scheduler.CronOptions{
		Location:   cfg.Scheduler.Location(),
		RunOnStart: cfg.Scheduler.RunOnStart,
		Logger:     baseLogger.With("component", "cron"),
	})
	if err != nil {
		return nil, err
	}

	router := httpapi.NewRouter(store, httpapi.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        m,
		Logger:         baseLogger.With("component", "http"),
	})

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		closeStore: func() error { return nil },
		pipeline:   pipeline,
		scheduler:  usecase.NewScheduler(driver, pipeline, baseLogger.With("component", "scheduler")),
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          stdlogger.New(baseLogger, "http", slog.LevelWarn),
		},
	}, nil
}

// Handler exposes the read API router.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

// RunOnce performs a single ingestion pass.
func (a *Application) RunOnce(ctx context.Context) (int, error) {
	return a.pipeline.Run(ctx)
}

// Run starts the scheduler and the read API and blocks until ctx is done or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("starting application", "config", a.cfg.String(), "addr", a.cfg.HTTP.Addr)

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown failed", "error", err)
	}
	a.logger.Info("application stopped")
	return runErr
}

// Close releases the store.
func (a *Application) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

func openStore(cfg config.Config) (ports.ArticleStore, func() error, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case config.BackendSQL, "":
		dialect, err := dialectForDriver(cfg.Database.Driver)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open(string(dialect), cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s database: %w", dialect, err)
		}
		repo, err := storage.NewSQLRepository(db, dialect, cfg.Database.Table)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil

	case config.BackendElasticsearch:
		client, err := storage.NewElasticClient(cfg.Elasticsearch, nil)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewElasticRepository(client, cfg.Elasticsearch.Index), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func dialectForDriver(driver string) (storage.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq", "":
		return storage.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return storage.DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func contentBaseURL(sites []config.SiteConfig) string {
	for _, site := range sites {
		if site.URL != "" {
			return site.URL
		}
	}
	return ""
}
