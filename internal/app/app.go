package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wprag/features/chat"
	"wprag/features/job"
	"wprag/features/mcp"
	"wprag/features/post"
	"wprag/features/stats"
	"wprag/internal/config"
	"wprag/internal/ingest"
	"wprag/internal/middleware"
	"wprag/internal/provider"
	"wprag/internal/retrieval"
	"wprag/internal/text"
	"wprag/internal/vector"
	"wprag/internal/wordpress"
	"wprag/internal/worker"
)

type App struct {
	Handler      http.Handler
	Ingest       *ingest.Service
	Retrieval    *retrieval.Service
	SyncConsumer *worker.SyncConsumer

	cfg         *config.Config
	queryLogger *retrieval.QueryLogger
}

// Providers lets callers swap the embedding and generation backends.
// Nil fields are built from the configuration.
type Providers struct {
	Embedder  provider.Embedder
	Generator provider.Generator
}

func New(
	cfg *config.Config,
	db *sql.DB,
	index vector.Index,
	taskPub job.EventPublisher,
	providers Providers,
	logger *slog.Logger,
) (*App, error) {
	if providers.Embedder == nil {
		providers.Embedder = NewEmbedder(cfg)
	}
	if providers.Generator == nil {
		providers.Generator = NewGenerator(cfg)
	}

	// Feature: Posts
	postRepo := post.NewPostgresRepo(db)
	postHandler := post.NewHandler(postRepo)

	// Core: Sync
	wp := wordpress.NewClient(wordpress.Options{
		BaseURL:     cfg.WPBaseURL,
		PostsPath:   cfg.WPPostsPath,
		PerPage:     cfg.WPPerPage,
		MaxPosts:    cfg.WPMaxPosts,
		Username:    cfg.WPUsername,
		AppPassword: cfg.WPAppPassword,
		Timeout:     cfg.HTTPTimeout(),
	}, nil)
	chunker := text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestService := ingest.NewService(wp, chunker, providers.Embedder, index, postRepo)

	// Feature: Jobs
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(postRepo, jobRepo, index)

	// Core: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(providers.Embedder, index, providers.Generator, retrieval.Options{
		TopK:             cfg.TopK,
		MaxContextChunks: cfg.MaxContextChunks,
		AnswerLanguage:   cfg.AnswerLanguage,
	}, queryLogger)
	chatHandler := chat.NewHandler(retrievalService)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(retrievalService, postRepo)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /v1/ingest/run", middleware.CorrelationID(middleware.CORS(jobHandler.Run)))
	mux.Handle("GET /v1/ingest/jobs/{id}", middleware.CorrelationID(middleware.CORS(jobHandler.Get)))
	mux.Handle("GET /v1/posts", middleware.CorrelationID(middleware.CORS(postHandler.List)))
	mux.Handle("POST /v1/chat", middleware.CorrelationID(middleware.CORS(chatHandler.Ask)))
	mux.Handle("OPTIONS /v1/", middleware.CORS(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleMessage)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"ok":true}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	// Worker
	syncConsumer := worker.NewSyncConsumer(ingestService, jobRepo, 0)

	return &App{
		Handler:      mux,
		Ingest:       ingestService,
		Retrieval:    retrievalService,
		SyncConsumer: syncConsumer,
		cfg:          cfg,
		queryLogger:  queryLogger,
	}, nil
}

// StartWorker subscribes the sync consumer to the ingest.sync topic.
// One message is in flight at a time; runs are serialized anyway.
func (a *App) StartWorker() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 1
	// a full resync can take a while
	nsqCfg.MsgTimeout = 15 * time.Minute

	consumer, err := nsq.NewConsumer(config.TopicIngestSync, config.ChannelSyncWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		// touch keeps nsqd from redelivering while the run is in progress
		stop := keepAlive(m, time.Minute)
		defer stop()
		return a.SyncConsumer.HandleMessage(m)
	}))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("NSQ sync consumer connected", "topic", config.TopicIngestSync)
	return consumer, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           otelhttp.NewHandler(a.Handler, "wprag"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	if a.queryLogger == nil {
		return nil
	}
	return a.queryLogger.Close()
}

func keepAlive(m *nsq.Message, every time.Duration) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				m.Touch()
			}
		}
	}()
	return func() { close(done) }
}
