package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"wprag/internal/adapter/qdrant"
	wstore "wprag/internal/adapter/weaviate"
	"wprag/internal/config"
	"wprag/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	Index       vector.Index
	NSQProducer *nsq.Producer

	closers []io.Closer
}

// Close releases everything Bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// SchemaEnsurer is implemented by index backends that need a schema up front.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	retryDelay := cfg.RetryDelay()
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	deps := &Dependencies{DB: db}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		deps.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Vector index
	index, closer, err := newIndex(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Index = index
	if closer != nil {
		deps.closers = append(deps.closers, closer)
	}

	// NSQ Producer
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.NSQProducer = producer

	createTopics(cfg.NSQDHTTP)

	return deps, nil
}

func newIndex(ctx context.Context, cfg *config.Config) (vector.Index, io.Closer, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err := qdrant.New(cfg.QdrantAddr, cfg.QdrantCollection, cfg.HTTPTimeout())
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant client error: %w", err)
		}
		slog.Info("using qdrant vector index", "addr", cfg.QdrantAddr, "collection", cfg.QdrantCollection)
		return store, store, nil
	default:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(wClient, cfg.WeaviateClass, cfg.HTTPTimeout())
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
			return nil, nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		slog.Info("using weaviate vector index", "host", cfg.WeaviateHost, "class", cfg.WeaviateClass)
		return store, nil, nil
	}
}

func createTopics(nsqdHTTP string) {
	if nsqdHTTP == "" {
		return
	}
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestSync)
	}()
}

// EnsureSchemaWithRetry retries schema creation while the backend starts up.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
