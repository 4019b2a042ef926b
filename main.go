package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wprag/internal/app"
	"wprag/internal/config"
	"wprag/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wprag",
	Short: "WordPress retrieval-augmented question answering",
	Long: `wprag mirrors published WordPress posts into a vector index and
answers questions about them with a language model.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync worker",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var syncFullResync bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one ingest sync in the foreground",
	Long: `Fetches posts from WordPress and re-indexes the ones that changed.
With --full-resync every post is fetched, unchanged ones are still skipped.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the indexed posts",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFullResync, "full-resync", false, "fetch every post instead of only recent changes")
	rootCmd.AddCommand(serveCmd, syncCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	l := logger.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(l)
	return cfg, l, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, l)
}

// run starts the API and the sync worker and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.NSQProducer, app.Providers{}, l)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	consumer, err := application.StartWorker()
	if err != nil {
		// the API still serves reads and chat without the worker
		l.Error("sync worker unavailable", "error", err)
	} else {
		defer consumer.Stop()
	}

	return application.Run(ctx)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.NSQProducer, app.Providers{}, l)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	res, runErr := application.Ingest.Run(ctx, syncFullResync)
	if res != nil {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}
	if !res.OK {
		return errors.New("sync finished with failures")
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}

	deps, err := app.Bootstrap(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.NSQProducer, app.Providers{}, l)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	answer, err := application.Retrieval.Ask(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	return printJSON(cmd, answer)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
