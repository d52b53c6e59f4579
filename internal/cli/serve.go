package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/config"
	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/index"
	"github.com/lazypower/tiermem/internal/logging"
	"github.com/lazypower/tiermem/internal/metrics"
	"github.com/lazypower/tiermem/internal/notify"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/server"
	"github.com/lazypower/tiermem/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	idx, err := openIndex(cfg.Index, dbPath, logger)
	if err != nil {
		return err
	}

	sink, closeSink, err := promptSink(cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	m := metrics.New()
	eng := engine.New(db, engine.Options{
		BatchSize:      cfg.Lifecycle.BatchSize,
		WorkingCap:     cfg.Lifecycle.WorkingCap,
		HistoryLimit:   cfg.Lifecycle.HistoryLimit,
		TrackerRetries: cfg.Lifecycle.TrackerRetries,
		TrackerBackoff: cfg.Lifecycle.TrackerBackoff,
		SweepWorkers:   cfg.Lifecycle.SweepWorkers,
		Index:          idx,
		Sink:           sink,
		Metrics:        m,
		Logger:         logger,
	})
	restored, err := eng.Init(cmd.Context())
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	eng.StartDecayTimer(cfg.Lifecycle.SweepInterval)
	defer eng.Stop()

	srv := server.New(db, eng, VersionString(), server.WithMetrics(m), server.WithLogger(logger))
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tiermem serving",
			zap.String("addr", addr),
			zap.String("db", dbPath),
			zap.String("embedder", idx.Model()),
			zap.Int("restored_batch", restored),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// openIndex builds the vector index with the configured embedder. "auto"
// uses Ollama when it answers and falls back to feature hashing.
func openIndex(cfg config.IndexConfig, dbPath string, logger *zap.Logger) (*index.Index, error) {
	emb, err := selectEmbedder(cfg, index.OllamaAvailable)
	if err != nil {
		return nil, err
	}

	path := cfg.Path
	switch {
	case cfg.InMemory:
		path = ""
	case path == "":
		path = filepath.Join(filepath.Dir(dbPath), "index")
	}
	idx, err := index.New(path, cfg.Compress, emb, logger)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return idx, nil
}

// nomic-embed-text output width.
const ollamaDims = 768

func selectEmbedder(cfg config.IndexConfig, available func(url, model string) bool) (index.Embedder, error) {
	switch cfg.Embedder {
	case "hash":
		return index.NewHashEmbedder(cfg.Dimensions), nil
	case "ollama":
		return index.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, ollamaDims), nil
	case "auto", "":
		if available(cfg.OllamaURL, cfg.OllamaModel) {
			return index.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, ollamaDims), nil
		}
		return index.NewHashEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
}

// promptSink always logs prompts for the operator and, when a NATS URL is
// configured, also publishes them to the agent.
func promptSink(cfg config.NotifyConfig, logger *zap.Logger) (promotion.Sink, func(), error) {
	sinks := notify.Fanout{notify.NewLogSink(logger, promotion.ByUser)}
	if cfg.NATSURL == "" {
		return sinks, func() {}, nil
	}
	nc, err := notify.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, notify.NewNATSSink(nc, cfg.SubjectPrefix))
	return sinks, func() { nc.Drain() }, nil
}
