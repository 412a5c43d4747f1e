package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notemcp/notemcp/internal/config"
	"github.com/notemcp/notemcp/internal/embed"
	"github.com/notemcp/notemcp/internal/ingest"
	"github.com/notemcp/notemcp/internal/launcher"
	"github.com/notemcp/notemcp/internal/mcp"
	"github.com/notemcp/notemcp/internal/server"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
	"github.com/notemcp/notemcp/internal/worker"
)

// refreshInterval is how often a read-mostly server reloads the index
// written by a detached ingester.
const refreshInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		vaultRoots   []string
		database     string
		watch        bool
		reindex      bool
		detachIngest bool
		socketPath   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP stdio server over the note index",
		Long: `Serve answers MCP search_notes calls over stdio and JSON-RPC calls
over a Unix socket. By default ingestion runs in-process; with
--detach-ingest a separate background indexer owns the database and
this process serves queries read-only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, vaultRoots, database, socketPath)

			return runServe(ctx, cfg, watch, reindex, detachIngest)
		},
	}

	cmd.Flags().StringArrayVar(&vaultRoots, "vault", nil, "Vault directory to index (repeatable)")
	cmd.Flags().StringVar(&database, "database", "", "Note database path")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch vaults for changes")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Force a full rescan even when the index exists")
	cmd.Flags().BoolVar(&detachIngest, "detach-ingest", false, "Run ingestion in a detached background process")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default: <database>.sock)")

	return cmd
}

func applyServeFlags(cfg *config.Config, vaultRoots []string, database, socketPath string) {
	if len(vaultRoots) > 0 {
		cfg.Vaults = vaultRoots
	}
	if database != "" {
		cfg.Database = database
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}
}

func runServe(ctx context.Context, cfg *config.Config, watch, reindex, detachIngest bool) error {
	if cfg.Database == "" {
		return fmt.Errorf("a database path is required (--database or config)")
	}
	vaults, err := vault.NewSet(cfg.Vaults)
	if err != nil {
		return err
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	var (
		st     store.NoteStore
		w      *worker.Worker
		lock   *ingest.IngestLock
		logger = slog.Default()
	)

	if detachIngest {
		pid, err := launcher.LaunchIndexer(logger, launcher.Options{
			Database:   cfg.Database,
			VaultRoots: cfg.Vaults,
			Reindex:    reindex,
			Stderr:     os.Stderr,
		})
		if err != nil {
			return err
		}
		logger.Info("detached ingester running", slog.Int("pid", pid))

		st, err = openStoreReadOnly(ctx, cfg.Database)
		if err != nil {
			return err
		}

		w = worker.New(worker.Config{
			ReadOnly: true,
			TopK:     cfg.Search.TopK,
		}, vaults, st, embedder, logger)
	} else {
		lock = ingest.NewIngestLock(cfg.Database)
		acquired, err := lock.TryAcquire()
		if err != nil {
			return err
		}
		if !acquired {
			return fmt.Errorf("another process is ingesting into %s (lock %s)", cfg.Database, lock.Path())
		}
		defer lock.Release()

		st, err = store.Open(cfg.Database)
		if err != nil {
			return err
		}

		w = worker.New(worker.Config{
			IngestBatchSize: cfg.Ingest.BatchSize,
			Watch:           watch,
			Reindex:         reindex,
			DebounceWindow:  cfg.Ingest.DebounceWindow,
			TopK:            cfg.Search.TopK,
		}, vaults, st, embedder, logger)
	}
	defer st.Close()

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if detachIngest {
		go refreshLoop(ctx, w, logger)
	}

	pidFile := server.NewPIDFile(cfg.PIDFilePath())
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer pidFile.Remove()

	rpc := server.New(cfg.SocketPath(), w, logger)
	go func() {
		if err := rpc.ListenAndServe(ctx); err != nil && err != context.Canceled {
			logger.Error("rpc server exited", slog.String("error", err.Error()))
		}
	}()

	mcpServer, err := mcp.NewServer(w, vaults, logger)
	if err != nil {
		return err
	}
	if err := mcpServer.RegisterResources(); err != nil {
		logger.Warn("cannot register note resources", slog.String("error", err.Error()))
	}

	return mcpServer.Serve(ctx)
}

// openStoreReadOnly waits briefly for the detached ingester to create
// the database, then opens it without write access.
func openStoreReadOnly(ctx context.Context, path string) (store.NoteStore, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return store.OpenReadOnly(path)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("database %s was not created by the ingester", path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// refreshLoop periodically reloads records written by the detached
// ingester.
func refreshLoop(ctx context.Context, w *worker.Worker, logger *slog.Logger) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Refresh(ctx); err != nil {
				logger.Warn("index refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// buildEmbedder constructs the configured embedder with the query
// cache in front.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	base, err := embed.NewFromConfig(ctx, embed.Config{
		Provider: cfg.Embeddings.Provider,
		Ollama: embed.OllamaConfig{
			Host:      cfg.Embeddings.OllamaHost,
			Model:     cfg.Embeddings.Model,
			BatchSize: cfg.Embeddings.BatchSize,
			Timeout:   cfg.Embeddings.Timeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(base, cfg.Search.QueryCacheSize), nil
}
