package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notemcp/notemcp/internal/ingest"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
	"github.com/notemcp/notemcp/internal/worker"
)

func newIndexCmd() *cobra.Command {
	var (
		vaultRoots []string
		database   string
		watch      bool
		reindex    bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the note index",
		Long: `Index scans the vaults and embeds every note into the database,
then exits. With --watch it keeps running and ingests changes as they
happen. This is also the process serve --detach-ingest launches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, vaultRoots, database, "")

			if cfg.Database == "" {
				return fmt.Errorf("a database path is required (--database or config)")
			}
			vaults, err := vault.NewSet(cfg.Vaults)
			if err != nil {
				return err
			}

			lock := ingest.NewIngestLock(cfg.Database)
			acquired, err := lock.TryAcquire()
			if err != nil {
				return err
			}
			if !acquired {
				return fmt.Errorf("another process is ingesting into %s (lock %s)", cfg.Database, lock.Path())
			}
			defer lock.Release()

			embedder, err := buildEmbedder(ctx, cfg)
			if err != nil {
				return err
			}
			defer embedder.Close()

			st, err := store.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			w := worker.New(worker.Config{
				IngestBatchSize: cfg.Ingest.BatchSize,
				Reindex:         reindex,
				DebounceWindow:  cfg.Ingest.DebounceWindow,
			}, vaults, st, embedder, slog.Default())

			if watch {
				return w.RunIngestOnly(ctx)
			}

			if err := w.RunUntilDrained(ctx); err != nil {
				return err
			}

			n, err := st.NumNotes(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d notes into %s\n", n, cfg.Database)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vaultRoots, "vault", nil, "Vault directory to index (repeatable)")
	cmd.Flags().StringVar(&database, "database", "", "Note database path")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and ingest changes continuously")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Force a full rescan even when the index exists")

	return cmd
}
