package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notemcp/notemcp/internal/config"
	"github.com/notemcp/notemcp/internal/search"
	"github.com/notemcp/notemcp/internal/server"
	"github.com/notemcp/notemcp/internal/store"
	"github.com/notemcp/notemcp/internal/vault"
)

func newSearchCmd() *cobra.Command {
	var (
		vaultRoots []string
		database   string
		socketPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the note index from the command line",
		Long: `Search asks a running server over its Unix socket when one is up,
otherwise it opens the database read-only and answers in-process.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, vaultRoots, database, socketPath)

			query := strings.Join(args, " ")
			return runSearch(ctx, cfg, query, limit)
		},
	}

	cmd.Flags().StringArrayVar(&vaultRoots, "vault", nil, "Vault directory (repeatable)")
	cmd.Flags().StringVar(&database, "database", "", "Note database path")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default: <database>.sock)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results")

	return cmd
}

func runSearch(ctx context.Context, cfg *config.Config, query string, limit int) error {
	if limit <= 0 {
		limit = cfg.Search.TopK
	}

	// A running server owns the freshest index; prefer it.
	if cfg.Database != "" || cfg.Server.SocketPath != "" {
		client := server.NewClient(cfg.SocketPath(), 0)
		if client.IsRunning() {
			results, err := client.Search(ctx, server.SearchParams{Query: query, TopK: limit})
			if err != nil {
				return err
			}
			for _, r := range results {
				printResult(r.Score, r.Vault, r.Path, r.AbsPath)
			}
			return nil
		}
	}

	if cfg.Database == "" {
		return fmt.Errorf("no server is running and no database path is configured")
	}

	st, err := store.OpenReadOnly(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var vaults vault.Set
	if len(cfg.Vaults) > 0 {
		vaults, err = vault.NewSet(cfg.Vaults)
		if err != nil {
			return err
		}
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	searcher := search.NewSearcher(embedder, vaults)
	if err := searcher.LoadFromStore(ctx, st); err != nil {
		return err
	}

	results, err := searcher.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	for _, r := range results {
		printResult(r.Score, r.Vault, r.Path, r.AbsPath)
	}
	return nil
}

func printResult(score float32, vaultName, relPath, absPath string) {
	location := vaultName + "/" + relPath
	if absPath != "" {
		location = absPath
	}
	fmt.Printf("%5.3f  %s\n", score, location)
}
