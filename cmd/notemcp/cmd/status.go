package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notemcp/notemcp/internal/server"
)

func newStatusCmd() *cobra.Command {
	var (
		database   string
		socketPath string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a server is running and what it has indexed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cfg, nil, database, socketPath)

			if cfg.Database == "" && cfg.Server.SocketPath == "" {
				return fmt.Errorf("a database or socket path is required")
			}

			client := server.NewClient(cfg.SocketPath(), 0)
			if !client.IsRunning() {
				pidFile := server.NewPIDFile(cfg.PIDFilePath())
				if pidFile.IsRunning() {
					pid, _ := pidFile.Read()
					fmt.Printf("Server process %d exists but is not accepting connections\n", pid)
					return nil
				}
				fmt.Println("Server is not running")
				return nil
			}

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Server running (pid %d, up %s)\n", status.PID, status.Uptime)
			fmt.Printf("  Vaults:   %s\n", strings.Join(status.Vaults, ", "))
			fmt.Printf("  Notes:    %d stored, %d in memory\n", status.Notes, status.Indexed)
			fmt.Printf("  Queue:    %d pending\n", status.QueueLen)
			fmt.Printf("  Watching: %v\n", status.Watching)
			fmt.Printf("  Model:    %s\n", status.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "database", "", "Note database path")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default: <database>.sock)")

	return cmd
}
