// Package cmd provides the CLI commands for notemcp.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notemcp/notemcp/internal/config"
	"github.com/notemcp/notemcp/internal/logging"
	"github.com/notemcp/notemcp/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	logFile        string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the notemcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notemcp",
		Short: "Semantic note index MCP server",
		Long: `notemcp indexes markdown note vaults with vector embeddings and
answers semantic queries over the Model Context Protocol.

It runs entirely locally: the default embedder needs no network and no
model download.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("notemcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to this file instead of stderr")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// setupLogging installs the process-wide default logger. Logs go to
// stderr or the log file; stdout stays reserved for MCP traffic.
func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg.Level = "debug"
	}
	if logFile != "" {
		cfg.FilePath = logFile
		cfg.WriteToStderr = false
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig reads the config file, preferring the --config flag.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
