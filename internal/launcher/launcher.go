// Package launcher starts a detached background indexer process.
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// Options describe the indexer to launch.
type Options struct {
	// Database is the note database path.
	Database string

	// VaultRoots are the vault directories to index.
	VaultRoots []string

	// Reindex forces a full rescan.
	Reindex bool

	// Stderr, when set, receives the child's stderr. Nil detaches it.
	Stderr *os.File
}

// LaunchIndexer re-executes the current binary as a detached `index
// --watch` process in its own session and returns its PID. The caller
// does not wait for the child; a reaper goroutine collects its exit so
// it never turns into a zombie.
func LaunchIndexer(logger *slog.Logger, opts Options) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Database == "" {
		return 0, fmt.Errorf("database path is required")
	}
	if len(opts.VaultRoots) == 0 {
		return 0, fmt.Errorf("at least one vault is required")
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"index", "--watch", "--database", opts.Database}
	if opts.Reindex {
		args = append(args, "--reindex")
	}
	for _, root := range opts.VaultRoots {
		args = append(args, "--vault", root)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = opts.Stderr

	// Detach into its own session so it survives the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start background indexer: %w", err)
	}

	pid := cmd.Process.Pid
	logger.Info("background indexer started",
		slog.Int("pid", pid),
		slog.String("database", opts.Database))

	// Reap the child when it eventually exits.
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("background indexer exited",
				slog.Int("pid", pid),
				slog.String("error", err.Error()))
		}
	}()

	return pid, nil
}
