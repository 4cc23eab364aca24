// Package cmd wires the webmock CLI: capture a browsing session into a
// named snapshot, then serve it back as a mock origin or proxy.
package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Eavina-s-org/webmock/internal/config"
	"github.com/Eavina-s-org/webmock/internal/feedback"
	"github.com/Eavina-s-org/webmock/internal/store"
)

var (
	cfg     *config.Config
	st      *store.Store
	out     *feedback.Printer
	verbose bool

	storeDirFlag string

	rootCmd = &cobra.Command{
		Use:   "webmock",
		Short: "Record a live browser session and replay it from a local mock server",
		Long: `Webmock captures every HTTP exchange a page load performs by driving a
browser through an intercepting proxy, stores the session as a named
snapshot, and later replays it byte for byte from a local mock server
with no network access to the original site.`,
		Example: `  webmock capture https://example.com --name example
  webmock serve example --port 8080
  webmock list`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if storeDirFlag != "" {
				cfg.StoreDir = storeDirFlag
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
				return err
			}
			st, err = store.NewStore(cfg.StoreDir)
			if err != nil {
				return err
			}
			out = feedback.New(os.Stdout)
			return nil
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storeDirFlag, "store-dir", "", "Snapshot directory (default $WEBMOCK_STORE_DIR or ~/.webmock/snapshots)")
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
