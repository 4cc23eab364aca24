package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eavina-s-org/webmock/internal/api"
	"github.com/Eavina-s-org/webmock/internal/netutil"
)

var (
	apiAddr     string
	apiFallback bool

	apiCmd = &cobra.Command{
		Use:   "api",
		Short: "Run the snapshot admin HTTP API",
		Long: `The admin API exposes list, inspect, and delete over HTTP so dashboards
and scripts can manage snapshots without the CLI. Docs are served at /docs.`,
		Args: cobra.NoArgs,
		RunE: runAPI,
	}
)

func init() {
	apiCmd.Flags().StringVar(&apiAddr, "addr", "", "Bind address (default $WEBMOCK_API_ADDR or 127.0.0.1:8553)")
	apiCmd.Flags().BoolVar(&apiFallback, "port-fallback", false, "Try nearby ports when the requested one is busy")
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	addr := apiAddr
	if addr == "" {
		addr = cfg.APIAddr
	}

	bindAddr, err := netutil.SelectBindAddr(addr, []string{"127.0.0.1:8554", "127.0.0.1:8555"}, apiFallback)
	if err != nil {
		out.Failf("cannot bind admin API: %v", err)
		return err
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(&api.StoreService{Store: st})}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin api listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	out.Okf("admin API on http://%s (docs at /docs)", bindAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		out.Failf("admin API failed: %v", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin api shutdown failed", "error", err)
		return err
	}
	return nil
}
