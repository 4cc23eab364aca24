package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Eavina-s-org/webmock/internal/mitm"
	"github.com/Eavina-s-org/webmock/internal/replay"
)

var (
	servePort  int
	serveHost  string
	serveCAOut string

	serveCmd = &cobra.Command{
		Use:   "serve <name>",
		Short: "Replay a snapshot from a local mock server",
		Long: `Serve answers requests from the named snapshot until interrupted. The
server works as a direct origin substitute (point clients at the bound
address) and as an HTTP proxy, including CONNECT tunnels terminated with
a locally minted certificate.`,
		Args: cobra.ExactArgs(1),
		Example: `  webmock serve example
  webmock serve example --port 0   # let the OS pick, port is printed`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", -1, "Port to bind, 0 for OS-assigned (default $WEBMOCK_SERVE_PORT or 8080)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default $WEBMOCK_SERVE_HOST or 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveCAOut, "ca-out", "", "Write the serving CA certificate (PEM) to this file so clients can trust CONNECT tunnels")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	name := args[0]
	port := servePort
	if port < 0 {
		port = cfg.ServePort
	}
	host := serveHost
	if host == "" {
		host = cfg.ServeHost
	}

	snap, err := st.Get(name)
	if err != nil {
		out.Failf("cannot load snapshot %q: %v", name, err)
		return err
	}

	ca, err := mitm.NewCA()
	if err != nil {
		return fmt.Errorf("generate serving CA: %w", err)
	}
	if serveCAOut != "" {
		if err := os.WriteFile(serveCAOut, ca.CertPEM(), 0o644); err != nil {
			return fmt.Errorf("write CA certificate: %w", err)
		}
		out.Infof("CA certificate written to %s", serveCAOut)
	}

	srv := replay.NewServer(replay.NewMatcher(snap), ca)
	addr, err := srv.Start(host, port)
	if err != nil {
		out.Failf("cannot start mock server: %v", err)
		return err
	}
	defer srv.Stop()

	out.Okf("serving snapshot %q (%d exchanges) on %s", name, len(snap.Exchanges), addr)
	out.Infof("captured from %s", snap.URL)
	out.Infof("press ctrl-c to stop")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	out.Infof("shutting down")
	return nil
}
