package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eavina-s-org/webmock/internal/browser"
	"github.com/Eavina-s-org/webmock/internal/capture"
	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
)

var (
	captureName    string
	captureTimeout time.Duration
	captureQuiet   time.Duration
	captureHeaded  bool

	captureCmd = &cobra.Command{
		Use:   "capture <url>",
		Short: "Record one page load into a named snapshot",
		Args:  cobra.ExactArgs(1),
		Example: `  webmock capture https://example.com --name example
  webmock capture https://app.example.com --name app --timeout 90s --headed`,
		RunE: runCapture,
	}
)

func init() {
	captureCmd.Flags().StringVarP(&captureName, "name", "n", "", "Snapshot name (required)")
	captureCmd.Flags().DurationVarP(&captureTimeout, "timeout", "t", 0, "Overall capture deadline (default $WEBMOCK_CAPTURE_TIMEOUT or 60s)")
	captureCmd.Flags().DurationVar(&captureQuiet, "quiet-window", 0, "Network idle window that counts as page settle (default 1.5s)")
	captureCmd.Flags().BoolVar(&captureHeaded, "headed", false, "Run the browser with a visible window")
	_ = captureCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	target := args[0]
	timeout := captureTimeout
	if timeout == 0 {
		timeout = cfg.CaptureTimeout
	}
	quiet := captureQuiet
	if quiet == 0 {
		quiet = cfg.QuietWindow
	}

	// Ctrl-C tears the session down through context cancellation; the
	// coordinator guarantees browser and proxy cleanup on every path.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.Infof("capturing %s into snapshot %q (timeout %s)", target, captureName, timeout)

	res := capture.NewCoordinator(st).Run(ctx, capture.Options{
		Name:        captureName,
		URL:         target,
		Timeout:     timeout,
		QuietWindow: quiet,
		ProxyAddr:   cfg.ProxyAddr,
		Browser: browser.Options{
			Headless: cfg.Headless && !captureHeaded,
			ExecPath: cfg.BrowserPath,
		},
	})

	switch res.Status {
	case exchange.StatusCompleted:
		if res.Err != nil {
			out.Failf("captured %d exchanges but writing the snapshot failed: %v", res.ExchangeCount, res.Err)
			return res.Err
		}
		out.Okf("captured %d exchanges into %q", res.ExchangeCount, captureName)
		return nil
	case exchange.StatusTimedOut:
		if res.Err != nil {
			out.Failf("partial capture of %d exchanges could not be written: %v", res.ExchangeCount, res.Err)
			return res.Err
		}
		out.Warnf("deadline reached; saved partial capture of %d exchanges into %q", res.ExchangeCount, captureName)
		return nil
	default:
		out.Failf("capture failed: %v", res.Err)
		if errs.HasCode(res.Err, errs.CodeBrowserLaunch) {
			out.Infof("hint: install chromium or set WEBMOCK_BROWSER_PATH")
		}
		return fmt.Errorf("capture %s: %w", target, res.Err)
	}
}
