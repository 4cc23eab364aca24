// Package browser drives a Chromium instance through an HTTP proxy so
// every resource the page loads crosses the interception point.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/Eavina-s-org/webmock/internal/errs"
)

// Browser is the surface the capture coordinator needs. The chromedp
// implementation is the production one; tests substitute a fake that
// issues real HTTP requests through the proxy.
type Browser interface {
	// Navigate starts loading url in the page.
	Navigate(ctx context.Context, url string) error
	// AwaitQuiescence blocks until the page has fired its load event and
	// the network has been idle for quiet, or ctx expires.
	AwaitQuiescence(ctx context.Context, quiet time.Duration) error
	// Terminate tears the browser down. Safe to call more than once.
	Terminate()
}

// Options configure the launched Chromium instance.
type Options struct {
	// ProxyAddr is the host:port of the intercepting proxy. Required.
	ProxyAddr string
	// Headless runs without a visible window.
	Headless bool
	// UserDataDir holds the throwaway profile. Empty means a temp dir
	// managed by chromedp.
	UserDataDir string
	// ExecPath overrides browser binary autodetection.
	ExecPath string
}

// Chrome is the chromedp-backed Browser.
type Chrome struct {
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context

	mu           sync.Mutex
	inflight     int
	loadFired    bool
	lastActivity time.Time

	termOnce sync.Once
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

// Launch starts Chromium wired through the proxy and attaches the network
// activity listeners used for quiescence detection.
func Launch(ctx context.Context, opts Options) (*Chrome, error) {
	if opts.ProxyAddr == "" {
		return nil, errs.New(errs.CodeBrowserLaunch, "proxy address is required", nil)
	}
	execPath := opts.ExecPath
	if execPath == "" {
		var err error
		execPath, err = detectBrowser()
		if err != nil {
			return nil, errs.New(errs.CodeBrowserLaunch, "browser autodetection failed", err)
		}
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{},
		chromedp.ExecPath(execPath),
		chromedp.ProxyServer("http://"+opts.ProxyAddr),
		// The interception CA is generated per run; the browser cannot
		// know it, so certificate errors for proxied origins are expected.
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		allocCancel:  allocCancel,
		tabCancel:    tabCancel,
		tabCtx:       tabCtx,
		lastActivity: time.Now(),
	}

	if err := chromedp.Run(tabCtx, network.Enable(), network.SetCacheDisabled(true), page.Enable()); err != nil {
		c.Terminate()
		return nil, errs.New(errs.CodeBrowserLaunch, "browser failed to start", err)
	}

	chromedp.ListenTarget(tabCtx, c.onEvent)
	slog.Info("browser launched", "exec_path", execPath, "proxy", opts.ProxyAddr, "headless", opts.Headless)
	return c, nil
}

func (c *Chrome) onEvent(ev interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.(type) {
	case *network.EventRequestWillBeSent:
		c.inflight++
		c.lastActivity = time.Now()
	case *network.EventLoadingFinished, *network.EventLoadingFailed:
		if c.inflight > 0 {
			c.inflight--
		}
		c.lastActivity = time.Now()
	case *page.EventLoadEventFired:
		c.loadFired = true
		c.lastActivity = time.Now()
	}
}

// Navigate starts loading url. It does not wait for the load to finish;
// AwaitQuiescence does.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	c.loadFired = false
	c.lastActivity = time.Now()
	c.mu.Unlock()

	runCtx, cancel := mergeDone(c.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, err := page.Navigate(url).Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	slog.Debug("navigation started", "url", url)
	return nil
}

// AwaitQuiescence polls the activity counters until the page looks done.
func (c *Chrome) AwaitQuiescence(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.tabCtx.Done():
			return fmt.Errorf("browser exited during page load: %w", c.tabCtx.Err())
		case <-ticker.C:
			c.mu.Lock()
			settled := c.loadFired && c.inflight == 0 && time.Since(c.lastActivity) >= quiet
			c.mu.Unlock()
			if settled {
				slog.Debug("page reached network quiescence", "quiet_window", quiet)
				return nil
			}
		}
	}
}

// Terminate tears down the tab and the browser process.
func (c *Chrome) Terminate() {
	c.termOnce.Do(func() {
		c.tabCancel()
		c.allocCancel()
		slog.Info("browser terminated")
	})
}

// mergeDone derives a context from parent that is also canceled when
// other expires. chromedp actions must run on the tab context, but the
// caller's deadline still has to apply.
func mergeDone(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
