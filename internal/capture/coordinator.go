// Package capture runs one recording session end to end: proxy up, browser
// through it, wait for the page to settle, persist the snapshot.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Eavina-s-org/webmock/internal/browser"
	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/mitm"
	"github.com/Eavina-s-org/webmock/internal/proxy"
	"github.com/Eavina-s-org/webmock/internal/store"
)

// State names the coordinator's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateNavigating State = "navigating"
	StateSettling   State = "settling"
	StateFinalizing State = "finalizing"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultQuietWindow = 1500 * time.Millisecond
)

// BrowserFactory builds the browser for one session. Tests substitute a
// fake that drives plain HTTP clients through the proxy.
type BrowserFactory func(ctx context.Context, opts browser.Options) (browser.Browser, error)

// Options describe one capture invocation.
type Options struct {
	// Name keys the stored snapshot. Required.
	Name string
	// URL is the absolute http/https page to capture. Required.
	URL string
	// Timeout bounds the whole session. Zero means a 60s default.
	Timeout time.Duration
	// QuietWindow is how long the network must stay idle before the page
	// counts as settled. Zero means 1.5s.
	QuietWindow time.Duration
	// ProxyAddr overrides the proxy bind address. Empty means an
	// ephemeral loopback port.
	ProxyAddr string

	Browser    browser.Options
	NewBrowser BrowserFactory
}

// Result is the outcome of one session. Err is set for failed sessions and
// for finalization failures; in the latter case Snapshot still carries the
// captured exchanges so the write can be retried.
type Result struct {
	Status        exchange.Status
	Snapshot      *exchange.Snapshot
	ExchangeCount int
	Err           error
}

// Coordinator owns the capture state machine. One session at a time.
type Coordinator struct {
	store *store.Store

	mu    sync.Mutex
	state State
}

func NewCoordinator(st *store.Store) *Coordinator {
	return &Coordinator{store: st, state: StateIdle}
}

// State returns the current lifecycle position.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	slog.Debug("capture state", "state", s)
}

// Run executes one capture session. Every exit path tears down the browser
// and the proxy before returning.
func (c *Coordinator) Run(ctx context.Context, opts Options) Result {
	defer c.setState(StateIdle)

	if err := validateTarget(opts.URL); err != nil {
		return failed(err)
	}
	if err := store.ValidateName(opts.Name); err != nil {
		return failed(err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.QuietWindow <= 0 {
		opts.QuietWindow = defaultQuietWindow
	}
	if opts.NewBrowser == nil {
		opts.NewBrowser = func(ctx context.Context, bo browser.Options) (browser.Browser, error) {
			return browser.Launch(ctx, bo)
		}
	}

	slog.Info("capture starting", "name", opts.Name, "url", opts.URL, "timeout", opts.Timeout)
	c.setState(StateStarting)

	ca, err := mitm.NewCA()
	if err != nil {
		return failed(err)
	}
	rec := proxy.NewRecorder()
	px := proxy.New(ca, rec, proxy.Options{})
	proxyAddr, err := px.Start(opts.ProxyAddr)
	if err != nil {
		rec.Close()
		return failed(err)
	}
	defer px.Stop()

	bOpts := opts.Browser
	bOpts.ProxyAddr = proxyAddr
	b, err := opts.NewBrowser(ctx, bOpts)
	if err != nil {
		rec.Close()
		return failed(err)
	}
	defer b.Terminate()

	deadline, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c.setState(StateNavigating)
	if err := b.Navigate(deadline, opts.URL); err != nil {
		rec.Close()
		return failed(errs.New(errs.CodeBrowserLaunch, "navigation failed", err))
	}

	c.setState(StateSettling)
	status := exchange.StatusCompleted
	if err := b.AwaitQuiescence(deadline, opts.QuietWindow); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			// The deadline is a valid outcome; everything recorded so
			// far is persisted.
			status = exchange.StatusTimedOut
			slog.Info("capture deadline reached, keeping partial session", "name", opts.Name)
		case errors.Is(err, context.Canceled):
			rec.Close()
			return failed(errs.New(errs.CodeTimeout, "capture canceled", err))
		default:
			rec.Close()
			return failed(errs.New(errs.CodeBrowserLaunch, "browser lost during settle", err))
		}
	}

	c.setState(StateFinalizing)
	b.Terminate()
	px.Stop()
	rec.Close()

	snap := &exchange.Snapshot{
		Name:      opts.Name,
		URL:       opts.URL,
		CreatedAt: time.Now().UTC(),
		Exchanges: rec.Exchanges(),
	}
	res := Result{
		Status:        status,
		Snapshot:      snap,
		ExchangeCount: len(snap.Exchanges),
	}
	if err := c.store.Put(snap); err != nil {
		// Keep the snapshot in the result so the caller can retry the
		// write without recapturing.
		res.Err = err
		return res
	}
	slog.Info("capture finished", "name", opts.Name, "status", status, "exchanges", res.ExchangeCount)
	return res
}

func failed(err error) Result {
	return Result{Status: exchange.StatusFailed, Err: err}
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errs.New(errs.CodeInvalidURL, "unparseable target URL "+raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errs.Newf(errs.CodeInvalidURL, "target URL must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return errs.Newf(errs.CodeInvalidURL, "target URL missing host: %q", raw)
	}
	return nil
}
