package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eavina-s-org/webmock/internal/browser"
	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/store"
)

// fakeBrowser stands in for Chromium: Navigate issues real HTTP requests
// for the page and its resources through the proxy, AwaitQuiescence
// returns once they are done (or blocks forever for timeout tests).
type fakeBrowser struct {
	resources []string
	hang      bool

	mu        sync.Mutex
	fetched   int
	terminate int
	done      chan struct{}
	client    *http.Client
}

func newFakeBrowser(proxyAddr string, resources []string, hang bool) *fakeBrowser {
	proxyURL := &url.URL{Scheme: "http", Host: proxyAddr}
	return &fakeBrowser{
		resources: resources,
		hang:      hang,
		done:      make(chan struct{}),
		client: &http.Client{Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		}},
	}
}

func (f *fakeBrowser) Navigate(ctx context.Context, pageURL string) error {
	go func() {
		defer close(f.done)
		for _, res := range append([]string{pageURL}, f.resources...) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, res, nil)
			if err != nil {
				continue
			}
			resp, err := f.client.Do(req)
			if err != nil {
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			f.mu.Lock()
			f.fetched++
			f.mu.Unlock()
		}
	}()
	return nil
}

func (f *fakeBrowser) AwaitQuiescence(ctx context.Context, quiet time.Duration) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBrowser) Terminate() {
	f.mu.Lock()
	f.terminate++
	f.mu.Unlock()
}

func factoryFor(fb **fakeBrowser, resources []string, hang bool) BrowserFactory {
	return func(ctx context.Context, opts browser.Options) (browser.Browser, error) {
		b := newFakeBrowser(opts.ProxyAddr, resources, hang)
		*fb = b
		return b, nil
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestRunCapturesPageAndResources(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "body of %s", r.URL.Path)
	}))
	defer upstream.Close()

	st := newTestStore(t)
	var fb *fakeBrowser
	res := NewCoordinator(st).Run(context.Background(), Options{
		Name:       "homepage",
		URL:        upstream.URL + "/",
		Timeout:    10 * time.Second,
		NewBrowser: factoryFor(&fb, []string{upstream.URL + "/app.js", upstream.URL + "/app.css"}, false),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, exchange.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.ExchangeCount)
	assert.GreaterOrEqual(t, fb.terminate, 1)

	snap, err := st.Get("homepage")
	require.NoError(t, err)
	require.Len(t, snap.Exchanges, 3)
	for i, ex := range snap.Exchanges {
		assert.Equal(t, i, ex.SequenceIndex)
		assert.Equal(t, fmt.Sprintf("body of %s", mustPath(t, ex.URL)), string(ex.ResponseBody))
	}
}

func mustPath(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Path
}

func TestRunTimeoutPersistsPartialCapture(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "slow page")
	}))
	defer upstream.Close()

	st := newTestStore(t)
	var fb *fakeBrowser
	res := NewCoordinator(st).Run(context.Background(), Options{
		Name:       "partial",
		URL:        upstream.URL + "/",
		Timeout:    500 * time.Millisecond,
		NewBrowser: factoryFor(&fb, nil, true),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, exchange.StatusTimedOut, res.Status)

	snap, err := st.Get("partial")
	require.NoError(t, err)
	assert.Len(t, snap.Exchanges, res.ExchangeCount)
	assert.GreaterOrEqual(t, fb.terminate, 1)
}

func TestRunRejectsInvalidTarget(t *testing.T) {
	st := newTestStore(t)
	c := NewCoordinator(st)

	for _, target := range []string{"ftp://example.com/", "not a url at all", "/relative/only"} {
		res := c.Run(context.Background(), Options{Name: "x", URL: target})
		assert.Equal(t, exchange.StatusFailed, res.Status, target)
		assert.True(t, errs.HasCode(res.Err, errs.CodeInvalidURL), target)
	}
}

func TestRunRejectsInvalidName(t *testing.T) {
	st := newTestStore(t)
	res := NewCoordinator(st).Run(context.Background(), Options{Name: "../escape", URL: "http://example.com/"})
	assert.Equal(t, exchange.StatusFailed, res.Status)
	assert.True(t, errs.HasCode(res.Err, errs.CodeStorage))
}

func TestRunBrowserLaunchFailureIsFatal(t *testing.T) {
	st := newTestStore(t)
	res := NewCoordinator(st).Run(context.Background(), Options{
		Name: "nobrowser",
		URL:  "http://example.com/",
		NewBrowser: func(ctx context.Context, opts browser.Options) (browser.Browser, error) {
			return nil, errs.New(errs.CodeBrowserLaunch, "no chromium on PATH", nil)
		},
	})
	assert.Equal(t, exchange.StatusFailed, res.Status)
	assert.True(t, errs.HasCode(res.Err, errs.CodeBrowserLaunch))
	assert.False(t, st.Exists("nobrowser"))
}

func TestRunOverwritesExistingSnapshot(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "take two")
	}))
	defer upstream.Close()

	st := newTestStore(t)
	require.NoError(t, st.Put(&exchange.Snapshot{Name: "page", URL: "http://old.example/", CreatedAt: time.Now()}))

	var fb *fakeBrowser
	res := NewCoordinator(st).Run(context.Background(), Options{
		Name:       "page",
		URL:        upstream.URL + "/",
		Timeout:    10 * time.Second,
		NewBrowser: factoryFor(&fb, nil, false),
	})
	require.NoError(t, res.Err)

	snap, err := st.Get("page")
	require.NoError(t, err)
	assert.Equal(t, upstream.URL+"/", snap.URL)
	require.Len(t, snap.Exchanges, 1)
	assert.Equal(t, "take two", string(snap.Exchanges[0].ResponseBody))
}
