package replay

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/mitm"
)

func startServer(t *testing.T, snap *exchange.Snapshot) (*Server, string) {
	t.Helper()
	ca, err := mitm.NewCA()
	require.NoError(t, err)
	srv := NewServer(NewMatcher(snap), ca)
	addr, err := srv.Start("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv, addr
}

func TestServeOriginRelativeRequest(t *testing.T) {
	_, addr := startServer(t, snapWith(exchange.Exchange{
		Method:     "GET",
		URL:        "https://example.com/data.json",
		StatusCode: 200,
		ResponseHeaders: []exchange.Header{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "Content-Length", Value: "15"},
		},
		ResponseBody: []byte(`{"answer": 42}` + "\n"),
	}))

	resp, err := http.Get("http://" + addr + "/data.json")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"answer": 42}`, string(body))
}

func TestServePreservesHeaderOrderAndCase(t *testing.T) {
	_, addr := startServer(t, snapWith(exchange.Exchange{
		Method:     "GET",
		URL:        "https://example.com/raw",
		StatusCode: 200,
		ResponseHeaders: []exchange.Header{
			{Name: "x-lower-first", Value: "1"},
			{Name: "X-UPPER-SECOND", Value: "2"},
			{Name: "Content-Length", Value: "2"},
		},
		ResponseBody: []byte("ok"),
	}))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /raw HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	text := string(raw)
	iLower := strings.Index(text, "x-lower-first: 1")
	iUpper := strings.Index(text, "X-UPPER-SECOND: 2")
	require.GreaterOrEqual(t, iLower, 0)
	require.GreaterOrEqual(t, iUpper, 0)
	assert.Less(t, iLower, iUpper)
	assert.True(t, strings.HasSuffix(text, "ok"))
}

func TestServeUnmatchedReturns404WithURL(t *testing.T) {
	_, addr := startServer(t, snapWith(exchange.Exchange{
		Method: "GET", URL: "https://example.com/known", StatusCode: 200,
		ResponseHeaders: []exchange.Header{{Name: "Content-Length", Value: "0"}},
	}))

	resp, err := http.Get("http://" + addr + "/unknown/path?x=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "/unknown/path?x=1")
	assert.Contains(t, string(body), "no recorded exchange")
}

func TestServeAsProxyWithAbsoluteURL(t *testing.T) {
	_, addr := startServer(t, snapWith(exchange.Exchange{
		Method:     "GET",
		URL:        "http://example.com/page",
		StatusCode: 200,
		ResponseHeaders: []exchange.Header{
			{Name: "Content-Length", Value: "9"},
		},
		ResponseBody: []byte("page body"),
	}))

	proxyURL := &url.URL{Scheme: "http", Host: addr}
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	resp, err := client.Get("http://example.com/page")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "page body", string(body))
}

func TestServeConnectTunnelReplaysHTTPS(t *testing.T) {
	srv, addr := startServer(t, snapWith(exchange.Exchange{
		Method:     "GET",
		URL:        "https://example.com/secure",
		StatusCode: 200,
		ResponseHeaders: []exchange.Header{
			{Name: "Content-Length", Value: "6"},
		},
		ResponseBody: []byte("secret"),
	}))

	proxyURL := &url.URL{Scheme: "http", Host: addr}
	client := &http.Client{Transport: &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{RootCAs: srv.ca.Pool()},
	}}
	resp, err := client.Get("https://example.com/secure")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "secret", string(body))
}

func TestServeChunkedResponseReframed(t *testing.T) {
	_, addr := startServer(t, snapWith(exchange.Exchange{
		Method:     "GET",
		URL:        "https://example.com/stream",
		StatusCode: 200,
		ResponseHeaders: []exchange.Header{
			{Name: "Transfer-Encoding", Value: "chunked"},
		},
		ResponseBody: []byte("streamed content"),
	}))

	resp, err := http.Get("http://" + addr + "/stream")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "streamed content", string(body))
}

func TestServeDuplicateKeySequencesAcrossRequests(t *testing.T) {
	_, addr := startServer(t, snapWith(
		exchange.Exchange{
			Method: "GET", URL: "https://example.com/poll", StatusCode: 200,
			ResponseHeaders: []exchange.Header{{Name: "Content-Length", Value: "1"}},
			ResponseBody:    []byte("1"),
		},
		exchange.Exchange{
			Method: "GET", URL: "https://example.com/poll", StatusCode: 200,
			ResponseHeaders: []exchange.Header{{Name: "Content-Length", Value: "1"}},
			ResponseBody:    []byte("2"),
		},
	))

	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get("http://" + addr + "/poll")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		got = append(got, string(body))
	}
	assert.Equal(t, []string{"1", "2", "2"}, got)
}

func TestStartReportsChosenPort(t *testing.T) {
	_, addr := startServer(t, snapWith())
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestStartFailsWithPortInUse(t *testing.T) {
	_, addr := startServer(t, snapWith())
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	other := NewServer(NewMatcher(snapWith()), nil)
	_, err = other.Start("127.0.0.1", n)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodePortInUse))
}
