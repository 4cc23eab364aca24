package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/store"
)

func newTestAPI(t *testing.T) (*store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(&StoreService{Store: st}))
	t.Cleanup(srv.Close)
	return st, srv
}

func seedSnapshot(t *testing.T, st *store.Store, name string) {
	t.Helper()
	require.NoError(t, st.Put(&exchange.Snapshot{
		Name:      name,
		URL:       "https://example.com/",
		CreatedAt: time.Now().UTC(),
		Exchanges: []exchange.Exchange{
			{Method: "GET", URL: "https://example.com/", StatusCode: 200, ResponseBody: []byte("<html>"), SequenceIndex: 0, CapturedAt: time.Now().UTC()},
			{Method: "GET", URL: "https://example.com/app.js", StatusCode: 200, ResponseBody: []byte("js"), SequenceIndex: 1, CapturedAt: time.Now().UTC()},
		},
	}))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestAPI(t)
	var body struct {
		Status string `json:"status"`
	}
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestListSnapshots(t *testing.T) {
	st, srv := newTestAPI(t)
	seedSnapshot(t, st, "first")
	seedSnapshot(t, st, "second")

	var body struct {
		Snapshots []exchange.Metadata `json:"snapshots"`
	}
	code := getJSON(t, srv.URL+"/api/v1/snapshots", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Snapshots, 2)
}

func TestGetSnapshotMetadata(t *testing.T) {
	st, srv := newTestAPI(t)
	seedSnapshot(t, st, "page")

	var meta exchange.Metadata
	code := getJSON(t, srv.URL+"/api/v1/snapshots/page", &meta)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "page", meta.Name)
	assert.Equal(t, 2, meta.ExchangeCount)
}

func TestGetSnapshotExchanges(t *testing.T) {
	st, srv := newTestAPI(t)
	seedSnapshot(t, st, "page")

	var body struct {
		Exchanges []ExchangeSummary `json:"exchanges"`
	}
	code := getJSON(t, srv.URL+"/api/v1/snapshots/page/exchanges", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Exchanges, 2)
	assert.Equal(t, "https://example.com/", body.Exchanges[0].URL)
	assert.Equal(t, 6, body.Exchanges[0].ResponseBytes)
}

func TestGetMissingSnapshotIs404(t *testing.T) {
	_, srv := newTestAPI(t)
	code := getJSON(t, srv.URL+"/api/v1/snapshots/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteSnapshot(t *testing.T) {
	st, srv := newTestAPI(t)
	seedSnapshot(t, st, "victim")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/snapshots/victim", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, st.Exists("victim"))

	// Second delete reports 404.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
