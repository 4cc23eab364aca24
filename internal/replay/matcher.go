// Package replay answers HTTP requests from a recorded snapshot. The
// matcher resolves incoming requests to recorded exchanges; the server
// speaks the wire protocol and serves whatever the matcher picks.
package replay

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/Eavina-s-org/webmock/internal/exchange"
)

// entry is one match key's recorded exchanges in sequence order, with an
// exhaustible cursor. Once the cursor passes the end, the last response
// repeats; a page reloaded more times than it was captured keeps working.
type entry struct {
	exchanges []*exchange.Exchange
	next      int
}

func (e *entry) take() *exchange.Exchange {
	if e.next < len(e.exchanges) {
		ex := e.exchanges[e.next]
		e.next++
		return ex
	}
	return e.exchanges[len(e.exchanges)-1]
}

// Matcher maps (method, url) to recorded exchanges. Matching runs in three
// tiers, strictest first:
//
//  1. method + full canonical URL (scheme and host case-insensitive,
//     path and query exact)
//  2. method + host + path?query, ignoring the scheme
//  3. method + path?query alone, so clients that hit the mock server as
//     a plain origin (no absolute URL, wrong Host) still resolve
//
// Each tier keeps its own cursors. Safe for concurrent use.
type Matcher struct {
	mu      sync.Mutex
	byURL   map[string]*entry
	byHost  map[string]*entry
	byPath  map[string]*entry
	total   int
	pageURL string
}

// NewMatcher indexes a snapshot's exchanges.
func NewMatcher(snap *exchange.Snapshot) *Matcher {
	ordered := make([]*exchange.Exchange, len(snap.Exchanges))
	for i := range snap.Exchanges {
		ordered[i] = &snap.Exchanges[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceIndex < ordered[j].SequenceIndex
	})

	m := &Matcher{
		byURL:   make(map[string]*entry),
		byHost:  make(map[string]*entry),
		byPath:  make(map[string]*entry),
		total:   len(ordered),
		pageURL: snap.URL,
	}
	for _, ex := range ordered {
		urlKey, hostKey, pathKey := keysFor(ex.Method, ex.URL)
		appendEntry(m.byURL, urlKey, ex)
		if hostKey != "" {
			appendEntry(m.byHost, hostKey, ex)
		}
		if pathKey != "" {
			appendEntry(m.byPath, pathKey, ex)
		}
	}
	return m
}

func appendEntry(idx map[string]*entry, key string, ex *exchange.Exchange) {
	e, ok := idx[key]
	if !ok {
		e = &entry{}
		idx[key] = e
	}
	e.exchanges = append(e.exchanges, ex)
}

// keysFor derives the three tier keys for a method and absolute URL.
// hostKey and pathKey are empty when the URL cannot be parsed.
func keysFor(method, rawURL string) (urlKey, hostKey, pathKey string) {
	method = strings.ToUpper(method)
	canonical := exchange.CanonicalURL(rawURL)
	urlKey = method + " " + canonical

	u, err := url.Parse(canonical)
	if err != nil || u.Host == "" {
		return urlKey, "", ""
	}
	pq := u.EscapedPath()
	if pq == "" {
		pq = "/"
	}
	if u.RawQuery != "" {
		pq += "?" + u.RawQuery
	}
	return urlKey, method + " " + u.Host + pq, method + " " + pq
}

// Match resolves one incoming request. rawURL may be absolute or
// origin-relative ("/path?query"); host carries the Host header for
// origin-relative requests and may be empty. Returns nil when nothing
// recorded corresponds.
func (m *Matcher) Match(method, rawURL, host string) *exchange.Exchange {
	method = strings.ToUpper(method)

	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.HasPrefix(rawURL, "/") {
		pathKey := method + " " + rawURL
		if host != "" {
			if e, ok := m.byHost[method+" "+strings.ToLower(host)+rawURL]; ok {
				return e.take()
			}
		}
		if e, ok := m.byPath[pathKey]; ok {
			return e.take()
		}
		return nil
	}

	urlKey, hostKey, pathKey := keysFor(method, rawURL)
	if e, ok := m.byURL[urlKey]; ok {
		return e.take()
	}
	if hostKey != "" {
		if e, ok := m.byHost[hostKey]; ok {
			return e.take()
		}
	}
	if pathKey != "" {
		if e, ok := m.byPath[pathKey]; ok {
			return e.take()
		}
	}
	return nil
}

// Reset rewinds every cursor to the first recorded response.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range []map[string]*entry{m.byURL, m.byHost, m.byPath} {
		for _, e := range idx {
			e.next = 0
		}
	}
}

// Len returns the number of indexed exchanges.
func (m *Matcher) Len() int { return m.total }

// PageURL returns the snapshot's originating page URL.
func (m *Matcher) PageURL() string { return m.pageURL }
