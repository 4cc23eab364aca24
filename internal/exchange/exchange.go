// Package exchange holds the capture data model: one Exchange per recorded
// request/response pair, Session as the in-flight accumulation, Snapshot as
// the persisted form, plus the binary codec that snapshots travel in.
package exchange

import (
	"net/url"
	"strings"
	"time"
)

// Header is one (name, value) pair. Headers are kept as an ordered slice,
// not a map: duplicates and original casing must survive a round trip
// because some clients are case-sensitive.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Exchange is one recorded request/response pair. Immutable once the proxy
// has finished forwarding the response.
type Exchange struct {
	Method          string    `json:"method"`
	URL             string    `json:"url"`
	RequestHeaders  []Header  `json:"request_headers,omitempty"`
	RequestBody     []byte    `json:"request_body,omitempty"`
	StatusCode      int       `json:"status_code"`
	ResponseHeaders []Header  `json:"response_headers,omitempty"`
	ResponseBody    []byte    `json:"response_body,omitempty"`
	SequenceIndex   int       `json:"sequence_index"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Status is the completion state of a capture session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusTimedOut   Status = "timed_out"
	StatusFailed     Status = "failed"
)

// Session is the ordered, append-only set of exchanges gathered for one
// capture invocation. Owned by the coordinator until finalized.
type Session struct {
	URL        string
	Timeout    time.Duration
	Status     Status
	FailReason string
	Exchanges  []Exchange
}

// Snapshot is the persisted form of a finished session. Identity is the
// human-assigned name; two captures with the same name overwrite.
type Snapshot struct {
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	Exchanges []Exchange `json:"exchanges"`
}

// Metadata is the header region of a snapshot file, decodable without
// materializing exchange bodies. Used by list operations.
type Metadata struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
	Version       string    `json:"version"`
	ExchangeCount int       `json:"exchange_count"`
}

// HeaderValue returns the first value for name, matched case-insensitively.
func HeaderValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// CanonicalURL lowercases the scheme and host of an absolute URL so that
// matching is case-insensitive there while path and query stay exact.
// Malformed URLs are returned unchanged.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
