// Package proxy implements the intercepting proxy the capture engine
// drives a browser through. It terminates TLS per origin with certificates
// minted by the mitm package, forwards traffic unmodified, and emits one
// immutable Exchange per completed request/response cycle to a Recorder.
package proxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/mitm"
	"github.com/Eavina-s-org/webmock/internal/wire"
)

const (
	defaultDialTimeout = 15 * time.Second
	handshakeTimeout   = 10 * time.Second
)

// Options tune upstream behavior. The zero value is production ready.
type Options struct {
	// UpstreamTLS overrides TLS settings for upstream dials. Tests use
	// it to trust a local origin's self-signed certificate.
	UpstreamTLS *tls.Config
	// DialTimeout bounds upstream connection attempts.
	DialTimeout time.Duration
}

// Proxy is one capture run's man-in-the-middle tap.
type Proxy struct {
	ca   *mitm.CA
	rec  *Recorder
	opts Options
	pool *connPool

	ln   net.Listener
	addr string

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New builds a proxy recording into rec, terminating TLS with ca.
func New(ca *mitm.CA, rec *Recorder, opts Options) *Proxy {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Proxy{
		ca:    ca,
		rec:   rec,
		opts:  opts,
		pool:  newConnPool(),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the listening socket and begins accepting. addr defaults to
// an ephemeral loopback port; the bound address is returned.
func (p *Proxy) Start(addr string) (string, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errs.New(errs.CodeBind, "proxy cannot listen on "+addr, err)
	}
	p.ln = ln
	p.addr = ln.Addr().String()
	slog.Info("proxy listening", "addr", p.addr)

	p.wg.Add(1)
	go p.acceptLoop()
	return p.addr, nil
}

// Addr returns the bound address after Start.
func (p *Proxy) Addr() string { return p.addr }

// Stop closes the listener and aborts in-flight connections. Exchanges
// still in flight are discarded; only fully completed exchanges are
// durable.
func (p *Proxy) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.ln != nil {
		_ = p.ln.Close()
	}
	for c := range p.conns {
		_ = c.Close()
	}
	p.mu.Unlock()

	p.pool.closeAll()
	p.wg.Wait()
	slog.Info("proxy stopped", "addr", p.addr)
}

func (p *Proxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Proxy) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if p.isClosed() {
				return
			}
			slog.Debug("proxy accept failed", "error", err)
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = conn.Close()
			return
		}
		p.conns[conn] = struct{}{}
		p.wg.Add(1)
		p.mu.Unlock()

		go p.handleConn(conn)
	}
}

func (p *Proxy) handleConn(conn net.Conn) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		head, err := wire.ReadRequestHead(br)
		if err != nil {
			if err != io.EOF && !p.isClosed() {
				slog.Debug("proxy request parse failed", "error", err)
			}
			return
		}

		if head.Method == http.MethodConnect {
			p.handleTunnel(conn, head)
			return
		}

		if !p.forward(conn, br, head, "http", "") {
			return
		}
	}
}

// handleTunnel answers CONNECT by terminating TLS with a leaf certificate
// for the target host, then keeps serving the tunneled plaintext requests.
func (p *Proxy) handleTunnel(conn net.Conn, head *wire.RequestHead) {
	hostport := head.Target
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		hostport = net.JoinHostPort(host, "443")
	}
	slog.Debug("proxy tunnel open", "target", hostport)

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	tlsConn := tls.Server(conn, p.ca.TLSConfigFor(host))
	_ = tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("proxy tunnel handshake failed", "target", hostport, "error", err)
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})

	br := bufio.NewReader(tlsConn)
	for {
		inner, err := wire.ReadRequestHead(br)
		if err != nil {
			if err != io.EOF && !p.isClosed() {
				slog.Debug("proxy tunnel request parse failed", "target", hostport, "error", err)
			}
			return
		}
		if !p.forward(tlsConn, br, inner, "https", hostport) {
			return
		}
	}
}

// forward relays one request upstream, streams the response back to the
// client while buffering a copy, and records the completed exchange.
// Returns false when the connection must close.
func (p *Proxy) forward(clientW io.Writer, br *bufio.Reader, head *wire.RequestHead, scheme, tunnelHost string) bool {
	absURL, hostport, target, err := resolveTarget(head.Target, scheme, tunnelHost)
	if err != nil {
		slog.Debug("proxy bad request target", "target", head.Target, "error", err)
		writeShortResponse(clientW, http.StatusBadRequest, "malformed request target")
		return false
	}

	// Own the request body before touching upstream; the client copy
	// must be consumed even when the upstream dial fails.
	var reqBody []byte
	if r := wire.RequestBodyReader(br, head.Headers); r != nil {
		reqBody, err = io.ReadAll(r)
		if err != nil {
			slog.Debug("proxy request body read failed", "url", absURL, "error", err)
			return false
		}
	}

	resp, upstreamErr := p.roundTrip(scheme, hostport, target, head, reqBody)
	capturedAt := time.Now().UTC()

	if upstreamErr != nil {
		slog.Warn("proxy upstream failed", "url", absURL, "error", upstreamErr)
		ex := syntheticFailureExchange(head, absURL, reqBody, upstreamErr, capturedAt)
		p.rec.Record(ex)
		if err := wire.WriteResponseHead(clientW, ex.StatusCode, "", ex.ResponseHeaders); err != nil {
			return false
		}
		if _, err := clientW.Write(ex.ResponseBody); err != nil {
			return false
		}
		return !wire.WantsClose(head.Headers)
	}

	// Stream the response to the client while teeing into the record
	// buffer, so large bodies never require double buffering here.
	if err := wire.WriteResponseHead(clientW, resp.head.Status, resp.head.Reason, resp.head.Headers); err != nil {
		_ = resp.conn.Close()
		return false
	}
	var buf bytes.Buffer
	writeErr := resp.copyBody(clientW, &buf)
	resp.finish(p.pool, writeErr == nil)
	if writeErr != nil {
		slog.Debug("proxy response relay failed", "url", absURL, "error", writeErr)
		return false
	}

	p.rec.Record(exchange.Exchange{
		Method:          head.Method,
		URL:             absURL,
		RequestHeaders:  head.Headers,
		RequestBody:     reqBody,
		StatusCode:      resp.head.Status,
		ResponseHeaders: resp.head.Headers,
		ResponseBody:    buf.Bytes(),
		CapturedAt:      capturedAt,
	})
	slog.Debug("proxy exchange recorded", "method", head.Method, "url", absURL, "status", resp.head.Status, "body_bytes", buf.Len())

	return !resp.untilEOF && !wire.WantsClose(head.Headers) && !wire.WantsClose(resp.head.Headers)
}

// upstreamResponse couples a parsed response head with the connection its
// body is still streaming from.
type upstreamResponse struct {
	head     *wire.ResponseHead
	conn     net.Conn
	origin   string
	body     io.Reader
	untilEOF bool
}

func (r *upstreamResponse) copyBody(clientW io.Writer, record *bytes.Buffer) error {
	if r.body == nil {
		return nil
	}
	tee := io.TeeReader(r.body, record)
	if wire.IsChunked(r.head.Headers) {
		return wire.WriteChunked(clientW, tee)
	}
	_, err := io.Copy(clientW, tee)
	return err
}

// finish returns the upstream connection to the pool when it is reusable.
func (r *upstreamResponse) finish(pool *connPool, drained bool) {
	if drained && !r.untilEOF && !wire.WantsClose(r.head.Headers) {
		pool.put(r.origin, r.conn)
		return
	}
	_ = r.conn.Close()
}

// roundTrip sends the request upstream and parses the response head. A
// stale pooled connection gets one redial.
func (p *Proxy) roundTrip(scheme, hostport, target string, head *wire.RequestHead, reqBody []byte) (*upstreamResponse, error) {
	origin := scheme + "://" + hostport

	for attempt := 0; ; attempt++ {
		conn := p.pool.get(origin)
		pooled := conn != nil
		if conn == nil {
			var err error
			conn, err = p.dial(scheme, hostport)
			if err != nil {
				return nil, err
			}
		}

		resp, err := p.sendAndReadHead(conn, target, head, reqBody)
		if err != nil {
			_ = conn.Close()
			if pooled && attempt == 0 {
				continue
			}
			return nil, err
		}
		resp.origin = origin
		return resp, nil
	}
}

func (p *Proxy) dial(scheme, hostport string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", hostport, p.opts.DialTimeout)
	if err != nil {
		return nil, errs.New(errs.CodeUpstreamConnect, "dial "+hostport, err)
	}
	if scheme != "https" {
		return conn, nil
	}

	host, _, _ := net.SplitHostPort(hostport)
	cfg := &tls.Config{ServerName: host}
	if p.opts.UpstreamTLS != nil {
		cfg = p.opts.UpstreamTLS.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, cfg)
	_ = tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return nil, errs.New(errs.CodeUpstreamConnect, "tls handshake with "+hostport, err)
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

func (p *Proxy) sendAndReadHead(conn net.Conn, target string, head *wire.RequestHead, reqBody []byte) (*upstreamResponse, error) {
	headers := stripHopByHop(head.Headers)
	if err := wire.WriteRequestHead(conn, head.Method, target, "HTTP/1.1", headers); err != nil {
		return nil, err
	}
	if len(reqBody) > 0 {
		if wire.IsChunked(head.Headers) {
			if err := wire.WriteChunked(conn, bytes.NewReader(reqBody)); err != nil {
				return nil, err
			}
		} else if _, err := conn.Write(reqBody); err != nil {
			return nil, err
		}
	}

	br := bufio.NewReader(conn)
	respHead, err := wire.ReadResponseHead(br)
	if err != nil {
		return nil, err
	}
	body, untilEOF := wire.ResponseBodyReader(br, respHead.Headers, respHead.Status, head.Method)
	return &upstreamResponse{
		head:     respHead,
		conn:     conn,
		body:     body,
		untilEOF: untilEOF,
	}, nil
}

// stripHopByHop removes proxy-only headers before forwarding upstream.
func stripHopByHop(headers []exchange.Header) []exchange.Header {
	out := make([]exchange.Header, 0, len(headers))
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Proxy-Connection") || strings.EqualFold(h.Name, "Proxy-Authorization") {
			continue
		}
		out = append(out, h)
	}
	return out
}

// resolveTarget turns the request target into the absolute recorded URL,
// the upstream dial address, and the origin-form target to send upstream.
func resolveTarget(rawTarget, scheme, tunnelHost string) (absURL, hostport, target string, err error) {
	if strings.HasPrefix(rawTarget, "/") {
		// Origin-form inside a tunnel.
		if tunnelHost == "" {
			return "", "", "", fmt.Errorf("origin-form target %q outside a tunnel", rawTarget)
		}
		host, port, splitErr := net.SplitHostPort(tunnelHost)
		if splitErr != nil {
			host, port = tunnelHost, defaultPort(scheme)
		}
		return scheme + "://" + displayHost(host, port, scheme) + rawTarget,
			net.JoinHostPort(host, port), rawTarget, nil
	}

	// Absolute-form from a plain proxy client.
	u, parseErr := url.Parse(rawTarget)
	if parseErr != nil || u.Scheme == "" || u.Host == "" {
		return "", "", "", fmt.Errorf("unsupported request target %q", rawTarget)
	}
	scheme = strings.ToLower(u.Scheme)
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	return exchange.CanonicalURL(rawTarget), net.JoinHostPort(host, port), u.RequestURI(), nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// displayHost keeps the port out of recorded URLs when it is the scheme
// default, matching what browsers put in address bars.
func displayHost(host, port, scheme string) string {
	if port == defaultPort(scheme) {
		return host
	}
	return net.JoinHostPort(host, port)
}

// syntheticFailureExchange records an upstream failure as a 502 exchange
// so replay reproduces the gap instead of silently dropping it.
func syntheticFailureExchange(head *wire.RequestHead, absURL string, reqBody []byte, cause error, at time.Time) exchange.Exchange {
	body := []byte(fmt.Sprintf("webmock: upstream fetch failed: %v\n", cause))
	return exchange.Exchange{
		Method:         head.Method,
		URL:            absURL,
		RequestHeaders: head.Headers,
		RequestBody:    reqBody,
		StatusCode:     http.StatusBadGateway,
		ResponseHeaders: []exchange.Header{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
			{Name: "X-Webmock-Upstream-Error", Value: cause.Error()},
		},
		ResponseBody: body,
		CapturedAt:   at,
	}
}

func writeShortResponse(w io.Writer, status int, msg string) {
	body := msg + "\n"
	_ = wire.WriteResponseHead(w, status, "", []exchange.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	})
	_, _ = io.WriteString(w, body)
}
