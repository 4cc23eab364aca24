package replay

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/mitm"
	"github.com/Eavina-s-org/webmock/internal/wire"
)

const tlsHandshakeTimeout = 10 * time.Second

// Server replays a snapshot over real sockets. It accepts plain origin
// style requests, absolute-URI proxy requests, and CONNECT tunnels with
// local TLS termination, so a browser configured to use it as a proxy
// sees the recorded site again.
type Server struct {
	matcher *Matcher
	ca      *mitm.CA

	ln   net.Listener
	addr string

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer builds a mock server for one matcher. ca may be nil when
// CONNECT support is not needed; tunneled requests then fail.
func NewServer(m *Matcher, ca *mitm.CA) *Server {
	return &Server{
		matcher: m,
		ca:      ca,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the serving socket. Port 0 lets the OS choose; the bound
// address is returned either way. A requested port that is already taken
// fails with port_in_use, never a silent fallback.
func (s *Server) Start(host string, port int) (string, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if port != 0 && errors.Is(err, syscall.EADDRINUSE) {
			return "", errs.Newf(errs.CodePortInUse, "port %d is already in use", port)
		}
		return "", errs.New(errs.CodeBind, "mock server cannot listen on "+addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	slog.Info("mock server listening", "addr", s.addr, "exchanges", s.matcher.Len(), "page_url", s.matcher.PageURL())

	s.wg.Add(1)
	go s.acceptLoop()
	return s.addr, nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string { return s.addr }

// Stop closes the listener and all open connections, then waits for
// handlers to drain. The server has no timeout of its own; it runs until
// this is called.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("mock server stopped", "addr", s.addr)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			slog.Debug("mock server accept failed", "error", err)
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		head, err := wire.ReadRequestHead(br)
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				slog.Debug("mock server request parse failed", "error", err)
			}
			return
		}

		if head.Method == http.MethodConnect {
			s.handleTunnel(conn, head)
			return
		}

		if !s.answer(conn, br, head, "") {
			return
		}
	}
}

// handleTunnel terminates CONNECT with a minted certificate and keeps
// answering the tunneled requests from the snapshot.
func (s *Server) handleTunnel(conn net.Conn, head *wire.RequestHead) {
	if s.ca == nil {
		slog.Warn("mock server refusing CONNECT, no CA configured", "target", head.Target)
		writeShortResponse(conn, http.StatusNotImplemented, "CONNECT requires TLS interception support")
		return
	}

	hostport := head.Target
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		hostport = net.JoinHostPort(host, "443")
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	tlsConn := tls.Server(conn, s.ca.TLSConfigFor(host))
	_ = tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("mock server tunnel handshake failed", "target", hostport, "error", err)
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})

	br := bufio.NewReader(tlsConn)
	for {
		inner, err := wire.ReadRequestHead(br)
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				slog.Debug("mock server tunnel request parse failed", "target", hostport, "error", err)
			}
			return
		}
		if !s.answer(tlsConn, br, inner, hostport) {
			return
		}
	}
}

// answer drains the request body, resolves the request against the
// matcher, and writes either the recorded response or a descriptive 404.
// Returns false when the connection must close.
func (s *Server) answer(w io.Writer, br *bufio.Reader, head *wire.RequestHead, tunnelHost string) bool {
	if r := wire.RequestBodyReader(br, head.Headers); r != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return false
		}
	}

	target, host := requestKey(head, tunnelHost)
	ex := s.matcher.Match(head.Method, target, host)
	if ex == nil {
		slog.Info("no recorded exchange for request", "method", head.Method, "target", target)
		body := fmt.Sprintf("webmock: no recorded exchange matches %s %s\n", head.Method, target)
		writeShortResponse(w, http.StatusNotFound, strings.TrimSuffix(body, "\n"))
		return !wire.WantsClose(head.Headers)
	}

	slog.Debug("replaying exchange", "method", ex.Method, "url", ex.URL, "status", ex.StatusCode, "sequence_index", ex.SequenceIndex)
	return s.writeRecorded(w, head, ex)
}

// writeRecorded emits the recorded status line, headers in original order
// and casing, and the body re-framed the way it was captured.
func (s *Server) writeRecorded(w io.Writer, head *wire.RequestHead, ex *exchange.Exchange) bool {
	if err := wire.WriteResponseHead(w, ex.StatusCode, "", ex.ResponseHeaders); err != nil {
		return false
	}

	chunked := wire.IsChunked(ex.ResponseHeaders)
	_, hasLen := wire.ContentLength(ex.ResponseHeaders)
	selfDelimited := head.Method == http.MethodHead ||
		ex.StatusCode/100 == 1 ||
		ex.StatusCode == http.StatusNoContent ||
		ex.StatusCode == http.StatusNotModified

	if selfDelimited {
		return !wire.WantsClose(head.Headers)
	}

	if chunked {
		if err := wire.WriteChunked(w, bytes.NewReader(ex.ResponseBody)); err != nil {
			return false
		}
		return !wire.WantsClose(head.Headers) && !wire.WantsClose(ex.ResponseHeaders)
	}

	if _, err := w.Write(ex.ResponseBody); err != nil {
		return false
	}
	if !hasLen {
		// Recorded as read-until-close; the framing only works if we
		// close too.
		return false
	}
	return !wire.WantsClose(head.Headers) && !wire.WantsClose(ex.ResponseHeaders)
}

// requestKey rebuilds the matcher inputs from the raw request target.
func requestKey(head *wire.RequestHead, tunnelHost string) (target, host string) {
	if strings.HasPrefix(head.Target, "/") {
		host = exchange.HeaderValue(head.Headers, "Host")
		if tunnelHost != "" {
			h, port, err := net.SplitHostPort(tunnelHost)
			if err != nil {
				h, port = tunnelHost, "443"
			}
			if port == "443" {
				host = h
			} else {
				host = net.JoinHostPort(h, port)
			}
		}
		if i := strings.IndexByte(host, ':'); i >= 0 {
			if _, port, err := net.SplitHostPort(host); err == nil && (port == "80" || port == "443") {
				host = host[:i]
			}
		}
		return head.Target, strings.ToLower(host)
	}
	return head.Target, ""
}

func writeShortResponse(w io.Writer, status int, msg string) {
	body := msg + "\n"
	_ = wire.WriteResponseHead(w, status, "", []exchange.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	})
	_, _ = io.WriteString(w, body)
}
