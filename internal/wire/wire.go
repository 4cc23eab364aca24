// Package wire reads and writes HTTP/1.x messages at the byte level. The
// standard library's parser canonicalizes header names into a map, which
// destroys the ordering and casing a faithful replay must preserve; this
// codec keeps headers as ordered pairs exactly as they appeared on the
// wire.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/Eavina-s-org/webmock/internal/exchange"
)

const maxHeaderLines = 4096

// RequestHead is the request line plus ordered headers.
type RequestHead struct {
	Method  string
	Target  string
	Proto   string
	Headers []exchange.Header
}

// ResponseHead is the status line plus ordered headers.
type ResponseHead struct {
	Proto   string
	Status  int
	Reason  string
	Headers []exchange.Header
}

// ReadRequestHead parses a request line and headers up to the blank line.
// io.EOF before any byte means the peer closed a keep-alive connection.
func ReadRequestHead(br *bufio.Reader) (*RequestHead, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("wire: malformed request line %q", line)
	}
	headers, err := readHeaders(br)
	if err != nil {
		return nil, err
	}
	return &RequestHead{
		Method:  strings.ToUpper(parts[0]),
		Target:  parts[1],
		Proto:   parts[2],
		Headers: headers,
	}, nil
}

// ReadResponseHead parses a status line and headers up to the blank line.
func ReadResponseHead(br *bufio.Reader) (*ResponseHead, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("wire: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("wire: bad status code in %q", line)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	headers, err := readHeaders(br)
	if err != nil {
		return nil, err
	}
	return &ResponseHead{
		Proto:   parts[0],
		Status:  status,
		Reason:  reason,
		Headers: headers,
	}, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		return "", fmt.Errorf("wire: read line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHeaders(br *bufio.Reader) ([]exchange.Header, error) {
	var headers []exchange.Header
	for i := 0; i < maxHeaderLines; i++ {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("wire: malformed header line %q", line)
		}
		headers = append(headers, exchange.Header{
			Name:  name,
			Value: strings.TrimLeft(value, " \t"),
		})
	}
	return nil, fmt.Errorf("wire: header block exceeds %d lines", maxHeaderLines)
}

// ContentLength returns the declared body length, if any.
func ContentLength(headers []exchange.Header) (int64, bool) {
	v := exchange.HeaderValue(headers, "Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// IsChunked reports whether the final transfer coding is chunked.
func IsChunked(headers []exchange.Header) bool {
	return strings.Contains(strings.ToLower(exchange.HeaderValue(headers, "Transfer-Encoding")), "chunked")
}

// WantsClose reports whether the message asks for connection teardown.
func WantsClose(headers []exchange.Header) bool {
	return strings.EqualFold(strings.TrimSpace(exchange.HeaderValue(headers, "Connection")), "close")
}

// RequestBodyReader returns a reader over the request body per its framing.
// Requests with neither Content-Length nor chunked coding have no body.
func RequestBodyReader(br *bufio.Reader, headers []exchange.Header) io.Reader {
	if IsChunked(headers) {
		return httputil.NewChunkedReader(br)
	}
	if n, ok := ContentLength(headers); ok && n > 0 {
		return io.LimitReader(br, n)
	}
	return nil
}

// ResponseBodyReader returns a reader over the response body per its
// framing. untilEOF is set when the body runs to connection close.
func ResponseBodyReader(br *bufio.Reader, headers []exchange.Header, status int, method string) (r io.Reader, untilEOF bool) {
	if method == http.MethodHead || status/100 == 1 || status == http.StatusNoContent || status == http.StatusNotModified {
		return nil, false
	}
	if IsChunked(headers) {
		return httputil.NewChunkedReader(br), false
	}
	if n, ok := ContentLength(headers); ok {
		if n == 0 {
			return nil, false
		}
		return io.LimitReader(br, n), false
	}
	return br, true
}

// WriteRequestHead writes a request line and headers verbatim.
func WriteRequestHead(w io.Writer, method, target, proto string, headers []exchange.Header) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", method, target, proto)
	writeHeaderBlock(&b, headers)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteResponseHead writes a status line and headers verbatim, preserving
// the recorded name casing and order.
func WriteResponseHead(w io.Writer, status int, reason string, headers []exchange.Header) error {
	if reason == "" {
		reason = http.StatusText(status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	writeHeaderBlock(&b, headers)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeaderBlock(b *strings.Builder, headers []exchange.Header) {
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
}

// WriteChunked copies r to w in chunked transfer coding, including the
// terminating zero chunk and final CRLF.
func WriteChunked(w io.Writer, r io.Reader) error {
	cw := httputil.NewChunkedWriter(w)
	if _, err := io.Copy(cw, r); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
