package exchange

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Eavina-s-org/webmock/internal/errs"
)

// Snapshot files are a self-describing binary encoding: a fixed magic and
// version, a metadata block, then length-prefixed exchanges, then an
// xxhash64 of everything before it. Length prefixes mean arbitrary binary
// bodies survive unaltered; there are no delimiters to collide with.
// Payloads above compressionThreshold are gzip-wrapped whole, detected on
// read by the gzip magic bytes.

var snapshotMagic = [4]byte{'W', 'M', 'S', 'N'}

const (
	codecVersion = 1

	// toolVersion is stamped into snapshot metadata for diagnostics.
	toolVersion = "0.1.0"

	compressionThreshold = 1 << 20

	// Decode limits. Anything beyond these is a corrupt file, not a
	// snapshot we ever write.
	maxStringLen   = 1 << 26
	maxBodyLen     = 1 << 31
	maxHeaderCount = 1 << 16
	maxExchanges   = 1 << 22
)

// EncodeSnapshot writes s to w in the snapshot binary format, compressing
// when the estimated payload exceeds the threshold.
func EncodeSnapshot(s *Snapshot, w io.Writer) error {
	if estimateSize(s) > compressionThreshold {
		gz := gzip.NewWriter(w)
		if err := encodePayload(s, gz); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("snapshot codec: close gzip: %w", err)
		}
		return nil
	}
	return encodePayload(s, w)
}

// DecodeSnapshot reads a full snapshot from r, verifying the checksum.
// Schema or checksum mismatches yield a corrupt_snapshot error.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	br, err := transparentReader(r)
	if err != nil {
		return nil, err
	}
	return decodePayload(br)
}

// DecodeMetadata reads only the header region of a snapshot stream. It
// never materializes exchange bodies, which keeps list operations cheap.
func DecodeMetadata(r io.Reader) (Metadata, error) {
	br, err := transparentReader(r)
	if err != nil {
		return Metadata{}, err
	}
	pr := &payloadReader{r: br, h: xxhash.New()}
	return decodeMetadata(pr)
}

// Marshal is a convenience wrapper over EncodeSnapshot.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeSnapshot(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is a convenience wrapper over DecodeSnapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	return DecodeSnapshot(bytes.NewReader(data))
}

// transparentReader detects gzip by magic bytes and unwraps it.
func transparentReader(r io.Reader) (*bufio.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return nil, errs.New(errs.CodeCorruptSnapshot, "snapshot truncated", err)
	}
	if head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errs.New(errs.CodeCorruptSnapshot, "invalid gzip stream", err)
		}
		return bufio.NewReader(gz), nil
	}
	return br, nil
}

func encodePayload(s *Snapshot, w io.Writer) error {
	pw := &payloadWriter{w: w, h: xxhash.New()}

	pw.write(snapshotMagic[:])
	pw.writeUint16(codecVersion)

	pw.writeString(s.Name)
	pw.writeString(s.URL)
	pw.writeInt64(s.CreatedAt.UnixNano())
	pw.writeString(toolVersion)
	pw.writeUvarint(uint64(len(s.Exchanges)))

	for i := range s.Exchanges {
		ex := &s.Exchanges[i]
		pw.writeString(ex.Method)
		pw.writeString(ex.URL)
		pw.writeHeaders(ex.RequestHeaders)
		pw.writeBytes(ex.RequestBody)
		pw.writeUvarint(uint64(ex.StatusCode))
		pw.writeHeaders(ex.ResponseHeaders)
		pw.writeBytes(ex.ResponseBody)
		pw.writeUvarint(uint64(ex.SequenceIndex))
		pw.writeInt64(ex.CapturedAt.UnixNano())
	}

	if pw.err != nil {
		return fmt.Errorf("snapshot codec: encode: %w", pw.err)
	}

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], pw.h.Sum64())
	if _, err := w.Write(sum[:]); err != nil {
		return fmt.Errorf("snapshot codec: write checksum: %w", err)
	}
	return nil
}

func decodePayload(br *bufio.Reader) (*Snapshot, error) {
	pr := &payloadReader{r: br, h: xxhash.New()}

	meta, err := decodeMetadata(pr)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Name:      meta.Name,
		URL:       meta.URL,
		CreatedAt: meta.CreatedAt,
		Exchanges: make([]Exchange, 0, meta.ExchangeCount),
	}

	for i := 0; i < meta.ExchangeCount; i++ {
		var ex Exchange
		ex.Method = pr.readString()
		ex.URL = pr.readString()
		ex.RequestHeaders = pr.readHeaders()
		ex.RequestBody = pr.readBytes()
		ex.StatusCode = int(pr.readUvarint())
		ex.ResponseHeaders = pr.readHeaders()
		ex.ResponseBody = pr.readBytes()
		ex.SequenceIndex = int(pr.readUvarint())
		ex.CapturedAt = time.Unix(0, pr.readInt64()).UTC()
		if pr.err != nil {
			return nil, corrupt("exchange", pr.err)
		}
		s.Exchanges = append(s.Exchanges, ex)
	}

	want := pr.h.Sum64()
	var sum [8]byte
	if _, err := io.ReadFull(br, sum[:]); err != nil {
		return nil, corrupt("checksum missing", err)
	}
	if got := binary.BigEndian.Uint64(sum[:]); got != want {
		return nil, errs.Newf(errs.CodeCorruptSnapshot,
			"checksum mismatch: file %#x, computed %#x", got, want)
	}
	return s, nil
}

func decodeMetadata(pr *payloadReader) (Metadata, error) {
	var magic [4]byte
	pr.readFull(magic[:])
	if pr.err != nil {
		return Metadata{}, corrupt("magic", pr.err)
	}
	if magic != snapshotMagic {
		return Metadata{}, errs.Newf(errs.CodeCorruptSnapshot, "bad magic %q", magic[:])
	}
	if v := pr.readUint16(); pr.err == nil && v != codecVersion {
		return Metadata{}, errs.Newf(errs.CodeCorruptSnapshot, "unsupported snapshot version %d", v)
	}

	var meta Metadata
	meta.Name = pr.readString()
	meta.URL = pr.readString()
	meta.CreatedAt = time.Unix(0, pr.readInt64()).UTC()
	meta.Version = pr.readString()
	count := pr.readUvarint()
	if pr.err != nil {
		return Metadata{}, corrupt("metadata", pr.err)
	}
	if count > maxExchanges {
		return Metadata{}, errs.Newf(errs.CodeCorruptSnapshot, "exchange count %d exceeds limit", count)
	}
	meta.ExchangeCount = int(count)
	return meta, nil
}

func corrupt(what string, cause error) error {
	return errs.New(errs.CodeCorruptSnapshot, "decode "+what, cause)
}

func estimateSize(s *Snapshot) int {
	size := 64 + len(s.Name) + len(s.URL)
	for i := range s.Exchanges {
		ex := &s.Exchanges[i]
		size += len(ex.Method) + len(ex.URL) + len(ex.RequestBody) + len(ex.ResponseBody) + 32
		for _, h := range ex.RequestHeaders {
			size += len(h.Name) + len(h.Value) + 4
		}
		for _, h := range ex.ResponseHeaders {
			size += len(h.Name) + len(h.Value) + 4
		}
	}
	return size
}

// payloadWriter hashes every payload byte as it goes out. First error wins.
type payloadWriter struct {
	w   io.Writer
	h   *xxhash.Digest
	err error
}

func (pw *payloadWriter) write(p []byte) {
	if pw.err != nil {
		return
	}
	if _, err := pw.w.Write(p); err != nil {
		pw.err = err
		return
	}
	_, _ = pw.h.Write(p)
}

func (pw *payloadWriter) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	pw.write(b[:])
}

func (pw *payloadWriter) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	pw.write(b[:])
}

func (pw *payloadWriter) writeUvarint(v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	pw.write(b[:n])
}

func (pw *payloadWriter) writeString(s string) {
	pw.writeUvarint(uint64(len(s)))
	pw.write([]byte(s))
}

func (pw *payloadWriter) writeBytes(b []byte) {
	pw.writeUvarint(uint64(len(b)))
	pw.write(b)
}

func (pw *payloadWriter) writeHeaders(hs []Header) {
	pw.writeUvarint(uint64(len(hs)))
	for _, h := range hs {
		pw.writeString(h.Name)
		pw.writeString(h.Value)
	}
}

// payloadReader hashes every payload byte as it comes in, so the checksum
// can be verified without buffering the whole payload separately.
type payloadReader struct {
	r   *bufio.Reader
	h   *xxhash.Digest
	err error
}

func (pr *payloadReader) ReadByte() (byte, error) {
	b, err := pr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	_, _ = pr.h.Write([]byte{b})
	return b, nil
}

func (pr *payloadReader) readFull(p []byte) {
	if pr.err != nil {
		return
	}
	if _, err := io.ReadFull(pr.r, p); err != nil {
		pr.err = err
		return
	}
	_, _ = pr.h.Write(p)
}

func (pr *payloadReader) readUint16() uint16 {
	var b [2]byte
	pr.readFull(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (pr *payloadReader) readInt64() int64 {
	var b [8]byte
	pr.readFull(b[:])
	return int64(binary.BigEndian.Uint64(b[:]))
}

func (pr *payloadReader) readUvarint() uint64 {
	if pr.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(pr)
	if err != nil {
		pr.err = err
		return 0
	}
	return v
}

func (pr *payloadReader) readString() string {
	n := pr.readUvarint()
	if pr.err != nil {
		return ""
	}
	if n > maxStringLen {
		pr.err = fmt.Errorf("string length %d exceeds limit", n)
		return ""
	}
	b := make([]byte, n)
	pr.readFull(b)
	return string(b)
}

func (pr *payloadReader) readBytes() []byte {
	n := pr.readUvarint()
	if pr.err != nil {
		return nil
	}
	if n > maxBodyLen {
		pr.err = fmt.Errorf("body length %d exceeds limit", n)
		return nil
	}
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	pr.readFull(b)
	return b
}

func (pr *payloadReader) readHeaders() []Header {
	n := pr.readUvarint()
	if pr.err != nil {
		return nil
	}
	if n > maxHeaderCount {
		pr.err = fmt.Errorf("header count %d exceeds limit", n)
		return nil
	}
	if n == 0 {
		return nil
	}
	hs := make([]Header, 0, n)
	for i := uint64(0); i < n; i++ {
		name := pr.readString()
		value := pr.readString()
		if pr.err != nil {
			return nil
		}
		hs = append(hs, Header{Name: name, Value: value})
	}
	return hs
}
