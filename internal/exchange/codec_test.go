package exchange

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eavina-s-org/webmock/internal/errs"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Name:      "example",
		URL:       "https://example.com/",
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Exchanges: []Exchange{
			{
				Method: "GET",
				URL:    "https://example.com/",
				RequestHeaders: []Header{
					{Name: "Accept", Value: "text/html"},
					{Name: "Cookie", Value: "a=1"},
					{Name: "Cookie", Value: "b=2"},
				},
				StatusCode: 200,
				ResponseHeaders: []Header{
					{Name: "Content-Type", Value: "text/html; charset=utf-8"},
					{Name: "X-WeIrD-CaSiNg", Value: "kept"},
				},
				ResponseBody:  []byte("<html>hello</html>"),
				SequenceIndex: 0,
				CapturedAt:    time.Date(2026, 3, 14, 9, 26, 52, 100, time.UTC),
			},
			{
				Method:        "POST",
				URL:           "https://example.com/api/data?x=1",
				RequestBody:   []byte{0x00, 0x1f, 0x8b, 0xff, 0xfe, 0x00},
				StatusCode:    204,
				SequenceIndex: 1,
				CapturedAt:    time.Date(2026, 3, 14, 9, 26, 52, 200, time.UTC),
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	data, err := Marshal(snap)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestRoundTripEmptySnapshot(t *testing.T) {
	snap := &Snapshot{
		Name:      "empty",
		URL:       "http://localhost/",
		CreatedAt: time.Unix(0, 1234567890).UTC(),
	}

	data, err := Marshal(snap)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Name, got.Name)
	assert.Empty(t, got.Exchanges)
}

func TestRoundTripLargeBodyCompresses(t *testing.T) {
	body := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 512*1024)
	snap := &Snapshot{
		Name:      "big",
		URL:       "https://example.com/big",
		CreatedAt: time.Now().UTC().Truncate(time.Nanosecond),
		Exchanges: []Exchange{{
			Method:       "GET",
			URL:          "https://example.com/big.bin",
			StatusCode:   200,
			ResponseBody: body,
			CapturedAt:   time.Now().UTC(),
		}},
	}

	data, err := Marshal(snap)
	require.NoError(t, err)

	// Gzip magic proves the compressed path was taken.
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, byte(0x1f), data[0])
	assert.Equal(t, byte(0x8b), data[1])

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, body, got.Exchanges[0].ResponseBody)
}

func TestDecodeMetadataOnly(t *testing.T) {
	data, err := Marshal(sampleSnapshot())
	require.NoError(t, err)

	meta, err := DecodeMetadata(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "example", meta.Name)
	assert.Equal(t, "https://example.com/", meta.URL)
	assert.Equal(t, 2, meta.ExchangeCount)
	assert.NotEmpty(t, meta.Version)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte("not a snapshot at all"))
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCorruptSnapshot))
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data, err := Marshal(sampleSnapshot())
	require.NoError(t, err)

	// Flip one body byte; the trailing checksum must catch it.
	data[len(data)-20] ^= 0xff

	_, err = Unmarshal(data)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCorruptSnapshot))
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Marshal(sampleSnapshot())
	require.NoError(t, err)

	_, err = Unmarshal(data[:len(data)/2])
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCorruptSnapshot))
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Path?Q=UPPER", "https://example.com/Path?Q=UPPER"},
		{"http://example.com/a", "http://example.com/a"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalURL(tt.in), tt.in)
	}
}
