package ump

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendPart(t *testing.T, buf []byte, partType int64, payload []byte) []byte {
	t.Helper()
	buf, err := AppendVarint(buf, partType)
	require.NoError(t, err)
	buf, err = AppendVarint(buf, int64(len(payload)))
	require.NoError(t, err)
	return append(buf, payload...)
}

func TestPartReaderWalksParts(t *testing.T) {
	var stream []byte
	stream = appendPart(t, stream, 20, []byte{0x01, 0x02})
	stream = appendPart(t, stream, 21, []byte("media bytes"))
	stream = appendPart(t, stream, 22, nil)

	pr := NewPartReader(bytes.NewReader(stream))

	part, err := pr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, int64(20), part.Type)
	assert.Equal(t, []byte{0x01, 0x02}, part.Data)

	part, err = pr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, int64(21), part.Type)
	assert.Equal(t, []byte("media bytes"), part.Data)

	part, err = pr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, int64(22), part.Type)
	assert.Empty(t, part.Data)

	_, err = pr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestPartReaderMissingSize(t *testing.T) {
	// A lone type varint with no size after it is a framing error, not
	// a clean end of stream.
	pr := NewPartReader(bytes.NewReader([]byte{20}))
	_, err := pr.NextPart()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestPartReaderShortPayload(t *testing.T) {
	var stream []byte
	stream = appendPart(t, stream, 21, []byte("full payload"))
	pr := NewPartReader(bytes.NewReader(stream[:len(stream)-4]))
	_, err := pr.NextPart()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestPartReaderLazy(t *testing.T) {
	var stream []byte
	stream = appendPart(t, stream, 21, []byte("first"))
	// second part is truncated, but must not break reading the first
	stream = append(stream, 21, 50)
	pr := NewPartReader(bytes.NewReader(stream))
	part, err := pr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), part.Data)
	_, err = pr.NextPart()
	assert.Error(t, err)
}
