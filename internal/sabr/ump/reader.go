// Package ump decodes the UMP framed container: a concatenation of
// (type, length, payload) tuples carried in one HTTP response body.
package ump

import (
	"bufio"
	"fmt"
	"io"
)

// Part is a single framed piece of a UMP stream.
type Part struct {
	Type int64
	Data []byte
}

// PartReader lazily walks a UMP stream. The next part is not read from
// the underlying reader until NextPart is called.
type PartReader struct {
	br *bufio.Reader
}

func NewPartReader(r io.Reader) *PartReader {
	return &PartReader{br: bufio.NewReader(r)}
}

// NextPart returns the next (type, payload) pair. io.EOF means the
// stream ended cleanly on a part boundary; any truncation inside a part
// is a framing error.
func (pr *PartReader) NextPart() (*Part, error) {
	partType, err := ReadVarint(pr.br)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ump: reading part type: %w", err)
	}
	size, err := ReadVarint(pr.br)
	if err != nil {
		return nil, fmt.Errorf("ump: truncated part size: %w", err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(pr.br, data); err != nil {
		return nil, fmt.Errorf("ump: short payload for part type %d (want %d bytes): %w", partType, size, err)
	}
	return &Part{Type: partType, Data: data}, nil
}
