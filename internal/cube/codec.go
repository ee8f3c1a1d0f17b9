package cube

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeBase64 decodes standard base64 text. Up to two trailing '='
// characters are stripped first so that both padded and unpadded payloads
// are accepted. Empty input yields an empty slice.
func DecodeBase64(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	for i := 0; i < 2 && strings.HasSuffix(text, "="); i++ {
		text = text[:len(text)-1]
	}
	if text == "" {
		return []byte{}, nil
	}
	out, err := base64.RawStdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrMalformedFrame, err)
	}
	return out, nil
}

// EncodeBase64 encodes bytes as padded standard base64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// cursor reads big-endian fields from a decoded payload. Frame lengths are
// checked by the decoder before fields are read, so an out-of-range read is
// a bug and panics.
type cursor struct {
	buf []byte
	off int
}

func newCursor(b []byte) *cursor {
	return &cursor{buf: b}
}

// remaining returns the number of unread bytes.
func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

// need returns ErrMalformedFrame if fewer than n bytes remain.
func (c *cursor) need(n int, what string) error {
	if c.remaining() < n {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", ErrMalformedFrame, what, n, c.remaining())
	}
	return nil
}

// uint reads a big-endian unsigned integer of 1 to 4 bytes and advances.
func (c *cursor) uint(width int) uint32 {
	v := ReadUint(c.buf, c.off, width)
	c.off += width
	return v
}

// bytes returns the next n bytes and advances.
func (c *cursor) bytes(n int) []byte {
	if n < 0 || c.off+n > len(c.buf) {
		panic(fmt.Sprintf("cube: read of %d bytes at offset %d exceeds payload of %d", n, c.off, len(c.buf)))
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

// skip advances past n bytes.
func (c *cursor) skip(n int) {
	c.bytes(n)
}

// ReadUint reads a big-endian unsigned integer of width 1 to 4 bytes at
// offset. It panics if the read falls outside b.
func ReadUint(b []byte, offset, width int) uint32 {
	if width < 1 || width > 4 || offset < 0 || offset+width > len(b) {
		panic(fmt.Sprintf("cube: read of width %d at offset %d exceeds payload of %d", width, offset, len(b)))
	}
	var v uint32
	for _, x := range b[offset : offset+width] {
		v = v<<8 | uint32(x)
	}
	return v
}

// putUint24 writes the low 24 bits of v big-endian into dst.
func putUint24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16) //nolint:gosec // G115: truncation intended
	dst[1] = byte(v >> 8)  //nolint:gosec // G115: truncation intended
	dst[2] = byte(v)       //nolint:gosec // G115: truncation intended
}

// halfDegrees converts a half-degree wire value to degrees Celsius.
func halfDegrees(v uint32) float64 {
	return float64(v&0x7f) / 2
}
