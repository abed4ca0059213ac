// Package wire implements the binary request/response protocol of
// spec.md §4.C: the fixed-capacity DataBuf codec, the RACE message
// frame, and the UDP client state machine that exchanges track
// updates with the external-language adapter. Every DataBuf operation
// takes and returns an explicit cursor position; there is no hidden
// read/write state, matching spec.md §9's "explicit thread-local
// cursors inside parsers" redesign note applied uniformly to the
// binary codec too.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BoundsError is a ProtocolError (spec.md §7): a read or write would
// cross the buffer's capacity.
type BoundsError struct {
	Op       string
	Pos, Cap int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("wire: %s at pos %d exceeds capacity %d", e.Op, e.Pos, e.Cap)
}

// DataBuf is an owned, fixed-capacity byte array. It holds no cursor:
// every read and write takes a position and returns the position after
// it. All integer types are encoded
// big-endian; doubles as 8-byte IEEE-754; strings as a u16 length
// prefix followed by UTF-8 bytes.
type DataBuf struct {
	buf []byte
}

// NewDataBuf allocates a DataBuf with the given fixed capacity.
func NewDataBuf(capacity int) *DataBuf {
	return &DataBuf{buf: make([]byte, capacity)}
}

// FromBytes wraps an existing byte slice (e.g. a just-received UDP
// datagram) as a read-only DataBuf of matching capacity.
func FromBytes(b []byte) *DataBuf {
	return &DataBuf{buf: b}
}

// Capacity returns the buffer's fixed size.
func (d *DataBuf) Capacity() int { return len(d.buf) }

// Bytes returns the backing array directly (e.g. to hand off to a
// socket Write call); callers must not retain it past the buffer's
// next write.
func (d *DataBuf) Bytes() []byte { return d.buf }

func (d *DataBuf) checkRange(op string, pos, n int) error {
	if pos < 0 || n < 0 || pos+n > len(d.buf) {
		return &BoundsError{Op: op, Pos: pos + n, Cap: len(d.buf)}
	}
	return nil
}

// WriteShort writes a big-endian int16 at pos, returning the position
// after the write.
func (d *DataBuf) WriteShort(pos int, v int16) (int, error) {
	if err := d.checkRange("write_short", pos, 2); err != nil {
		return pos, err
	}
	binary.BigEndian.PutUint16(d.buf[pos:], uint16(v))
	return pos + 2, nil
}

// ReadShort is WriteShort's inverse.
func (d *DataBuf) ReadShort(pos int) (int16, int, error) {
	if err := d.checkRange("read_short", pos, 2); err != nil {
		return 0, pos, err
	}
	return int16(binary.BigEndian.Uint16(d.buf[pos:])), pos + 2, nil
}

// WriteInt writes a big-endian int32 at pos.
func (d *DataBuf) WriteInt(pos int, v int32) (int, error) {
	if err := d.checkRange("write_int", pos, 4); err != nil {
		return pos, err
	}
	binary.BigEndian.PutUint32(d.buf[pos:], uint32(v))
	return pos + 4, nil
}

// ReadInt is WriteInt's inverse.
func (d *DataBuf) ReadInt(pos int) (int32, int, error) {
	if err := d.checkRange("read_int", pos, 4); err != nil {
		return 0, pos, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[pos:])), pos + 4, nil
}

// WriteLong writes a big-endian int64 at pos.
func (d *DataBuf) WriteLong(pos int, v int64) (int, error) {
	if err := d.checkRange("write_long", pos, 8); err != nil {
		return pos, err
	}
	binary.BigEndian.PutUint64(d.buf[pos:], uint64(v))
	return pos + 8, nil
}

// ReadLong is WriteLong's inverse.
func (d *DataBuf) ReadLong(pos int) (int64, int, error) {
	if err := d.checkRange("read_long", pos, 8); err != nil {
		return 0, pos, err
	}
	return int64(binary.BigEndian.Uint64(d.buf[pos:])), pos + 8, nil
}

// WriteDouble writes v's IEEE-754 bit pattern, big-endian, at pos.
func (d *DataBuf) WriteDouble(pos int, v float64) (int, error) {
	if err := d.checkRange("write_double", pos, 8); err != nil {
		return pos, err
	}
	binary.BigEndian.PutUint64(d.buf[pos:], math.Float64bits(v))
	return pos + 8, nil
}

// ReadDouble is WriteDouble's inverse.
func (d *DataBuf) ReadDouble(pos int) (float64, int, error) {
	if err := d.checkRange("read_double", pos, 8); err != nil {
		return 0, pos, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(d.buf[pos:])), pos + 8, nil
}

// WriteString writes a u16 length prefix followed by the UTF-8 bytes
// of s.
func (d *DataBuf) WriteString(pos int, s string) (int, error) {
	if len(s) > math.MaxUint16 {
		return pos, fmt.Errorf("wire: string too long for u16 length prefix: %d bytes", len(s))
	}
	next, err := d.WriteShort(pos, int16(uint16(len(s))))
	if err != nil {
		return pos, err
	}
	if err := d.checkRange("write_string", next, len(s)); err != nil {
		return pos, err
	}
	copy(d.buf[next:], s)
	return next + len(s), nil
}

// ReadString is WriteString's inverse.
func (d *DataBuf) ReadString(pos int) (string, int, error) {
	n, next, err := d.ReadShort(pos)
	if err != nil {
		return "", pos, err
	}
	length := int(uint16(n))
	if err := d.checkRange("read_string", next, length); err != nil {
		return "", pos, err
	}
	s := string(d.buf[next : next+length])
	return s, next + length, nil
}

// ReadStrncpy reads a length-prefixed string into dst, truncating to
// len(dst)-1 bytes and NUL-terminating, matching spec.md §4.C's
// read_strncpy contract for fixed-size caller buffers. It returns the
// number of bytes copied (excluding the NUL) and the cursor position
// after the full (untruncated) field.
func (d *DataBuf) ReadStrncpy(pos int, dst []byte) (int, int, error) {
	n, next, err := d.ReadShort(pos)
	if err != nil {
		return 0, pos, err
	}
	length := int(uint16(n))
	if err := d.checkRange("read_strncpy", next, length); err != nil {
		return 0, pos, err
	}
	copyLen := length
	if len(dst) > 0 && copyLen > len(dst)-1 {
		copyLen = len(dst) - 1
	}
	copy(dst, d.buf[next:next+copyLen])
	if len(dst) > 0 {
		dst[copyLen] = 0
	}
	return copyLen, next + length, nil
}
