// Package slicebuf implements the borrowed byte-range primitive
// ("Slice") that every pull parser and wire codec in this module is
// built on, plus the two small collections that ride on top of it:
// RangeStack (a doubling stack of (offset,length) pairs used to track
// parser element paths) and LineBuffer (an incremental record-at-a-time
// reader).
//
// A Slice never owns the bytes it views. Reassigning it to a new
// range, even of a different backing buffer, is the common case and
// is always allocation-free.
package slicebuf

import "unicode/utf8"

// Slice is a borrowed view (buf[off:off+length]) with a cached hash.
// The zero value is an empty slice into a nil buffer.
type Slice struct {
	buf    []byte
	off    int
	length int
	hash   uint32 // 0 means "not yet computed"
}

// New returns a Slice over buf[off:off+length]. It panics if the range
// is out of bounds, matching the invariant that callers never hand a
// parser a range it didn't itself derive from buf.
func New(buf []byte, off, length int) Slice {
	if off < 0 || length < 0 || off+length > len(buf) {
		panic("slicebuf: range out of bounds")
	}
	return Slice{buf: buf, off: off, length: length}
}

// FromString returns a Slice over the bytes of s. The string's backing
// array is reused directly (Go strings are immutable, so this is safe).
func FromString(s string) Slice {
	return New([]byte(s), 0, len(s))
}

// Reset repoints s at a new range of buf without allocating.
func (s *Slice) Reset(buf []byte, off, length int) {
	if off < 0 || length < 0 || off+length > len(buf) {
		panic("slicebuf: range out of bounds")
	}
	s.buf, s.off, s.length, s.hash = buf, off, length, 0
}

// Len returns the number of bytes in the view.
func (s Slice) Len() int { return s.length }

// Empty reports whether the view has zero length.
func (s Slice) Empty() bool { return s.length == 0 }

// Bytes returns the viewed bytes directly, with no copy; callers must
// not mutate the returned slice, nor retain it past the next Reset of
// the backing buffer's owner.
func (s Slice) Bytes() []byte { return s.buf[s.off : s.off+s.length] }

// At returns the i'th byte of the view.
func (s Slice) At(i int) byte { return s.buf[s.off+i] }

// String materializes the view as an owned Go string, allocating a
// copy.
func (s Slice) String() string { return string(s.Bytes()) }

// fnvLike is the Slice hash, which pkg/hmap repeats for its keys:
// h = b0; h = h*31 + bi.
func fnvLike(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	h := uint32(b[0])
	for _, c := range b[1:] {
		h = h*31 + uint32(c)
	}
	return h
}

// Hash returns the cached hash, computing and caching it on first use.
// A zero-length slice hashes to 0, matching spec.md §3's invariant
// that the cached hash is "zero or equal to the fixed hash function".
func (s *Slice) Hash() uint32 {
	if s.hash == 0 && s.length > 0 {
		s.hash = fnvLike(s.Bytes())
	}
	return s.hash
}

// Equal reports whether s and o view byte-identical content.
func (s Slice) Equal(o Slice) bool {
	if s.length != o.length {
		return false
	}
	return string(s.Bytes()) == string(o.Bytes())
}

// EqualBytes reports whether s views exactly b.
func (s Slice) EqualBytes(b []byte) bool {
	if s.length != len(b) {
		return false
	}
	a := s.Bytes()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EqualString reports whether s views exactly the bytes of str.
func (s Slice) EqualString(str string) bool {
	if s.length != len(str) {
		return false
	}
	a := s.Bytes()
	for i := 0; i < len(a); i++ {
		if a[i] != str[i] {
			return false
		}
	}
	return true
}

func lowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// EqualFoldString reports case-insensitive (ASCII) equality against str.
func (s Slice) EqualFoldString(str string) bool {
	if s.length != len(str) {
		return false
	}
	a := s.Bytes()
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(str[i]) {
			return false
		}
	}
	return true
}

// IntRange is a compact byte-range hand-off token: it survives the
// recycling of the Slice's backing buffer because it carries no
// pointer into it, only coordinates to be re-applied to whatever
// buffer is current when the range is needed again.
type IntRange struct {
	Off, Len int
}

// Range returns the (off,len) pair of s as a hand-off token.
func (s Slice) Range() IntRange { return IntRange{Off: s.off, Len: s.length} }

// Slice re-derives a Slice from r against buf.
func (r IntRange) Slice(buf []byte) Slice { return New(buf, r.Off, r.Len) }

// ValidUTF8 reports whether the view holds well-formed UTF-8. Parsers
// call this before handing a Slice's bytes to a string-producing API.
func (s Slice) ValidUTF8() bool { return utf8.Valid(s.Bytes()) }
