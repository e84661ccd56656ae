// Package checksum implements the per-block hashes of a control file:
// the weak rolling checksum, the MD4 strong checksum, and the SHA-1
// whole-file hash used for final verification.
package checksum

import (
	"github.com/pkg/errors"
)

// MinWeakLength and MaxWeakLength bound the number of bytes a weak
// checksum is stored with.
const (
	MinWeakLength = 2
	MaxWeakLength = 4
)

var weakMasks = [...]uint32{0xffff, 0xffffff, 0xffffffff}

// Combine packs both accumulators into (a<<16)|b and keeps the low
// `length` bytes: 2 keeps only b, 3 adds the low byte of a, 4 keeps all.
func Combine(a uint16, b uint16, length int) uint32 {
	return (uint32(a)<<16 | uint32(b)) & weakMasks[length-MinWeakLength]
}

// Weak computes the weak checksum of a whole block at once.
func Weak(block []byte, length int) uint32 {
	var a, b uint16
	l := len(block)
	for i, v := range block {
		a += uint16(v)
		b += uint16(l-i) * uint16(v)
	}
	return Combine(a, b, length)
}

// Rolling slides a window of fixed size over a buffer one byte at a
// time. Both accumulators are 16 bits wide and wrap, which matters:
// sums computed here are compared against sums computed by whoever
// made the control file.
type Rolling struct {
	buf    []byte
	window int
	length int

	a, b uint16
	pos  int
}

// NewRolling positions a rolling checksum on buf[0:window].
func NewRolling(buf []byte, window int, length int) (*Rolling, error) {
	if length < MinWeakLength || length > MaxWeakLength {
		return nil, errors.Errorf("weak checksum length must be in [%d, %d], got %d", MinWeakLength, MaxWeakLength, length)
	}
	if window <= 0 || window > len(buf) {
		return nil, errors.Errorf("window of %d bytes doesn't fit in a %d-byte buffer", window, len(buf))
	}

	r := &Rolling{
		buf:    buf,
		window: window,
		length: length,
	}
	for i := 0; i < window; i++ {
		r.a += uint16(buf[i])
		r.b += uint16(window-i) * uint16(buf[i])
	}
	return r, nil
}

// Current returns the checksum of buf[Pos():Pos()+window].
func (r *Rolling) Current() uint32 {
	return Combine(r.a, r.b, r.length)
}

// Pos returns the offset of the window's first byte.
func (r *Rolling) Pos() int {
	return r.pos
}

// Positions returns how many windows fit in the buffer.
func (r *Rolling) Positions() int {
	return len(r.buf) - r.window + 1
}

// Next slides the window one byte forward. It returns false, without
// moving, once the window touches the end of the buffer.
func (r *Rolling) Next() bool {
	if r.pos+r.window >= len(r.buf) {
		return false
	}

	out := uint16(r.buf[r.pos])
	in := uint16(r.buf[r.pos+r.window])
	r.a = r.a - out + in
	r.b = r.b - uint16(r.window)*out + r.a
	r.pos++
	return true
}
