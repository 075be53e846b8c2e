// Package resolve provides typed reads and bounded pointer chasing over a
// memport.Reader. It performs no retries; callers decide retry policy.
package resolve

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"schemadump/internal/memport"
)

// PtrSize is the pointer width of supported targets.
const PtrSize = 8

// ErrNullPointer is returned when a hop before the final one yields null.
var ErrNullPointer = errors.New("resolve: null pointer")

// HopError reports which hop of a Follow chain failed.
type HopError struct {
	Hop  int    // index into the offset list
	Addr uint64 // address the hop tried to read
	Err  error
}

func (e *HopError) Error() string {
	return fmt.Sprintf("resolve: hop %d at 0x%x: %v", e.Hop, e.Addr, e.Err)
}

func (e *HopError) Unwrap() error { return e.Err }

// Bytes reads n bytes at addr.
func Bytes(r memport.Reader, addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, memport.ReadError(addr, n, memport.ErrOutOfRange)
	}
	if n > 0 && addr > math.MaxUint64-uint64(n-1) {
		return nil, memport.ReadError(addr, n, memport.ErrOutOfRange)
	}
	buf := make([]byte, n)
	if err := r.Read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func U8(r memport.Reader, addr uint64) (uint8, error) {
	b, err := Bytes(r, addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func U16(r memport.Reader, addr uint64) (uint16, error) {
	b, err := Bytes(r, addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func U32(r memport.Reader, addr uint64) (uint32, error) {
	b, err := Bytes(r, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func U64(r memport.Reader, addr uint64) (uint64, error) {
	b, err := Bytes(r, addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Ptr reads a pointer-sized value at addr.
func Ptr(r memport.Reader, addr uint64) (uint64, error) {
	return U64(r, addr)
}

// Add returns base+off, or an out-of-range error when the sum overflows.
func Add(base, off uint64) (uint64, error) {
	if base > math.MaxUint64-off {
		return 0, memport.ReadError(base, 0, memport.ErrOutOfRange)
	}
	return base + off, nil
}

// Follow chases a pointer chain. For each offset it reads a pointer at
// current+offset and makes it current. A failed read, an overflowing
// address or a null pointer before the final hop aborts the chain; no
// partial result is returned. The final pointer may be null.
func Follow(r memport.Reader, base uint64, offsets ...uint64) (uint64, error) {
	cur := base
	for i, off := range offsets {
		at, err := Add(cur, off)
		if err != nil {
			return 0, &HopError{Hop: i, Addr: cur, Err: err}
		}
		p, err := Ptr(r, at)
		if err != nil {
			return 0, &HopError{Hop: i, Addr: at, Err: err}
		}
		if p == 0 && i < len(offsets)-1 {
			return 0, &HopError{Hop: i, Addr: at, Err: ErrNullPointer}
		}
		cur = p
	}
	return cur, nil
}

// chunk is the read granularity of CString.
const chunk = 64

// CString reads a NUL-terminated string of at most limit bytes. Hitting the
// bound, or an unreadable byte after the first, truncates the result
// instead of failing. truncated reports either case.
func CString(r memport.Reader, addr uint64, limit int) (s string, truncated bool, err error) {
	if addr == 0 {
		return "", false, ErrNullPointer
	}
	if limit <= 0 {
		return "", true, nil
	}
	out := make([]byte, 0, min(limit, chunk))
	for len(out) < limit {
		n := min(chunk, limit-len(out))
		at, err := Add(addr, uint64(len(out)))
		if err != nil {
			return finish(out, err)
		}
		buf := make([]byte, n)
		if err := r.Read(at, buf); err != nil {
			// A chunk may straddle an unmapped page; fall back to bytes.
			for i := 0; i < n; i++ {
				b, berr := U8(r, at+uint64(i))
				if berr != nil {
					return finish(out, berr)
				}
				if b == 0 {
					return string(out), false, nil
				}
				out = append(out, b)
			}
			continue
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), false, nil
			}
			out = append(out, b)
		}
	}
	return string(out), true, nil
}

func finish(out []byte, err error) (string, bool, error) {
	if len(out) == 0 || memport.IsFatal(err) {
		return "", false, err
	}
	return string(out), true, nil
}
