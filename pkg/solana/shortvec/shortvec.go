// Package shortvec implements the compact-u16 length prefix used throughout
// the Solana wire format.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// maxEncodedLen is the number of bytes needed to encode math.MaxUint16.
const maxEncodedLen = 3

// EncodeLen writes n to w as a compact-u16 and returns the number of bytes
// written.
//
// If n is negative or larger than math.MaxUint16, an error is returned.
func EncodeLen(w io.Writer, n int) (int, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, errors.Errorf("len %d exceeds %d", n, math.MaxUint16)
	}

	var buf [maxEncodedLen]byte
	size := 0
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			buf[size] = b
			size++
			break
		}

		buf[size] = b | 0x80
		size++
	}

	return w.Write(buf[:size])
}

// DecodeLen reads a compact-u16 from r.
func DecodeLen(r io.Reader) (int, error) {
	var val int
	var b [1]byte

	for i := 0; i < maxEncodedLen; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}

		val |= int(b[0]&0x7f) << (7 * i)
		if b[0]&0x80 == 0 {
			return val, nil
		}
	}

	return 0, errors.Errorf("invalid size: exceeds %d bytes", maxEncodedLen)
}
