package gattc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// A UUID names an attribute type. Stored in little-endian wire order,
// either 2 or 16 bytes.
type UUID []byte

// UUID16 converts a uint16 (such as 0x2A00) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID(b)
}

// Parse parses a standard-format UUID string, such as "2A00" or
// "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func Parse(s string) (UUID, error) {
	s = strings.Replace(s, "-", "", -1)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case 2, 16:
	default:
		return nil, fmt.Errorf("UUIDs must have length 2 or 16, got %d", len(b))
	}
	return UUID(reverse(b)), nil
}

// MustParse parses a standard-format UUID string, like Parse, but panics
// in case of error.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Len returns the length of the UUID in bytes.
func (u UUID) Len() int { return len(u) }

// String hex-encodes a UUID in display order.
func (u UUID) String() string { return fmt.Sprintf("%X", reverse(u)) }

// Equal reports whether v represents the same UUID as u.
func (u UUID) Equal(v UUID) bool { return bytes.Equal(u, v) }

// reverse returns a reversed copy of u.
func reverse(u []byte) []byte {
	l := len(u)
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l/2+1; i++ {
		b[i], b[l-i-1] = u[l-i-1], u[i]
	}
	return b
}
