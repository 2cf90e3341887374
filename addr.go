package gattc

import (
	"encoding/hex"
	"strings"
)

// Addr is the public address of a peripheral or adapter in the usual
// colon-separated MAC form, normalized to lower case.
type Addr string

// NewAddr creates an Addr from a string.
func NewAddr(s string) Addr {
	return Addr(strings.ToLower(s))
}

func (a Addr) String() string {
	return string(a)
}

// Bytes returns the raw six address bytes, or nil if the address does not
// parse.
func (a Addr) Bytes() []byte {
	out, err := hex.DecodeString(strings.Replace(string(a), ":", "", -1))
	if err != nil {
		GetLogger().Errorf("error decoding address %q: %s", a, err)
		return nil
	}
	return out
}
