// Package btaddr parses and formats Bluetooth device addresses.
package btaddr

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress is returned by Parse for anything that is not six
// colon-separated pairs of hex digits.
var ErrInvalidAddress = errors.New("invalid device address")

// Address is a 6-octet Bluetooth device address in display order
// (the first octet is the one printed first).
type Address struct {
	b [6]byte
}

// Parse validates raw and returns the address it denotes.
// Case is ignored; surrounding whitespace is not.
func Parse(raw string) (Address, error) {
	// "AA:BB:CC:DD:EE:FF"
	if len(raw) != 17 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	var a Address
	for i := 0; i < 6; i++ {
		off := i * 3
		if i > 0 && raw[off-1] != ':' {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		hi, ok1 := unhex(raw[off])
		lo, ok2 := unhex(raw[off+1])
		if !ok1 || !ok2 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		a.b[i] = hi<<4 | lo
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the canonical upper-case form.
func (a Address) String() string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, 17)
	for i, v := range a.b {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[v>>4], digits[v&0x0f])
	}
	return string(buf)
}

// IsZero reports whether a is the zero value (00:00:00:00:00:00).
func (a Address) IsZero() bool { return a.b == [6]byte{} }

// Bytes returns the octets in display order.
func (a Address) Bytes() [6]byte { return a.b }

// LittleEndian returns the octets reversed, the layout of the kernel's bdaddr_t.
func (a Address) LittleEndian() [6]byte {
	var out [6]byte
	for i := range a.b {
		out[i] = a.b[5-i]
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
