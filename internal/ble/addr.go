package ble

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is a 6-byte link-layer device address, stored least-significant
// byte first as it travels on air.
type Addr [6]byte

// AddrType is the address type the host uses for its own address.
type AddrType uint8

const (
	AddrTypePublic AddrType = 0
	AddrTypeRandom AddrType = 1
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandom:
		return "random"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

const hexDigits = "0123456789ABCDEF"

// String formats the address as XX:XX:XX:XX:XX:XX, most significant byte first.
func (a Addr) String() string {
	buf := make([]byte, 0, 17)
	for i := len(a) - 1; i >= 0; i-- {
		buf = append(buf, hexDigits[a[i]>>4], hexDigits[a[i]&0x0f])
		if i > 0 {
			buf = append(buf, ':')
		}
	}
	return string(buf)
}

// MarshalText implements encoding.TextMarshaler.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddr parses a colon-separated display address (most significant byte
// first, either case) into its on-air byte order.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return a, fmt.Errorf("ble: invalid address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return a, fmt.Errorf("ble: invalid address %q", s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return a, fmt.Errorf("ble: invalid address %q: %w", s, err)
		}
		a[len(a)-1-i] = byte(b)
	}
	return a, nil
}
