package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Advertising data types this package understands. Everything else in a
// payload is skipped without validation.
const (
	adTypeFlags        = 0x01
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
	adTypeManufacturer = 0xFF
)

// MaxNameLen is the longest display name kept for a device, in bytes.
const MaxNameLen = 31

// ErrMalformedAdvertisement is returned when an AD structure claims more
// bytes than the payload holds.
var ErrMalformedAdvertisement = errors.New("ble: malformed advertisement")

// Advertisement holds the fields extracted from an advertising payload.
type Advertisement struct {
	Flags    byte
	HasFlags bool
	// Name is the local name, truncated to MaxNameLen. Empty when absent.
	Name string
	// ManufacturerData is the raw manufacturer-specific field: a little-endian
	// company identifier followed by the vendor payload. Nil when absent.
	ManufacturerData []byte
}

// CompanyID returns the company identifier of the manufacturer data.
func (a Advertisement) CompanyID() (uint16, bool) {
	if len(a.ManufacturerData) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(a.ManufacturerData), true
}

// ParseAdvertisement walks the [length][type][data] structure list of a raw
// advertising payload. A zero length byte ends the significant part.
func ParseAdvertisement(data []byte) (Advertisement, error) {
	var adv Advertisement
	var shortName []byte
	var completeName []byte
	haveComplete := false

	for i := 0; i < len(data); {
		l := int(data[i])
		if l == 0 {
			break
		}
		if i+1+l > len(data) {
			return Advertisement{}, fmt.Errorf("%w: field at offset %d needs %d bytes, %d left",
				ErrMalformedAdvertisement, i, l, len(data)-i-1)
		}
		typ := data[i+1]
		field := data[i+2 : i+1+l]

		switch typ {
		case adTypeFlags:
			if len(field) > 0 {
				adv.Flags = field[0]
				adv.HasFlags = true
			}
		case adTypeShortName:
			shortName = field
		case adTypeCompleteName:
			completeName = field
			haveComplete = true
		case adTypeManufacturer:
			if adv.ManufacturerData == nil {
				adv.ManufacturerData = append([]byte{}, field...)
			}
		}
		i += 1 + l
	}

	name := shortName
	if haveComplete {
		name = completeName
	}
	adv.Name = truncateName(string(name))
	return adv, nil
}

// MatchesCompany reports whether manufacturer data carries the given company
// identifier.
func MatchesCompany(mfg []byte, companyID uint16) bool {
	return len(mfg) >= 2 && binary.LittleEndian.Uint16(mfg) == companyID
}

// ManufacturerEntry is one manufacturer-specific data element as reported
// by stacks that hand out decoded fields instead of raw payloads.
type ManufacturerEntry struct {
	CompanyID uint16
	Data      []byte
}

// EncodeAdvertisement builds a raw AD structure list from decoded fields.
// Stacks that never expose the raw payload use it so the parser sees the
// same layout either way.
func EncodeAdvertisement(name string, mfg []ManufacturerEntry) []byte {
	var p []byte
	if name != "" {
		p = appendField(p, adTypeCompleteName, []byte(name))
	}
	for _, m := range mfg {
		d := make([]byte, 2, 2+len(m.Data))
		binary.LittleEndian.PutUint16(d, m.CompanyID)
		d = append(d, m.Data...)
		p = appendField(p, adTypeManufacturer, d)
	}
	return p
}

func appendField(p []byte, typ byte, b []byte) []byte {
	if len(b) > 254 {
		b = b[:254]
	}
	p = append(p, byte(len(b)+1), typ)
	return append(p, b...)
}

// truncateName cuts s to MaxNameLen bytes without splitting a UTF-8 sequence.
func truncateName(s string) string {
	return truncateUTF8(s, MaxNameLen)
}

// truncateUTF8 returns the longest prefix of s that fits in max bytes and
// ends on a rune boundary.
func truncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
