package helpers

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 decodes little-endian UTF-16 bytes, stopping at the first NUL
// code unit. Invalid sequences are replaced rather than rejected.
func DecodeUTF16(b []byte) string {
	b = b[:len(b)&^1]
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	out, err := utf16Decoder.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// EncodeUTF16 encodes s as little-endian UTF-16
func EncodeUTF16(s string) []byte {
	out, err := utf16Decoder.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}

// TrimPadding removes the 0xFFFF padding used after a NUL in FAT long name entries
func TrimPadding(b []byte) []byte {
	for i := 0; i+1 < len(b); i += 2 {
		if binary.LittleEndian.Uint16(b[i:]) == 0xFFFF {
			return b[:i]
		}
	}
	return b
}

// SanitizeName makes a recovered name safe to use as a single path element
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7F:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
