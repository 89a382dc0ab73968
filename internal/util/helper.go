// Package util holds small helpers shared by the device codecs.
package util

import (
	"strconv"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// AppendHex appends b as two uppercase hex characters.
func AppendHex(dst []byte, b byte) []byte {
	return append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
}

// AppendHexString appends every byte of s as two uppercase hex characters.
func AppendHexString(dst []byte, s []byte) []byte {
	for _, b := range s {
		dst = AppendHex(dst, b)
	}
	return dst
}

// Nibble converts one hex character to its value.
// Only '0'-'9' and 'A'-'F' are defined; other characters map by the same
// arithmetic as the devices' firmware and are not rejected.
func Nibble(c byte) byte {
	if c <= '9' {
		return c - '0'
	}
	return c - 0x37
}

// HexByte combines two hex characters into one byte.
func HexByte(hi, lo byte) byte {
	return Nibble(hi)<<4 | Nibble(lo)&0x0F
}

// Sum8 is the 8-bit additive checksum of data.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Atof parses the longest numeric prefix of s after leading spaces, 0 when
// there is none. Devices append unit suffixes such as "V" or " A" to values.
func Atof(s string) float64 {
	s = strings.TrimLeft(s, " \t")
	for end := len(s); end > 0; end-- {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
	}
	return 0
}
