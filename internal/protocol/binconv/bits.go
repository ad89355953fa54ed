package binconv

import (
	"fmt"
	"math/big"
	"strings"
)

// tbcdFiller pads the high nibble of the last byte for odd digit counts.
const tbcdFiller = 0xF

const tbcdDigits = "0123456789*#abc"

// ToBitString renders data MSB first, eight characters per byte.
func ToBitString(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 8)
	for _, b := range data {
		fmt.Fprintf(&sb, "%08b", b)
	}
	return sb.String()
}

// BitStringToInt parses a string of '0'/'1' characters.
func BitStringToInt(bits string) (*big.Int, error) {
	if bits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(bits, 2)
	if !ok {
		return nil, fmt.Errorf("%w: bit string %q", ErrInvalidLiteral, bits)
	}
	return v, nil
}

// BitStringToBytes packs a bit string whose length is a multiple of eight.
func BitStringToBytes(bits string) ([]byte, error) {
	if len(bits)%8 != 0 {
		return nil, fmt.Errorf("%w: bit string length %d is not a multiple of 8", ErrInvalidLiteral, len(bits))
	}
	v, err := BitStringToInt(bits)
	if err != nil {
		return nil, err
	}
	return IntToBinOfLength(len(bits)/8, v)
}

// IntToBitString renders v as exactly width bits.
func IntToBitString(v *big.Int, width int) (string, error) {
	if v.Sign() < 0 || v.BitLen() > width {
		return "", fmt.Errorf("%w: %s does not fit in %d bits", ErrValueTooLong, v, width)
	}
	s := v.Text(2)
	if v.Sign() == 0 {
		s = ""
	}
	return strings.Repeat("0", width-len(s)) + s, nil
}

// ToTBCDBinary packs telephony BCD digits two per byte, low nibble first.
// An odd digit count is completed with the 0xF filler nibble.
func ToTBCDBinary(digits string) ([]byte, error) {
	out := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		lo, err := tbcdNibble(digits[i])
		if err != nil {
			return nil, err
		}
		hi := byte(tbcdFiller)
		if i+1 < len(digits) {
			if hi, err = tbcdNibble(digits[i+1]); err != nil {
				return nil, err
			}
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

// ToTBCDValue unpacks telephony BCD bytes, dropping filler nibbles.
func ToTBCDValue(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 2)
	for _, b := range data {
		for _, n := range [2]byte{b & 0x0F, b >> 4} {
			if n == tbcdFiller {
				continue
			}
			sb.WriteByte(tbcdDigits[n])
		}
	}
	return sb.String()
}

func tbcdNibble(c byte) (byte, error) {
	i := strings.IndexByte(tbcdDigits, c)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDigit, c)
	}
	return byte(i), nil
}
