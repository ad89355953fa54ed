// Package binconv converts between literal strings, integers and wire bytes.
//
// Literals accepted everywhere a value is given: decimal ("5", "-3"),
// hex ("0x05"), binary ("0b101").
package binconv

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidLiteral = errors.New("binconv: invalid literal")
	ErrValueTooLong   = errors.New("binconv: value too long")
	ErrInvalidDigit   = errors.New("binconv: invalid tbcd digit")
)

// ToInt parses a decimal, 0x-hex or 0b-binary literal.
func ToInt(literal string) (*big.Int, error) {
	s := strings.TrimSpace(literal)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(s[1:])
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		base, s = 2, s[2:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLiteral, literal)
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLiteral, literal)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// ToBin returns the minimal big-endian byte string for literal. Hex literals
// keep their leading zero bytes ("0x0005" is two bytes).
func ToBin(literal string) ([]byte, error) {
	s := strings.TrimSpace(literal)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		out, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLiteral, literal)
		}
		return out, nil
	}
	v, err := ToInt(s)
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %q", ErrInvalidLiteral, literal)
	}
	if v.Sign() == 0 {
		return []byte{0}, nil
	}
	return v.Bytes(), nil
}

// ToBinOfLength encodes literal as an unsigned big-endian integer of exactly
// length bytes.
func ToBinOfLength(length int, literal string) ([]byte, error) {
	v, err := ToInt(literal)
	if err != nil {
		return nil, err
	}
	return IntToBinOfLength(length, v)
}

// IntToBinOfLength left-pads v to length bytes.
func IntToBinOfLength(length int, v *big.Int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidLiteral, v)
	}
	b := v.Bytes()
	if len(b) > length {
		return nil, fmt.Errorf("%w: %s does not fit in %d bytes", ErrValueTooLong, v, length)
	}
	out := make([]byte, length)
	copy(out[length-len(b):], b)
	return out, nil
}

// ToTwosComplement maps a signed value onto its unsigned bits-wide representation.
func ToTwosComplement(v *big.Int, bits int) *big.Int {
	if v.Sign() >= 0 {
		return new(big.Int).Set(v)
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return new(big.Int).Add(mod, v)
}

// FromTwosComplement reinterprets an unsigned bits-wide value as signed.
func FromTwosComplement(v *big.Int, bits int) *big.Int {
	if bits <= 0 || v.Bit(bits-1) == 0 {
		return new(big.Int).Set(v)
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return new(big.Int).Sub(v, mod)
}

// SignedRange returns the inclusive range of a two's complement integer of bits width.
func SignedRange(bits int) (lo, hi *big.Int) {
	half := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	lo = new(big.Int).Neg(half)
	hi = new(big.Int).Sub(half, big.NewInt(1))
	return lo, hi
}

// Hex0x renders data as a 0x-prefixed lowercase hex string.
func Hex0x(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

// BytesToInt interprets data as an unsigned big-endian integer.
func BytesToInt(data []byte) *big.Int {
	return new(big.Int).SetBytes(data)
}

// Reverse returns a reversed copy of data.
func Reverse(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}
