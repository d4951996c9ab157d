// Package encode provides the wire codecs used across the storage node:
// standard base64, the zbase32 client alphabet, and hex.
package encode

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
)

// base32z is the human-oriented z-base-32 alphabet used for client facing
// public keys. 32 bytes encode to exactly 52 characters, no padding.
var base32z = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// ToBase64 encodes the bytes with the standard alphabet and padding.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes a standard-alphabet base64 string. Both padded and
// unpadded forms are accepted.
func FromBase64(s string) ([]byte, error) {
	if len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// ToBase32z encodes the bytes with the z-base-32 alphabet.
func ToBase32z(data []byte) string {
	return base32z.EncodeToString(data)
}

// FromBase32z decodes a z-base-32 string.
func FromBase32z(s string) ([]byte, error) {
	return base32z.DecodeString(s)
}

// ToHex encodes the bytes as lowercase hex.
func ToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// FromHex decodes a hex string.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// IsHex reports whether the string is an even number of hex digits.
func IsHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil && len(s)%2 == 0
}
