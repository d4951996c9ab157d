// Package hashing provides the digest primitives the admission and
// authentication paths are built on.
package hashing

import (
	"crypto/sha512"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width of the generic digest used as a signing prefix.
const HashSize = 32

// Hash represents a 32 byte generic digest.
type Hash [HashSize]byte

// Data hashes arbitrary bytes into a 32 byte digest using BLAKE2b-256.
// This is the generic hash callers feed the signature scheme as the
// prefix hash.
func Data(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Fast hashes arbitrary bytes with the legacy Keccak-256 the fleet's
// hash-to-scalar construction is built on. Not interchangeable with
// Data; existing signatures fix the choice.
func Fast(data []byte) Hash {
	var digest Hash

	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(digest[:0])

	return digest
}

// SHA512 hashes arbitrary bytes into a 64 byte SHA-512 digest.
func SHA512(data []byte) [sha512.Size]byte {
	return sha512.Sum512(data)
}
