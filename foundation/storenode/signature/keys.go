package signature

import (
	"crypto/rand"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
)

// KeyLength is the width of all keys handled by the node.
const KeyLength = 32

// PublicKey represents a compressed curve point identifying a peer
// or client.
type PublicKey [KeyLength]byte

// PrivateKey represents a canonical scalar on the signature curve.
type PrivateKey [KeyLength]byte

// Keypair represents the node's long term identity. The public key is
// the noclamp scalar-base-multiplication of the private key.
type Keypair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeypair constructs a fresh keypair from the specified entropy
// source. Pass nil to use crypto/rand.
func GenerateKeypair(rnd io.Reader) (Keypair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}

	k, err := randomScalar(rnd)
	if err != nil {
		return Keypair{}, fmt.Errorf("drawing scalar: %w", err)
	}

	var kp Keypair
	copy(kp.Private[:], k.Bytes())
	copy(kp.Public[:], new(edwards25519.Point).ScalarBaseMult(k).Bytes())

	return kp, nil
}

// PrivateKeyFromHex parses a 64 hex digit private key and validates it
// is a canonical scalar.
func PrivateKeyFromHex(privateKeyHex string) (PrivateKey, error) {
	if !encode.IsHex(privateKeyHex) || len(privateKeyHex) != KeyLength*2 {
		return PrivateKey{}, fmt.Errorf("key data is invalid: expected %d hex digits not %d characters", KeyLength*2, len(privateKeyHex))
	}

	data, err := encode.FromHex(privateKeyHex)
	if err != nil {
		return PrivateKey{}, err
	}

	if _, err := new(edwards25519.Scalar).SetCanonicalBytes(data); err != nil {
		return PrivateKey{}, fmt.Errorf("key data is invalid: not a canonical scalar")
	}

	var key PrivateKey
	copy(key[:], data)

	return key, nil
}

// PublicKeyFromHex parses a 64 hex digit public key.
func PublicKeyFromHex(publicKeyHex string) (PublicKey, error) {
	if !encode.IsHex(publicKeyHex) || len(publicKeyHex) != KeyLength*2 {
		return PublicKey{}, fmt.Errorf("key data is invalid: expected %d hex digits not %d characters", KeyLength*2, len(publicKeyHex))
	}

	data, err := encode.FromHex(publicKeyHex)
	if err != nil {
		return PublicKey{}, err
	}

	var key PublicKey
	copy(key[:], data)

	return key, nil
}

// DerivePublicKey computes the signing public key for the specified
// private key using an unclamped scalar-base-multiplication.
func DerivePublicKey(privateKey PrivateKey) (PublicKey, error) {
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(privateKey[:])
	if err != nil {
		return PublicKey{}, fmt.Errorf("private key is not a canonical scalar")
	}

	var pub PublicKey
	copy(pub[:], new(edwards25519.Point).ScalarBaseMult(s).Bytes())

	return pub, nil
}

// DeriveX25519 computes the curve25519 public key clients agree on a
// channel key with from the specified private key.
func DeriveX25519(privateKey PrivateKey) (PublicKey, error) {
	data, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("deriving x25519 key: %w", err)
	}

	var pub PublicKey
	copy(pub[:], data)

	return pub, nil
}

// Ed25519PublicKey extracts the public half of a 64 byte expanded
// ed25519 secret key.
func Ed25519PublicKey(secretKey [64]byte) PublicKey {
	var pub PublicKey
	copy(pub[:], secretKey[32:])

	return pub
}

// Hex returns the key as lowercase hex.
func (pk PublicKey) Hex() string {
	return encode.ToHex(pk[:])
}

// Base32z returns the client facing encoding of the key.
func (pk PublicKey) Base32z() string {
	return encode.ToBase32z(pk[:])
}
