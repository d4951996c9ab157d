// Package signature implements the detached signature scheme peers use to
// authenticate each other and the artifacts they exchange. The scheme is
// EdDSA-family over the curve25519 group with a randomized commitment;
// the byte level behavior matches the fleet's existing producers and
// consumers exactly.
package signature

import (
	"crypto/rand"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
	"github.com/overlaynet/storenode/foundation/storenode/hashing"
)

// SignatureLength is the width of a wire encoded signature: the scalar
// pair (c, r).
const SignatureLength = 64

// Signature represents a detached signature over a 32 byte prefix hash.
type Signature [SignatureLength]byte

// C returns the challenge half of the signature.
func (s Signature) C() []byte { return s[:32] }

// R returns the response half of the signature.
func (s Signature) R() []byte { return s[32:] }

// Base64 returns the signature in its text wire encoding.
func (s Signature) Base64() string {
	return encode.ToBase64(s[:])
}

// =============================================================================

// Sign produces a signature over the specified prefix hash. The keypair's
// private key must be the canonical scalar the public key was derived
// from; that invariant is established at key load. Randomness is drawn
// from crypto/rand and the rare degenerate draws (tiny k, zero challenge,
// zero response) restart the loop with fresh entropy.
func Sign(prefixHash hashing.Hash, kp Keypair) (Signature, error) {
	a, err := new(edwards25519.Scalar).SetCanonicalBytes(kp.Private[:])
	if err != nil {
		return Signature{}, fmt.Errorf("private key is not a canonical scalar")
	}

	for {
		k, err := randomScalar(rand.Reader)
		if err != nil {
			return Signature{}, fmt.Errorf("drawing scalar: %w", err)
		}

		var comm [32]byte
		copy(comm[:], new(edwards25519.Point).ScalarBaseMult(k).Bytes())

		c := hashToScalar(prefixHash, kp.Public, comm)
		if isZero(c) {
			continue
		}

		// r = k - c*a (mod order)
		r := new(edwards25519.Scalar).Subtract(k, new(edwards25519.Scalar).Multiply(c, a))
		if isZero(r) {
			continue
		}

		var sig Signature
		copy(sig[:32], c.Bytes())
		copy(sig[32:], r.Bytes())

		return sig, nil
	}
}

// Verify reports whether the signature is valid for the specified prefix
// hash and public key. All failure modes (undecodable point, non-canonical
// scalars, zero challenge, identity commitment, challenge mismatch) reject
// uniformly.
func Verify(sig Signature, prefixHash hashing.Hash, pub PublicKey) bool {
	A, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return false
	}

	c, err := new(edwards25519.Scalar).SetCanonicalBytes(sig.C())
	if err != nil {
		return false
	}
	r, err := new(edwards25519.Scalar).SetCanonicalBytes(sig.R())
	if err != nil {
		return false
	}
	if isZero(c) {
		return false
	}

	// R' = c*A + r*B
	R := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(c, A, r)
	if R.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return false
	}

	var comm [32]byte
	copy(comm[:], R.Bytes())

	cPrime := hashToScalar(prefixHash, pub, comm)

	return cPrime.Equal(c) == 1
}

// VerifyEncoded validates a signature in its text wire form: base64 of
// exactly 86 characters unpadded or 88 with trailing padding, against a
// public key in its 52 character base32z form.
func VerifyEncoded(signatureB64 string, prefixHash hashing.Hash, publicKeyB32z string) bool {

	// 64 bytes -> 86/88 base64 encoded characters without/with padding.
	if !(len(signatureB64) == 86 || (len(signatureB64) == 88 && signatureB64[86] == '=')) {
		return false
	}

	rawSig, err := encode.FromBase64(signatureB64)
	if err != nil || len(rawSig) != SignatureLength {
		return false
	}
	var sig Signature
	copy(sig[:], rawSig)

	// 32 bytes -> 52 base32z encoded characters.
	if len(publicKeyB32z) != 52 {
		return false
	}
	rawKey, err := encode.FromBase32z(publicKeyB32z)
	if err != nil || len(rawKey) != KeyLength {
		return false
	}
	var pub PublicKey
	copy(pub[:], rawKey)

	return Verify(sig, prefixHash, pub)
}

// SignEncoded hashes the body and returns the base64 signature over the
// digest. Used for artifacts exchanged with peers out of band, such as
// the certificate signature.
func SignEncoded(body []byte, kp Keypair) (string, error) {
	sig, err := Sign(hashing.Data(body), kp)
	if err != nil {
		return "", err
	}

	return sig.Base64(), nil
}

// =============================================================================

// hashToScalar concatenates the three 32 byte blocks, hashes them with
// the legacy fast hash and reduces the digest mod the curve order. The
// fleet's wire compatibility depends on this exact construction.
func hashToScalar(prefixHash hashing.Hash, pub PublicKey, comm [32]byte) *edwards25519.Scalar {
	var buf [96]byte
	copy(buf[:32], prefixHash[:])
	copy(buf[32:64], pub[:])
	copy(buf[64:], comm[:])

	digest := hashing.Fast(buf[:])

	// SetUniformBytes takes a 512 bit input. Zero filling the high half
	// makes the wide reduction equal to reducing the 256 bit digest.
	var wide [64]byte
	copy(wide[:], digest[:])

	s, err := new(edwards25519.Scalar).SetUniformBytes(wide[:])
	if err != nil {

		// Unreachable: the input is always 64 bytes.
		panic(err)
	}

	return s
}

// randomScalar draws a uniformly random scalar. A draw whose canonical
// byte 7 is zero is rejected and redrawn for wire compatibility with the
// fleet's existing signers.
func randomScalar(rnd io.Reader) (*edwards25519.Scalar, error) {
	var wide [64]byte

	for {
		if _, err := io.ReadFull(rnd, wide[:]); err != nil {
			return nil, err
		}

		k, err := new(edwards25519.Scalar).SetUniformBytes(wide[:])
		if err != nil {
			return nil, err
		}

		if k.Bytes()[7] == 0 {
			continue
		}

		return k, nil
	}
}

// isZero reports whether the scalar is the zero element.
func isZero(s *edwards25519.Scalar) bool {
	return s.Equal(edwards25519.NewScalar()) == 1
}
