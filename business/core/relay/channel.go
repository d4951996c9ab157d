package relay

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

// channelKey derives the symmetric key for a client channel: X25519
// against the node's long term key, hashed down to the AEAD width.
func (h *Handler) channelKey(clientKey []byte) ([]byte, error) {
	pub, err := normalizeClientKey(clientKey)
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(h.keypair.Private[:], pub)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	key := blake2b.Sum256(shared)

	return key[:], nil
}

// decryptChannel opens a nonce prefixed AEAD blob sealed against the
// node's channel key for the specified client.
func (h *Handler) decryptChannel(clientKey []byte, sealed []byte) ([]byte, error) {
	key, err := h.channelKey(clientKey)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := sealed[:aead.NonceSize()]
	ciphertext := sealed[aead.NonceSize():]

	return aead.Open(nil, nonce, ciphertext, nil)
}

// encryptChannel seals a response for the client, prefixing the random
// nonce.
func (h *Handler) encryptChannel(clientKey []byte, plaintext []byte) ([]byte, error) {
	key, err := h.channelKey(clientKey)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// normalizeClientKey accepts a client channel key as 32 raw bytes or
// their hex form.
func normalizeClientKey(clientKey []byte) ([]byte, error) {
	if len(clientKey) == signature.KeyLength {
		return clientKey, nil
	}

	if len(clientKey) == signature.KeyLength*2 {
		raw, err := encode.FromHex(string(clientKey))
		if err == nil {
			return raw, nil
		}
	}

	return nil, errors.New("client key must be 32 bytes")
}

// parseV2Payload splits the v2 onion payload schema: a 4 byte little
// endian ciphertext size, the ciphertext, then trailing JSON metadata
// for the next hop. Only the ciphertext matters at the final hop.
func parseV2Payload(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, errors.New("v2 payload too short")
	}

	// Widen before the bounds arithmetic: a crafted size near the
	// uint32 ceiling must not wrap past the check.
	size := uint64(binary.LittleEndian.Uint32(payload[:4]))
	if 4+size > uint64(len(payload)) {
		return nil, errors.New("v2 payload size field out of range")
	}

	return payload[4 : 4+size], nil
}
