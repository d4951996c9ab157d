// Package pow implements the proof-of-work admission gate applied to
// every client submitted message. The target computation is exact over
// unsigned 64 bit arithmetic with every intermediate step checked for
// overflow; an overflowing submission is rejected outright.
package pow

import (
	"bytes"
	"math"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
	"github.com/overlaynet/storenode/foundation/storenode/hashing"
)

// NonceLength is the width of the raw nonce a client greedily searches
// for. It travels base64 encoded.
const NonceLength = 8

// Target represents the 8 byte big-endian threshold the final digest
// must stay strictly below.
type Target [NonceLength]byte

// =============================================================================

// u64ToBytes renders the value with the most significant byte at
// index 0.
func u64ToBytes(v uint64) Target {
	var t Target
	for idx := len(t) - 1; idx >= 0; idx-- {
		t[idx] = byte(v & 0xFF)
		v >>= 8
	}
	return t
}

func addWillOverflow(x uint64, add uint64) bool {
	return math.MaxUint64-x < add
}

func multWillOverflow(left uint64, right uint64) bool {
	return left != 0 && math.MaxUint64/left < right
}

// CalcTarget computes the admission threshold for a payload of the
// specified size, TTL in seconds, and difficulty. The second return is
// false when any intermediate operation overflows or the denominator
// degenerates to zero.
func CalcTarget(payload string, ttlSeconds uint64, difficulty int) (Target, bool) {
	if addWillOverflow(uint64(len(payload)), NonceLength) {
		return Target{}, false
	}
	totalLen := uint64(len(payload)) + NonceLength

	if multWillOverflow(ttlSeconds, totalLen) {
		return Target{}, false
	}
	ttlMult := ttlSeconds * totalLen
	innerFrac := ttlMult / math.MaxUint16

	if addWillOverflow(totalLen, innerFrac) {
		return Target{}, false
	}
	lenPlusInnerFrac := totalLen + innerFrac

	if difficulty < 0 || multWillOverflow(uint64(difficulty), lenPlusInnerFrac) {
		return Target{}, false
	}
	denominator := uint64(difficulty) * lenPlusInnerFrac
	if denominator == 0 {
		return Target{}, false
	}

	return u64ToBytes(math.MaxUint64 / denominator), true
}

// CheckPoW validates a client submission's proof of work. The submission
// tuple is concatenated without separators into the payload the client
// hashed against. On success the second return carries the lowercase hex
// SHA-512 that identifies the message; every failure mode rejects
// uniformly with a false first return.
func CheckPoW(nonceB64, timestamp, ttl, recipient, data string, difficulty int) (bool, string) {
	payload := timestamp + ttl + recipient + data

	ttlInt, ok := ParseTTL(ttl)
	if !ok {
		return false, ""
	}

	// The TTL travels in milliseconds but the target wants seconds.
	target, ok := CalcTarget(payload, ttlInt/1000, difficulty)
	if !ok {
		return false, ""
	}

	firstHash := hashing.SHA512([]byte(payload))

	nonce, err := encode.FromBase64(nonceB64)
	if err != nil || len(nonce) != NonceLength {
		return false, ""
	}

	inner := make([]byte, 0, NonceLength+len(firstHash))
	inner = append(inner, nonce...)
	inner = append(inner, firstHash[:]...)

	finalHash := hashing.SHA512(inner)
	messageHash := encode.ToHex(finalHash[:])

	return bytes.Compare(finalHash[:NonceLength], target[:]) < 0, messageHash
}
