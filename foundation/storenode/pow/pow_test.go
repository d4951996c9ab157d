package pow_test

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/overlaynet/storenode/foundation/storenode/pow"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestCalcTarget(t *testing.T) {
	t.Log("Given the need to compute the admission target.")
	{
		t.Logf("\tTest 0:\tWhen handling a one day TTL at difficulty one.")
		{
			// inner = (86400 * 8) / 65535 = 10
			// denom = 1 * (8 + 10)      = 18
			// target = (2^64 - 1) / 18  = 0x0E38E38E38E38E38
			target, ok := pow.CalcTarget("", 86400, 1)
			if !ok {
				t.Fatalf("\t%s\tTest 0:\tShould be able to compute the target.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to compute the target.", success)

			got := binary.BigEndian.Uint64(target[:])
			if got != 0x0E38E38E38E38E38 {
				t.Fatalf("\t%s\tTest 0:\tShould get 0x0E38E38E38E38E38: got 0x%016X.", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould get 0x0E38E38E38E38E38.", success)
		}

		t.Logf("\tTest 1:\tWhen an intermediate multiplication overflows.")
		{
			if _, ok := pow.CalcTarget("payload", math.MaxUint64/2, 1); ok {
				t.Fatalf("\t%s\tTest 1:\tShould reject the ttl multiplication overflow.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the ttl multiplication overflow.", success)

			if _, ok := pow.CalcTarget("", 1<<50, math.MaxInt32); ok {
				t.Fatalf("\t%s\tTest 1:\tShould reject the difficulty multiplication overflow.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the difficulty multiplication overflow.", success)

			if _, ok := pow.CalcTarget("", 0, 0); ok {
				t.Fatalf("\t%s\tTest 1:\tShould reject a degenerate zero denominator.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a degenerate zero denominator.", success)
		}
	}
}

// solve brute forces a nonce accepted for the submission at the
// specified difficulty.
func solve(t *testing.T, timestamp, ttl, recipient, data string, difficulty int) string {
	for i := uint64(0); i < 1_000_000; i++ {
		var raw [pow.NonceLength]byte
		binary.BigEndian.PutUint64(raw[:], i)
		nonce := base64.StdEncoding.EncodeToString(raw[:])

		if ok, _ := pow.CheckPoW(nonce, timestamp, ttl, recipient, data, difficulty); ok {
			return nonce
		}
	}

	t.Fatalf("\t%s\tShould find a nonce within the search budget.", failed)
	return ""
}

func TestCheckPoW(t *testing.T) {
	const (
		timestamp = "1554859211111"
		ttl       = "86400000"
		recipient = "05aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
		data      = "CAESjQFKigEKB21lc3NhZ2U"
	)

	t.Log("Given the need to admit client submissions by proof of work.")
	{
		t.Logf("\tTest 0:\tWhen handling a solved nonce.")
		{
			nonce := solve(t, timestamp, ttl, recipient, data, 10)

			ok, messageHash := pow.CheckPoW(nonce, timestamp, ttl, recipient, data, 10)
			if !ok {
				t.Fatalf("\t%s\tTest 0:\tShould accept the solved nonce.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the solved nonce.", success)

			if len(messageHash) != 128 || strings.ToLower(messageHash) != messageHash {
				t.Fatalf("\t%s\tTest 0:\tShould emit a 128 character lowercase hex hash: %q.", failed, messageHash)
			}
			t.Logf("\t%s\tTest 0:\tShould emit a 128 character lowercase hex hash.", success)
		}

		t.Logf("\tTest 1:\tWhen lowering the difficulty under an accepted nonce.")
		{
			nonce := solve(t, timestamp, ttl, recipient, data, 10)

			for difficulty := 10; difficulty >= 1; difficulty-- {
				if ok, _ := pow.CheckPoW(nonce, timestamp, ttl, recipient, data, difficulty); !ok {
					t.Fatalf("\t%s\tTest 1:\tShould stay accepted at difficulty %d.", failed, difficulty)
				}
			}
			t.Logf("\t%s\tTest 1:\tShould stay accepted at every lower difficulty.", success)
		}

		t.Logf("\tTest 2:\tWhen handling malformed submissions.")
		{
			nonce := solve(t, timestamp, ttl, recipient, data, 1)

			if ok, _ := pow.CheckPoW("not/base64!!", timestamp, ttl, recipient, data, 1); ok {
				t.Fatalf("\t%s\tTest 2:\tShould reject an undecodable nonce.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould reject an undecodable nonce.", success)

			short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
			if ok, _ := pow.CheckPoW(short, timestamp, ttl, recipient, data, 1); ok {
				t.Fatalf("\t%s\tTest 2:\tShould reject a nonce that is not 8 bytes.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould reject a nonce that is not 8 bytes.", success)

			if ok, _ := pow.CheckPoW(nonce, timestamp, "notanumber", recipient, data, 1); ok {
				t.Fatalf("\t%s\tTest 2:\tShould reject an unparseable ttl.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould reject an unparseable ttl.", success)

			tooLong := strconv.FormatUint(uint64(15*24*60*60*1000), 10)
			if ok, _ := pow.CheckPoW(nonce, timestamp, tooLong, recipient, data, 1); ok {
				t.Fatalf("\t%s\tTest 2:\tShould reject a ttl beyond fourteen days.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould reject a ttl beyond fourteen days.", success)
		}
	}
}
