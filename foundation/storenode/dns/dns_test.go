package dns_test

import (
	"context"
	"net"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/storenode/dns"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// startResolver serves canned TXT answers on a loopback port. The
// difficulty document is split across two records and, inside the
// first, across two chunks, to exercise the concatenation order.
func startResolver(t *testing.T) string {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("\t%s\tShould be able to bind a resolver socket: %v.", failed, err)
	}

	handler := mdns.HandlerFunc(func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(r)

		q := r.Question[0]
		hdr := mdns.RR_Header{Name: q.Name, Rrtype: mdns.TypeTXT, Class: mdns.ClassINET, Ttl: 60}

		switch q.Name {
		case "difficulty.test.":
			m.Answer = append(m.Answer,
				&mdns.TXT{Hdr: hdr, Txt: []string{`{"1000": 1, `, `"2000": `}},
				&mdns.TXT{Hdr: hdr, Txt: []string{`10}`}},
			)
		case "broken.test.":
			m.Answer = append(m.Answer,
				&mdns.TXT{Hdr: hdr, Txt: []string{`{"not json`}},
			)
		case "version.test.":
			m.Answer = append(m.Answer,
				&mdns.TXT{Hdr: hdr, Txt: []string{"9.9.9"}},
			)
		}

		w.WriteMsg(m)
	})

	srv := &mdns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestQueryDifficulty(t *testing.T) {
	t.Log("Given the need to fetch the difficulty schedule from TXT records.")
	{
		server := startResolver(t)

		oracle := dns.New(dns.Config{
			Log:            zap.NewNop().Sugar(),
			DifficultyName: "difficulty.test",
			VersionName:    "version.test",
			Server:         server,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		history, err := oracle.QueryDifficulty(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould fetch and parse the schedule: %v.", failed, err)
		}
		t.Logf("\t%s\tShould fetch and parse the schedule.", success)

		if len(history) != 2 {
			t.Fatalf("\t%s\tShould carry two entries: got %d.", failed, len(history))
		}

		byTimestamp := make(map[int64]int)
		for _, entry := range history {
			byTimestamp[entry.TimestampMs] = entry.Difficulty
		}
		if byTimestamp[1000] != 1 || byTimestamp[2000] != 10 {
			t.Fatalf("\t%s\tShould reassemble the chunked document in order: got %v.", failed, byTimestamp)
		}
		t.Logf("\t%s\tShould reassemble the chunked document in order.", success)
	}
}

func TestQueryDifficultyBroken(t *testing.T) {
	t.Log("Given the need to surface a parse failure to the caller.")
	{
		server := startResolver(t)

		oracle := dns.New(dns.Config{
			Log:            zap.NewNop().Sugar(),
			DifficultyName: "broken.test",
			Server:         server,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := oracle.QueryDifficulty(ctx); err == nil {
			t.Fatalf("\t%s\tShould report the parse failure.", failed)
		}
		t.Logf("\t%s\tShould report the parse failure.", success)
	}
}

func TestQueryLatestVersion(t *testing.T) {
	t.Log("Given the need to fetch the published version.")
	{
		server := startResolver(t)

		oracle := dns.New(dns.Config{
			Log:         zap.NewNop().Sugar(),
			VersionName: "version.test",
			Server:      server,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		version, err := oracle.QueryLatestVersion(ctx)
		if err != nil || version != "9.9.9" {
			t.Fatalf("\t%s\tShould fetch the version triplet: %q %v.", failed, version, err)
		}
		t.Logf("\t%s\tShould fetch the version triplet.", success)
	}
}

func TestParseVersion(t *testing.T) {
	t.Log("Given the need to parse dotted version triplets.")
	{
		version, ok := dns.ParseVersion("2.1.0")
		if !ok || version != [3]uint16{2, 1, 0} {
			t.Fatalf("\t%s\tShould parse a well formed triplet.", failed)
		}
		t.Logf("\t%s\tShould parse a well formed triplet.", success)

		for _, bad := range []string{"2.1", "2.1.0.4", "a.b.c", "70000.0.0", ""} {
			if _, ok := dns.ParseVersion(bad); ok {
				t.Fatalf("\t%s\tShould reject %q.", failed, bad)
			}
		}
		t.Logf("\t%s\tShould reject malformed triplets.", success)
	}
}
