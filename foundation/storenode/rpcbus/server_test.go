package rpcbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/overlaynet/storenode/business/core/relay"
	"github.com/overlaynet/storenode/foundation/logger"
	"github.com/overlaynet/storenode/foundation/storenode/dns"
	"github.com/overlaynet/storenode/foundation/storenode/msgbus"
	"github.com/overlaynet/storenode/foundation/storenode/peer"
	"github.com/overlaynet/storenode/foundation/storenode/rpcbus"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/state"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// testHarness wires a full server on a loopback port plus a peer side
// bus for driving it.
type testHarness struct {
	st              *state.State
	server          *rpcbus.Server
	serverTransport signature.PublicKey
	peerBus         *msgbus.Bus
	anonBus         *msgbus.Bus
}

func newHarness(t *testing.T) *testHarness {
	log := zap.NewNop().Sugar()

	serverKP, err := signature.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate the server keypair: %v.", failed, err)
	}
	peerKP, err := signature.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate the peer keypair: %v.", failed, err)
	}
	anonKP, err := signature.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate the anonymous keypair: %v.", failed, err)
	}

	directory := peer.NewDirectory()

	st, err := state.New(state.Config{
		Keypair:    serverKP,
		Version:    "2.1.0",
		KnownPeers: directory,
		Oracle:     dns.New(dns.Config{Log: log}),
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v.", failed, err)
	}

	relayHandler := relay.New(relay.Config{
		Log:     log,
		Keypair: serverKP,
		State:   st,
	})

	peerTransport := msgbus.TransportPublicKey(peerKP)

	server, err := rpcbus.New(rpcbus.Config{
		Log:       log,
		LogRing:   logger.NewRing(16),
		Keypair:   serverKP,
		Port:      0,
		Workers:   2,
		AdminKeys: []string{peerTransport.Hex()},
		Node:      st,
		Handler:   relayHandler,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the server: %v.", failed, err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("\t%s\tShould be able to start the server: %v.", failed, err)
	}
	t.Cleanup(server.Shutdown)

	_, portStr, err := net.SplitHostPort(server.Bus().Addr().String())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the bound port: %v.", failed, err)
	}
	endpoint := fmt.Sprintf("tcp://127.0.0.1:%s", portStr)

	serverTransport := msgbus.TransportPublicKey(serverKP)
	lookup := func(pk signature.PublicKey) (string, bool) {
		return endpoint, pk == serverTransport
	}

	// The peer keypair is both a fleet member and a configured admin.
	var peerRecord peer.Peer
	peerRecord.PublicKey = peerTransport
	peerRecord.IP = "127.0.0.1"
	directory.Add(peerRecord)

	return &testHarness{
		st:              st,
		server:          server,
		serverTransport: serverTransport,
		peerBus:         msgbus.New(msgbus.Config{Log: log, Keypair: peerKP, Lookup: lookup}),
		anonBus:         msgbus.New(msgbus.Config{Log: log, Keypair: anonKP, Lookup: lookup}),
	}
}

func TestPing(t *testing.T) {
	t.Log("Given the need to answer reachability pings on the bus.")
	{
		h := newHarness(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reply, err := h.peerBus.Request(ctx, h.serverTransport, "sn.onion_req", []byte("ping"))
		if err != nil {
			t.Fatalf("\t%s\tShould receive a reply: %v.", failed, err)
		}

		if len(reply) != 1 || string(reply[0]) != "pong" {
			t.Fatalf("\t%s\tShould receive a one part pong: got %d parts.", failed, len(reply))
		}
		t.Logf("\t%s\tShould receive a one part pong.", success)

		blob, err := h.st.Stats()
		if err != nil {
			t.Fatalf("\t%s\tShould render stats: %v.", failed, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(blob, &doc); err != nil {
			t.Fatalf("\t%s\tShould parse stats: %v.", failed, err)
		}
		if doc["last_ping_bus_ms"].(float64) == 0 {
			t.Fatalf("\t%s\tShould update the last reachable timestamp.", failed)
		}
		t.Logf("\t%s\tShould update the last reachable timestamp.", success)
	}
}

func TestArityError(t *testing.T) {
	t.Log("Given the need to flag protocol violations distinctly from timeouts.")
	{
		h := newHarness(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reply, err := h.peerBus.Request(ctx, h.serverTransport, "sn.onion_req",
			[]byte("a"), []byte("b"), []byte("c"))
		if err != nil {
			t.Fatalf("\t%s\tShould receive a reply: %v.", failed, err)
		}

		if len(reply) != 2 {
			t.Fatalf("\t%s\tShould receive a two part error reply: got %d parts.", failed, len(reply))
		}
		if string(reply[0]) != "400" || string(reply[1]) != "Incorrect number of messages" {
			t.Fatalf("\t%s\tShould carry (400, Incorrect number of messages): got (%s, %s).", failed, reply[0], reply[1])
		}
		t.Logf("\t%s\tShould receive (400, Incorrect number of messages).", success)
	}
}

func TestPushBatch(t *testing.T) {
	t.Log("Given the need to ingest peer pushed data over the bus.")
	{
		h := newHarness(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entries := []state.PushEntry{
			{Hash: "ff01", PubKey: "05aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899", Data: "x", Timestamp: uint64(time.Now().UnixMilli()), TTL: 60_000},
		}
		blob, _ := json.Marshal(entries)

		reply, err := h.peerBus.Request(ctx, h.serverTransport, "sn.data", blob)
		if err != nil {
			t.Fatalf("\t%s\tShould receive a reply: %v.", failed, err)
		}
		if len(reply) != 1 {
			t.Fatalf("\t%s\tShould receive a single part success reply: got %d parts.", failed, len(reply))
		}
		t.Logf("\t%s\tShould receive a single part success reply.", success)

		if h.st.MessageCount() != 1 {
			t.Fatalf("\t%s\tShould hold the pushed message.", failed)
		}
		t.Logf("\t%s\tShould hold the pushed message.", success)
	}
}

func TestAdminCommands(t *testing.T) {
	t.Log("Given the need to serve the operator surface to admin keys only.")
	{
		h := newHarness(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reply, err := h.peerBus.Request(ctx, h.serverTransport, "service.get_stats")
		if err != nil {
			t.Fatalf("\t%s\tShould receive a stats reply: %v.", failed, err)
		}
		if len(reply) != 1 {
			t.Fatalf("\t%s\tShould receive a single part stats reply: got %d parts.", failed, len(reply))
		}

		var doc map[string]any
		if err := json.Unmarshal(reply[0], &doc); err != nil {
			t.Fatalf("\t%s\tShould carry a JSON stats blob: %v.", failed, err)
		}
		if doc["version"] != "2.1.0" {
			t.Fatalf("\t%s\tShould carry the protocol version.", failed)
		}
		t.Logf("\t%s\tShould serve get_stats to an admin key.", success)

		reply, err = h.peerBus.Request(ctx, h.serverTransport, "service.get_logs")
		if err != nil {
			t.Fatalf("\t%s\tShould receive a logs reply: %v.", failed, err)
		}
		var logsDoc struct {
			Entries []string `json:"entries"`
		}
		if err := json.Unmarshal(reply[0], &logsDoc); err != nil {
			t.Fatalf("\t%s\tShould carry a JSON logs blob: %v.", failed, err)
		}
		t.Logf("\t%s\tShould serve get_logs to an admin key.", success)
	}
}

func TestAnonymousDenied(t *testing.T) {
	t.Log("Given the need to drop callers below the required tier.")
	{
		h := newHarness(t)

		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()

		if _, err := h.anonBus.Request(ctx, h.serverTransport, "sn.onion_req", []byte("ping")); err == nil {
			t.Fatalf("\t%s\tShould observe a timeout instead of a reply.", failed)
		}
		t.Logf("\t%s\tShould observe a timeout instead of a reply.", success)
	}
}
