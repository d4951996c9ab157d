package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/overlaynet/storenode/app/services/node/handlers"
	"github.com/overlaynet/storenode/business/core/relay"
	"github.com/overlaynet/storenode/foundation/events"
	"github.com/overlaynet/storenode/foundation/logger"
	"github.com/overlaynet/storenode/foundation/storenode/dns"
	"github.com/overlaynet/storenode/foundation/storenode/peer"
	"github.com/overlaynet/storenode/foundation/storenode/rpcbus"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/state"
	"github.com/overlaynet/storenode/foundation/storenode/worker"
)

// build is the git version of this program. It can be set at link time
// with -ldflags "-X main.build=...".
var build = "develop"

// version is the storage protocol version announced to the fleet and
// compared against the published one.
const version = "2.1.0"

func main() {

	// Construct the application logger.
	log, ring, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log, ring); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, ring *logger.Ring) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			DebugHost string `conf:"default:0.0.0.0:7080"`
		}
		Bus struct {
			Port      uint16 `conf:"default:22021"`
			Workers   int    `conf:"default:1"`
			AdminKeys []string
		}
		Node struct {
			KeyFile    string `conf:"default:zstore/storenode.key"`
			DBPath     string `conf:"default:zstore/messages/"`
			KnownPeers []string
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build, "protocol", version)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Identity Support

	// The long term keypair is loaded once and lives for the process
	// lifetime. Generate one with the snkey tool.
	keyHex, err := os.ReadFile(cfg.Node.KeyFile)
	if err != nil {
		return fmt.Errorf("unable to load private key for node (generate one with snkey): %w", err)
	}

	privateKey, err := signature.PrivateKeyFromHex(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	publicKey, err := signature.DerivePublicKey(privateKey)
	if err != nil {
		return fmt.Errorf("deriving public key: %w", err)
	}

	keypair := signature.Keypair{Public: publicKey, Private: privateKey}

	log.Infow("startup", "status", "identity loaded", "pubkey", publicKey.Hex(), "client", publicKey.Base32z())

	// =========================================================================
	// Peer Directory Support

	// The directory is bootstrapped from configuration and maintained
	// by the membership subsystem at runtime.
	directory := peer.NewDirectory()
	for _, entry := range cfg.Node.KnownPeers {
		p, err := parsePeer(entry)
		if err != nil {
			return fmt.Errorf("parsing known peer %q: %w", entry, err)
		}
		directory.Add(p)
		log.Infow("startup", "status", "known peer", "pubkey", p.PublicKey.Hex(), "endpoint", p.Endpoint())
	}

	// =========================================================================
	// Node State Support

	evts := events.New()
	defer evts.Shutdown()

	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s)
		evts.Send(s)
	}

	oracle := dns.New(dns.Config{
		Log: log,
	})

	st, err := state.New(state.Config{
		Keypair:    keypair,
		Version:    version,
		DBPath:     cfg.Node.DBPath,
		KnownPeers: directory,
		Oracle:     oracle,
		EvHandler:  ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the background workflows such as
	// difficulty refresh, version checks, and store pruning.
	worker.Run(st, ev)

	// =========================================================================
	// RPC Service Support

	relayHandler := relay.New(relay.Config{
		Log:     log,
		Keypair: keypair,
		State:   st,
	})

	rpc, err := rpcbus.New(rpcbus.Config{
		Log:       log,
		LogRing:   ring,
		Keypair:   keypair,
		Port:      cfg.Bus.Port,
		Workers:   cfg.Bus.Workers,
		AdminKeys: cfg.Bus.AdminKeys,
		Node:      st,
		Handler:   relayHandler,
	})
	if err != nil {
		return fmt.Errorf("constructing rpc server: %w", err)
	}

	if err := rpc.Start(); err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}
	defer rpc.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(handlers.MuxConfig{
		Build: build,
		Log:   log,
		State: st,
		Evts:  evts,
	})

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown

	log.Infow("shutdown", "status", "shutdown started", "signal", sig)
	defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

	return nil
}

// parsePeer decodes a bootstrap entry of the form pubkeyhex@host:port.
func parsePeer(entry string) (peer.Peer, error) {
	keyHex, endpoint, found := strings.Cut(entry, "@")
	if !found {
		return peer.Peer{}, errors.New("expected pubkeyhex@host:port")
	}

	publicKey, err := signature.PublicKeyFromHex(keyHex)
	if err != nil {
		return peer.Peer{}, err
	}

	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return peer.Peer{}, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return peer.Peer{}, err
	}

	return peer.New(publicKey, host, uint16(port)), nil
}
