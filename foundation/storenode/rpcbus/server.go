package rpcbus

import (
	"bytes"
	"encoding/json"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/logger"
	"github.com/overlaynet/storenode/foundation/storenode/msgbus"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/state"
)

// Config represents the dependencies the RPC server requires. The node
// and request handler references are borrowed for the server's
// lifetime; the embedding application owns them.
type Config struct {
	Log       *zap.SugaredLogger
	LogRing   *logger.Ring
	Keypair   signature.Keypair
	Port      uint16
	Workers   int
	AdminKeys []string
	Node      ServiceNode
	Handler   RequestHandler
}

// Server listens on the message bus, authenticates remotes into
// capability tiers, and dispatches commands.
type Server struct {
	log       *zap.SugaredLogger
	logRing   *logger.Ring
	bus       *msgbus.Bus
	node      ServiceNode
	handler   RequestHandler
	adminKeys map[signature.PublicKey]struct{}

	queue chan msgbus.Message
	shut  chan struct{}
	wg    sync.WaitGroup
}

// New constructs the RPC server. The admin key list is parsed once and
// immutable afterwards.
func New(cfg Config) (*Server, error) {
	adminKeys, err := parseAdminKeys(cfg.AdminKeys)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	srv := Server{
		log:       cfg.Log,
		logRing:   cfg.LogRing,
		node:      cfg.Node,
		handler:   cfg.Handler,
		adminKeys: adminKeys,
		queue:     make(chan msgbus.Message, 128),
		shut:      make(chan struct{}),
	}

	srv.bus = msgbus.New(msgbus.Config{
		Log:     cfg.Log,
		Keypair: cfg.Keypair,
		Port:    cfg.Port,
		Lookup:  srv.peerLookup,
	})

	srv.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go srv.worker()
	}

	return &srv, nil
}

// Start binds the bus and begins serving.
func (s *Server) Start() error {
	return s.bus.Listen(s.enqueue)
}

// Shutdown stops the bus and drains the worker pool.
func (s *Server) Shutdown() {
	s.bus.Shutdown()
	close(s.shut)
	s.wg.Wait()
}

// Bus exposes the underlying transport for outbound peer requests.
func (s *Server) Bus() *msgbus.Bus {
	return s.bus
}

// peerLookup resolves a remote transport key to its bus endpoint via
// the membership subsystem.
func (s *Server) peerLookup(publicKey signature.PublicKey) (string, bool) {
	p, exists := s.node.FindPeer(publicKey)
	if !exists {
		s.log.Debugw("rpcbus: peer node not found", "pubkey", publicKey.Hex())
		return "", false
	}

	return p.Endpoint(), true
}

// =============================================================================

// enqueue hands a parsed envelope from the bus's I/O goroutines to the
// worker pool.
func (s *Server) enqueue(msg msgbus.Message) {
	select {
	case s.queue <- msg:
	case <-s.shut:
	}
}

// worker consumes envelopes and dispatches them until shutdown.
func (s *Server) worker() {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.queue:
			s.dispatch(msg)
		case <-s.shut:
			return
		}
	}
}

// authLevel binds the remote identity to a capability tier: configured
// admin keys first, then fleet membership, else anonymous.
func (s *Server) authLevel(publicKey signature.PublicKey) AuthLevel {
	if _, exists := s.adminKeys[publicKey]; exists {
		return Admin
	}
	if _, exists := s.node.FindPeer(publicKey); exists {
		return AuthenticatedPeer
	}

	return Anonymous
}

// dispatch routes one envelope through the command table. A caller
// below the required tier is dropped without a reply, so the remote
// observes a timeout rather than an application error.
func (s *Server) dispatch(msg msgbus.Message) {
	level := s.authLevel(msg.From)

	required, handle := s.route(msg.Name)
	if handle == nil {
		s.log.Debugw("rpcbus: unknown command", "name", msg.Name, "from", msg.From.Hex())
		return
	}

	if level < required {
		s.log.Warnw("rpcbus: access denied", "name", msg.Name, "from", msg.From.Hex(), "level", level.String())
		return
	}

	handle(msg)
}

// route maps a category.command name to its required tier and handler.
func (s *Server) route(name string) (AuthLevel, func(msgbus.Message)) {
	switch name {
	case "sn.data":
		return AuthenticatedPeer, s.handleData
	case "sn.proxy_exit":
		return AuthenticatedPeer, s.handleProxyExit
	case "sn.onion_req":
		return AuthenticatedPeer, func(m msgbus.Message) { s.handleOnionRequest(m, false) }
	case "sn.onion_req_v2":
		return AuthenticatedPeer, func(m msgbus.Message) { s.handleOnionRequest(m, true) }
	case "service.get_stats":
		return Admin, s.handleGetStats
	case "service.get_logs":
		return Admin, s.handleGetLogs
	}

	return Anonymous, nil
}

// =============================================================================

// respond emits the reply protocol: single part on success, two parts
// (status, message) on application error.
func (s *Server) respond(tag string, res Response) {
	var err error
	if res.Status == StatusOK {
		err = s.bus.Reply(tag, []byte(res.Body))
	} else {
		err = s.bus.Reply(tag, []byte(strconv.Itoa(res.Status)), []byte(res.Body))
	}

	if err != nil {
		s.log.Debugw("rpcbus: reply failed", "tag", tag, "ERROR", err)
	}
}

// handleData ingests a peer push batch. The parts are concatenated into
// one blob before processing.
func (s *Server) handleData(msg msgbus.Message) {
	s.log.Debugw("rpcbus: handle sn.data", "from", msg.From.Hex())

	blob := bytes.Join(msg.Parts, nil)

	if err := s.node.ProcessPushBatch(blob); err != nil {
		s.log.Errorw("rpcbus: push batch failed", "from", msg.From.Hex(), "ERROR", err)
		s.respond(msg.ReplyTag, Response{Status: StatusBadRequest, Body: err.Error()})
		return
	}

	s.respond(msg.ReplyTag, Response{Status: StatusOK})
}

// handleProxyExit hands a proxied client request to the request
// handler. The reply tag travels by value into the continuation; the
// handler may outlive this frame.
func (s *Server) handleProxyExit(msg msgbus.Message) {
	s.log.Debugw("rpcbus: handle sn.proxy_exit", "from", msg.From.Hex())

	if len(msg.Parts) != 2 {
		s.log.Debugw("rpcbus: expected 2 message parts", "got", len(msg.Parts))
		s.respond(msg.ReplyTag, Response{Status: StatusBadRequest, Body: "Incorrect number of messages"})
		return
	}

	tag := msg.ReplyTag
	s.handler.ProcessProxyExit(msg.Parts[0], msg.Parts[1], func(res Response) {
		s.respond(tag, res)
	})
}

// handleOnionRequest hands an onion envelope to the request handler.
// A single "ping" part is a reachability test: it updates the bus
// last-ping and pongs back without touching the onion path.
func (s *Server) handleOnionRequest(msg msgbus.Message, v2 bool) {
	s.log.Debugw("rpcbus: handle onion request", "from", msg.From.Hex(), "v2", v2)

	tag := msg.ReplyTag
	respond := func(res Response) {
		s.respond(tag, res)
	}

	if len(msg.Parts) == 1 && string(msg.Parts[0]) == "ping" {
		s.log.Debugw("rpcbus: remote pinged me")
		s.node.UpdateLastPing(state.ReachBus)
		respond(Response{Status: StatusOK, Body: "pong"})
		return
	}

	if len(msg.Parts) != 2 {
		s.log.Errorw("rpcbus: expected 2 message parts", "got", len(msg.Parts))
		respond(Response{Status: StatusBadRequest, Body: "Incorrect number of messages"})
		return
	}

	s.handler.ProcessOnionReq(msg.Parts[1], msg.Parts[0], respond, v2)
}

// handleGetStats replies synchronously with the node's stats blob.
func (s *Server) handleGetStats(msg msgbus.Message) {
	s.log.Debugw("rpcbus: handle service.get_stats", "from", msg.From.Hex())

	payload, err := s.node.Stats()
	if err != nil {
		s.respond(msg.ReplyTag, Response{Status: StatusInternalError, Body: err.Error()})
		return
	}

	s.respond(msg.ReplyTag, Response{Status: StatusOK, Body: string(payload)})
}

// handleGetLogs replies synchronously with the ring buffer dump.
func (s *Server) handleGetLogs(msg msgbus.Message) {
	s.log.Debugw("rpcbus: handle service.get_logs", "from", msg.From.Hex())

	doc := struct {
		Entries []string `json:"entries"`
	}{
		Entries: s.logRing.Peek(),
	}

	payload, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		s.respond(msg.ReplyTag, Response{Status: StatusInternalError, Body: err.Error()})
		return
	}

	s.respond(msg.ReplyTag, Response{Status: StatusOK, Body: string(payload)})
}
