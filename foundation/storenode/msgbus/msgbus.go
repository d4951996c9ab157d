// Package msgbus provides the encrypted, message framed peer transport
// the RPC surface listens on. Every connection is mutually authenticated
// by curve identity; inbound envelopes carry the remote's public key, an
// ordered sequence of byte string parts, and a reply tag correlating the
// asynchronous reply with its originating stream.
package msgbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

// requestTimeout bounds an outbound request including dial and reply.
const requestTimeout = 10 * time.Second

// Message represents one inbound envelope. The reply tag is the sole
// correlator for the eventual reply; a handler that never replies lets
// the remote observe a timeout.
type Message struct {
	From     signature.PublicKey
	Name     string
	Parts    [][]byte
	ReplyTag string
}

// Handler processes inbound envelopes. It is invoked from the bus's I/O
// goroutines and must hand off or return quickly.
type Handler func(Message)

// LookupFunc resolves a remote transport key to a dialable endpoint.
// The second return is false for unknown peers.
type LookupFunc func(signature.PublicKey) (string, bool)

// Config represents the dependencies the bus requires.
type Config struct {
	Log     *zap.SugaredLogger
	Keypair signature.Keypair
	Port    uint16
	Lookup  LookupFunc
}

// Bus owns the listening socket, the per connection I/O goroutines, and
// the registry of streams parked awaiting an asynchronous reply.
type Bus struct {
	log     *zap.SugaredLogger
	keypair signature.Keypair
	port    uint16
	lookup  LookupFunc

	listener *quic.Listener
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]pendingStream
}

// pendingStream is a parked inbound stream awaiting its reply.
type pendingStream struct {
	stream *quic.Stream
	parked time.Time
}

// New constructs a bus ready to listen.
func New(cfg Config) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	return &Bus{
		log:     cfg.Log,
		keypair: cfg.Keypair,
		port:    cfg.Port,
		lookup:  cfg.Lookup,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]pendingStream),
	}
}

// Listen binds the socket and starts accepting connections. Inbound
// envelopes are delivered to the handler.
func (b *Bus) Listen(handler Handler) error {
	tlsConf, err := serverTLSConfig(b.keypair)
	if err != nil {
		return fmt.Errorf("building listener tls config: %w", err)
	}

	quicConf := quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	}

	listener, err := quic.ListenAddr(fmt.Sprintf("0.0.0.0:%d", b.port), tlsConf, &quicConf)
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", b.port, err)
	}

	b.listener = listener
	b.handler = handler

	b.wg.Add(2)
	go b.acceptLoop()
	go b.janitor()

	b.log.Infow("msgbus: listening", "port", b.port, "identity", TransportPublicKey(b.keypair).Hex())

	return nil
}

// janitor releases streams that were never replied to. The remote has
// long since observed its timeout by then.
func (b *Bus) janitor() {
	defer b.wg.Done()

	ticker := time.NewTicker(requestTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * requestTimeout)
			b.mu.Lock()
			for tag, ps := range b.pending {
				if ps.parked.Before(cutoff) {
					delete(b.pending, tag)
					ps.stream.Close()
				}
			}
			b.mu.Unlock()
		case <-b.ctx.Done():
			return
		}
	}
}

// Addr returns the bound listener address. Only valid after Listen.
func (b *Bus) Addr() net.Addr {
	return b.listener.Addr()
}

// Shutdown stops accepting and waits for the I/O goroutines to drain.
func (b *Bus) Shutdown() {
	b.cancel()
	if b.listener != nil {
		b.listener.Close()
	}
	b.wg.Wait()
}

// =============================================================================

func (b *Bus) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.log.Errorw("msgbus: accept", "ERROR", err)
			continue
		}

		b.wg.Add(1)
		go b.handleConn(conn)
	}
}

func (b *Bus) handleConn(conn *quic.Conn) {
	defer b.wg.Done()

	remote, err := peerIdentity(conn.ConnectionState().TLS.PeerCertificates)
	if err != nil {
		b.log.Debugw("msgbus: rejecting connection without identity", "ERROR", err)
		conn.CloseWithError(1, "identity required")
		return
	}

	b.log.Debugw("msgbus: connection", "from", remote.Hex())

	for {
		stream, err := conn.AcceptStream(b.ctx)
		if err != nil {
			return
		}

		b.wg.Add(1)
		go b.handleStream(remote, stream)
	}
}

func (b *Bus) handleStream(remote signature.PublicKey, stream *quic.Stream) {
	defer b.wg.Done()

	name, parts, err := readEnvelope(stream)
	if err != nil {
		b.log.Debugw("msgbus: bad envelope", "from", remote.Hex(), "ERROR", err)
		stream.CancelRead(1)
		stream.Close()
		return
	}

	tag := uuid.NewString()

	b.mu.Lock()
	b.pending[tag] = pendingStream{stream: stream, parked: time.Now()}
	b.mu.Unlock()

	b.handler(Message{
		From:     remote,
		Name:     name,
		Parts:    parts,
		ReplyTag: tag,
	})
}

// Reply emits the reply correlated by the specified tag and releases
// the parked stream. A single part is interpreted by the remote as
// success; multiple parts as an application error.
func (b *Bus) Reply(tag string, parts ...[]byte) error {
	b.mu.Lock()
	ps, exists := b.pending[tag]
	delete(b.pending, tag)
	b.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown reply tag %q", tag)
	}

	defer ps.stream.Close()

	if err := writeParts(ps.stream, parts); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}

	return nil
}

// =============================================================================

// Request dials the specified peer, sends one envelope, and waits for
// the reply parts. Unknown peers are non-routable.
func (b *Bus) Request(ctx context.Context, to signature.PublicKey, name string, parts ...[]byte) ([][]byte, error) {
	endpoint, exists := b.lookup(to)
	if !exists {
		return nil, fmt.Errorf("peer %s is not routable", to.Hex())
	}

	tlsConf, err := clientTLSConfig(b.keypair, to)
	if err != nil {
		return nil, fmt.Errorf("building dial tls config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// The directory's endpoint scheme is historical; the bus dials the
	// host and port.
	addr := strings.TrimPrefix(endpoint, "tcp://")

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if err := writeEnvelope(stream, name, parts); err != nil {
		stream.Close()
		return nil, fmt.Errorf("writing envelope: %w", err)
	}
	stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}

	reply, err := readParts(stream)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	return reply, nil
}

// Send dispatches an envelope without waiting for the reply. Delivery
// failures are logged and dropped; the bus guarantees no ordering.
func (b *Bus) Send(to signature.PublicKey, name string, parts ...[]byte) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		if _, err := b.Request(b.ctx, to, name, parts...); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Debugw("msgbus: send failed", "to", to.Hex(), "name", name, "ERROR", err)
		}
	}()
}
