// Package state is the core API for the storage node and implements the
// admission rules shared by every inbound message. It owns the message
// store, the peer directory view, the difficulty history snapshot, and
// the node's operational counters.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/overlaynet/storenode/foundation/storenode/dns"
	"github.com/overlaynet/storenode/foundation/storenode/peer"
	"github.com/overlaynet/storenode/foundation/storenode/pow"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/storage"
)

// The admission failure modes callers translate into protocol replies.
var (
	ErrValidation = errors.New("submission failed validation")
	ErrTimestamp  = errors.New("submission timestamp not acceptable")
	ErrPoW        = errors.New("provided proof of work is insufficient")
)

// ReachType identifies which surface a reachability ping arrived on.
type ReachType int

// The surfaces remotes test reachability over.
const (
	ReachBus ReachType = iota
	ReachHTTP
)

// EventHandler defines a function that is called when events occur in
// the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented
// by any package providing support for the background operations.
type Worker interface {
	Shutdown()
}

// =============================================================================

// Config represents the configuration required to start the node state.
type Config struct {
	Keypair    signature.Keypair
	Version    string
	DBPath     string
	KnownPeers *peer.Directory
	Oracle     *dns.Oracle
	EvHandler  EventHandler
}

// State manages the storage node.
type State struct {
	keypair    signature.Keypair
	version    string
	evHandler  EventHandler
	knownPeers *peer.Directory
	storage    *storage.Store
	oracle     *dns.Oracle
	validate   *validator.Validate

	history     atomic.Pointer[[]pow.Difficulty]
	lastPingBus atomic.Int64
	startTime   time.Time

	storeCount    atomic.Uint64
	retrieveCount atomic.Uint64
	pushCount     atomic.Uint64

	// Worker is the background operation runner, registered by the
	// worker package at startup.
	Worker Worker
}

// New constructs the node state for message admission and storage.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	strg, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}

	st := State{
		keypair:    cfg.Keypair,
		version:    cfg.Version,
		evHandler:  ev,
		knownPeers: cfg.KnownPeers,
		storage:    strg,
		oracle:     cfg.Oracle,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		startTime:  time.Now(),
	}

	st.history.Store(&[]pow.Difficulty{})

	return &st, nil
}

// Shutdown cleanly brings the node state down.
func (s *State) Shutdown() {
	if s.Worker != nil {
		s.Worker.Shutdown()
	}
}

// =============================================================================

// Keypair returns the node's long term identity.
func (s *State) Keypair() signature.Keypair {
	return s.keypair
}

// Version returns the running software version.
func (s *State) Version() string {
	return s.version
}

// FindPeer resolves a fleet member by transport public key.
func (s *State) FindPeer(publicKey signature.PublicKey) (peer.Peer, bool) {
	return s.knownPeers.Lookup(publicKey)
}

// KnownPeers returns the peer directory.
func (s *State) KnownPeers() *peer.Directory {
	return s.knownPeers
}

// UpdateLastPing records a successful reachability test on the
// specified surface.
func (s *State) UpdateLastPing(reach ReachType) {
	if reach == ReachBus {
		s.lastPingBus.Store(time.Now().UnixMilli())
	}
}

// =============================================================================

// RefreshDifficulty queries the oracle and atomically swaps in the new
// history. On any failure the previous history is retained.
func (s *State) RefreshDifficulty(ctx context.Context) error {
	history, err := s.oracle.QueryDifficulty(ctx)
	if err != nil {
		return err
	}

	s.history.Store(&history)
	s.evHandler("state: difficulty history refreshed: entries[%d]", len(history))

	return nil
}

// CheckLatestVersion compares the running version against the fleet's
// published one, logging when an update is due.
func (s *State) CheckLatestVersion(ctx context.Context) {
	s.oracle.CheckLatestVersion(ctx, s.version)
}

// History returns the current difficulty history snapshot.
func (s *State) History() []pow.Difficulty {
	return *s.history.Load()
}

// ReplaceHistory atomically swaps the difficulty history. The refresh
// worker is the usual writer; the membership subsystem may also push a
// schedule it learned out of band.
func (s *State) ReplaceHistory(history []pow.Difficulty) {
	s.history.Store(&history)
}

// Difficulty selects the difficulty applicable to a submission with the
// specified millisecond timestamp string.
func (s *State) Difficulty(timestamp string) int {
	return pow.ValidDifficulty(timestamp, s.History())
}

// PruneExpired drops lapsed messages and reports how many went.
func (s *State) PruneExpired() int {
	return s.storage.Prune(pow.NowMs())
}

// MessageCount returns how many messages the node currently holds.
func (s *State) MessageCount() int {
	return s.storage.Count()
}
