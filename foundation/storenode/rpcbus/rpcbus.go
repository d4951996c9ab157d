// Package rpcbus implements the node's authenticated RPC surface over
// the message bus: it binds remote identities to capability tiers,
// routes inbound commands to handlers on a worker pool, and carries
// asynchronous replies back by reply tag.
package rpcbus

import (
	"fmt"

	"github.com/overlaynet/storenode/foundation/storenode/peer"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/state"
)

// AuthLevel represents the capability tier bound to a remote identity
// when it connects.
type AuthLevel int

// The capability tiers, weakest first.
const (
	Anonymous AuthLevel = iota
	AuthenticatedPeer
	Admin
)

// String implements the fmt.Stringer interface.
func (a AuthLevel) String() string {
	switch a {
	case Admin:
		return "admin"
	case AuthenticatedPeer:
		return "peer"
	default:
		return "anonymous"
	}
}

// =============================================================================

// Reply status codes carried in two-part error replies. A remote
// distinguishes these from transport timeouts by the part count.
const (
	StatusOK                 = 200
	StatusBadRequest         = 400
	StatusForbidden          = 403
	StatusNotAcceptable      = 406
	StatusInternalError      = 500
	StatusServiceUnavailable = 503
)

// Response represents a handler outcome: a status and a body. A status
// of StatusOK travels as a single-part success reply, anything else as
// a two-part (status, message) error reply.
type Response struct {
	Status int
	Body   string
}

// =============================================================================

// ServiceNode represents the membership subsystem behavior the RPC
// surface depends on: peer resolution, batch ingestion, reachability
// bookkeeping and stats.
type ServiceNode interface {
	FindPeer(publicKey signature.PublicKey) (peer.Peer, bool)
	ProcessPushBatch(blob []byte) error
	UpdateLastPing(reach state.ReachType)
	Stats() ([]byte, error)
}

// RequestHandler represents the onion/proxy processing the RPC surface
// hands client carrying envelopes to. Handlers are fire-and-continue:
// the callback may run on any worker and owns emitting the reply.
type RequestHandler interface {
	ProcessProxyExit(clientKey []byte, payload []byte, respond func(Response))
	ProcessOnionReq(ciphertext []byte, ephemeralKey []byte, respond func(Response), v2 bool)
}

// =============================================================================

// parseAdminKeys decodes the configured hex admin keys into a lookup
// set. The set is immutable after construction.
func parseAdminKeys(keys []string) (map[signature.PublicKey]struct{}, error) {
	set := make(map[signature.PublicKey]struct{}, len(keys))
	for _, keyHex := range keys {
		pub, err := signature.PublicKeyFromHex(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parsing admin key %q: %w", keyHex, err)
		}
		set[pub] = struct{}{}
	}

	return set, nil
}
