// Package peer maintains the peer related information such as the set
// of known fleet members and their network endpoints.
package peer

import (
	"fmt"
	"sync"

	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

// Peer represents information about a storage node in the fleet.
type Peer struct {
	PublicKey signature.PublicKey
	IP        string
	Port      uint16
}

// New constructs a new peer record.
func New(publicKey signature.PublicKey, ip string, port uint16) Peer {
	return Peer{
		PublicKey: publicKey,
		IP:        ip,
		Port:      port,
	}
}

// Endpoint returns the dialable message-bus address for the peer.
func (p Peer) Endpoint() string {
	return fmt.Sprintf("tcp://%s:%d", p.IP, p.Port)
}

// =============================================================================

// Directory represents the data representation to maintain the set of
// known peers keyed by transport public key. Reads vastly outnumber the
// membership updates so readers take a shared lock and receive copies.
type Directory struct {
	mu  sync.RWMutex
	set map[signature.PublicKey]Peer
}

// NewDirectory constructs a directory to manage peer information.
func NewDirectory() *Directory {
	return &Directory{
		set: make(map[signature.PublicKey]Peer),
	}
}

// Add adds or refreshes a peer record. It reports whether the record
// was new.
func (d *Directory) Add(peer Peer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists := d.set[peer.PublicKey]
	d.set[peer.PublicKey] = peer

	return !exists
}

// Remove removes a peer from the directory.
func (d *Directory) Remove(publicKey signature.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.set, publicKey)
}

// Lookup resolves a peer by its transport public key. The second return
// is false when the peer is unknown, in which case outbound sends are
// non-routable.
func (d *Directory) Lookup(publicKey signature.PublicKey) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peer, exists := d.set[publicKey]
	return peer, exists
}

// Copy returns a point in time snapshot of the known peers.
func (d *Directory) Copy() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peers := make([]Peer, 0, len(d.set))
	for _, peer := range d.set {
		peers = append(peers, peer)
	}

	return peers
}

// Count returns the number of known peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.set)
}
