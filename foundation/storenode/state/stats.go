package state

import (
	"encoding/json"
	"time"
)

// statsDocument is the operator visible snapshot served by the
// service.get_stats RPC.
type statsDocument struct {
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	HeldMessages      int    `json:"held_messages"`
	KnownPeers        int    `json:"known_peers"`
	StoreRequests     uint64 `json:"store_requests"`
	RetrieveRequests  uint64 `json:"retrieve_requests"`
	PushBatches       uint64 `json:"push_batches"`
	DifficultyEntries int    `json:"difficulty_entries"`
	LastPingBusMs     int64  `json:"last_ping_bus_ms"`
}

// Stats renders the node's operational counters as a JSON blob.
func (s *State) Stats() ([]byte, error) {
	doc := statsDocument{
		Version:           s.version,
		UptimeSeconds:     int64(time.Since(s.startTime).Seconds()),
		HeldMessages:      s.storage.Count(),
		KnownPeers:        s.knownPeers.Count(),
		StoreRequests:     s.storeCount.Load(),
		RetrieveRequests:  s.retrieveCount.Load(),
		PushBatches:       s.pushCount.Load(),
		DifficultyEntries: len(s.History()),
		LastPingBusMs:     s.lastPingBus.Load(),
	}

	return json.MarshalIndent(doc, "", "  ")
}
