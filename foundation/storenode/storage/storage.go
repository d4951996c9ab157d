// Package storage maintains the client messages a node holds for later
// retrieval. Messages live in memory keyed by recipient and are
// mirrored to disk so a restart keeps the store-and-forward promise.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Message represents one stored client message along with the admission
// metadata peers exchange when syncing.
type Message struct {
	Hash      string `json:"hash"`
	PubKey    string `json:"pubKey"`
	Data      string `json:"data"`
	Timestamp uint64 `json:"timestamp"`
	TTL       uint64 `json:"ttl"`
	Nonce     string `json:"nonce"`
}

// ExpiresAt returns the wall clock millisecond the message lapses.
func (m Message) ExpiresAt() uint64 {
	return m.Timestamp + m.TTL
}

// =============================================================================

// Store represents the in memory message set with optional disk
// persistence. A dbPath of empty string keeps the store memory only.
type Store struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Message
	dbPath string
}

// New constructs a store, loading any messages persisted under dbPath.
func New(dbPath string) (*Store, error) {
	str := Store{
		byUser: make(map[string]map[string]Message),
		dbPath: dbPath,
	}

	if dbPath == "" {
		return &str, nil
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dbPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dbPath, entry.Name()))
		if err != nil {
			return nil, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decoding stored message %s: %w", entry.Name(), err)
		}

		str.insert(msg)
	}

	return &str, nil
}

// Save adds a message to the store. It reports false when a message
// with the same hash is already held for the recipient.
func (s *Store) Save(msg Message) (bool, error) {
	s.mu.Lock()
	added := s.insert(msg)
	s.mu.Unlock()

	if !added {
		return false, nil
	}

	if s.dbPath != "" {
		data, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(s.getPath(msg.Hash), data, 0600); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Retrieve returns a copy of the messages held for the recipient.
func (s *Store) Retrieve(pubKey string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held := s.byUser[pubKey]
	msgs := make([]Message, 0, len(held))
	for _, msg := range held {
		msgs = append(msgs, msg)
	}

	return msgs
}

// Prune drops every message that lapsed before the specified wall clock
// millisecond and reports how many were dropped.
func (s *Store) Prune(nowMs uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for pubKey, held := range s.byUser {
		for hash, msg := range held {
			if msg.ExpiresAt() < nowMs {
				delete(held, hash)
				dropped++
				if s.dbPath != "" {
					os.Remove(s.getPath(hash))
				}
			}
		}
		if len(held) == 0 {
			delete(s.byUser, pubKey)
		}
	}

	return dropped
}

// Count returns the total number of held messages.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	for _, held := range s.byUser {
		count += len(held)
	}

	return count
}

// =============================================================================

// insert adds the message under the caller's lock, reporting whether it
// was new.
func (s *Store) insert(msg Message) bool {
	held, exists := s.byUser[msg.PubKey]
	if !exists {
		held = make(map[string]Message)
		s.byUser[msg.PubKey] = held
	}

	if _, exists := held[msg.Hash]; exists {
		return false
	}
	held[msg.Hash] = msg

	return true
}

// getPath builds the file name for a message hash.
func (s *Store) getPath(hash string) string {
	return filepath.Join(s.dbPath, hash+".json")
}

// =============================================================================

// NowMs returns the current wall clock in milliseconds.
func NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
