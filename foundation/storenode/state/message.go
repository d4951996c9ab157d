package state

import (
	"encoding/json"
	"fmt"

	"github.com/overlaynet/storenode/foundation/storenode/pow"
	"github.com/overlaynet/storenode/foundation/storenode/storage"
)

// StoreRequest represents a client submission. The string fields carry
// the exact bytes the client hashed for its proof of work.
type StoreRequest struct {
	PubKey    string `json:"pubKey" validate:"required,min=64,max=66,hexadecimal"`
	TTL       string `json:"ttl" validate:"required,number"`
	Nonce     string `json:"nonce" validate:"required"`
	Timestamp string `json:"timestamp" validate:"required,number"`
	Data      string `json:"data" validate:"required"`
}

// RetrieveRequest represents a client asking for its held messages.
type RetrieveRequest struct {
	PubKey string `json:"pubKey" validate:"required,min=64,max=66,hexadecimal"`
}

// PushEntry represents one peer relayed message inside a push batch.
// Peers re-validate shape but not proof of work; that was spent at the
// admitting node.
type PushEntry struct {
	Hash      string `json:"hash" validate:"required"`
	PubKey    string `json:"pubKey" validate:"required,min=64,max=66,hexadecimal"`
	Data      string `json:"data" validate:"required"`
	Timestamp uint64 `json:"timestamp" validate:"required"`
	TTL       uint64 `json:"ttl" validate:"required"`
	Nonce     string `json:"nonce"`
}

// =============================================================================

// ProcessStore admits a client submission: shape validation, timestamp
// window, difficulty selection, proof of work, then storage. It returns
// the message hash clients use as a receipt.
func (s *State) ProcessStore(req StoreRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err)
	}

	ttlMs, ok := pow.ParseTTL(req.TTL)
	if !ok {
		return "", fmt.Errorf("%w: ttl out of range", ErrValidation)
	}

	timestampMs, ok := pow.ParseTimestamp(req.Timestamp, ttlMs)
	if !ok {
		return "", ErrTimestamp
	}

	difficulty := s.Difficulty(req.Timestamp)

	ok, messageHash := pow.CheckPoW(req.Nonce, req.Timestamp, req.TTL, req.PubKey, req.Data, difficulty)
	if !ok {
		return "", ErrPoW
	}

	msg := storage.Message{
		Hash:      messageHash,
		PubKey:    req.PubKey,
		Data:      req.Data,
		Timestamp: timestampMs,
		TTL:       ttlMs,
		Nonce:     req.Nonce,
	}

	added, err := s.storage.Save(msg)
	if err != nil {
		return "", fmt.Errorf("saving message: %w", err)
	}

	s.storeCount.Add(1)
	if added {
		s.evHandler("state: message stored: hash[%s] recipient[%s]", messageHash, req.PubKey)
	}

	return messageHash, nil
}

// ProcessRetrieve returns the messages held for a recipient.
func (s *State) ProcessRetrieve(req RetrieveRequest) ([]storage.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	s.retrieveCount.Add(1)

	return s.storage.Retrieve(req.PubKey), nil
}

// ProcessPushBatch stores a batch of peer relayed messages. The blob is
// the concatenated parts of an sn.data envelope: a JSON array of
// entries. Duplicates are skipped quietly.
func (s *State) ProcessPushBatch(blob []byte) error {
	var entries []PushEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return fmt.Errorf("decoding push batch: %w", err)
	}

	for _, entry := range entries {
		if err := s.validate.Struct(entry); err != nil {
			return fmt.Errorf("%w: %s", ErrValidation, err)
		}

		msg := storage.Message{
			Hash:      entry.Hash,
			PubKey:    entry.PubKey,
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
			TTL:       entry.TTL,
			Nonce:     entry.Nonce,
		}

		if _, err := s.storage.Save(msg); err != nil {
			return fmt.Errorf("saving pushed message: %w", err)
		}
	}

	s.pushCount.Add(1)
	s.evHandler("state: push batch processed: entries[%d]", len(entries))

	return nil
}
