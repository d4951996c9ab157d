// Package relay processes the client carrying envelopes that arrive
// over the bus: proxied client requests and onion requests at their
// final hop. It owns the channel encryption between the node and the
// originating client.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
	"github.com/overlaynet/storenode/foundation/storenode/rpcbus"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
	"github.com/overlaynet/storenode/foundation/storenode/state"
	"github.com/overlaynet/storenode/foundation/storenode/storage"
)

// Config represents the dependencies the relay requires.
type Config struct {
	Log     *zap.SugaredLogger
	Keypair signature.Keypair
	State   *state.State
}

// Handler decrypts client channels and executes the embedded requests
// against the node state. It implements rpcbus.RequestHandler.
type Handler struct {
	log     *zap.SugaredLogger
	keypair signature.Keypair
	state   *state.State
}

// New constructs the relay handler.
func New(cfg Config) *Handler {
	return &Handler{
		log:     cfg.Log,
		keypair: cfg.Keypair,
		state:   cfg.State,
	}
}

// =============================================================================

// clientRequest is the decrypted request schema clients tunnel to the
// node.
type clientRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// storeResponse is the receipt returned for an admitted message.
type storeResponse struct {
	Hash string `json:"hash"`
}

// retrieveResponse carries the messages held for a recipient.
type retrieveResponse struct {
	Messages []storage.Message `json:"messages"`
}

// ProcessProxyExit decrypts a proxied client request with the supplied
// client key, executes it, and fires the continuation with the
// encrypted response. The continuation may run on any worker.
func (h *Handler) ProcessProxyExit(clientKey []byte, payload []byte, respond func(rpcbus.Response)) {
	h.log.Debugw("relay: process proxy exit")

	plaintext, err := h.decryptChannel(clientKey, payload)
	if err != nil {
		h.log.Debugw("relay: proxy exit decrypt failed", "ERROR", err)
		respond(rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Invalid ciphertext"})
		return
	}

	res := h.execute(plaintext)
	if res.Status != rpcbus.StatusOK {
		respond(res)
		return
	}

	sealed, err := h.encryptChannel(clientKey, []byte(res.Body))
	if err != nil {
		h.log.Errorw("relay: proxy exit encrypt failed", "ERROR", err)
		respond(rpcbus.Response{Status: rpcbus.StatusInternalError, Body: "Could not encrypt response"})
		return
	}

	respond(rpcbus.Response{Status: rpcbus.StatusOK, Body: encode.ToBase64(sealed)})
}

// ProcessOnionReq peels the outer onion layer addressed to this node
// and, at the final hop, executes the embedded client request. Deeper
// relaying is delegated upstream and not handled here.
func (h *Handler) ProcessOnionReq(ciphertext []byte, ephemeralKey []byte, respond func(rpcbus.Response), v2 bool) {
	h.log.Debugw("relay: process onion request", "v2", v2)

	sealed := ciphertext
	if v2 {
		inner, err := parseV2Payload(ciphertext)
		if err != nil {
			respond(rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: err.Error()})
			return
		}
		sealed = inner
	} else {
		raw, err := encode.FromBase64(string(ciphertext))
		if err != nil {
			respond(rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Invalid ciphertext encoding"})
			return
		}
		sealed = raw
	}

	plaintext, err := h.decryptChannel(ephemeralKey, sealed)
	if err != nil {
		h.log.Debugw("relay: onion decrypt failed", "ERROR", err)
		respond(rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Invalid ciphertext"})
		return
	}

	respond(h.execute(plaintext))
}

// =============================================================================

// execute runs a decrypted client request against the node state and
// maps admission failures onto reply statuses.
func (h *Handler) execute(plaintext []byte) rpcbus.Response {
	var req clientRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Malformed client request"}
	}

	switch req.Method {
	case "store":
		var params state.StoreRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Malformed store params"}
		}

		hash, err := h.state.ProcessStore(params)
		if err != nil {
			return storeErrorResponse(err)
		}

		body, err := json.Marshal(storeResponse{Hash: hash})
		if err != nil {
			return rpcbus.Response{Status: rpcbus.StatusInternalError, Body: err.Error()}
		}

		return rpcbus.Response{Status: rpcbus.StatusOK, Body: string(body)}

	case "retrieve":
		var params state.RetrieveRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: "Malformed retrieve params"}
		}

		msgs, err := h.state.ProcessRetrieve(params)
		if err != nil {
			return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: err.Error()}
		}

		body, err := json.Marshal(retrieveResponse{Messages: msgs})
		if err != nil {
			return rpcbus.Response{Status: rpcbus.StatusInternalError, Body: err.Error()}
		}

		return rpcbus.Response{Status: rpcbus.StatusOK, Body: string(body)}
	}

	return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: fmt.Sprintf("Unknown method %q", req.Method)}
}

// storeErrorResponse maps an admission failure onto the reply protocol
// without leaking which sub-check failed beyond its class.
func storeErrorResponse(err error) rpcbus.Response {
	switch {
	case errors.Is(err, state.ErrPoW):
		return rpcbus.Response{Status: rpcbus.StatusForbidden, Body: "Provided PoW nonce is not valid"}
	case errors.Is(err, state.ErrTimestamp):
		return rpcbus.Response{Status: rpcbus.StatusNotAcceptable, Body: "Timestamp error: check your clock"}
	default:
		return rpcbus.Response{Status: rpcbus.StatusBadRequest, Body: err.Error()}
	}
}
