// Package handlers manages the node's local debug surface. The public
// client API lives elsewhere; everything here is operator only.
package handlers

import (
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/events"
	"github.com/overlaynet/storenode/foundation/storenode/state"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Build string
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// DebugMux registers all the debug standard library routes and then
// custom debug application routes for the service.
func DebugMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	// Register all the standard library debug endpoints.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	dbg := debugGroup{
		build: cfg.Build,
		log:   cfg.Log,
		state: cfg.State,
		evts:  cfg.Evts,
	}

	mux.HandleFunc("/debug/stats", dbg.stats)
	mux.HandleFunc("/debug/events", dbg.eventsFeed)

	return mux
}

// =============================================================================

type debugGroup struct {
	build string
	log   *zap.SugaredLogger
	state *state.State
	evts  *events.Events
}

// stats serves the same blob the service.get_stats RPC returns.
func (dbg debugGroup) stats(w http.ResponseWriter, r *http.Request) {
	payload, err := dbg.state.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// eventsFeed upgrades the connection to a websocket and streams the
// node's operational events until the client goes away.
func (dbg debugGroup) eventsFeed(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		dbg.log.Errorw("debug: events upgrade", "ERROR", err)
		return
	}
	defer conn.Close()

	id, ch := dbg.evts.Acquire()
	defer dbg.evts.Release(id)

	dbg.log.Infow("debug: events subscriber connected", "id", id)
	defer dbg.log.Infow("debug: events subscriber gone", "id", id)

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
}
