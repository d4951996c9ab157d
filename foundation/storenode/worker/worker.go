// Package worker implements the node's background operations: the
// difficulty oracle refresh, the published version check, and expired
// message pruning.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/overlaynet/storenode/foundation/storenode/state"
)

// The cadence of the background operations.
const (
	difficultyRefreshInterval = 10 * time.Minute
	versionCheckInterval      = time.Hour
	pruneInterval             = time.Minute
)

// queryTimeout bounds a single oracle round trip.
const queryTimeout = 20 * time.Second

// =============================================================================

// Worker manages the background workflows for the storage node.
type Worker struct {
	state         *state.State
	wg            sync.WaitGroup
	refreshTicker *time.Ticker
	versionTicker *time.Ticker
	pruneTicker   *time.Ticker
	shut          chan struct{}
	evHandler     state.EventHandler
}

// Run creates a worker, registers it with the state package, and starts
// up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) {
	w := Worker{
		state:         st,
		refreshTicker: time.NewTicker(difficultyRefreshInterval),
		versionTicker: time.NewTicker(versionCheckInterval),
		pruneTicker:   time.NewTicker(pruneInterval),
		shut:          make(chan struct{}),
		evHandler:     evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Prime the difficulty history before serving admission checks.
	w.refreshDifficulty()

	// Load the set of operations we need to run.
	operations := []func(){
		w.difficultyOperations,
		w.versionOperations,
		w.pruneOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.refreshTicker.Stop()
	w.versionTicker.Stop()
	w.pruneTicker.Stop()

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// difficultyOperations refreshes the oracle backed difficulty history.
func (w *Worker) difficultyOperations() {
	w.evHandler("worker: difficultyOperations: G started")
	defer w.evHandler("worker: difficultyOperations: G completed")

	for {
		select {
		case <-w.refreshTicker.C:
			if !w.isShutdown() {
				w.refreshDifficulty()
			}
		case <-w.shut:
			return
		}
	}
}

// versionOperations checks the published fleet version.
func (w *Worker) versionOperations() {
	w.evHandler("worker: versionOperations: G started")
	defer w.evHandler("worker: versionOperations: G completed")

	w.checkVersion()

	for {
		select {
		case <-w.versionTicker.C:
			if !w.isShutdown() {
				w.checkVersion()
			}
		case <-w.shut:
			return
		}
	}
}

// pruneOperations drops lapsed messages from the store.
func (w *Worker) pruneOperations() {
	w.evHandler("worker: pruneOperations: G started")
	defer w.evHandler("worker: pruneOperations: G completed")

	for {
		select {
		case <-w.pruneTicker.C:
			if !w.isShutdown() {
				if dropped := w.state.PruneExpired(); dropped > 0 {
					w.evHandler("worker: pruneOperations: dropped[%d]", dropped)
				}
			}
		case <-w.shut:
			return
		}
	}
}

// =============================================================================

func (w *Worker) refreshDifficulty() {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := w.state.RefreshDifficulty(ctx); err != nil {
		// Keep serving from the previous history.
		w.evHandler("worker: refreshDifficulty: ERROR: %s", err)
	}
}

func (w *Worker) checkVersion() {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	w.state.CheckLatestVersion(ctx)
}
