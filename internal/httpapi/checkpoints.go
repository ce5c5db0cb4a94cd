package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/model"
)

// handleCheckpoints implements GET /checkpoints: stream every stored
// checkpoint, most recent first (spec §4.3).
func (a *api) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	setCheckpointHeader(w, a)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	s := newStreamer(w)
	err := a.store.Checkpoints(r.Context(), func(cp model.Checkpoint) error {
		return s.yield(cp)
	})
	if err != nil && !s.done() {
		sendError(w, err)
		return
	}
	if !s.done() {
		_ = s.yield([]model.Checkpoint{})
	}
}

// handleCheckpointAt implements GET /checkpoints/{slot}?strict={true|false}
// (spec §4.3): the checkpoint exactly at slot when strict, or the
// closest ancestor; null if none.
func (a *api) handleCheckpointAt(w http.ResponseWriter, r *http.Request) {
	slotText := mux.Vars(r)["slot"]
	slot, err := strconv.ParseUint(slotText, 10, 64)
	if err != nil {
		sendError(w, apperr.Wrap("invalidSlotNo", apperr.ClassRequest, 400, err))
		return
	}

	strict := r.URL.Query().Get("strict") == "true"

	cp, err := a.store.CheckpointAt(r.Context(), slot, strict)
	if err != nil {
		sendError(w, err)
		return
	}
	setCheckpointHeader(w, a)
	sendJSON(w, http.StatusOK, cp)
}
