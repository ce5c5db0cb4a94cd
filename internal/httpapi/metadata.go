package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
)

// handleMetadata implements GET /metadata/{slot} (spec §4.3): resolves
// slot to its nearest known ancestor checkpoint, fetches that block
// through the producer's QueryBlock, and responds with one JSON object
// listing the block's outputs (transaction id, output index, address,
// datum hash), setting X-Block-Header-Hash. Transaction metadata is not
// part of the response.
func (a *api) handleMetadata(w http.ResponseWriter, r *http.Request) {
	slot, err := chainpoint.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		sendError(w, err)
		return
	}

	if a.producer == nil {
		sendError(w, apperr.ErrProducerUnreachable)
		return
	}

	cp, err := a.store.CheckpointAt(r.Context(), slot, false)
	if err != nil {
		sendError(w, err)
		return
	}
	if cp == nil {
		sendError(w, apperr.ErrNoAncestor)
		return
	}

	point, err := cp.Point()
	if err != nil {
		sendError(w, err)
		return
	}

	block, err := a.producer.QueryBlock(r.Context(), point)
	if err != nil {
		sendError(w, err)
		return
	}

	w.Header().Set("X-Block-Header-Hash", hex.EncodeToString(point.Hash[:]))

	type output struct {
		TxID      string `json:"transaction_id"`
		Index     uint32 `json:"output_index"`
		Address   string `json:"address"`
		DatumHash string `json:"datum_hash,omitempty"`
	}
	outs := make([]output, 0, len(block.Outputs))
	for _, o := range block.Outputs {
		outs = append(outs, output{
			TxID:      hex.EncodeToString(o.TxID),
			Index:     o.Index,
			Address:   o.Address,
			DatumHash: hex.EncodeToString(o.DatumHash),
		})
	}
	sendJSON(w, http.StatusOK, map[string]any{"outputs": outs})
}
