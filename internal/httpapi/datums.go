package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kupo-index/kupo/internal/apperr"
)

// handleDatum implements GET /datums/{hash}: {datum: <cbor-hex>} or null
// (spec §4.3).
func (a *api) handleDatum(w http.ResponseWriter, r *http.Request) {
	hash, err := hex.DecodeString(mux.Vars(r)["hash"])
	if err != nil || len(hash) != 32 {
		sendError(w, apperr.ErrMalformedDatumHash)
		return
	}

	d, err := a.store.BinaryDataByHash(r.Context(), hash)
	if err != nil {
		sendError(w, err)
		return
	}
	if d == nil {
		sendJSON(w, http.StatusOK, nil)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"datum": hex.EncodeToString(d.Bytes)})
}
