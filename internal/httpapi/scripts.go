package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kupo-index/kupo/internal/apperr"
)

// handleScript implements GET /scripts/{hash}: the script or null (spec
// §4.3). Script hashes are 28 bytes (native/Plutus V1/V2 credential
// hash width) or 32 bytes (reference script hash), per spec §7
// malformedScriptHash.
func (a *api) handleScript(w http.ResponseWriter, r *http.Request) {
	hash, err := hex.DecodeString(mux.Vars(r)["hash"])
	if err != nil || (len(hash) != 28 && len(hash) != 32) {
		sendError(w, apperr.ErrMalformedScriptHash)
		return
	}

	s, err := a.store.ScriptByHash(r.Context(), hash)
	if err != nil {
		sendError(w, err)
		return
	}
	if s == nil {
		sendJSON(w, http.StatusOK, nil)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{
		"language": s.Language,
		"script":   hex.EncodeToString(s.Bytes),
	})
}
