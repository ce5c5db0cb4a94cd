package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/consumer"
	"github.com/kupo-index/kupo/internal/pattern"
)

// handlePatterns implements GET /patterns: every registered pattern.
func (a *api) handlePatterns(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, a.registry.Included(""))
}

// handlePatternSub dispatches GET/PUT/DELETE /patterns/{p} (spec §4.3).
func (a *api) handlePatternSub(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimPrefix(r.URL.Path, "/patterns")
	text = strings.TrimPrefix(text, "/")

	switch r.Method {
	case http.MethodGet:
		sendJSON(w, http.StatusOK, a.registry.Included(text))
	case http.MethodPut:
		a.putPattern(w, r, text)
	case http.MethodDelete:
		a.deletePattern(w, text)
	default:
		sendError(w, apperr.New("methodNotAllowed", apperr.ClassRequest, http.StatusMethodNotAllowed, r.Method))
	}
}

// putPatternRequest is the body PUT /patterns/{p} expects (spec §4.3):
// {since: point | slot, limit: "within_safe_zone" | "any"}.
type putPatternRequest struct {
	Since json.RawMessage `json:"since"`
	Limit string          `json:"limit"`
}

func (a *api) putPattern(w http.ResponseWriter, r *http.Request, text string) {
	if a.consumer == nil {
		sendError(w, apperr.ErrProducerUnreachable)
		return
	}

	p, err := pattern.Parse(text)
	if err != nil {
		sendError(w, err)
		return
	}

	var body putPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendError(w, apperr.Wrap("unsupportedContentType", apperr.ClassRequest, 415, err))
		return
	}

	since, err := parseSince(body.Since)
	if err != nil {
		sendError(w, err)
		return
	}

	allowUnsafe := body.Limit == "any"

	req := consumer.NewRollbackRequest(since, allowUnsafe)
	a.consumer.RequestForcedRollback(req)
	res := req.Await()
	if res.Err != nil {
		sendError(w, res.Err)
		return
	}

	if !a.registry.Add(p) {
		sendJSON(w, http.StatusOK, p)
		return
	}
	if err := a.store.InsertPattern(r.Context(), p); err != nil {
		a.registry.Remove(p)
		sendError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, p)
}

// sinceObject is the structured form of "since": {slot, hash}.
type sinceObject struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
}

// parseSince decodes the PUT /patterns "since" field, accepting the
// canonical point string ("origin" or "<slot>.<hexHash>"), a bare JSON
// integer slot, or a {slot, hash} object. A bare slot (no hash) is
// resolved against the known checkpoint ring by the consumer's
// forced-rollback machinery.
func parseSince(raw json.RawMessage) (chainpoint.Point, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return chainpoint.Parse(asString)
	}
	var asSlot uint64
	if err := json.Unmarshal(raw, &asSlot); err == nil {
		return chainpoint.New(asSlot, chainhash.Hash{}), nil
	}
	var asObject sinceObject
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Slot != 0 {
		if asObject.Hash == "" {
			return chainpoint.New(asObject.Slot, chainhash.Hash{}), nil
		}
		hash, err := chainhash.NewHashFromStr(asObject.Hash)
		if err != nil {
			return chainpoint.Point{}, apperr.Wrap("malformedPoint", apperr.ClassRequest, 400, err)
		}
		return chainpoint.New(asObject.Slot, *hash), nil
	}
	return chainpoint.Point{}, apperr.Request("malformedPoint", "since must be a point string, a slot number, or {slot, hash}")
}

func (a *api) deletePattern(w http.ResponseWriter, text string) {
	p, err := pattern.Parse(text)
	if err != nil {
		sendError(w, err)
		return
	}
	a.registry.Remove(p)
	sendJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
