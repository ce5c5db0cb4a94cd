package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/digest"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
	"github.com/kupo-index/kupo/internal/store"
)

// handleMatches dispatches GET/DELETE /matches[/{pattern}] (spec §4.3).
// The path suffix after "/matches" is the pattern's canonical text form;
// for GET, query params additionally narrow by status, sort order, and
// asset/policy/outputReference/txid (see parseMatchQuery).
func (a *api) handleMatches(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimPrefix(r.URL.Path, "/matches")
	text = strings.TrimPrefix(text, "/")

	p, err := pattern.Parse(text)
	if err != nil {
		sendError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.streamMatches(w, r, p)
	case http.MethodDelete:
		a.deleteMatches(w, r, p)
	default:
		sendError(w, apperr.New("methodNotAllowed", apperr.ClassRequest, http.StatusMethodNotAllowed, r.Method))
	}
}

func (a *api) streamMatches(w http.ResponseWriter, r *http.Request, p pattern.Pattern) {
	q, err := parseMatchQuery(r, p)
	if err != nil {
		sendError(w, err)
		return
	}

	setCheckpointHeader(w, a)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	s := newStreamer(w)
	err = a.store.StreamMatches(r.Context(), q, func(in model.Input) error {
		return s.yield(in)
	})
	if err != nil && !s.done() {
		sendError(w, err)
		return
	}
	if !s.done() {
		_ = s.yield([]model.Input{})
	}
}

// parseMatchQuery reads the query-string parameters GET /matches accepts
// (spec §4.3): status and order always apply, plus optional
// asset/policy/outputReference/txid narrowing on top of the path
// pattern. Status and order failures map to invalidStatusFlag and
// invalidSortDirection; every narrowing-parameter failure maps to the
// invalidMatchFilter code.
func parseMatchQuery(r *http.Request, p pattern.Pattern) (store.MatchQuery, error) {
	status, err := pattern.ParseStatusFlag(r.URL.Query().Get("status"))
	if err != nil {
		return store.MatchQuery{}, apperr.Wrap("invalidStatusFlag", apperr.ClassRequest, 400, err)
	}
	order, err := pattern.ParseSortDirection(r.URL.Query().Get("order"))
	if err != nil {
		return store.MatchQuery{}, apperr.Wrap("invalidSortDirection", apperr.ClassRequest, 400, err)
	}

	q := store.MatchQuery{Pattern: p, Status: status, Sort: order}

	if text := r.URL.Query().Get("policy"); text != "" {
		policy, err := digest.ParseExact(text, 28, "invalidMatchFilter")
		if err != nil {
			return store.MatchQuery{}, err
		}
		q.Policy = policy
	}
	if text := r.URL.Query().Get("asset"); text != "" {
		if len(q.Policy) == 0 {
			return store.MatchQuery{}, apperr.Request("invalidMatchFilter", "asset narrowing requires a policy")
		}
		asset, err := digest.Parse(text)
		if err != nil {
			return store.MatchQuery{}, apperr.Wrap("invalidMatchFilter", apperr.ClassRequest, 400, err)
		}
		q.Asset = asset
	}
	if text := r.URL.Query().Get("txid"); text != "" {
		txid, err := digest.ParseExact(text, 32, "invalidMatchFilter")
		if err != nil {
			return store.MatchQuery{}, err
		}
		q.TransactionID = txid
	}
	if text := r.URL.Query().Get("outputReference"); text != "" {
		if len(q.TransactionID) > 0 {
			return store.MatchQuery{}, apperr.Request("invalidMatchFilter", "outputReference and txid narrowing are mutually exclusive")
		}
		ref, err := parseOutputReferenceParam(text)
		if err != nil {
			return store.MatchQuery{}, err
		}
		q.OutputReference = &ref
	}

	return q, nil
}

func parseOutputReferenceParam(text string) (model.OutputReference, error) {
	idx := strings.LastIndex(text, "#")
	if idx < 0 {
		return model.OutputReference{}, apperr.Request("invalidMatchFilter", `outputReference must be "<txid>#<index>"`)
	}
	txid, err := digest.ParseExact(text[:idx], 32, "invalidMatchFilter")
	if err != nil {
		return model.OutputReference{}, err
	}
	ix, err := strconv.ParseUint(text[idx+1:], 10, 32)
	if err != nil {
		return model.OutputReference{}, apperr.Wrap("invalidMatchFilter", apperr.ClassRequest, 400, err)
	}
	return model.OutputReference{TxID: txid, Index: uint32(ix)}, nil
}

// deleteMatches implements DELETE /matches/{pattern}: refuses to delete
// while p overlaps a currently registered pattern (spec §4.3).
func (a *api) deleteMatches(w http.ResponseWriter, r *http.Request, p pattern.Pattern) {
	if a.registry.Overlaps(p) {
		sendError(w, apperr.ErrStillActivePattern)
		return
	}

	n, err := a.store.DeleteMatches(r.Context(), p)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
