package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/consumer"
	"github.com/kupo-index/kupo/internal/health"
	"github.com/kupo-index/kupo/internal/producer"
	"github.com/kupo-index/kupo/internal/registry"
	"github.com/kupo-index/kupo/internal/store"
)

// api holds the handles every handler needs, following the teacher's
// explorerAPI-style receiver struct holding the service handle.
type api struct {
	store    *store.Store
	registry *registry.Registry
	consumer *consumer.Consumer
	health   *health.Aggregator
	producer producer.Producer
	logger   *zap.Logger
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// A nil v encodes as the JSON literal null.
	_ = json.NewEncoder(w).Encode(v)
}

// sendError maps a domain error to its HTTP status + {"hint": code}
// body (spec §7), matching the teacher's sendError(err, rw) shape from
// CovenantSQL's explorer API.
func sendError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status := appErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		sendJSON(w, status, map[string]string{"hint": appErr.Code})
		return
	}
	sendJSON(w, http.StatusInternalServerError, map[string]string{"hint": "unexpectedRow"})
}

func setCheckpointHeader(w http.ResponseWriter, a *api) {
	snap := a.health.Snapshot()
	if snap.MostRecentCheckpoint != nil {
		w.Header().Set("X-Most-Recent-Checkpoint", strconv.FormatUint(snap.MostRecentCheckpoint.Slot, 10))
	}
}
