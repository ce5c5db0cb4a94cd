package httpapi

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// handleHealth implements GET /health (spec §4.3): content negotiation
// on Accept picks between a Prometheus exposition dump and the plain
// JSON snapshot.
func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		a.handleHealthExposition(w)
		return
	}

	snap := a.health.Snapshot()
	setCheckpointHeader(w, a)
	sendJSON(w, http.StatusOK, snap)
}

func (a *api) handleHealthExposition(w http.ResponseWriter) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.FmtText))
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			a.logger.Warn("encode metric family", zap.Error(err))
			return
		}
	}
}
