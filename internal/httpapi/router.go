package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/consumer"
	"github.com/kupo-index/kupo/internal/health"
	"github.com/kupo-index/kupo/internal/producer"
	"github.com/kupo-index/kupo/internal/registry"
	"github.com/kupo-index/kupo/internal/store"
)

// New builds the HTTP router: every route spec §4.3 names, wrapped by
// the tracer middleware, plus a /metrics endpoint for the collectors
// internal/metrics registers, the same promhttp.Handler() wiring the
// teacher's api-gateway cmd uses.
func New(
	st *store.Store,
	reg *registry.Registry,
	cons *consumer.Consumer,
	hlt *health.Aggregator,
	prod producer.Producer,
	logger *zap.Logger,
) http.Handler {
	a := &api{
		store:    st,
		registry: reg,
		consumer: cons,
		health:   hlt,
		producer: prod,
		logger:   logger,
	}

	r := mux.NewRouter()
	r.Use(tracer(logger))

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/checkpoints", a.handleCheckpoints).Methods(http.MethodGet)
	r.HandleFunc("/checkpoints/{slot}", a.handleCheckpointAt).Methods(http.MethodGet)

	r.PathPrefix("/matches/").Handler(http.HandlerFunc(a.handleMatches)).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/matches", a.handleMatches).Methods(http.MethodGet, http.MethodDelete)

	r.HandleFunc("/datums/{hash}", a.handleDatum).Methods(http.MethodGet)
	r.HandleFunc("/scripts/{hash}", a.handleScript).Methods(http.MethodGet)
	r.HandleFunc("/metadata/{slot}", a.handleMetadata).Methods(http.MethodGet)

	r.HandleFunc("/patterns", a.handlePatterns).Methods(http.MethodGet)
	r.PathPrefix("/patterns/").Handler(http.HandlerFunc(a.handlePatternSub)).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)

	return r
}
