// Package health aggregates the consumer's connection state and the
// storage engine's most-recent checkpoint behind one atomic snapshot
// (spec §4.5), updated on every block ingest and every HTTP request
// boundary.
package health

import (
	"sync/atomic"

	"github.com/kupo-index/kupo/internal/metrics"
	"github.com/kupo-index/kupo/internal/model"
)

// Aggregator holds the latest Health snapshot, swapped atomically so
// GET /health and the metrics exporter never block on each other.
type Aggregator struct {
	snapshot atomic.Pointer[model.Health]
}

// New builds an Aggregator seeded with the startup configuration; the
// connection status starts Disconnected until the consumer reports
// otherwise.
func New(cfg model.Configuration) *Aggregator {
	a := &Aggregator{}
	a.snapshot.Store(&model.Health{
		ConnectionStatus: model.ConnectionDisconnected,
		Configuration:    cfg,
	})
	return a
}

// Snapshot returns the current health. Safe for concurrent use.
func (a *Aggregator) Snapshot() model.Health {
	p := a.snapshot.Load()
	if p == nil {
		return model.Health{}
	}
	return *p
}

// SetConnection updates the consumer's connection status, also pushing
// the corresponding kupo_connection_status gauge update (spec §4.5
// "Updated on every block ingest and every HTTP request boundary").
func (a *Aggregator) SetConnection(status model.ConnectionStatus) {
	a.update(func(h *model.Health) { h.ConnectionStatus = status })
	metrics.ObserveConnectionStatus(status)
}

// SetCheckpoint records the storage engine's most-recent checkpoint.
func (a *Aggregator) SetCheckpoint(cp *model.Checkpoint) {
	a.update(func(h *model.Health) { h.MostRecentCheckpoint = cp })
	if cp != nil {
		metrics.ObserveCheckpoint(cp.Slot)
	}
}

// SetNodeTip records the producer's most recently reported tip.
func (a *Aggregator) SetNodeTip(tip *model.Checkpoint) {
	a.update(func(h *model.Health) { h.MostRecentNodeTip = tip })
	if tip != nil {
		metrics.ObserveNodeTip(tip.Slot)
	}
}

func (a *Aggregator) update(mutate func(*model.Health)) {
	current := a.Snapshot()
	mutate(&current)
	a.snapshot.Store(&current)
}
