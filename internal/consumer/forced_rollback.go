package consumer

import "github.com/kupo-index/kupo/internal/chainpoint"

// RollbackRequest is the one-shot bidirectional handoff from an HTTP
// handler to the consumer (spec §4.2 "ForcedRollback", Design Note
// "Forced-rollback handoff → one-shot channel"). The consumer is the
// sole fulfiller: it reads Point/AllowUnsafe, performs the rollback,
// and fulfils the request exactly once with a RollbackResult (Err set
// on failure) before resuming Following.
type RollbackRequest struct {
	Point       chainpoint.Point
	AllowUnsafe bool // limit == "any" rather than "within_safe_zone"

	// result carries the outcome back to the HTTP handler that issued
	// the request; it is buffered so the consumer never blocks on a
	// handler that stopped listening.
	result chan RollbackResult
}

// RollbackResult is delivered to the HTTP handler's goroutine.
type RollbackResult struct {
	NewTip chainpoint.Point
	Err    error
}

// NewRollbackRequest builds a request with its result channel ready.
func NewRollbackRequest(p chainpoint.Point, allowUnsafe bool) *RollbackRequest {
	return &RollbackRequest{Point: p, AllowUnsafe: allowUnsafe, result: make(chan RollbackResult, 1)}
}

// Await blocks until the consumer has resolved the request.
func (r *RollbackRequest) Await() RollbackResult {
	return <-r.result
}

// fulfil is called exactly once by the consumer.
func (r *RollbackRequest) fulfil(res RollbackResult) {
	r.result <- res
}
