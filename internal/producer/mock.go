package producer

import (
	"context"
	"sync"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
)

// Mock is a Producer driven entirely by the test: Events is fed to
// RequestNext in order, Blocks answers QueryBlock by point.
type Mock struct {
	mu sync.Mutex

	Intersections map[chainpoint.Point]bool
	Events        []Event
	Blocks        map[chainpoint.Point]*Block

	next int
}

// NewMock builds a Mock that will agree to intersect at any of
// knownPoints and replay events in order.
func NewMock(knownPoints []chainpoint.Point, events []Event) *Mock {
	known := make(map[chainpoint.Point]bool, len(knownPoints))
	for _, p := range knownPoints {
		known[p] = true
	}
	return &Mock{Intersections: known, Events: events, Blocks: map[chainpoint.Point]*Block{}}
}

func (m *Mock) FindIntersect(ctx context.Context, candidates []chainpoint.Point) (chainpoint.Point, error) {
	for _, c := range candidates {
		if c.IsOrigin() || m.Intersections[c] {
			return c, nil
		}
	}
	return chainpoint.Point{}, apperr.ErrIntersectionNotFound
}

func (m *Mock) RequestNext(ctx context.Context) (Event, error) {
	m.mu.Lock()
	if m.next < len(m.Events) {
		ev := m.Events[m.next]
		m.next++
		m.mu.Unlock()
		return ev, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return Event{}, ctx.Err()
}

func (m *Mock) QueryBlock(ctx context.Context, p chainpoint.Point) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Blocks[p]; ok {
		return b, nil
	}
	return nil, apperr.ErrNotFound
}
