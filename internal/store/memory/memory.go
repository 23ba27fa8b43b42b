// Package memory provides a process-local store.Driver. Nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/config"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/store"
)

func init() {
	store.Register("memory", open)
}

func open(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return &store.Repositories{
		Events:  NewEventStore(clk),
		Results: NewResultRepo(clk),
		Closer:  store.CloserFunc(func() error { return nil }),
		Ping:    func(context.Context) error { return nil },
	}, nil
}

// EventStore implements event.Store in memory.
type EventStore struct {
	mu     sync.RWMutex
	clock  clock.Clock
	events []event.Event
	seen   map[string]map[int]bool
}

// NewEventStore returns an empty EventStore.
func NewEventStore(clk clock.Clock) *EventStore {
	return &EventStore{clock: clk, seen: make(map[string]map[int]bool)}
}

// Append stores events atomically. A repeated (aggregate, version) pair
// rejects the whole batch.
func (s *EventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]map[int]bool)
	for _, e := range events {
		if s.seen[e.AggregateID][e.Version] || batch[e.AggregateID][e.Version] {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, event.ErrVersionConflict)
		}
		if batch[e.AggregateID] == nil {
			batch[e.AggregateID] = make(map[int]bool)
		}
		batch[e.AggregateID][e.Version] = true
	}

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.clock.Now().UTC()
		}
		if s.seen[e.AggregateID] == nil {
			s.seen[e.AggregateID] = make(map[int]bool)
		}
		s.seen[e.AggregateID][e.Version] = true
		s.events = append(s.events, e)
	}
	return nil
}

func (s *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResultRepo implements store.ResultRepository in memory.
type ResultRepo struct {
	mu      sync.RWMutex
	clock   clock.Clock
	results []store.Result
}

// NewResultRepo returns an empty ResultRepo.
func NewResultRepo(clk clock.Clock) *ResultRepo {
	return &ResultRepo{clock: clk}
}

func (r *ResultRepo) Save(_ context.Context, res *store.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.clock.Now().UTC()
	}
	r.results = append(r.results, *res)
	return nil
}

func (r *ResultRepo) ListRecent(_ context.Context, limit int) ([]store.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Result, 0, min(limit, len(r.results)))
	for i := len(r.results) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.results[i])
	}
	return out, nil
}
