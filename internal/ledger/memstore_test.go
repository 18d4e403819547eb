package ledger

import (
	"context"
	"fmt"
	"sync"
)

// memStore is an in-memory Store with the same conditional-insert contract
// as the PostgreSQL repository: one event per (batch, previous hash) link.
type memStore struct {
	mu       sync.Mutex
	events   map[string][]Event // batch id → ascending chain
	herbs    []Herb
	actors   []Actor
	products map[string]Product // code → product

	// insertHook runs inside InsertEvent before the conflict check; tests
	// use it to force races and transient failures.
	insertHook func(*Event) error
}

func newMemStore() *memStore {
	return &memStore{
		events:   map[string][]Event{},
		products: map[string]Product{},
		herbs: []Herb{
			{
				ID:   "HRB-001",
				Name: "Ashwagandha",
				ApprovedRegions: []Region{
					{Name: "Madhya Pradesh", MinLat: 21.0, MaxLat: 26.9, MinLng: 74.0, MaxLng: 82.8},
				},
			},
			{ID: "HRB-002", Name: "Turmeric"},
		},
		actors: []Actor{
			{ID: "ACT-001", Name: "Ramesh Kumar", Role: "farmer"},
			{ID: "ACT-003", Name: "Green Valley Collectors", Role: "collector"},
			{ID: "ACT-004", Name: "Himalaya Processing Unit", Role: "processor"},
			{ID: "ACT-005", Name: "AyurLab Quality Services", Role: "lab"},
			{ID: "ACT-006", Name: "Vedic Wellness Pharma", Role: "manufacturer"},
		},
	}
}

func (m *memStore) InsertEvent(_ context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertHook != nil {
		if err := m.insertHook(ev); err != nil {
			return err
		}
	}
	for _, existing := range m.events[ev.BatchID] {
		if existing.PreviousHash == ev.PreviousHash {
			return fmt.Errorf("insert event for batch %s: %w", ev.BatchID, ErrHeadConflict)
		}
	}
	m.events[ev.BatchID] = append(m.events[ev.BatchID], *ev)
	return nil
}

func (m *memStore) LatestEvent(_ context.Context, batchID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.events[batchID]
	if len(chain) == 0 {
		return nil, nil
	}
	head := chain[len(chain)-1]
	return &head, nil
}

func (m *memStore) ListEvents(_ context.Context, batchID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[batchID]...), nil
}

func (m *memStore) FindHerbByName(_ context.Context, name string) (*Herb, error) {
	for _, h := range m.herbs {
		if h.Name == name {
			herb := h
			return &herb, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindHerbByID(_ context.Context, id string) (*Herb, error) {
	for _, h := range m.herbs {
		if h.ID == id {
			herb := h
			return &herb, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListHerbs(_ context.Context) ([]Herb, error) {
	return append([]Herb(nil), m.herbs...), nil
}

func (m *memStore) FindActorByName(_ context.Context, name string) (*Actor, error) {
	for _, a := range m.actors {
		if a.Name == name {
			actor := a
			return &actor, nil
		}
	}
	return nil, nil
}

func (m *memStore) ActorsByIDs(_ context.Context, ids []string) (map[string]Actor, error) {
	out := map[string]Actor{}
	for _, a := range m.actors {
		for _, id := range ids {
			if a.ID == id {
				out[id] = a
			}
		}
	}
	return out, nil
}

func (m *memStore) FindProductByCode(_ context.Context, code string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[code]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *memStore) InsertProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Code] = *p
	return nil
}

func (m *memStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{EventsByType: map[string]int64{}}
	stats.TotalBatches = int64(len(m.events))
	stats.TotalProducts = int64(len(m.products))
	for _, chain := range m.events {
		for _, ev := range chain {
			stats.TotalEvents++
			stats.EventsByType[string(ev.EventType)]++
			if !ev.IsValid {
				stats.InvalidEvents++
			}
			if ev.EventType == EventQualityTest {
				if testResult(ev.Metadata) == "pass" {
					stats.QualityPassed++
				} else {
					stats.QualityFailed++
				}
			}
		}
	}
	return stats, nil
}
