package main

import "github.com/umbragrid/server/internal/vision"

// memoryStore is the in-process visibility map: observer -> target ->
// state. It is the source of truth for the simulation loop; the database
// repo, when enabled, mirrors it.
type memoryStore struct {
	byObserver map[string]map[string]vision.State
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byObserver: make(map[string]map[string]vision.State)}
}

func (s *memoryStore) seed(states map[string]map[string]vision.State) {
	for observer, m := range states {
		inner := make(map[string]vision.State, len(m))
		for target, st := range m {
			inner[target] = st
		}
		s.byObserver[observer] = inner
	}
}

// states satisfies vision.StoredStatesFunc.
func (s *memoryStore) states(observer string) map[string]vision.State {
	return s.byObserver[observer]
}

// apply commits a batch of deltas. Observed entries are removed so absence
// keeps meaning the baseline state.
func (s *memoryStore) apply(updates []vision.Update) {
	for _, u := range updates {
		m := s.byObserver[u.Observer]
		if u.State == vision.Observed {
			if m != nil {
				delete(m, u.Target)
				if len(m) == 0 {
					delete(s.byObserver, u.Observer)
				}
			}
			continue
		}
		if m == nil {
			m = make(map[string]vision.State)
			s.byObserver[u.Observer] = m
		}
		m[u.Target] = u.State
	}
}

func (s *memoryStore) len() int {
	total := 0
	for _, m := range s.byObserver {
		total += len(m)
	}
	return total
}
