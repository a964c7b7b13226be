package router

import "sync"

// Sequencer maintains a per-node monotonically increasing generation
// counter (spec §4.5). Generation 0 is reserved for "no events yet";
// the first emitted event for any node is generation 1.
type Sequencer struct {
	mu    sync.Mutex
	gen   map[string]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{gen: make(map[string]uint64)}
}

// Next returns the next generation for nodeID, incrementing the counter.
func (s *Sequencer) Next(nodeID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[nodeID]++
	return s.gen[nodeID]
}

// Current returns the last generation issued for nodeID without
// incrementing it (0 if none issued yet).
func (s *Sequencer) Current(nodeID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[nodeID]
}
