package catalog

import (
	"context"
	"sync"
)

// Sequencer numbers catalog queries so only the most recent one may update
// what is displayed. Beginning a query cancels the one before it.
type Sequencer struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Begin starts query number seq with a context derived from parent
func (s *Sequencer) Begin(parent context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.seq++
	s.cancel = cancel
	return ctx, s.seq
}

// IsCurrent reports whether seq is still the latest query
func (s *Sequencer) IsCurrent(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.seq
}

// End releases the context of seq if it is still the latest query
func (s *Sequencer) End(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq == s.seq && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
