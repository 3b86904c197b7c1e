// Package work holds the candidate block and target every worker mines
// against, and the refresher that keeps them current.
package work

import (
	"math/big"
	"sync"

	"github.com/bardlex/snapminer/internal/chain"
)

// Snapshot is a private copy of the shared work taken at one instant.
type Snapshot struct {
	Block  *chain.CandidateBlock
	Target *big.Int
}

// State is the shared (block, target) pair. The refresher is the only
// writer; every worker reads. Each field is replaced as a whole under the
// write lock, so a reader sees either the old or the new value of a field
// but never a mix.
type State struct {
	mu        sync.RWMutex
	block     *chain.CandidateBlock
	target    *big.Int
	installed bool
}

// NewState starts from the placeholder block and a zero target, which no
// digest other than zero can meet.
func NewState() *State {
	return &State{
		block:  chain.PlaceholderBlock(),
		target: new(big.Int),
	}
}

// Snapshot copies block and target under one read lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Block:  s.block.Clone(),
		Target: new(big.Int).Set(s.target),
	}
}

// Target returns a copy of the live target.
func (s *State) Target() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.target)
}

// Block returns a copy of the live candidate block.
func (s *State) Block() *chain.CandidateBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block.Clone()
}

// SetBlock replaces the candidate block. The caller keeps ownership of b.
func (s *State) SetBlock(b *chain.CandidateBlock) {
	c := b.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = c
	s.installed = true
}

// SetTarget replaces the target. The caller keeps ownership of t.
func (s *State) SetTarget(t *big.Int) {
	c := new(big.Int).Set(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = c
}

// Installed reports whether real work has replaced the placeholder.
func (s *State) Installed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed
}
