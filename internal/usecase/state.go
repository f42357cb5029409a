package usecase

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"title/internal/domain"
)

// EnvironmentState is the process-wide lifecycle latch. It starts
// Inactive and flips to Active exactly once, when the tree bootstrap
// completes; the tree address is recorded at the same moment.
type EnvironmentState struct {
	mu          sync.RWMutex
	state       domain.State
	treeAddress *solana.PublicKey
}

// NewEnvironmentState starts in Inactive.
func NewEnvironmentState() *EnvironmentState {
	return &EnvironmentState{state: domain.StateInactive}
}

// Current returns the state at this instant.
func (s *EnvironmentState) Current() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TreeAddress returns the recorded tree account, when Active.
func (s *EnvironmentState) TreeAddress() (solana.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.treeAddress == nil {
		return solana.PublicKey{}, false
	}
	return *s.treeAddress, true
}

// Activate performs the one-shot Inactive→Active transition.
func (s *EnvironmentState) Activate(tree solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInactive {
		return fmt.Errorf("%w: environment already %s", domain.ErrInvalidState, s.state)
	}
	s.state = domain.StateActive
	s.treeAddress = &tree
	return nil
}

// RequireActive gates the verify and sign pipelines.
func (s *EnvironmentState) RequireActive() error {
	if s.Current() != domain.StateActive {
		return fmt.Errorf("%w: environment is not active yet", domain.ErrInvalidState)
	}
	return nil
}
