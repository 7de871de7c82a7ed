package usecase

import "github.com/vitos/crypto_gc_bot/internal/domain"

// MemoryStateStore keeps PositionState in memory. Backtests plug it in
// so replayed transitions flow through the same persistence contract as
// the live file store without touching disk.
type MemoryStateStore struct {
	state *domain.PositionState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) AcquireLock() error { return nil }
func (m *MemoryStateStore) ReleaseLock()       {}

func (m *MemoryStateStore) Load() (*domain.PositionState, error) {
	if m.state == nil {
		return domain.NewPositionState(), nil
	}
	copied := *m.state
	return &copied, nil
}

func (m *MemoryStateStore) Save(state *domain.PositionState) error {
	copied := *state
	m.state = &copied
	return nil
}
