package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"go.uber.org/zap"
)

// Persister saves the aggregate. Implementations are best-effort: a failed
// save is logged and the in-memory state stays authoritative.
type Persister interface {
	Persist(ctx context.Context, st *domain.State)
}

// StateService is the single owner of the State aggregate. Every read and
// write goes through its mutex, so monitor ticks and operator commands only
// interleave between critical sections.
type StateService struct {
	repo   domain.StateRepository
	logger *zap.Logger

	mu    sync.Mutex
	state *domain.State
}

func NewStateService(repo domain.StateRepository, st *domain.State, logger *zap.Logger) *StateService {
	return &StateService{
		repo:   repo,
		logger: logger,
		state:  st,
	}
}

// LoadStateService restores the persisted state, or creates and saves a
// default one when nothing was persisted yet.
func LoadStateService(ctx context.Context, repo domain.StateRepository, defaults domain.Parameters, logger *zap.Logger) (*StateService, error) {
	st, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if st == nil {
		logger.Info("No persisted state found, starting from defaults", zap.String("symbol", defaults.Symbol))
		st = domain.NewState(defaults)
		if err := repo.Save(ctx, st); err != nil {
			logger.Error("Failed to save initial state", zap.Error(err))
		}
	}
	return NewStateService(repo, st, logger), nil
}

// WithLock runs fn with exclusive access. Nothing is persisted implicitly.
func (s *StateService) WithLock(fn func(st *domain.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Mutate runs fn with exclusive access and persists when fn succeeds.
func (s *StateService) Mutate(ctx context.Context, fn func(st *domain.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.state); err != nil {
		return err
	}
	s.Persist(ctx, s.state)
	return nil
}

// Replace swaps the whole aggregate and persists it.
func (s *StateService) Replace(ctx context.Context, st *domain.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.Persist(ctx, s.state)
}

// Snapshot returns a deep copy.
func (s *StateService) Snapshot() *domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Persist must be called with the lock held (from inside WithLock/Mutate).
func (s *StateService) Persist(ctx context.Context, st *domain.State) {
	if err := s.repo.Save(ctx, st); err != nil {
		s.logger.Error("Failed to persist state", zap.Error(err))
	}
}
