package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type roundService struct {
	rounds *Rounds
}

func NewRoundService(rounds *Rounds) ports.RoundService {
	return &roundService{
		rounds: rounds,
	}
}

func (s *roundService) CreateRound(ctx context.Context, input ports.CreateRoundInput) (*domain.Round, error) {
	cfg, err := domain.NewEngineConfig(input.InitialCredits, input.CostFactor)
	if err != nil {
		return nil, err
	}

	entry, err := s.rounds.create(ctx, cfg)
	if err != nil {
		s.rounds.logger.Error("round creation failed", zap.Error(err))
		return nil, err
	}

	round := entry.snapshot()
	s.rounds.logger.Info("round created",
		zap.String("round_id", round.ID.String()),
		zap.Uint64("initial_credits", cfg.InitialCredits),
		zap.Uint64("cost_factor", cfg.CostFactor),
	)
	return round, nil
}

func (s *roundService) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	entry, err := s.rounds.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.snapshot(), nil
}

func (s *roundService) ListRounds(ctx context.Context) ([]*domain.Round, error) {
	rounds, err := s.rounds.repo.ListRounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	// Metadata held by a live engine entry is fresher than the stored row.
	out := make([]*domain.Round, 0, len(rounds))
	for _, round := range rounds {
		s.rounds.mu.RLock()
		entry, ok := s.rounds.entries[round.ID]
		s.rounds.mu.RUnlock()
		if ok {
			round = entry.snapshot()
		}
		out = append(out, round)
	}
	return out, nil
}

// CloseRound computes the final tally and stops the round from accepting
// registrations and votes. Closing an already closed round re-tallies it.
func (s *roundService) CloseRound(ctx context.Context, id string) ([]domain.TallyEntry, error) {
	entry, err := s.rounds.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	entry.gate.Lock()
	defer entry.gate.Unlock()

	if err := entry.engine.Tally(ctx); err != nil {
		s.rounds.logger.Error("round close tally failed", zap.String("round_id", id), zap.Error(err))
		return nil, err
	}

	if entry.snapshot().IsOpen() {
		closedAt := s.rounds.now().UTC()
		if err := s.rounds.repo.CloseRound(ctx, entry.round.ID, closedAt); err != nil {
			s.rounds.logger.Error("round close failed", zap.String("round_id", id), zap.Error(err))
			return nil, fmt.Errorf("failed to close round: %w", err)
		}
		entry.update(func(r *domain.Round) {
			r.Status = domain.RoundStatusClosed
			r.ClosedAt = &closedAt
		})
		s.rounds.logger.Info("round closed", zap.String("round_id", id))
	}

	return entry.engine.FinalTally()
}
