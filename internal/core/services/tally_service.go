package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type tallyService struct {
	rounds *Rounds
}

func NewTallyService(rounds *Rounds) ports.TallyService {
	return &tallyService{
		rounds: rounds,
	}
}

func (s *tallyService) Tally(ctx context.Context, roundID string) ([]domain.TallyEntry, error) {
	entry, err := s.rounds.lookup(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if err := entry.engine.Tally(ctx); err != nil {
		s.rounds.logger.Error("round tally failed", zap.String("round_id", roundID), zap.Error(err))
		return nil, err
	}
	entries, err := entry.engine.FinalTally()
	if err != nil {
		return nil, err
	}

	s.rounds.logger.Info("round tallied",
		zap.String("round_id", roundID),
		zap.Int("proposals", len(entries)),
	)
	return entries, nil
}

func (s *tallyService) FinalTally(ctx context.Context, roundID string) ([]domain.TallyEntry, error) {
	entry, err := s.rounds.lookup(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return entry.engine.FinalTally()
}

// TallyOpenRounds recomputes the tally of every open round, one goroutine per
// round, and returns the first failure.
func (s *tallyService) TallyOpenRounds(ctx context.Context) error {
	rounds, err := s.rounds.repo.ListRounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch all rounds: %w", err)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(rounds))

	for _, round := range rounds {
		if !round.IsOpen() {
			continue
		}
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := s.Tally(ctx, id.String()); err != nil {
				errChan <- fmt.Errorf("failed to tally round %s: %w", id, err)
			}
		}(round.ID)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}

	return nil
}
