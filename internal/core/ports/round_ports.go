package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

type RoundRepository interface {
	CreateRound(ctx context.Context, round *domain.Round) error
	GetRound(ctx context.Context, id uuid.UUID) (*domain.Round, error)
	ListRounds(ctx context.Context) ([]*domain.Round, error)
	CloseRound(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	LoadState(ctx context.Context, id uuid.UUID) (domain.RoundState, error)
}

// LedgerRepository persists engine mutations. Each call is atomic.
type LedgerRepository interface {
	SaveVoter(ctx context.Context, roundID uuid.UUID, voter domain.Voter) error
	AppendBatch(ctx context.Context, roundID uuid.UUID, voter domain.Voter, records []domain.VoteRecord) error
	SaveTally(ctx context.Context, roundID uuid.UUID, entries []domain.TallyEntry, talliedAt time.Time) error
}

type CreateRoundInput struct {
	InitialCredits int64
	CostFactor     int64
}

type RoundService interface {
	CreateRound(ctx context.Context, input CreateRoundInput) (*domain.Round, error)
	GetRound(ctx context.Context, id string) (*domain.Round, error)
	ListRounds(ctx context.Context) ([]*domain.Round, error)
	CloseRound(ctx context.Context, id string) ([]domain.TallyEntry, error)
}
