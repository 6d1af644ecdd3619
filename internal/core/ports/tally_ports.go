package ports

import (
	"context"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

type TallyService interface {
	Tally(ctx context.Context, roundID string) ([]domain.TallyEntry, error)
	FinalTally(ctx context.Context, roundID string) ([]domain.TallyEntry, error)
	TallyOpenRounds(ctx context.Context) error
}
