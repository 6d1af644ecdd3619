package ports

import (
	"context"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

// VoteDecoder turns boundary-encoded vote entries into requests, keeping
// submission order.
type VoteDecoder interface {
	DecodeBatch(payloads [][]byte) ([]domain.VoteRequest, error)
}

type CastVotesInput struct {
	RoundID  string
	Voter    string
	Payloads [][]byte
}

type VoteService interface {
	RegisterVoter(ctx context.Context, roundID, voter string) (*domain.Voter, error)
	CastVotes(ctx context.Context, input CastVotesInput) error
	CreditBalance(ctx context.Context, roundID, voter string) (uint64, error)
}
