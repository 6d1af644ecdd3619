package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type voteService struct {
	rounds  *Rounds
	decoder ports.VoteDecoder
}

func NewVoteService(rounds *Rounds, decoder ports.VoteDecoder) ports.VoteService {
	return &voteService{
		rounds:  rounds,
		decoder: decoder,
	}
}

func (s *voteService) RegisterVoter(ctx context.Context, roundID, voter string) (*domain.Voter, error) {
	addr, err := domain.ParseAddress(voter)
	if err != nil {
		return nil, err
	}
	entry, err := s.rounds.lookup(ctx, roundID)
	if err != nil {
		return nil, err
	}

	entry.gate.RLock()
	defer entry.gate.RUnlock()
	if !entry.snapshot().IsOpen() {
		return nil, domain.ErrRoundClosed
	}

	if err := entry.engine.Register(ctx, addr); err != nil {
		s.logFailure("voter registration rejected", roundID, addr.Hex(), err)
		return nil, err
	}
	registered, err := entry.engine.Voter(addr)
	if err != nil {
		return nil, err
	}

	s.rounds.logger.Info("voter registered",
		zap.String("round_id", roundID),
		zap.String("voter", addr.Hex()),
		zap.Uint64("credits", registered.CreditBalance),
	)
	return &registered, nil
}

func (s *voteService) CastVotes(ctx context.Context, input ports.CastVotesInput) error {
	addr, err := domain.ParseAddress(input.Voter)
	if err != nil {
		return err
	}
	votes, err := s.decoder.DecodeBatch(input.Payloads)
	if err != nil {
		return err
	}
	entry, err := s.rounds.lookup(ctx, input.RoundID)
	if err != nil {
		return err
	}

	entry.gate.RLock()
	defer entry.gate.RUnlock()
	if !entry.snapshot().IsOpen() {
		return domain.ErrRoundClosed
	}

	if err := entry.engine.Vote(ctx, addr, votes); err != nil {
		s.logFailure("vote batch rejected", input.RoundID, addr.Hex(), err)
		return err
	}

	s.rounds.logger.Info("vote batch accepted",
		zap.String("round_id", input.RoundID),
		zap.String("voter", addr.Hex()),
		zap.Int("votes", len(votes)),
	)
	return nil
}

func (s *voteService) CreditBalance(ctx context.Context, roundID, voter string) (uint64, error) {
	addr, err := domain.ParseAddress(voter)
	if err != nil {
		return 0, err
	}
	entry, err := s.rounds.lookup(ctx, roundID)
	if err != nil {
		return 0, err
	}
	return entry.engine.CreditBalance(addr)
}

func (s *voteService) logFailure(msg, roundID, voter string, err error) {
	fields := []zap.Field{
		zap.String("round_id", roundID),
		zap.String("voter", voter),
		zap.Error(err),
	}
	if isCallerError(err) {
		s.rounds.logger.Warn(msg, fields...)
		return
	}
	s.rounds.logger.Error(msg, fields...)
}
