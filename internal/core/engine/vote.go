package engine

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

// Cost is the credit price of casting amount votes on one proposal:
// amount² × costFactor. ok is false when the price does not fit in 64 bits,
// i.e. it exceeds every possible balance. A zero cost factor makes every
// amount free, however large.
func Cost(amount *uint256.Int, costFactor uint64) (cost uint64, ok bool) {
	if costFactor == 0 {
		return 0, true
	}
	if !amount.IsUint64() {
		return 0, false
	}
	a := amount.Uint64()
	hi, sq := bits.Mul64(a, a)
	if hi != 0 {
		return 0, false
	}
	hi, cost = bits.Mul64(sq, costFactor)
	return cost, hi == 0
}

// Vote charges the whole batch against the voter's balance and appends one
// record per request. The batch is priced before anything is mutated, so a
// rejected batch leaves the balance and the log untouched.
func (e *Engine) Vote(ctx context.Context, addr common.Address, votes []domain.VoteRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	voter, ok := e.voters[addr]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotRegistered, addr.Hex())
	}

	costs := make([]uint64, len(votes))
	var total uint64
	for i, v := range votes {
		cost, ok := Cost(&v.Amount, e.cfg.CostFactor)
		if !ok {
			return fmt.Errorf("%w: vote %d cost overflows", domain.ErrInsufficientCredits, i)
		}
		sum, carry := bits.Add64(total, cost, 0)
		if carry != 0 {
			return fmt.Errorf("%w: batch cost overflows", domain.ErrInsufficientCredits)
		}
		costs[i] = cost
		total = sum
	}
	if total > voter.CreditBalance {
		return fmt.Errorf("%w: batch costs %d, balance is %d",
			domain.ErrInsufficientCredits, total, voter.CreditBalance)
	}

	batchID := uuid.New()
	now := e.now().UTC()
	next := e.nextSeq()
	records := make([]domain.VoteRecord, len(votes))
	for i, v := range votes {
		records[i] = domain.VoteRecord{
			Seq:        next + uint64(i),
			BatchID:    batchID,
			Voter:      addr,
			ProposalID: v.ProposalID,
			Amount:     v.Amount,
			Cost:       costs[i],
			CreatedAt:  now,
		}
	}
	voter.CreditBalance -= total

	if err := e.journal.AppendBatch(ctx, voter, records); err != nil {
		return fmt.Errorf("failed to append vote batch: %w", err)
	}
	e.voters[addr] = voter
	e.records = append(e.records, records...)

	e.logger.Debug("vote batch accepted",
		zap.String("voter", addr.Hex()),
		zap.String("batch_id", batchID.String()),
		zap.Int("votes", len(votes)),
		zap.Uint64("cost", total),
		zap.Uint64("balance", voter.CreditBalance),
	)
	return nil
}

func (e *Engine) nextSeq() uint64 {
	if len(e.records) == 0 {
		return 1
	}
	return e.records[len(e.records)-1].Seq + 1
}
