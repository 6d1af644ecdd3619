package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

// Tally recomputes the per-proposal aggregates from the full vote log and
// stores them as the final tally.
func (e *Engine) Tally(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := ComputeTally(e.records)
	if err := e.journal.SaveTally(ctx, entries); err != nil {
		return fmt.Errorf("failed to save tally: %w", err)
	}
	e.tally = entries
	e.tallied = true

	e.logger.Debug("round tallied",
		zap.Int("records", len(e.records)),
		zap.Int("proposals", len(entries)),
	)
	return nil
}

// FinalTally returns a copy of the most recent tally, or ErrNotTallied if
// Tally has never run.
func (e *Engine) FinalTally() ([]domain.TallyEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.tallied {
		return nil, domain.ErrNotTallied
	}
	return domain.CloneTally(e.tally), nil
}

// ComputeTally groups records by proposal. Entries are ordered by the first
// record that referenced each proposal. Sums are exact at any width.
func ComputeTally(records []domain.VoteRecord) []domain.TallyEntry {
	entries := []domain.TallyEntry{}
	index := make(map[uint256.Int]int)

	for _, r := range records {
		i, seen := index[r.ProposalID]
		if !seen {
			i = len(entries)
			index[r.ProposalID] = i
			entries = append(entries, domain.TallyEntry{
				ProposalID:  r.ProposalID,
				Weight:      new(big.Int),
				TotalAmount: new(big.Int),
			})
		}

		amount := r.Amount.ToBig()
		entries[i].TotalAmount.Add(entries[i].TotalAmount, amount)
		entries[i].Weight.Add(entries[i].Weight, amount.Mul(amount, amount))
	}
	return entries
}
