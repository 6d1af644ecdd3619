package domain

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// TallyEntry aggregates every accepted vote on one proposal.
// Weight is the sum of squared amounts, TotalAmount the plain sum. Neither
// is bounded: with a zero cost factor a single amount may be 2^256-1.
type TallyEntry struct {
	ProposalID  uint256.Int
	Weight      *big.Int
	TotalAmount *big.Int
}

// Clone returns a copy that shares no memory with e.
func (e TallyEntry) Clone() TallyEntry {
	return TallyEntry{
		ProposalID:  e.ProposalID,
		Weight:      new(big.Int).Set(e.Weight),
		TotalAmount: new(big.Int).Set(e.TotalAmount),
	}
}

func (e TallyEntry) String() string {
	return fmt.Sprintf("%s:%s:%s", e.ProposalID.Dec(), e.Weight, e.TotalAmount)
}

func CloneTally(entries []TallyEntry) []TallyEntry {
	out := make([]TallyEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
