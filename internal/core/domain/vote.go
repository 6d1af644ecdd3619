package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// VoteRequest is one (proposal, amount) pair of a submitted batch. Both are
// full 256-bit values, as on the wire.
type VoteRequest struct {
	ProposalID uint256.Int
	Amount     uint256.Int
}

// NewVoteRequest builds a request from ids and amounts that fit in 64 bits.
func NewVoteRequest(proposalID, amount uint64) VoteRequest {
	var v VoteRequest
	v.ProposalID.SetUint64(proposalID)
	v.Amount.SetUint64(amount)
	return v
}

// VoteRecord is an accepted vote. Seq is its position in the round's log.
type VoteRecord struct {
	Seq        uint64
	BatchID    uuid.UUID
	Voter      common.Address
	ProposalID uint256.Int
	Amount     uint256.Int
	Cost       uint64
	CreatedAt  time.Time
}
