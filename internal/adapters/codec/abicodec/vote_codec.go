// Package abicodec decodes vote entries in their on-chain form: each entry is
// the ABI encoding of the tuple (uint256 proposalId, uint256 amount).
package abicodec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

// EntrySize is the length of one encoded vote: two 32-byte words.
const EntrySize = 64

type VoteCodec struct {
	args abi.Arguments
}

func NewVoteCodec() (*VoteCodec, error) {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build uint256 type: %w", err)
	}
	return &VoteCodec{
		args: abi.Arguments{
			{Name: "proposalId", Type: uint256Ty},
			{Name: "amount", Type: uint256Ty},
		},
	}, nil
}

func (c *VoteCodec) Encode(v domain.VoteRequest) ([]byte, error) {
	return c.args.Pack(v.ProposalID.ToBig(), v.Amount.ToBig())
}

func (c *VoteCodec) EncodeBatch(votes []domain.VoteRequest) ([][]byte, error) {
	out := make([][]byte, len(votes))
	for i, v := range votes {
		b, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("vote %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func (c *VoteCodec) Decode(data []byte) (domain.VoteRequest, error) {
	if len(data) != EntrySize {
		return domain.VoteRequest{}, fmt.Errorf("%w: entry is %d bytes, want %d", domain.ErrInvalidVote, len(data), EntrySize)
	}
	values, err := c.args.Unpack(data)
	if err != nil {
		return domain.VoteRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidVote, err)
	}

	var v domain.VoteRequest
	if err := toUint256(&v.ProposalID, values[0], "proposal id"); err != nil {
		return domain.VoteRequest{}, err
	}
	if err := toUint256(&v.Amount, values[1], "amount"); err != nil {
		return domain.VoteRequest{}, err
	}
	return v, nil
}

// DecodeBatch decodes every entry in order. An empty batch is valid.
func (c *VoteCodec) DecodeBatch(payloads [][]byte) ([]domain.VoteRequest, error) {
	votes := make([]domain.VoteRequest, len(payloads))
	for i, p := range payloads {
		v, err := c.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("vote %d: %w", i, err)
		}
		votes[i] = v
	}
	return votes, nil
}

func toUint256(dst *uint256.Int, value interface{}, field string) error {
	n, ok := value.(*big.Int)
	if !ok {
		return fmt.Errorf("%w: %s has unexpected type %T", domain.ErrInvalidVote, field, value)
	}
	if overflow := dst.SetFromBig(n); overflow {
		return fmt.Errorf("%w: %s %s exceeds 256 bits", domain.ErrInvalidVote, field, n)
	}
	return nil
}
