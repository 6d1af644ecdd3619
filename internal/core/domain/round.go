package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EngineConfig holds the parameters a round is created with. It never changes
// after the round's engine is built.
type EngineConfig struct {
	InitialCredits uint64 `json:"initial_credits"`
	CostFactor     uint64 `json:"cost_factor"`
}

// NewEngineConfig validates signed input coming from flags, env or JSON.
func NewEngineConfig(initialCredits, costFactor int64) (EngineConfig, error) {
	if initialCredits < 0 {
		return EngineConfig{}, fmt.Errorf("%w: initial credits must not be negative, got %d", ErrConfig, initialCredits)
	}
	if costFactor < 0 {
		return EngineConfig{}, fmt.Errorf("%w: cost factor must not be negative, got %d", ErrConfig, costFactor)
	}
	return EngineConfig{
		InitialCredits: uint64(initialCredits),
		CostFactor:     uint64(costFactor),
	}, nil
}

type RoundStatus string

const (
	RoundStatusOpen   RoundStatus = "open"
	RoundStatusClosed RoundStatus = "closed"
)

type Round struct {
	ID        uuid.UUID    `json:"id"`
	Config    EngineConfig `json:"config"`
	Status    RoundStatus  `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	TalliedAt *time.Time   `json:"tallied_at,omitempty"`
}

func (r *Round) IsOpen() bool {
	return r.Status == RoundStatusOpen
}

// RoundState is everything needed to rebuild a round's engine after a restart.
type RoundState struct {
	Voters  []Voter
	Records []VoteRecord
	Tally   []TallyEntry
	Tallied bool
}
