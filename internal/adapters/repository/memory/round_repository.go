package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

type roundData struct {
	round   domain.Round
	voters  map[string]domain.Voter
	order   []string
	records []domain.VoteRecord
	tally   []domain.TallyEntry
	tallied bool
}

// RoundRepository keeps rounds and their ledgers in process memory. It
// satisfies both ports.RoundRepository and ports.LedgerRepository.
type RoundRepository struct {
	mu     sync.RWMutex
	rounds map[uuid.UUID]*roundData
}

func NewRoundRepository() *RoundRepository {
	return &RoundRepository{
		rounds: make(map[uuid.UUID]*roundData),
	}
}

func (r *RoundRepository) CreateRound(_ context.Context, round *domain.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rounds[round.ID]; ok {
		return fmt.Errorf("round %s already exists", round.ID)
	}
	r.rounds[round.ID] = &roundData{
		round:  *round,
		voters: make(map[string]domain.Voter),
	}
	return nil
}

func (r *RoundRepository) GetRound(_ context.Context, id uuid.UUID) (*domain.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.rounds[id]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	round := data.round
	return &round, nil
}

func (r *RoundRepository) ListRounds(_ context.Context) ([]*domain.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rounds := make([]*domain.Round, 0, len(r.rounds))
	for _, data := range r.rounds {
		round := data.round
		rounds = append(rounds, &round)
	}
	sort.Slice(rounds, func(i, j int) bool {
		if rounds[i].CreatedAt.Equal(rounds[j].CreatedAt) {
			return rounds[i].ID.String() < rounds[j].ID.String()
		}
		return rounds[i].CreatedAt.Before(rounds[j].CreatedAt)
	})
	return rounds, nil
}

func (r *RoundRepository) CloseRound(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.rounds[id]
	if !ok {
		return domain.ErrRoundNotFound
	}
	data.round.Status = domain.RoundStatusClosed
	data.round.ClosedAt = &closedAt
	return nil
}

func (r *RoundRepository) LoadState(_ context.Context, id uuid.UUID) (domain.RoundState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.rounds[id]
	if !ok {
		return domain.RoundState{}, domain.ErrRoundNotFound
	}

	state := domain.RoundState{
		Voters:  make([]domain.Voter, 0, len(data.order)),
		Records: append([]domain.VoteRecord(nil), data.records...),
		Tallied: data.tallied,
	}
	for _, key := range data.order {
		state.Voters = append(state.Voters, data.voters[key])
	}
	if data.tallied {
		state.Tally = domain.CloneTally(data.tally)
	}
	return state, nil
}

func (r *RoundRepository) SaveVoter(_ context.Context, roundID uuid.UUID, voter domain.Voter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.rounds[roundID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	key := voter.Address.Hex()
	if _, exists := data.voters[key]; exists {
		return domain.ErrAlreadyRegistered
	}
	data.voters[key] = voter
	data.order = append(data.order, key)
	return nil
}

func (r *RoundRepository) AppendBatch(_ context.Context, roundID uuid.UUID, voter domain.Voter, records []domain.VoteRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.rounds[roundID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	key := voter.Address.Hex()
	if _, exists := data.voters[key]; !exists {
		return domain.ErrNotRegistered
	}
	data.voters[key] = voter
	data.records = append(data.records, records...)
	return nil
}

func (r *RoundRepository) SaveTally(_ context.Context, roundID uuid.UUID, entries []domain.TallyEntry, talliedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.rounds[roundID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	data.tally = domain.CloneTally(entries)
	data.tallied = true
	data.round.TalliedAt = &talliedAt
	return nil
}
