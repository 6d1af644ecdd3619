package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/engine"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

// Rounds owns one engine per round and keeps it in sync with the
// repositories. Engines are built on first use or by Load.
type Rounds struct {
	repo   ports.RoundRepository
	ledger ports.LedgerRepository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[uuid.UUID]*roundEntry
}

type roundEntry struct {
	// gate is read-held by register and vote, write-held by close.
	gate sync.RWMutex

	mu    sync.Mutex
	round domain.Round

	engine *engine.Engine
}

func (e *roundEntry) snapshot() *domain.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.round
	return &r
}

func (e *roundEntry) update(fn func(r *domain.Round)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.round)
}

func NewRounds(repo ports.RoundRepository, ledger ports.LedgerRepository, logger *zap.Logger) *Rounds {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rounds{
		repo:    repo,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
		entries: make(map[uuid.UUID]*roundEntry),
	}
}

// Load rebuilds the engine of every persisted round.
func (rs *Rounds) Load(ctx context.Context) error {
	rounds, err := rs.repo.ListRounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rounds: %w", err)
	}
	for _, round := range rounds {
		if _, err := rs.get(ctx, round.ID); err != nil {
			return err
		}
	}
	rs.logger.Info("rounds loaded", zap.Int("count", len(rounds)))
	return nil
}

func (rs *Rounds) create(ctx context.Context, cfg domain.EngineConfig) (*roundEntry, error) {
	round := domain.Round{
		ID:        uuid.New(),
		Config:    cfg,
		Status:    domain.RoundStatusOpen,
		CreatedAt: rs.now().UTC(),
	}
	if err := rs.repo.CreateRound(ctx, &round); err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	entry := &roundEntry{round: round}
	entry.engine = engine.New(cfg, rs.engineOptions(entry)...)

	rs.mu.Lock()
	rs.entries[round.ID] = entry
	rs.mu.Unlock()
	return entry, nil
}

func (rs *Rounds) get(ctx context.Context, id uuid.UUID) (*roundEntry, error) {
	rs.mu.RLock()
	entry, ok := rs.entries[id]
	rs.mu.RUnlock()
	if ok {
		return entry, nil
	}

	round, err := rs.repo.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := rs.repo.LoadState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load round %s: %w", id, err)
	}

	entry = &roundEntry{round: *round}
	eng, err := engine.Restore(round.Config, state, rs.engineOptions(entry)...)
	if err != nil {
		return nil, fmt.Errorf("failed to restore round %s: %w", id, err)
	}
	entry.engine = eng

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if existing, ok := rs.entries[id]; ok {
		return existing, nil
	}
	rs.entries[id] = entry
	return entry, nil
}

func (rs *Rounds) lookup(ctx context.Context, id string) (*roundEntry, error) {
	roundID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrInvalidRoundID
	}
	return rs.get(ctx, roundID)
}

func (rs *Rounds) engineOptions(entry *roundEntry) []engine.Option {
	return []engine.Option{
		engine.WithJournal(&roundJournal{ledger: rs.ledger, entry: entry, now: rs.now}),
		engine.WithLogger(rs.logger.With(zap.String("round_id", entry.round.ID.String()))),
		engine.WithClock(rs.now),
	}
}

// roundJournal binds the ledger repository to one round.
type roundJournal struct {
	ledger ports.LedgerRepository
	entry  *roundEntry
	now    func() time.Time
}

func (j *roundJournal) SaveVoter(ctx context.Context, voter domain.Voter) error {
	return j.ledger.SaveVoter(ctx, j.entry.round.ID, voter)
}

func (j *roundJournal) AppendBatch(ctx context.Context, voter domain.Voter, records []domain.VoteRecord) error {
	return j.ledger.AppendBatch(ctx, j.entry.round.ID, voter, records)
}

func (j *roundJournal) SaveTally(ctx context.Context, entries []domain.TallyEntry) error {
	talliedAt := j.now().UTC()
	if err := j.ledger.SaveTally(ctx, j.entry.round.ID, entries, talliedAt); err != nil {
		return err
	}
	j.entry.update(func(r *domain.Round) { r.TalliedAt = &talliedAt })
	return nil
}

// isCallerError reports whether err is an expected rejection rather than a
// failure worth logging at error level.
func isCallerError(err error) bool {
	for _, target := range []error{
		domain.ErrConfig,
		domain.ErrAlreadyRegistered,
		domain.ErrNotRegistered,
		domain.ErrInsufficientCredits,
		domain.ErrNotTallied,
		domain.ErrInvalidVote,
		domain.ErrInvalidAddress,
		domain.ErrInvalidRoundID,
		domain.ErrRoundNotFound,
		domain.ErrRoundClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
