// Package engine implements the quadratic voting credit ledger of a single
// round: voter registration, batched vote submission charged at
// amount² × costFactor, and the per-proposal tally derived from the vote log.
//
// An Engine is safe for concurrent use. Mutations are serialized by one lock
// per engine; reads share it.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

// Journal receives every mutation before it is applied in memory. If a
// journal call fails the engine is left unchanged.
type Journal interface {
	SaveVoter(ctx context.Context, voter domain.Voter) error
	AppendBatch(ctx context.Context, voter domain.Voter, records []domain.VoteRecord) error
	SaveTally(ctx context.Context, entries []domain.TallyEntry) error
}

type nopJournal struct{}

func (nopJournal) SaveVoter(context.Context, domain.Voter) error { return nil }
func (nopJournal) AppendBatch(context.Context, domain.Voter, []domain.VoteRecord) error { return nil }
func (nopJournal) SaveTally(context.Context, []domain.TallyEntry) error { return nil }

type Option func(*Engine)

func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

type Engine struct {
	mu sync.RWMutex

	cfg     domain.EngineConfig
	voters  map[common.Address]domain.Voter
	records []domain.VoteRecord

	tally   []domain.TallyEntry
	tallied bool

	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an engine with no voters and an empty vote log.
func New(cfg domain.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		voters:  make(map[common.Address]domain.Voter),
		journal: nopJournal{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore rebuilds an engine from persisted state. Records must be in
// insertion order; balances are taken as stored, not recomputed.
func Restore(cfg domain.EngineConfig, state domain.RoundState, opts ...Option) (*Engine, error) {
	e := New(cfg, opts...)
	for _, v := range state.Voters {
		if _, ok := e.voters[v.Address]; ok {
			return nil, fmt.Errorf("restore: duplicate voter %s", v.Address.Hex())
		}
		if v.CreditBalance > cfg.InitialCredits {
			return nil, fmt.Errorf("restore: voter %s balance %d exceeds initial credits %d",
				v.Address.Hex(), v.CreditBalance, cfg.InitialCredits)
		}
		e.voters[v.Address] = v
	}
	for i, r := range state.Records {
		if _, ok := e.voters[r.Voter]; !ok {
			return nil, fmt.Errorf("restore: record %d references unregistered voter %s", r.Seq, r.Voter.Hex())
		}
		if i > 0 && r.Seq <= state.Records[i-1].Seq {
			return nil, fmt.Errorf("restore: record sequence out of order at %d", r.Seq)
		}
	}
	e.records = append([]domain.VoteRecord(nil), state.Records...)
	if state.Tallied {
		e.tally = domain.CloneTally(state.Tally)
		e.tallied = true
	}
	return e, nil
}

func (e *Engine) Config() domain.EngineConfig {
	return e.cfg
}

// Register creates the voter with the round's initial credits. A second
// registration of the same address fails with ErrAlreadyRegistered and never
// re-issues credits.
func (e *Engine) Register(ctx context.Context, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.voters[addr]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, addr.Hex())
	}

	voter := domain.Voter{
		Address:       addr,
		CreditBalance: e.cfg.InitialCredits,
		RegisteredAt:  e.now().UTC(),
	}
	if err := e.journal.SaveVoter(ctx, voter); err != nil {
		return fmt.Errorf("failed to save voter: %w", err)
	}
	e.voters[addr] = voter

	e.logger.Debug("voter registered",
		zap.String("voter", addr.Hex()),
		zap.Uint64("credits", voter.CreditBalance),
	)
	return nil
}

func (e *Engine) CreditBalance(addr common.Address) (uint64, error) {
	voter, err := e.Voter(addr)
	if err != nil {
		return 0, err
	}
	return voter.CreditBalance, nil
}

func (e *Engine) Voter(addr common.Address) (domain.Voter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	voter, ok := e.voters[addr]
	if !ok {
		return domain.Voter{}, fmt.Errorf("%w: %s", domain.ErrNotRegistered, addr.Hex())
	}
	return voter, nil
}

// Voters returns every registered voter ordered by address.
func (e *Engine) Voters() []domain.Voter {
	e.mu.RLock()
	defer e.mu.RUnlock()

	voters := make([]domain.Voter, 0, len(e.voters))
	for _, v := range e.voters {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool {
		return bytes.Compare(voters[i].Address[:], voters[j].Address[:]) < 0
	})
	return voters
}

// Records returns a copy of the vote log in insertion order.
func (e *Engine) Records() []domain.VoteRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]domain.VoteRecord(nil), e.records...)
}
