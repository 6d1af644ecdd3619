package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vncsmyrnk/qvote/internal/adapters/codec/abicodec"
	"github.com/vncsmyrnk/qvote/internal/adapters/repository/memory"
	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

const (
	voterA = "0x00000000000000000000000000000000000000aa"
	voterB = "0x00000000000000000000000000000000000000bb"
)

type fixture struct {
	repo   *memory.RoundRepository
	rounds *Rounds
	codec  *abicodec.VoteCodec
	round  ports.RoundService
	vote   ports.VoteService
	tally  ports.TallyService
}

func newFixture(t *testing.T, repo *memory.RoundRepository) *fixture {
	t.Helper()
	codec, err := abicodec.NewVoteCodec()
	require.NoError(t, err)

	rounds := NewRounds(repo, repo, zaptest.NewLogger(t))
	return &fixture{
		repo:   repo,
		rounds: rounds,
		codec:  codec,
		round:  NewRoundService(rounds),
		vote:   NewVoteService(rounds, codec),
		tally:  NewTallyService(rounds),
	}
}

func (f *fixture) payloads(t *testing.T, pairs ...uint64) [][]byte {
	t.Helper()
	var votes []domain.VoteRequest
	for i := 0; i+1 < len(pairs); i += 2 {
		votes = append(votes, domain.NewVoteRequest(pairs[i], pairs[i+1]))
	}
	out, err := f.codec.EncodeBatch(votes)
	require.NoError(t, err)
	return out
}

func (f *fixture) cast(t *testing.T, roundID, voter string, pairs ...uint64) error {
	t.Helper()
	return f.vote.CastVotes(context.Background(), ports.CastVotesInput{
		RoundID:  roundID,
		Voter:    voter,
		Payloads: f.payloads(t, pairs...),
	})
}

func rendered(entries []domain.TallyEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

func TestRoundServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())

	round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 1000, CostFactor: 1})
	require.NoError(t, err)
	id := round.ID.String()

	_, err = f.vote.RegisterVoter(ctx, id, voterA)
	require.NoError(t, err)
	_, err = f.vote.RegisterVoter(ctx, id, voterB)
	require.NoError(t, err)
	require.NoError(t, f.cast(t, id, voterA, 3, 22, 1, 19, 9, 9))
	require.NoError(t, f.cast(t, id, voterB, 3, 9, 1, 4, 9, 17))

	_, err = f.tally.FinalTally(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotTallied)

	entries, err := f.round.CloseRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"3:565:31", "1:377:23", "9:370:26"}, rendered(entries))

	closed, err := f.round.GetRound(ctx, id)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.TalliedAt)

	assert.ErrorIs(t, f.cast(t, id, voterA, 1, 1), domain.ErrRoundClosed)
	_, err = f.vote.RegisterVoter(ctx, id, "0x00000000000000000000000000000000000000cc")
	assert.ErrorIs(t, err, domain.ErrRoundClosed)

	// Closing twice returns the same tally and keeps the first close time.
	again, err := f.round.CloseRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
	reread, err := f.round.GetRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, closed.ClosedAt, reread.ClosedAt)

	stored, err := f.repo.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStatusClosed, stored.Status)
}

func TestRoundServiceErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())

	_, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 10, CostFactor: -1})
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = f.round.GetRound(ctx, "round-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRoundID)

	_, err = f.round.GetRound(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)

	_, err = f.round.CloseRound(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)

	rounds, err := f.round.ListRounds(ctx)
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestVoteServiceRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())
	round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 100, CostFactor: 2})
	require.NoError(t, err)
	id := round.ID.String()

	_, err = f.vote.RegisterVoter(ctx, id, "0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	assert.ErrorIs(t, f.cast(t, id, voterA, 1, 1), domain.ErrNotRegistered)

	voter, err := f.vote.RegisterVoter(ctx, id, voterA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), voter.CreditBalance)

	_, err = f.vote.RegisterVoter(ctx, id, voterA)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	// 2 * (5² + 5²) = 100 is exactly affordable; one more credit is not.
	assert.ErrorIs(t, f.cast(t, id, voterA, 1, 5, 2, 5, 3, 1), domain.ErrInsufficientCredits)
	require.NoError(t, f.cast(t, id, voterA, 1, 5, 2, 5))

	balance, err := f.vote.CreditBalance(ctx, id, voterA)
	require.NoError(t, err)
	assert.Zero(t, balance)

	err = f.vote.CastVotes(ctx, ports.CastVotesInput{RoundID: id, Voter: voterA, Payloads: [][]byte{{0x01}}})
	assert.ErrorIs(t, err, domain.ErrInvalidVote)

	_, err = f.vote.CreditBalance(ctx, id, voterB)
	assert.ErrorIs(t, err, domain.ErrNotRegistered)
}

func TestRoundsRestoreFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRoundRepository()
	first := newFixture(t, repo)

	round, err := first.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 1000, CostFactor: 1})
	require.NoError(t, err)
	id := round.ID.String()
	_, err = first.vote.RegisterVoter(ctx, id, voterA)
	require.NoError(t, err)
	require.NoError(t, first.cast(t, id, voterA, 3, 22, 1, 19, 9, 9))
	want, err := first.tally.Tally(ctx, id)
	require.NoError(t, err)

	// A fresh registry over the same storage sees the same round.
	second := newFixture(t, repo)
	require.NoError(t, second.rounds.Load(ctx))

	balance, err := second.vote.CreditBalance(ctx, id, voterA)
	require.NoError(t, err)
	assert.Equal(t, uint64(74), balance)

	got, err := second.tally.FinalTally(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = second.vote.RegisterVoter(ctx, id, voterA)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	// Lazy restore without Load.
	third := newFixture(t, repo)
	balance, err = third.vote.CreditBalance(ctx, id, voterA)
	require.NoError(t, err)
	assert.Equal(t, uint64(74), balance)
}

func TestTallyOpenRounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())

	ids := make([]string, 3)
	for i := range ids {
		round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 50, CostFactor: 1})
		require.NoError(t, err)
		ids[i] = round.ID.String()
		_, err = f.vote.RegisterVoter(ctx, ids[i], voterA)
		require.NoError(t, err)
		require.NoError(t, f.cast(t, ids[i], voterA, uint64(i), 2))
	}

	// Closing tallies the round; a vote afterwards cannot land, so the
	// closed round's tally must stay as it was.
	closed, err := f.round.CloseRound(ctx, ids[2])
	require.NoError(t, err)

	require.NoError(t, f.tally.TallyOpenRounds(ctx))

	for i, id := range ids[:2] {
		entries, err := f.tally.FinalTally(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{fmt.Sprintf("%d:4:2", i)}, rendered(entries))
	}
	entries, err := f.tally.FinalTally(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, rendered(closed), rendered(entries))
}

func TestFullWidthPayloadsThroughService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())
	round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 10, CostFactor: 0})
	require.NoError(t, err)
	id := round.ID.String()
	_, err = f.vote.RegisterVoter(ctx, id, voterA)
	require.NoError(t, err)

	var vote domain.VoteRequest
	vote.ProposalID.Lsh(uint256.NewInt(1), 64)
	vote.ProposalID.AddUint64(&vote.ProposalID, 1)
	vote.Amount.Lsh(uint256.NewInt(1), 40)
	payloads, err := f.codec.EncodeBatch([]domain.VoteRequest{vote, vote})
	require.NoError(t, err)

	require.NoError(t, f.vote.CastVotes(ctx, ports.CastVotesInput{RoundID: id, Voter: voterA, Payloads: payloads}))
	balance, err := f.vote.CreditBalance(ctx, id, voterA)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), balance)

	entries, err := f.tally.Tally(ctx, id)
	require.NoError(t, err)
	// Two votes of 2^40 on proposal 2^64+1: weight 2^81, total 2^41.
	assert.Equal(t, []string{"18446744073709551617:2417851639229258349412352:2199023255552"}, rendered(entries))
}

func TestTallyWithoutVotesIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())
	round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 5, CostFactor: 1})
	require.NoError(t, err)

	entries, err := f.tally.Tally(ctx, round.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestCloseWaitsForInFlightVotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.NewRoundRepository())
	round, err := f.round.CreateRound(ctx, ports.CreateRoundInput{InitialCredits: 1000, CostFactor: 1})
	require.NoError(t, err)
	id := round.ID.String()
	_, err = f.vote.RegisterVoter(ctx, id, voterA)
	require.NoError(t, err)

	payloads := f.payloads(t, 7, 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := uint64(0)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.vote.CastVotes(ctx, ports.CastVotesInput{RoundID: id, Voter: voterA, Payloads: payloads})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrRoundClosed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	entries, err := f.round.CloseRound(ctx, id)
	require.NoError(t, err)
	wg.Wait()

	// Every vote accepted before the close is in the tally; none after it.
	counted := new(big.Int)
	for _, e := range entries {
		counted.Add(counted, e.TotalAmount)
	}
	assert.Equal(t, new(big.Int).SetUint64(accepted).String(), counted.String())
}

func TestTokenService(t *testing.T) {
	svc, err := NewTokenService([]byte("secret"), time.Minute)
	require.NoError(t, err)

	token, err := svc.Issue(voterA, domain.RoleVoter)
	require.NoError(t, err)
	principal, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &domain.Principal{Subject: voterA, Role: domain.RoleVoter}, principal)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenService([]byte("other"), time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		svc.(*tokenService).now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { svc.(*tokenService).now = time.Now }()
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Verify("not-a-token")
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := svc.Issue("", domain.RoleAdmin)
		assert.Error(t, err)
		_, err = svc.Issue("someone", domain.Role("root"))
		assert.Error(t, err)
		_, err = NewTokenService(nil, time.Minute)
		assert.ErrorIs(t, err, domain.ErrEmptySecret)
	})
}
