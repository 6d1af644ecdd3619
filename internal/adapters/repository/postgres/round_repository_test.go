package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/engine"
)

func setupPostgresContainer(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", err
	}
	return pgContainer, connStr, nil
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	container, connStr, err := setupPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func newRound(t *testing.T, repo *RoundRepository, cfg domain.EngineConfig) *domain.Round {
	t.Helper()
	round := &domain.Round{
		ID:        uuid.New(),
		Config:    cfg,
		Status:    domain.RoundStatusOpen,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateRound(context.Background(), round))
	return round
}

func rendered(entries []domain.TallyEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, Migrate(context.Background(), db))

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestRoundLifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(db)

	round := newRound(t, repo, domain.EngineConfig{InitialCredits: math.MaxUint64, CostFactor: 2})

	got, err := repo.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got.Config.InitialCredits)
	assert.Equal(t, uint64(2), got.Config.CostFactor)
	assert.True(t, got.IsOpen())
	assert.Nil(t, got.TalliedAt)

	_, err = repo.GetRound(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)

	closedAt := time.Now().UTC()
	require.NoError(t, repo.CloseRound(ctx, round.ID, closedAt))
	got, err = repo.GetRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)

	assert.ErrorIs(t, repo.CloseRound(ctx, uuid.New(), closedAt), domain.ErrRoundNotFound)

	rounds, err := repo.ListRounds(ctx)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestLedgerPersistence(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(db)
	round := newRound(t, repo, domain.EngineConfig{InitialCredits: 1000, CostFactor: 1})

	voter := common.HexToAddress("0x1111111111111111111111111111111111111111")
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.SaveVoter(ctx, round.ID, domain.Voter{Address: voter, CreditBalance: 1000, RegisteredAt: now}))
	assert.ErrorIs(t,
		repo.SaveVoter(ctx, round.ID, domain.Voter{Address: voter, CreditBalance: 1000, RegisteredAt: now}),
		domain.ErrAlreadyRegistered)

	// 2^64 + 7 and 2^70 do not fit in a uint64 column.
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	wide.AddUint64(wide, 7)
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 70)

	batch := uuid.New()
	records := []domain.VoteRecord{
		{Seq: 1, BatchID: batch, Voter: voter, ProposalID: *uint256.NewInt(3), Amount: *uint256.NewInt(22), Cost: 484, CreatedAt: now},
		{Seq: 2, BatchID: batch, Voter: voter, ProposalID: *wide, Amount: *huge, Cost: 0, CreatedAt: now},
	}
	require.NoError(t, repo.AppendBatch(ctx, round.ID, domain.Voter{Address: voter, CreditBalance: 155}, records))

	stranger := common.HexToAddress("0x2222222222222222222222222222222222222222")
	assert.ErrorIs(t, repo.AppendBatch(ctx, round.ID, domain.Voter{Address: stranger}, nil), domain.ErrNotRegistered)

	state, err := repo.LoadState(ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, state.Voters, 1)
	assert.Equal(t, voter, state.Voters[0].Address)
	assert.Equal(t, uint64(155), state.Voters[0].CreditBalance)
	require.Len(t, state.Records, 2)
	assert.Equal(t, records[0].ProposalID, state.Records[0].ProposalID)
	assert.Equal(t, "18446744073709551623", state.Records[1].ProposalID.Dec())
	assert.Equal(t, *huge, state.Records[1].Amount)
	assert.Equal(t, batch, state.Records[0].BatchID)
	assert.False(t, state.Tallied)

	hugeSquare := new(big.Int).Lsh(big.NewInt(1), 140)
	entries := []domain.TallyEntry{
		{ProposalID: *uint256.NewInt(3), Weight: big.NewInt(484), TotalAmount: big.NewInt(22)},
		{ProposalID: *wide, Weight: hugeSquare, TotalAmount: huge.ToBig()},
	}
	require.NoError(t, repo.SaveTally(ctx, round.ID, entries, now))
	require.NoError(t, repo.SaveTally(ctx, round.ID, entries, now))

	state, err = repo.LoadState(ctx, round.ID)
	require.NoError(t, err)
	assert.True(t, state.Tallied)
	assert.Equal(t, rendered(entries), rendered(state.Tally))
	assert.Equal(t, 0, state.Tally[1].Weight.Cmp(hugeSquare))
}

func TestEngineRestoresFromRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(db)
	cfg := domain.EngineConfig{InitialCredits: 1000, CostFactor: 1}
	round := newRound(t, repo, cfg)

	journal := &boundJournal{repo: repo, roundID: round.ID}
	e := engine.New(cfg, engine.WithJournal(journal))

	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	require.NoError(t, e.Register(ctx, a))
	require.NoError(t, e.Vote(ctx, a, []domain.VoteRequest{
		domain.NewVoteRequest(3, 22), domain.NewVoteRequest(1, 19), domain.NewVoteRequest(9, 9),
	}))
	require.NoError(t, e.Register(ctx, b))
	require.NoError(t, e.Vote(ctx, b, []domain.VoteRequest{
		domain.NewVoteRequest(3, 9), domain.NewVoteRequest(1, 4), domain.NewVoteRequest(9, 17),
	}))
	require.NoError(t, e.Tally(ctx))

	state, err := repo.LoadState(ctx, round.ID)
	require.NoError(t, err)
	restored, err := engine.Restore(cfg, state)
	require.NoError(t, err)

	balance, err := restored.CreditBalance(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(74), balance)
	balance, err = restored.CreditBalance(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(614), balance)

	want, err := e.FinalTally()
	require.NoError(t, err)
	got, err := restored.FinalTally()
	require.NoError(t, err)
	assert.Equal(t, rendered(want), rendered(got))
	assert.Equal(t, "565", got[0].Weight.String())
}

type boundJournal struct {
	repo    *RoundRepository
	roundID uuid.UUID
}

func (j *boundJournal) SaveVoter(ctx context.Context, v domain.Voter) error {
	return j.repo.SaveVoter(ctx, j.roundID, v)
}

func (j *boundJournal) AppendBatch(ctx context.Context, v domain.Voter, records []domain.VoteRecord) error {
	return j.repo.AppendBatch(ctx, j.roundID, v, records)
}

func (j *boundJournal) SaveTally(ctx context.Context, entries []domain.TallyEntry) error {
	return j.repo.SaveTally(ctx, j.roundID, entries, time.Now().UTC())
}

func TestMigrationContent(t *testing.T) {
	content, err := MigrationContent("create_ledger.up")
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS vote_records")

	_, err = MigrationContent("does_not_exist")
	assert.Error(t, err)

	_, err = MigrationContent("up")
	assert.Error(t, err)
}
