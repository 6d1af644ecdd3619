package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

const uniqueViolation = "23505"

// RoundRepository stores rounds and their ledgers in PostgreSQL. It
// satisfies both ports.RoundRepository and ports.LedgerRepository.
//
// Credits are stored as NUMERIC(20,0), proposal ids and amounts as
// NUMERIC(78,0) and tally sums as unbounded NUMERIC. All of them travel as
// decimal text, since database/sql refuses uint64 arguments above
// math.MaxInt64.
type RoundRepository struct {
	db *sql.DB
}

func NewRoundRepository(db *sql.DB) *RoundRepository {
	return &RoundRepository{
		db: db,
	}
}

func dec(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func (r *RoundRepository) CreateRound(ctx context.Context, round *domain.Round) error {
	query := `
		INSERT INTO rounds (id, initial_credits, cost_factor, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		round.ID, dec(round.Config.InitialCredits), dec(round.Config.CostFactor), string(round.Status), round.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

func (r *RoundRepository) GetRound(ctx context.Context, id uuid.UUID) (*domain.Round, error) {
	query := `
		SELECT id, initial_credits, cost_factor, status, created_at, closed_at, tallied_at
		FROM rounds
		WHERE id = $1
	`
	round, err := scanRound(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

func (r *RoundRepository) ListRounds(ctx context.Context) ([]*domain.Round, error) {
	query := `
		SELECT id, initial_credits, cost_factor, status, created_at, closed_at, tallied_at
		FROM rounds
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*domain.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

func (r *RoundRepository) CloseRound(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	query := `UPDATE rounds SET status = 'closed', closed_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRoundNotFound
	}
	return nil
}

func (r *RoundRepository) LoadState(ctx context.Context, id uuid.UUID) (domain.RoundState, error) {
	round, err := r.GetRound(ctx, id)
	if err != nil {
		return domain.RoundState{}, err
	}

	state := domain.RoundState{Tallied: round.TalliedAt != nil}
	if state.Voters, err = r.fetchVoters(ctx, id); err != nil {
		return domain.RoundState{}, err
	}
	if state.Records, err = r.fetchRecords(ctx, id); err != nil {
		return domain.RoundState{}, err
	}
	if state.Tallied {
		if state.Tally, err = r.fetchTally(ctx, id); err != nil {
			return domain.RoundState{}, err
		}
	}
	return state, nil
}

func (r *RoundRepository) SaveVoter(ctx context.Context, roundID uuid.UUID, voter domain.Voter) error {
	query := `
		INSERT INTO voters (round_id, address, credit_balance, registered_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, roundID, voter.Address.Hex(), dec(voter.CreditBalance), voter.RegisteredAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to insert voter: %w", err)
	}
	return nil
}

func (r *RoundRepository) AppendBatch(ctx context.Context, roundID uuid.UUID, voter domain.Voter, records []domain.VoteRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE voters SET credit_balance = $3 WHERE round_id = $1 AND address = $2`,
		roundID, voter.Address.Hex(), dec(voter.CreditBalance))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotRegistered
	}

	queryRecord := `
		INSERT INTO vote_records (round_id, seq, batch_id, voter, proposal_id, amount, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	stmt, err := tx.PrepareContext(ctx, queryRecord)
	if err != nil {
		return fmt.Errorf("failed to prepare record statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err = stmt.ExecContext(ctx, roundID, int64(rec.Seq), rec.BatchID, rec.Voter.Hex(),
			rec.ProposalID.Dec(), rec.Amount.Dec(), dec(rec.Cost), rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert vote record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *RoundRepository) SaveTally(ctx context.Context, roundID uuid.UUID, entries []domain.TallyEntry, talliedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tally_entries WHERE round_id = $1`, roundID); err != nil {
		return fmt.Errorf("failed to clear tally: %w", err)
	}

	queryEntry := `
		INSERT INTO tally_entries (round_id, position, proposal_id, weight, total_amount)
		VALUES ($1, $2, $3, $4, $5)
	`
	stmt, err := tx.PrepareContext(ctx, queryEntry)
	if err != nil {
		return fmt.Errorf("failed to prepare tally statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		_, err = stmt.ExecContext(ctx, roundID, i, e.ProposalID.Dec(), e.Weight.String(), e.TotalAmount.String())
		if err != nil {
			return fmt.Errorf("failed to insert tally entry: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE rounds SET tallied_at = $2 WHERE id = $1`, roundID, talliedAt)
	if err != nil {
		return fmt.Errorf("failed to stamp tally time: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRoundNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*domain.Round, error) {
	var round domain.Round
	var status string
	err := row.Scan(
		&round.ID,
		&round.Config.InitialCredits,
		&round.Config.CostFactor,
		&status,
		&round.CreatedAt,
		&round.ClosedAt,
		&round.TalliedAt,
	)
	if err != nil {
		return nil, err
	}
	round.Status = domain.RoundStatus(status)
	return &round, nil
}

func (r *RoundRepository) fetchVoters(ctx context.Context, roundID uuid.UUID) ([]domain.Voter, error) {
	query := `
		SELECT address, credit_balance, registered_at
		FROM voters
		WHERE round_id = $1
		ORDER BY registered_at, address
	`
	rows, err := r.db.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get voters: %w", err)
	}
	defer rows.Close()

	var voters []domain.Voter
	for rows.Next() {
		var v domain.Voter
		var address string
		if err := rows.Scan(&address, &v.CreditBalance, &v.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan voter: %w", err)
		}
		v.Address = common.HexToAddress(address)
		voters = append(voters, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voters: %w", err)
	}
	return voters, nil
}

func (r *RoundRepository) fetchRecords(ctx context.Context, roundID uuid.UUID) ([]domain.VoteRecord, error) {
	query := `
		SELECT seq, batch_id, voter, proposal_id, amount, cost, created_at
		FROM vote_records
		WHERE round_id = $1
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get vote records: %w", err)
	}
	defer rows.Close()

	var records []domain.VoteRecord
	for rows.Next() {
		var rec domain.VoteRecord
		var voter, proposalID, amount string
		if err := rows.Scan(&rec.Seq, &rec.BatchID, &voter, &proposalID, &amount, &rec.Cost, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote record: %w", err)
		}
		rec.Voter = common.HexToAddress(voter)
		if err := rec.ProposalID.SetFromDecimal(proposalID); err != nil {
			return nil, fmt.Errorf("failed to parse proposal id %q: %w", proposalID, err)
		}
		if err := rec.Amount.SetFromDecimal(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vote records: %w", err)
	}
	return records, nil
}

func (r *RoundRepository) fetchTally(ctx context.Context, roundID uuid.UUID) ([]domain.TallyEntry, error) {
	query := `
		SELECT proposal_id, weight, total_amount
		FROM tally_entries
		WHERE round_id = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tally entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.TallyEntry{}
	for rows.Next() {
		var proposalID, weight, total string
		if err := rows.Scan(&proposalID, &weight, &total); err != nil {
			return nil, fmt.Errorf("failed to scan tally entry: %w", err)
		}
		e, err := parseTallyEntry(proposalID, weight, total)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tally entries: %w", err)
	}
	return entries, nil
}

func parseTallyEntry(proposalID, weight, total string) (domain.TallyEntry, error) {
	var e domain.TallyEntry
	if err := e.ProposalID.SetFromDecimal(proposalID); err != nil {
		return domain.TallyEntry{}, fmt.Errorf("failed to parse proposal id %q: %w", proposalID, err)
	}
	var ok bool
	if e.Weight, ok = new(big.Int).SetString(weight, 10); !ok {
		return domain.TallyEntry{}, fmt.Errorf("failed to parse weight %q", weight)
	}
	if e.TotalAmount, ok = new(big.Int).SetString(total, 10); !ok {
		return domain.TallyEntry{}, fmt.Errorf("failed to parse total amount %q", total)
	}
	return e, nil
}
