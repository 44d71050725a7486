package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/activity-scorer/internal/types"
)

// ErrNotFound is returned when no record exists for an address
var ErrNotFound = errors.New("record not found")

// ActivityRepository persists one UserActivityRecord per lowercase address.
// Upsert replaces every field except rank; only UpdateRanks writes rank.
type ActivityRepository interface {
	Get(ctx context.Context, address string) (*types.UserActivityRecord, error)
	Upsert(ctx context.Context, record *types.UserActivityRecord) error
	ListScores(ctx context.Context) ([]types.AddressScore, error)
	UpdateRanks(ctx context.Context, ranks []types.RankAssignment) error
	ListLeaderboard(ctx context.Context, limit, offset int) ([]types.LeaderboardEntry, error)
	Count(ctx context.Context) (int64, error)
}

// PostgresActivityRepository stores records in the user_activity table
type PostgresActivityRepository struct {
	db *PostgresDB
}

// NewPostgresActivityRepository creates a new Postgres activity repository
func NewPostgresActivityRepository(db *PostgresDB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

const selectActivityColumns = `
	address, total_txs, gas_spent_eth, active_gas_eth, gas_milestone_tier, token_volume,
	contracts_deployed, days_active, first_tx_timestamp, last_tx_timestamp,
	score, rank, last_updated`

// Get retrieves the record for an address
func (r *PostgresActivityRepository) Get(ctx context.Context, address string) (*types.UserActivityRecord, error) {
	query := `SELECT` + selectActivityColumns + ` FROM user_activity WHERE address = $1`

	var rec types.UserActivityRecord
	err := r.db.Pool().QueryRow(ctx, query, address).Scan(
		&rec.Address,
		&rec.TotalTxs,
		&rec.GasSpentEth,
		&rec.ActiveGasEth,
		&rec.GasMilestoneTier,
		&rec.TokenVolume,
		&rec.ContractsDeployed,
		&rec.DaysActive,
		&rec.FirstTxTimestamp,
		&rec.LastTxTimestamp,
		&rec.Score,
		&rec.Rank,
		&rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get activity record: %w", err)
	}

	return &rec, nil
}

// Upsert inserts or fully replaces the record. rank is left untouched.
func (r *PostgresActivityRepository) Upsert(ctx context.Context, rec *types.UserActivityRecord) error {
	query := `
		INSERT INTO user_activity (
			address, total_txs, gas_spent_eth, active_gas_eth, gas_milestone_tier, token_volume,
			contracts_deployed, days_active, first_tx_timestamp, last_tx_timestamp,
			score, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address) DO UPDATE SET
			total_txs = EXCLUDED.total_txs,
			gas_spent_eth = EXCLUDED.gas_spent_eth,
			active_gas_eth = EXCLUDED.active_gas_eth,
			gas_milestone_tier = EXCLUDED.gas_milestone_tier,
			token_volume = EXCLUDED.token_volume,
			contracts_deployed = EXCLUDED.contracts_deployed,
			days_active = EXCLUDED.days_active,
			first_tx_timestamp = EXCLUDED.first_tx_timestamp,
			last_tx_timestamp = EXCLUDED.last_tx_timestamp,
			score = EXCLUDED.score,
			last_updated = EXCLUDED.last_updated
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.Address,
		rec.TotalTxs,
		rec.GasSpentEth,
		rec.ActiveGasEth,
		rec.GasMilestoneTier,
		rec.TokenVolume,
		rec.ContractsDeployed,
		rec.DaysActive,
		rec.FirstTxTimestamp,
		rec.LastTxTimestamp,
		rec.Score,
		rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert activity record: %w", err)
	}
	return nil
}

// ListScores returns (address, score) for every stored record
func (r *PostgresActivityRepository) ListScores(ctx context.Context) ([]types.AddressScore, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT address, score FROM user_activity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}

	scores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AddressScore, error) {
		var s types.AddressScore
		err := row.Scan(&s.Address, &s.Score)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan scores: %w", err)
	}
	return scores, nil
}

// UpdateRanks writes every rank in one transaction so readers never see a
// half-applied pass
func (r *PostgresActivityRepository) UpdateRanks(ctx context.Context, ranks []types.RankAssignment) error {
	if len(ranks) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rank transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, rk := range ranks {
		batch.Queue(`UPDATE user_activity SET rank = $2 WHERE address = $1`, rk.Address, rk.Rank)
	}

	br := tx.SendBatch(ctx, batch)
	for range ranks {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to update rank: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close rank batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ranks: %w", err)
	}
	return nil
}

// ListLeaderboard returns one page ordered by score, ties by address
func (r *PostgresActivityRepository) ListLeaderboard(ctx context.Context, limit, offset int) ([]types.LeaderboardEntry, error) {
	query := `
		SELECT address, rank, score, total_txs, gas_spent_eth, contracts_deployed, days_active, last_updated
		FROM user_activity
		ORDER BY score DESC, address ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.LeaderboardEntry, error) {
		var e types.LeaderboardEntry
		err := row.Scan(
			&e.Address,
			&e.Rank,
			&e.Score,
			&e.TotalTxs,
			&e.GasSpentEth,
			&e.ContractsDeployed,
			&e.DaysActive,
			&e.LastUpdated,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored records
func (r *PostgresActivityRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM user_activity`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity records: %w", err)
	}
	return count, nil
}
