package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/activity-scorer/internal/types"
)

// ScoreHistoryRepository appends one row per aggregation to ClickHouse
type ScoreHistoryRepository struct {
	db *ClickHouseDB
}

// NewScoreHistoryRepository creates a new score history repository
func NewScoreHistoryRepository(db *ClickHouseDB) *ScoreHistoryRepository {
	return &ScoreHistoryRepository{db: db}
}

// Append writes one history point
func (r *ScoreHistoryRepository) Append(ctx context.Context, p types.ScoreHistoryPoint) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO score_history (address, score, total_txs, gas_spent_eth, days_active, computed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare score history batch: %w", err)
	}

	if err := batch.Append(
		p.Address,
		p.Score,
		p.TotalTxs,
		p.GasSpentEth,
		p.DaysActive,
		time.Unix(p.ComputedAt, 0).UTC(),
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append score history row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send score history batch: %w", err)
	}
	return nil
}

// List returns the most recent points for an address, newest first
func (r *ScoreHistoryRepository) List(ctx context.Context, address string, limit int) ([]types.ScoreHistoryPoint, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT address, score, total_txs, gas_spent_eth, days_active, computed_at
		FROM score_history
		WHERE address = ?
		ORDER BY computed_at DESC
		LIMIT ?
	`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	points := make([]types.ScoreHistoryPoint, 0, limit)
	for rows.Next() {
		var (
			p          types.ScoreHistoryPoint
			computedAt time.Time
		)
		if err := rows.Scan(&p.Address, &p.Score, &p.TotalTxs, &p.GasSpentEth, &p.DaysActive, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score history row: %w", err)
		}
		p.ComputedAt = computedAt.Unix()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score history: %w", err)
	}
	return points, nil
}
