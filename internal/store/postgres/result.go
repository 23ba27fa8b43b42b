package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/store"
)

// ResultRepo implements store.ResultRepository backed by Postgres.
type ResultRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewResultRepo returns a new ResultRepo.
func NewResultRepo(db *sqlx.DB, clk clock.Clock) *ResultRepo {
	return &ResultRepo{db: db, clock: clk}
}

func (r *ResultRepo) Save(ctx context.Context, res *store.Result) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.clock.Now().UTC()
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO results (room_code, auction_id, tournament_id, winner_id, winner_name, teams, matches, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		res.RoomCode, res.AuctionID, res.TournamentID, res.WinnerID, res.WinnerName, res.Teams, res.Matches, res.CreatedAt,
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("saving result for room %s: %w", res.RoomCode, err)
	}
	return nil
}

func (r *ResultRepo) ListRecent(ctx context.Context, limit int) ([]store.Result, error) {
	var results []store.Result
	err := r.db.SelectContext(ctx, &results,
		`SELECT id, room_code, auction_id, tournament_id, winner_id, winner_name, teams, matches, created_at
		 FROM results ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	return results, nil
}
