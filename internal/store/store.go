package store

import (
	"context"
	"time"
)

// Result is a finished room: who won and how the tournament went.
type Result struct {
	ID           string    `db:"id" json:"id"`
	RoomCode     string    `db:"room_code" json:"roomCode"`
	AuctionID    string    `db:"auction_id" json:"auctionId"`
	TournamentID string    `db:"tournament_id" json:"tournamentId"`
	WinnerID     string    `db:"winner_id" json:"winnerId"`
	WinnerName   string    `db:"winner_name" json:"winnerName"`
	Teams        int       `db:"teams" json:"teams"`
	Matches      int       `db:"matches" json:"matches"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ResultRepository persists finished rooms.
type ResultRepository interface {
	Save(ctx context.Context, r *Result) error
	// ListRecent returns up to limit results, newest first.
	ListRecent(ctx context.Context, limit int) ([]Result, error)
}
