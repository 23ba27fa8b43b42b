// Package event defines the domain events recorded by the auction engine
// and tournament simulator. Events are appended to a ledger for audit and
// handed back to callers as broadcast triggers; they are never replayed.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionStarted            Type = "auction.started"
	AuctionBidPlaced          Type = "auction.bid_placed"
	AuctionPassed             Type = "auction.passed"
	AuctionItemSold           Type = "auction.item_sold"
	AuctionItemUnsold         Type = "auction.item_unsold"
	AuctionSecondRoundStarted Type = "auction.second_round_started"
	AuctionCompleted          Type = "auction.completed"
	AuctionPaused             Type = "auction.paused"
	AuctionResumed            Type = "auction.resumed"
	AuctionEnded              Type = "auction.ended"

	TournamentCompleted Type = "tournament.completed"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	RoomCode    string          `json:"room_code" db:"room_code"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionStartedData is the payload for AuctionStarted events.
type AuctionStartedData struct {
	Teams    []string `json:"teams"`
	PoolSize int      `json:"pool_size"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	ItemID string `json:"item_id"`
	TeamID string `json:"team_id"`
	Amount int    `json:"amount"`
}

// PassedData is the payload for AuctionPassed events.
type PassedData struct {
	ItemID    string `json:"item_id"`
	TeamID    string `json:"team_id"`
	PassCount int    `json:"pass_count"`
}

// ItemResolvedData is the payload for AuctionItemSold and AuctionItemUnsold
// events. TeamID and Price are empty for unsold items.
type ItemResolvedData struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	TeamID   string `json:"team_id,omitempty"`
	TeamName string `json:"team_name,omitempty"`
	Price    int    `json:"price,omitempty"`
}

// SecondRoundData is the payload for AuctionSecondRoundStarted events.
type SecondRoundData struct {
	Items int `json:"items"`
}

// RemovedTeam reports a team dropped from tournament play at auction end.
type RemovedTeam struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
	Reason      string `json:"reason"`
}

// AuctionEndedData is the payload for AuctionEnded events.
type AuctionEndedData struct {
	RemovedTeams     []RemovedTeam `json:"removed_teams,omitempty"`
	TournamentWinner string        `json:"tournament_winner,omitempty"`
}

// TournamentCompletedData is the payload for TournamentCompleted events.
type TournamentCompletedData struct {
	Winner  string `json:"winner"`
	Matches int    `json:"matches"`
}

// New builds an unsaved event with a JSON payload. Marshal errors are
// impossible for the payload types in this package and are ignored.
func New(aggregateID, roomCode string, t Type, version int, payload any, at time.Time) Event {
	data, _ := json.Marshal(payload)
	if payload == nil {
		data = json.RawMessage(`{}`)
	}
	return Event{
		AggregateID: aggregateID,
		RoomCode:    roomCode,
		Type:        t,
		Data:        data,
		Version:     version,
		CreatedAt:   at.UTC(),
	}
}
