// Package auction implements the per-room auction state machine: bidding,
// passing, item resolution, the second round and the end-of-auction roster
// filter.
package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
)

// Auction rules. Amounts are in thousands.
const (
	StartingBudget = 1_200_000
	MaxOverseas    = 8
	MaxRoster      = 25
	MinRoster      = 18
	BidTimer       = 30 // seconds
)

// Errors returned by Engine operations.
var (
	ErrNoTeams              = errors.New("at least one team is required")
	ErrAuctionExists        = errors.New("auction already running for room")
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrInvalidState         = errors.New("auction not active")
	ErrTeamNotFound         = errors.New("team not found")
	ErrSelfOutbid           = errors.New("team already holds the highest bid")
	ErrBidTooLow            = errors.New("bid is below minimum")
	ErrInsufficientBudget   = errors.New("insufficient budget")
	ErrOverseasLimitReached = errors.New("overseas player limit reached (8)")
	ErrRosterFull           = errors.New("roster is full (25)")
)

// Item is a player on the auction block.
type Item = pool.Item

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusEnded     Status = "ended"
	StatusCompleted Status = "completed"
)

// TeamSeed is a room member entering the auction with a franchise.
type TeamSeed struct {
	ID         string
	Name       string
	PlayerID   string
	PlayerName string
}

// Team is a franchise's live auction record.
type Team struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PlayerID      string `json:"playerId"`
	PlayerName    string `json:"playerName"`
	Budget        int    `json:"budget"`
	Players       []Item `json:"players"`
	OverseasCount int    `json:"overseasCount"`
	TotalPlayers  int    `json:"totalPlayers"`
}

func (t Team) clone() Team {
	t.Players = append([]Item(nil), t.Players...)
	return t
}

// TeamStats is the read-only per-team projection shown to clients.
type TeamStats struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Budget        int    `json:"budget"`
	BudgetSpent   int    `json:"budgetSpent"`
	TotalPlayers  int    `json:"totalPlayers"`
	OverseasCount int    `json:"overseasCount"`
	Players       []Item `json:"players"`
	CanBid        bool   `json:"canBid"`
}

// State is a snapshot of one room's auction.
type State struct {
	ID                 string              `json:"id"`
	RoomCode           string              `json:"roomCode"`
	Teams              []Team              `json:"teams"`
	Pool               []Item              `json:"playerPool"`
	CurrentIndex       int                 `json:"currentPlayerIndex"`
	CurrentItem        *Item               `json:"currentPlayer"`
	CurrentBid         int                 `json:"currentBid"`
	CurrentBidder      string              `json:"currentBidder,omitempty"`
	CurrentBidderTeam  string              `json:"currentBidderTeam,omitempty"`
	BidderIndex        int                 `json:"currentBidderIndex"`
	Status             Status              `json:"auctionStatus"`
	PassCount          int                 `json:"passCount"`
	SoldPlayers        []Item              `json:"soldPlayers"`
	UnsoldPlayers      []Item              `json:"unsoldPlayers"`
	SecondRoundStarted bool                `json:"secondRoundStarted"`
	SecondRoundPlayers []Item              `json:"secondRoundPlayers,omitempty"`
	TimeRemaining      int                 `json:"timeRemaining"`
	RemovedTeams       []event.RemovedTeam `json:"removedTeams,omitempty"`
	TournamentWinner   *Team               `json:"tournamentWinner,omitempty"`
	TournamentMessage  string              `json:"tournamentMessage,omitempty"`
	StartedAt          time.Time           `json:"startedAt"`
}

// clone returns a deep copy that shares no slices or pointers with s.
func (s *State) clone() State {
	c := *s
	c.Teams = make([]Team, len(s.Teams))
	for i, t := range s.Teams {
		c.Teams[i] = t.clone()
	}
	c.Pool = append([]Item(nil), s.Pool...)
	c.SoldPlayers = append([]Item(nil), s.SoldPlayers...)
	c.UnsoldPlayers = append([]Item(nil), s.UnsoldPlayers...)
	c.SecondRoundPlayers = append([]Item(nil), s.SecondRoundPlayers...)
	c.RemovedTeams = append([]event.RemovedTeam(nil), s.RemovedTeams...)
	if s.CurrentItem != nil {
		item := *s.CurrentItem
		c.CurrentItem = &item
	}
	if s.TournamentWinner != nil {
		w := s.TournamentWinner.clone()
		c.TournamentWinner = &w
	}
	return c
}

func (s *State) team(id string) *Team {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return &s.Teams[i]
		}
	}
	return nil
}

func (s *State) teamStats() []TeamStats {
	stats := make([]TeamStats, len(s.Teams))
	for i, t := range s.Teams {
		stats[i] = TeamStats{
			ID:            t.ID,
			Name:          t.Name,
			Budget:        t.Budget,
			BudgetSpent:   StartingBudget - t.Budget,
			TotalPlayers:  t.TotalPlayers,
			OverseasCount: t.OverseasCount,
			Players:       append([]Item(nil), t.Players...),
			CanBid:        t.Budget > 0 && t.TotalPlayers < MaxRoster,
		}
	}
	return stats
}

// loadItem puts pool[i] on the block and resets the bidding round.
func (s *State) loadItem(i int) {
	s.CurrentIndex = i
	item := s.Pool[i]
	s.CurrentItem = &item
	s.CurrentBid = item.BasePrice
	s.CurrentBidder = ""
	s.CurrentBidderTeam = ""
	s.PassCount = 0
	s.TimeRemaining = BidTimer
}

// FormatAmount renders an amount in thousands the way it is shown to users:
// lakhs with one decimal from 1000 upwards, thousands below.
func FormatAmount(amount int) string {
	if amount >= 1000 {
		return fmt.Sprintf("₹%.1fL", float64(amount)/10)
	}
	return fmt.Sprintf("₹%dK", amount)
}
