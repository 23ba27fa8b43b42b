// Package room coordinates the people in an auction room: membership,
// franchise selection, creator-only controls, the auto-pass timer and the
// fan-out of every change to subscribed connections.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"
)

// Errors returned by Manager operations.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrDuplicateJoin      = errors.New("you are already in this room")
	ErrRoomStarted        = errors.New("auction has already started")
	ErrNotMember          = errors.New("you are not in this room")
	ErrNotCreator         = errors.New("only the room creator can do that")
	ErrUnknownFranchise   = errors.New("unknown franchise")
	ErrTeamTaken          = errors.New("team already selected")
	ErrNotEnoughPlayers   = errors.New("need at least 2 players to start")
	ErrTeamsNotSelected   = errors.New("all players must select a team")
	ErrAuctionNotEnded    = errors.New("auction must be ended first")
	ErrSubscriberExists   = errors.New("subscriber already registered")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")
)

// Player limits per room.
const (
	MinPlayers = 2
	MaxPlayers = tournament.MaxTeams
)

// Status is where a room is in its lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusAuction  Status = "auction"
	StatusEnded    Status = "ended"
	StatusFinished Status = "finished"
)

// Member identifies a person, by connection or Discord user.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"username"`
}

// Seat is a member's place in a room.
type Seat struct {
	ID       string    `json:"id"`
	Name     string    `json:"username"`
	TeamID   string    `json:"team"`
	Creator  bool      `json:"isCreator"`
	JoinedAt time.Time `json:"joinedAt"`
}

// View is the public description of a room.
type View struct {
	Code       string    `json:"roomCode"`
	CreatorID  string    `json:"creatorId"`
	CreatedBy  string    `json:"createdBy"`
	MaxPlayers int       `json:"maxPlayers"`
	Status     Status    `json:"status"`
	Players    []Seat    `json:"players"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
}

// Snapshot is everything a reconnecting client needs.
type Snapshot struct {
	Room       View                `json:"room"`
	Auction    *auction.State      `json:"auctionState"`
	TeamStats  []auction.TeamStats `json:"teamStats"`
	Tournament *tournament.State   `json:"tournament,omitempty"`
	Summary    *tournament.Summary `json:"summary,omitempty"`
}

// TournamentResult is returned by StartTournament. Tournament and Summary
// are nil when the auction already named a winner by default.
type TournamentResult struct {
	Tournament *tournament.State   `json:"tournament"`
	Summary    *tournament.Summary `json:"summary"`
	WinnerID   string              `json:"winnerId"`
	WinnerName string              `json:"winnerName"`
	Message    string              `json:"message,omitempty"`
}

// room is one room's membership. mu serialises every command for the room.
type room struct {
	mu         sync.Mutex
	code       string
	creatorID  string
	maxPlayers int
	status     Status
	seats      []Seat
	createdAt  time.Time
	startedAt  time.Time
	closed     bool

	subs map[string]chan Message

	timer      clock.Timer
	generation uint64
}

func (r *room) seat(id string) *Seat {
	for i := range r.seats {
		if r.seats[i].ID == id {
			return &r.seats[i]
		}
	}
	return nil
}

func (r *room) view() View {
	v := View{
		Code:       r.code,
		CreatorID:  r.creatorID,
		MaxPlayers: r.maxPlayers,
		Status:     r.status,
		Players:    append([]Seat(nil), r.seats...),
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
	}
	if s := r.seat(r.creatorID); s != nil {
		v.CreatedBy = s.Name
	}
	return v
}

// clampPlayers bounds a requested room size to what the tournament supports.
func clampPlayers(n int) int {
	return min(max(n, MinPlayers), MaxPlayers)
}
