package room

import (
	"log/slog"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/event"
)

// Broadcast message types.
const (
	MsgRoomUpdate         = "auction:roomUpdate"
	MsgPlayerJoined       = "auction:playerJoined"
	MsgPlayerLeft         = "auction:playerLeft"
	MsgTeamSelected       = "auction:teamSelected"
	MsgAuctionStarted     = "auction:started"
	MsgBidPlaced          = "auction:bidPlaced"
	MsgPassed             = "auction:passed"
	MsgTeamStats          = "auction:teamStatsUpdate"
	MsgPaused             = "auction:paused"
	MsgResumed            = "auction:resumed"
	MsgEnded              = "auction:ended"
	MsgTournamentComplete = "tournament:completed"
)

// subscriberBuffer is how many messages a subscriber may fall behind
// before it is dropped.
const subscriberBuffer = 32

// Message is one broadcast to every subscriber of a room.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// BidPlaced is the payload of MsgBidPlaced.
type BidPlaced struct {
	Bidder    string              `json:"bidder"`
	Team      string              `json:"team"`
	Amount    int                 `json:"amount"`
	Message   string              `json:"message"`
	State     auction.State       `json:"auctionState"`
	TeamStats []auction.TeamStats `json:"teamStats"`
}

// Passed is the payload of MsgPassed. Resolution is set when the pass
// closed the item.
type Passed struct {
	Passer     string              `json:"passer"`
	Team       string              `json:"team"`
	Auto       bool                `json:"auto"`
	PlayerSold bool                `json:"playerSold"`
	Resolution *auction.Resolution `json:"resolution,omitempty"`
	State      auction.State       `json:"auctionState"`
	TeamStats  []auction.TeamStats `json:"teamStats"`
}

// Started is the payload of MsgAuctionStarted.
type Started struct {
	Room  View          `json:"room"`
	State auction.State `json:"auctionState"`
}

// Ended is the payload of MsgEnded.
type Ended struct {
	State        auction.State       `json:"auctionState"`
	RemovedTeams []event.RemovedTeam `json:"removedTeams"`
}

// TeamSelected is the payload of MsgTeamSelected.
type TeamSelected struct {
	PlayerID string `json:"playerId"`
	TeamID   string `json:"teamId"`
	Players  []Seat `json:"updatedPlayers"`
}

// PlayerLeft is the payload of MsgPlayerLeft.
type PlayerLeft struct {
	LeftPlayer string `json:"leftPlayer"`
	Players    []Seat `json:"updatedPlayers"`
	Room       View   `json:"roomData"`
}

// Subscribe registers a subscriber for the room's broadcasts. The channel
// is closed on Unsubscribe, when the subscriber falls too far behind, or
// when the room is torn down.
func (m *Manager) Subscribe(code, subscriberID string) (<-chan Message, error) {
	r, ok := m.rooms.Get(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomNotFound
	}
	if _, ok := r.subs[subscriberID]; ok {
		return nil, ErrSubscriberExists
	}
	ch := make(chan Message, subscriberBuffer)
	r.subs[subscriberID] = ch
	return ch, nil
}

// Unsubscribe removes a subscriber. It is a no-op for unknown rooms or
// subscribers.
func (m *Manager) Unsubscribe(code, subscriberID string) {
	r, ok := m.rooms.Get(code)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[subscriberID]; ok {
		delete(r.subs, subscriberID)
		close(ch)
	}
}

// broadcast delivers msg without blocking. The caller holds r.mu.
func (m *Manager) broadcast(r *room, typ string, payload any) {
	msg := Message{Type: typ, Payload: payload}
	for id, ch := range r.subs {
		select {
		case ch <- msg:
		default:
			delete(r.subs, id)
			close(ch)
			m.logger.Warn("dropping slow subscriber",
				slog.String("room_code", r.code),
				slog.String("subscriber_id", id),
			)
		}
	}
}

// closeSubscribers closes every subscriber channel. The caller holds r.mu.
func (r *room) closeSubscribers() {
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
