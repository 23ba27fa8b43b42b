package ws

// Client message types.
const (
	TypeRoomCreate      = "room:create"
	TypeRoomJoin        = "room:join"
	TypeRoomLeave       = "room:leave"
	TypeTeamSelect      = "team:select"
	TypeAuctionStart    = "auction:start"
	TypeAuctionBid      = "auction:bid"
	TypeAuctionPass     = "auction:pass"
	TypeAuctionPause    = "auction:pause"
	TypeAuctionResume   = "auction:resume"
	TypeAuctionEnd      = "auction:end"
	TypeAuctionGetState = "auction:getState"
	TypeTournamentStart = "tournament:start"
)

// Server-only message types. Room broadcasts use the room package's types.
const (
	TypeWelcome     = "connection:welcome"
	TypeRoomCreated = "room:created"
	TypeRoomJoined  = "room:joined"
	TypeRoomLeft    = "room:left"
	TypeStateUpdate = "auction:stateUpdate"
	TypeError       = "error"
)

// ClientMessage is any command a client can send.
type ClientMessage struct {
	Type       string `json:"type"`
	RoomCode   string `json:"roomCode,omitempty"`
	TeamID     string `json:"teamId,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
}

// ServerMessage is a reply sent to one connection.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorMessage reports a failed command to the connection that sent it.
type ErrorMessage struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// Welcome tells a client its connection identity.
type Welcome struct {
	ID   string `json:"id"`
	Name string `json:"username"`
}
