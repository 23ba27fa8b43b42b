package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/room"
)

var errNoRoom = errors.New("you are not in a room. Use `/room-create` or `/room-join` first")

// Invocation is a slash command stripped of its Discord transport.
type Invocation struct {
	Command   string
	UserID    string
	UserName  string
	ChannelID string
	Options   []*discordgo.ApplicationCommandInteractionDataOption
}

func (inv Invocation) option(name string) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, o := range inv.Options {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func (inv Invocation) member() room.Member {
	return room.Member{ID: inv.UserID, Name: inv.UserName}
}

// Handlers process Discord interactions.
type Handlers struct {
	rooms  *room.Manager
	relay  *Relay
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	current map[string]string // user ID -> room code
}

// NewHandlers creates new command handlers. relay may be nil, in which case
// room broadcasts are not posted to Discord.
func NewHandlers(rooms *room.Manager, relay *Relay, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		rooms:   rooms,
		relay:   relay,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/ipl-auction/internal/bot/commands"),
		current: make(map[string]string),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	franchises := make([]*discordgo.ApplicationCommandOptionChoice, len(catalog.Franchises))
	for i, f := range catalog.Franchises {
		franchises[i] = &discordgo.ApplicationCommandOptionChoice{Name: f.Name, Value: f.ID}
	}
	minPlayers := float64(room.MinPlayers)

	return []*discordgo.ApplicationCommand{
		{
			Name:        "room-create",
			Description: "Create an auction room",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "max-players",
					Description: "Maximum number of players (default: 10)",
					MinValue:    &minPlayers,
					MaxValue:    float64(room.MaxPlayers),
				},
			},
		},
		{
			Name:        "room-join",
			Description: "Join an auction room",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "code",
					Description: "Six character room code",
					Required:    true,
				},
			},
		},
		{
			Name:        "room-leave",
			Description: "Leave your current room",
		},
		{
			Name:        "team",
			Description: "Pick the franchise you will bid for",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "franchise",
					Description: "Franchise",
					Required:    true,
					Choices:     franchises,
				},
			},
		},
		{
			Name:        "auction-start",
			Description: "Start the auction (room creator only)",
		},
		{
			Name:        "bid",
			Description: "Bid on the player on the block",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid in thousands (default: the minimum raise)",
				},
			},
		},
		{
			Name:        "pass",
			Description: "Pass on the player on the block",
		},
		{
			Name:        "auction-pause",
			Description: "Pause the auction (room creator only)",
		},
		{
			Name:        "auction-resume",
			Description: "Resume the auction (room creator only)",
		},
		{
			Name:        "auction-end",
			Description: "End the auction (room creator only)",
		},
		{
			Name:        "tournament",
			Description: "Simulate the tournament (room creator only)",
		},
		{
			Name:        "auction-status",
			Description: "Show the player on the block and team budgets",
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	inv := Invocation{
		Command:   data.Name,
		ChannelID: i.ChannelID,
		Options:   data.Options,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID, inv.UserName = i.Member.User.ID, i.Member.User.Username
		if i.Member.Nick != "" {
			inv.UserName = i.Member.Nick
		}
	case i.User != nil:
		inv.UserID, inv.UserName = i.User.ID, i.User.Username
	}
	respond(s, i, h.Execute(context.Background(), inv))
}

// Execute runs one command and returns the reply text.
func (h *Handlers) Execute(ctx context.Context, inv Invocation) string {
	ctx, span := h.tracer.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("command", inv.Command),
			attribute.String("user.id", inv.UserID),
		),
	)
	defer span.End()

	var (
		reply string
		err   error
	)
	switch inv.Command {
	case "room-create":
		reply, err = h.handleRoomCreate(ctx, inv)
	case "room-join":
		reply, err = h.handleRoomJoin(ctx, inv)
	case "room-leave":
		reply, err = h.handleRoomLeave(ctx, inv)
	case "team":
		reply, err = h.handleTeam(ctx, inv)
	case "auction-start":
		reply, err = h.handleAuctionStart(ctx, inv)
	case "bid":
		reply, err = h.handleBid(ctx, inv)
	case "pass":
		reply, err = h.handlePass(ctx, inv)
	case "auction-pause":
		reply, err = h.handlePause(ctx, inv)
	case "auction-resume":
		reply, err = h.handleResume(ctx, inv)
	case "auction-end":
		reply, err = h.handleAuctionEnd(ctx, inv)
	case "tournament":
		reply, err = h.handleTournament(ctx, inv)
	case "auction-status":
		reply, err = h.handleStatus(inv)
	default:
		return "Unknown command"
	}
	if err != nil {
		h.logger.DebugContext(ctx, "command rejected",
			slog.String("command", inv.Command),
			slog.String("user_id", inv.UserID),
			slog.Any("error", err),
		)
		return "Failed: " + err.Error()
	}
	return reply
}

func (h *Handlers) roomOf(userID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	code, ok := h.current[userID]
	if !ok {
		return "", errNoRoom
	}
	return code, nil
}

func (h *Handlers) setRoom(userID, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if code == "" {
		delete(h.current, userID)
		return
	}
	h.current[userID] = code
}

func (h *Handlers) handleRoomCreate(ctx context.Context, inv Invocation) (string, error) {
	if code, err := h.roomOf(inv.UserID); err == nil {
		if _, ok := h.rooms.View(code); ok {
			return "", fmt.Errorf("you are already in room `%s`. Use `/room-leave` first", code)
		}
	}
	maxPlayers := 0
	if o, ok := inv.option("max-players"); ok {
		maxPlayers = int(o.IntValue())
	}
	v, err := h.rooms.Create(ctx, inv.member(), maxPlayers)
	if err != nil {
		return "", err
	}
	h.setRoom(inv.UserID, v.Code)
	h.watch(ctx, v.Code, inv.ChannelID)
	return fmt.Sprintf("Room `%s` created (max %d players). Others can join with `/room-join code:%s`, then everyone picks a `/team`.",
		v.Code, v.MaxPlayers, v.Code), nil
}

func (h *Handlers) handleRoomJoin(ctx context.Context, inv Invocation) (string, error) {
	o, ok := inv.option("code")
	if !ok {
		return "", errors.New("room code is required")
	}
	code := strings.ToUpper(strings.TrimSpace(o.StringValue()))
	v, err := h.rooms.Join(ctx, code, inv.member())
	if err != nil {
		return "", err
	}
	h.setRoom(inv.UserID, code)
	h.watch(ctx, code, inv.ChannelID)
	return fmt.Sprintf("Joined room `%s` (%d/%d players).", code, len(v.Players), v.MaxPlayers), nil
}

func (h *Handlers) handleRoomLeave(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	h.setRoom(inv.UserID, "")
	_, removed, err := h.rooms.Leave(ctx, code, inv.UserID)
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		return "", err
	}
	if removed {
		return fmt.Sprintf("Left room `%s`. The room was closed.", code), nil
	}
	return fmt.Sprintf("Left room `%s`.", code), nil
}

func (h *Handlers) handleTeam(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	o, ok := inv.option("franchise")
	if !ok {
		return "", errors.New("franchise is required")
	}
	f, ok := catalog.FranchiseByID(o.StringValue())
	if !ok {
		return "", room.ErrUnknownFranchise
	}
	if _, err := h.rooms.SelectTeam(ctx, code, inv.UserID, f.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("You are bidding for **%s**.", f.Name), nil
}

func (h *Handlers) handleAuctionStart(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	st, err := h.rooms.StartAuction(ctx, code, inv.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Auction started with %d players in the pool.\n%s", len(st.Pool), onTheBlock(st)), nil
}

func (h *Handlers) handleBid(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	var amount int
	if o, ok := inv.option("amount"); ok {
		amount = int(o.IntValue())
	} else {
		st, ok := h.rooms.Snapshot(code)
		if !ok || st.Auction == nil || st.Auction.CurrentItem == nil {
			return "", auction.ErrInvalidState
		}
		amount = st.Auction.CurrentBid + st.Auction.CurrentItem.BidIncrement
	}
	res, err := h.rooms.Bid(ctx, code, inv.UserID, amount)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

func (h *Handlers) handlePass(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	res, err := h.rooms.Pass(ctx, code, inv.UserID)
	if err != nil {
		return "", err
	}
	if res.Resolution != nil {
		return "Passed. " + resolution(*res.Resolution), nil
	}
	return "Passed.", nil
}

func (h *Handlers) handlePause(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	if _, err := h.rooms.Pause(ctx, code, inv.UserID); err != nil {
		return "", err
	}
	return "Auction paused.", nil
}

func (h *Handlers) handleResume(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	if _, err := h.rooms.Resume(ctx, code, inv.UserID); err != nil {
		return "", err
	}
	return "Auction resumed.", nil
}

func (h *Handlers) handleAuctionEnd(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	res, err := h.rooms.End(ctx, code, inv.UserID)
	if err != nil {
		return "", err
	}
	return ended(res.State, res.RemovedTeams), nil
}

func (h *Handlers) handleTournament(ctx context.Context, inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	res, err := h.rooms.StartTournament(ctx, code, inv.UserID)
	if err != nil {
		return "", err
	}
	return champion(res), nil
}

func (h *Handlers) handleStatus(inv Invocation) (string, error) {
	code, err := h.roomOf(inv.UserID)
	if err != nil {
		return "", err
	}
	snap, ok := h.rooms.Snapshot(code)
	if !ok {
		h.setRoom(inv.UserID, "")
		return "", room.ErrRoomNotFound
	}
	if snap.Auction == nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Room `%s` is waiting for players (%d/%d):\n", code, len(snap.Room.Players), snap.Room.MaxPlayers)
		for _, p := range snap.Room.Players {
			team := "no team yet"
			if f, ok := catalog.FranchiseByID(p.TeamID); ok {
				team = f.Name
			}
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, team)
		}
		return b.String(), nil
	}
	return status(*snap.Auction, snap.TeamStats), nil
}

func (h *Handlers) watch(ctx context.Context, code, channelID string) {
	if h.relay == nil || channelID == "" {
		return
	}
	if err := h.relay.Watch(code, channelID); err != nil {
		h.logger.WarnContext(ctx, "failed to relay room to channel",
			slog.String("room_code", code),
			slog.String("channel_id", channelID),
			slog.Any("error", err),
		)
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
