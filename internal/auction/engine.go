package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
)

const instrumentation = "github.com/jensholdgaard/ipl-auction/internal/auction"

// Room holds one room's auction. Its mutex serialises every command for
// the room, including the multi-step item resolution.
type Room struct {
	mu      sync.Mutex
	state   State
	version int
}

// record appends a ledger event stamped with the room's next version.
func (r *Room) record(clk clock.Clock, t event.Type, payload any) event.Event {
	r.version++
	return event.New(r.state.ID, r.state.RoomCode, t, r.version, payload, clk.Now())
}

// Resolution describes how the item on the block was settled.
type Resolution struct {
	Item               Item   `json:"player"`
	Sold               bool   `json:"sold"`
	TeamID             string `json:"teamId,omitempty"`
	TeamName           string `json:"teamName,omitempty"`
	Price              int    `json:"price,omitempty"`
	SecondRoundStarted bool   `json:"secondRoundStarted"`
	Completed          bool   `json:"completed"`
}

// Result is returned by commands that only change status.
type Result struct {
	State  State
	Events []event.Event
}

// BidResult is returned by PlaceBid.
type BidResult struct {
	State   State
	Message string
	Events  []event.Event
}

// PassResult is returned by Pass. Resolution is nil while the item is
// still open.
type PassResult struct {
	State      State
	TeamStats  []TeamStats
	Sold       bool
	Resolution *Resolution
	Events     []event.Event
}

// EndResult is returned by End.
type EndResult struct {
	State        State
	RemovedTeams []event.RemovedTeam
	Events       []event.Event
}

// Engine owns the auction state of every room.
type Engine struct {
	pool   *pool.Generator
	rooms  *registry.Registry[*Room]
	events event.Store
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	bids   metric.Int64Counter
	sold   metric.Int64Counter
	unsold metric.Int64Counter
}

// NewEngine creates an Engine storing rooms in the given registry.
func NewEngine(gen *pool.Generator, rooms *registry.Registry[*Room], events event.Store, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Engine {
	meter := otel.Meter(instrumentation)
	bids, _ := meter.Int64Counter("auction.bids", metric.WithDescription("Accepted bids"))
	sold, _ := meter.Int64Counter("auction.items.sold", metric.WithDescription("Items sold"))
	unsold, _ := meter.Int64Counter("auction.items.unsold", metric.WithDescription("Items that closed without a bid"))

	return &Engine{
		pool:   gen,
		rooms:  rooms,
		events: events,
		logger: logger,
		tracer: tp.Tracer(instrumentation),
		clock:  clk,
		bids:   bids,
		sold:   sold,
		unsold: unsold,
	}
}

// Initialize starts an auction for the room with one team per seed.
func (e *Engine) Initialize(ctx context.Context, roomCode string, seeds []TeamSeed) (State, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Initialize",
		trace.WithAttributes(
			attribute.String("room.code", roomCode),
			attribute.Int("teams", len(seeds)),
		),
	)
	defer span.End()

	if len(seeds) == 0 {
		return State{}, ErrNoTeams
	}

	items := e.pool.Generate(len(seeds))
	e.pool.Shuffle(items)

	teams := make([]Team, len(seeds))
	names := make([]string, len(seeds))
	for i, s := range seeds {
		teams[i] = Team{
			ID:         s.ID,
			Name:       s.Name,
			PlayerID:   s.PlayerID,
			PlayerName: s.PlayerName,
			Budget:     StartingBudget,
			Players:    []Item{},
		}
		names[i] = s.ID
	}

	now := e.clock.Now()
	r := &Room{state: State{
		ID:            fmt.Sprintf("auction-%s-%d", roomCode, now.UnixNano()),
		RoomCode:      roomCode,
		Teams:         teams,
		Pool:          items,
		Status:        StatusActive,
		SoldPlayers:   []Item{},
		UnsoldPlayers: []Item{},
		StartedAt:     now.UTC(),
	}}
	if len(items) > 0 {
		r.state.loadItem(0)
	} else {
		r.state.Status = StatusCompleted
	}

	if err := e.rooms.Create(roomCode, r); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return State{}, ErrAuctionExists
		}
		return State{}, fmt.Errorf("registering auction: %w", err)
	}

	r.mu.Lock()
	ev := r.record(e.clock, event.AuctionStarted, event.AuctionStartedData{Teams: names, PoolSize: len(items)})
	snap := r.state.clone()
	r.mu.Unlock()

	e.persist(ctx, ev)
	e.logger.InfoContext(ctx, "auction started",
		slog.String("room_code", roomCode),
		slog.String("auction_id", snap.ID),
		slog.Int("teams", len(teams)),
		slog.Int("pool_size", len(items)),
	)
	return snap, nil
}

// PlaceBid raises the current bid on behalf of a team.
func (e *Engine) PlaceBid(ctx context.Context, roomCode, teamID string, amount int) (BidResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("room.code", roomCode),
			attribute.String("team.id", teamID),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return BidResult{}, ErrAuctionNotFound
	}

	r.mu.Lock()
	s := &r.state
	if s.Status != StatusActive {
		r.mu.Unlock()
		return BidResult{}, ErrInvalidState
	}
	team := s.team(teamID)
	if team == nil {
		r.mu.Unlock()
		return BidResult{}, ErrTeamNotFound
	}
	if s.CurrentBidderTeam == teamID {
		r.mu.Unlock()
		return BidResult{}, ErrSelfOutbid
	}

	item := s.CurrentItem
	minBid := s.CurrentBid + item.BidIncrement
	switch {
	case amount < minBid:
		r.mu.Unlock()
		return BidResult{}, fmt.Errorf("%w: minimum bid is %s", ErrBidTooLow, FormatAmount(minBid))
	case amount > team.Budget:
		r.mu.Unlock()
		return BidResult{}, ErrInsufficientBudget
	case item.Overseas && team.OverseasCount >= MaxOverseas:
		r.mu.Unlock()
		return BidResult{}, ErrOverseasLimitReached
	case team.TotalPlayers >= MaxRoster:
		r.mu.Unlock()
		return BidResult{}, ErrRosterFull
	}

	s.CurrentBid = amount
	s.CurrentBidder = team.Name
	s.CurrentBidderTeam = team.ID
	s.PassCount = 0
	s.TimeRemaining = BidTimer
	s.Pool[s.CurrentIndex].CurrentBid = amount
	s.Pool[s.CurrentIndex].CurrentBidder = team.ID
	item.CurrentBid = amount
	item.CurrentBidder = team.ID

	ev := r.record(e.clock, event.AuctionBidPlaced, event.BidPlacedData{
		ItemID: item.ID,
		TeamID: team.ID,
		Amount: amount,
	})
	msg := fmt.Sprintf("%s bids %s", team.Name, FormatAmount(amount))
	itemID, tier := item.ID, item.Level
	snap := s.clone()
	r.mu.Unlock()

	e.persist(ctx, ev)
	e.bids.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
	e.logger.InfoContext(ctx, "bid placed",
		slog.String("room_code", roomCode),
		slog.String("team_id", teamID),
		slog.String("item_id", itemID),
		slog.Int("amount", amount),
	)
	return BidResult{State: snap, Message: msg, Events: []event.Event{ev}}, nil
}

// Pass records that a team declines to raise. Once every team but one has
// passed the item on the block is resolved.
func (e *Engine) Pass(ctx context.Context, roomCode, teamID string) (PassResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Pass",
		trace.WithAttributes(
			attribute.String("room.code", roomCode),
			attribute.String("team.id", teamID),
		),
	)
	defer span.End()

	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return PassResult{}, ErrAuctionNotFound
	}

	r.mu.Lock()
	s := &r.state
	if s.Status != StatusActive {
		r.mu.Unlock()
		return PassResult{}, ErrInvalidState
	}
	if s.team(teamID) == nil {
		r.mu.Unlock()
		return PassResult{}, ErrTeamNotFound
	}

	s.PassCount++
	evs := []event.Event{r.record(e.clock, event.AuctionPassed, event.PassedData{
		ItemID:    s.CurrentItem.ID,
		TeamID:    teamID,
		PassCount: s.PassCount,
	})}

	var res *Resolution
	if s.PassCount >= len(s.Teams)-1 {
		resolved, resolveEvents := e.resolve(r)
		res = &resolved
		evs = append(evs, resolveEvents...)
	} else {
		s.BidderIndex = (s.BidderIndex + 1) % len(s.Teams)
	}

	out := PassResult{
		State:      s.clone(),
		TeamStats:  s.teamStats(),
		Resolution: res,
		Events:     evs,
	}
	if res != nil {
		out.Sold = res.Sold
	}
	r.mu.Unlock()

	e.persist(ctx, evs...)
	if res != nil {
		attrs := metric.WithAttributes(attribute.String("tier", string(res.Item.Level)))
		if res.Sold {
			e.sold.Add(ctx, 1, attrs)
		} else {
			e.unsold.Add(ctx, 1, attrs)
		}
		e.logger.InfoContext(ctx, "item resolved",
			slog.String("room_code", roomCode),
			slog.String("item_id", res.Item.ID),
			slog.Bool("sold", res.Sold),
			slog.String("team_id", res.TeamID),
			slog.Int("price", res.Price),
		)
	}
	return out, nil
}

// resolve settles the current item and moves to the next one. The caller
// holds r.mu.
func (e *Engine) resolve(r *Room) (Resolution, []event.Event) {
	s := &r.state
	item := *s.CurrentItem
	res := Resolution{Item: item}
	var evs []event.Event

	if team := s.team(s.CurrentBidderTeam); team != nil {
		item.Sold = true
		item.CurrentBid = s.CurrentBid
		item.CurrentBidder = team.ID
		item.SoldPrice = s.CurrentBid
		item.SoldTo = team.Name
		item.TeamOwner = team.Name

		team.Players = append(team.Players, item)
		team.Budget -= s.CurrentBid
		team.TotalPlayers++
		if item.Overseas {
			team.OverseasCount++
		}
		s.Pool[s.CurrentIndex] = item
		s.SoldPlayers = append(s.SoldPlayers, item)

		res.Item = item
		res.Sold = true
		res.TeamID = team.ID
		res.TeamName = team.Name
		res.Price = s.CurrentBid
		evs = append(evs, r.record(e.clock, event.AuctionItemSold, event.ItemResolvedData{
			ItemID:   item.ID,
			ItemName: item.Name,
			TeamID:   team.ID,
			TeamName: team.Name,
			Price:    s.CurrentBid,
		}))
	} else {
		s.UnsoldPlayers = append(s.UnsoldPlayers, item)
		evs = append(evs, r.record(e.clock, event.AuctionItemUnsold, event.ItemResolvedData{
			ItemID:   item.ID,
			ItemName: item.Name,
		}))
	}

	next := s.CurrentIndex + 1
	switch {
	case next < len(s.Pool):
		s.loadItem(next)
	case len(s.UnsoldPlayers) > 0 && !s.SecondRoundStarted:
		s.SecondRoundStarted = true
		s.SecondRoundPlayers = s.UnsoldPlayers
		s.UnsoldPlayers = []Item{}
		s.Pool = append(s.Pool, s.SecondRoundPlayers...)
		s.loadItem(next)

		res.SecondRoundStarted = true
		evs = append(evs, r.record(e.clock, event.AuctionSecondRoundStarted, event.SecondRoundData{
			Items: len(s.SecondRoundPlayers),
		}))
	default:
		s.CurrentIndex = next
		s.CurrentItem = nil
		s.CurrentBidder = ""
		s.CurrentBidderTeam = ""
		s.PassCount = 0
		s.Status = StatusCompleted

		res.Completed = true
		evs = append(evs, r.record(e.clock, event.AuctionCompleted, nil))
	}
	return res, evs
}

// Pause suspends an active auction.
func (e *Engine) Pause(ctx context.Context, roomCode string) (Result, error) {
	return e.toggle(ctx, "Engine.Pause", roomCode, StatusActive, StatusPaused, event.AuctionPaused)
}

// Resume continues a paused auction.
func (e *Engine) Resume(ctx context.Context, roomCode string) (Result, error) {
	return e.toggle(ctx, "Engine.Resume", roomCode, StatusPaused, StatusActive, event.AuctionResumed)
}

func (e *Engine) toggle(ctx context.Context, op, roomCode string, from, to Status, t event.Type) (Result, error) {
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return Result{}, ErrAuctionNotFound
	}

	r.mu.Lock()
	if r.state.Status != from {
		status := r.state.Status
		r.mu.Unlock()
		return Result{}, fmt.Errorf("%w: auction is %s", ErrInvalidState, status)
	}
	r.state.Status = to
	ev := r.record(e.clock, t, nil)
	snap := r.state.clone()
	r.mu.Unlock()

	e.persist(ctx, ev)
	e.logger.InfoContext(ctx, "auction status changed",
		slog.String("room_code", roomCode),
		slog.String("status", string(to)),
	)
	return Result{State: snap, Events: []event.Event{ev}}, nil
}

// End closes the auction and drops teams below the roster minimum from
// tournament play. When one of exactly two teams is dropped the other
// wins by default.
func (e *Engine) End(ctx context.Context, roomCode string) (EndResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.End", trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return EndResult{}, ErrAuctionNotFound
	}

	r.mu.Lock()
	s := &r.state
	if s.Status == StatusEnded {
		r.mu.Unlock()
		return EndResult{}, fmt.Errorf("%w: auction already ended", ErrInvalidState)
	}

	var eligible []Team
	var removed []event.RemovedTeam
	for _, t := range s.Teams {
		if t.TotalPlayers >= MinRoster {
			eligible = append(eligible, t)
			continue
		}
		removed = append(removed, event.RemovedTeam{
			Name:        t.Name,
			PlayerCount: t.TotalPlayers,
			Reason:      fmt.Sprintf("Insufficient players (minimum %d required)", MinRoster),
		})
	}

	switch {
	case len(removed) == 0:
	case len(eligible) == 0:
		// Nobody qualifies; keep everyone rather than leave an empty field.
		e.logger.WarnContext(ctx, "no team met the roster minimum",
			slog.String("room_code", roomCode),
			slog.Int("teams", len(s.Teams)),
		)
		removed = nil
	default:
		if len(s.Teams) == 2 && len(removed) == 1 {
			w := eligible[0].clone()
			s.TournamentWinner = &w
			s.TournamentMessage = fmt.Sprintf("%s wins by default as they were the only team to meet player requirements!", w.Name)
		}
		s.Teams = eligible
		s.RemovedTeams = removed
	}

	s.Status = StatusEnded
	data := event.AuctionEndedData{RemovedTeams: removed}
	if s.TournamentWinner != nil {
		data.TournamentWinner = s.TournamentWinner.ID
	}
	ev := r.record(e.clock, event.AuctionEnded, data)
	snap := s.clone()
	r.mu.Unlock()

	e.persist(ctx, ev)
	e.logger.InfoContext(ctx, "auction ended",
		slog.String("room_code", roomCode),
		slog.Int("eligible_teams", len(snap.Teams)),
		slog.Int("removed_teams", len(removed)),
	)
	return EndResult{State: snap, RemovedTeams: removed, Events: []event.Event{ev}}, nil
}

// State returns a snapshot of the room's auction.
func (e *Engine) State(roomCode string) (State, bool) {
	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return State{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone(), true
}

// TeamStats returns the per-team projection for the room.
func (e *Engine) TeamStats(roomCode string) ([]TeamStats, bool) {
	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.teamStats(), true
}

// EligibleTeams returns copies of the teams still in contention, for
// handing to the tournament.
func (e *Engine) EligibleTeams(roomCode string) ([]Team, bool) {
	r, ok := e.rooms.Get(roomCode)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	teams := make([]Team, len(r.state.Teams))
	for i, t := range r.state.Teams {
		teams[i] = t.clone()
	}
	return teams, true
}

// Remove discards the room's auction.
func (e *Engine) Remove(roomCode string) bool {
	return e.rooms.Remove(roomCode)
}

func (e *Engine) persist(ctx context.Context, evs ...event.Event) {
	if len(evs) == 0 {
		return
	}
	if err := e.events.Append(ctx, evs...); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist auction events",
			slog.String("aggregate_id", evs[0].AggregateID),
			slog.Int("count", len(evs)),
			slog.Any("error", err),
		)
	}
}
