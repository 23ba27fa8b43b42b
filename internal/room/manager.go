package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"
)

const instrumentation = "github.com/jensholdgaard/ipl-auction/internal/room"

const (
	codeLength   = 6
	codeCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 16
)

// Options tune a Manager.
type Options struct {
	// BidTimeout is how long an item may sit without a bid before the
	// remaining teams pass automatically.
	BidTimeout time.Duration
	// AutoPass enables the bid timer.
	AutoPass bool
	// DefaultMaxPlayers applies when Create is given a non-positive size.
	DefaultMaxPlayers int
}

// Manager owns every room and relays member commands to the auction engine
// and tournament simulator.
type Manager struct {
	rooms   *registry.Registry[*room]
	engine  *auction.Engine
	sim     *tournament.Simulator
	results store.ResultRepository
	sched   clock.Scheduler
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer

	autoPasses metric.Int64Counter
}

// NewManager returns a Manager.
func NewManager(engine *auction.Engine, sim *tournament.Simulator, results store.ResultRepository, logger *slog.Logger, tp trace.TracerProvider, sched clock.Scheduler, opts Options) *Manager {
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = MaxPlayers
	}
	autoPasses, _ := otel.Meter(instrumentation).Int64Counter("room.auto_passes",
		metric.WithDescription("Items closed by the bid timer"))

	return &Manager{
		rooms:      registry.New[*room](),
		engine:     engine,
		sim:        sim,
		results:    results,
		sched:      sched,
		opts:       opts,
		logger:     logger,
		tracer:     tp.Tracer(instrumentation),
		autoPasses: autoPasses,
	}
}

// generateCode returns a random room code.
func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// Create opens a room with the creator seated. maxPlayers is clamped to
// [MinPlayers, MaxPlayers].
func (m *Manager) Create(ctx context.Context, creator Member, maxPlayers int) (View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(attribute.String("member.id", creator.ID)),
	)
	defer span.End()

	if maxPlayers <= 0 {
		maxPlayers = m.opts.DefaultMaxPlayers
	}
	now := m.sched.Now().UTC()
	r := &room{
		creatorID:  creator.ID,
		maxPlayers: clampPlayers(maxPlayers),
		status:     StatusWaiting,
		seats:      []Seat{{ID: creator.ID, Name: creator.Name, Creator: true, JoinedAt: now}},
		createdAt:  now,
		subs:       make(map[string]chan Message),
	}

	for range codeAttempts {
		code, err := generateCode()
		if err != nil {
			return View{}, fmt.Errorf("generating room code: %w", err)
		}
		r.code = code
		if err := m.rooms.Create(code, r); err != nil {
			if errors.Is(err, registry.ErrExists) {
				m.logger.DebugContext(ctx, "room code collision, regenerating", slog.String("room_code", code))
				continue
			}
			return View{}, err
		}

		span.SetAttributes(attribute.String("room.code", code))
		m.logger.InfoContext(ctx, "room created",
			slog.String("room_code", code),
			slog.String("creator", creator.Name),
			slog.Int("max_players", r.maxPlayers),
		)
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.view(), nil
	}
	return View{}, ErrCodeSpaceExhausted
}

// lock fetches a live room and locks it. The caller must unlock.
func (m *Manager) lock(code string) (*room, error) {
	r, ok := m.rooms.Get(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Join seats a member in a waiting room.
func (m *Manager) Join(ctx context.Context, code string, member Member) (View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Join",
		trace.WithAttributes(
			attribute.String("room.code", code),
			attribute.String("member.id", member.ID),
		),
	)
	defer span.End()

	r, err := m.lock(code)
	if err != nil {
		return View{}, err
	}
	defer r.mu.Unlock()

	switch {
	case r.seat(member.ID) != nil:
		return View{}, ErrDuplicateJoin
	case r.status != StatusWaiting:
		return View{}, ErrRoomStarted
	case len(r.seats) >= r.maxPlayers:
		return View{}, ErrRoomFull
	}

	r.seats = append(r.seats, Seat{ID: member.ID, Name: member.Name, JoinedAt: m.sched.Now().UTC()})
	v := r.view()
	m.broadcast(r, MsgPlayerJoined, v.Players)
	m.broadcast(r, MsgRoomUpdate, v)

	m.logger.InfoContext(ctx, "member joined",
		slog.String("room_code", code),
		slog.String("member", member.Name),
		slog.Int("members", len(r.seats)),
	)
	return v, nil
}

// SelectTeam assigns a franchise to a member. A member may switch to any
// franchise nobody else holds until the auction starts.
func (m *Manager) SelectTeam(ctx context.Context, code, memberID, teamID string) (View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SelectTeam",
		trace.WithAttributes(
			attribute.String("room.code", code),
			attribute.String("team.id", teamID),
		),
	)
	defer span.End()

	if _, ok := catalog.FranchiseByID(teamID); !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownFranchise, teamID)
	}

	r, err := m.lock(code)
	if err != nil {
		return View{}, err
	}
	defer r.mu.Unlock()

	seat := r.seat(memberID)
	if seat == nil {
		return View{}, ErrNotMember
	}
	if r.status != StatusWaiting {
		return View{}, ErrRoomStarted
	}
	for _, s := range r.seats {
		if s.TeamID == teamID && s.ID != memberID {
			return View{}, ErrTeamTaken
		}
	}
	seat.TeamID = teamID

	v := r.view()
	m.broadcast(r, MsgTeamSelected, TeamSelected{PlayerID: memberID, TeamID: teamID, Players: v.Players})
	m.broadcast(r, MsgRoomUpdate, v)

	m.logger.InfoContext(ctx, "team selected",
		slog.String("room_code", code),
		slog.String("member_id", memberID),
		slog.String("team_id", teamID),
	)
	return v, nil
}

// Leave removes a member. The longest-seated remaining member becomes
// creator if the creator left. The last member out tears the room down,
// discarding its auction and tournament. removed reports the teardown.
func (m *Manager) Leave(ctx context.Context, code, memberID string) (v View, removed bool, err error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Leave",
		trace.WithAttributes(
			attribute.String("room.code", code),
			attribute.String("member.id", memberID),
		),
	)
	defer span.End()

	r, err := m.lock(code)
	if err != nil {
		return View{}, false, err
	}
	defer r.mu.Unlock()

	idx := -1
	for i, s := range r.seats {
		if s.ID == memberID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return View{}, false, ErrNotMember
	}
	left := r.seats[idx]
	r.seats = append(r.seats[:idx], r.seats[idx+1:]...)

	if len(r.seats) == 0 {
		m.teardown(r)
		m.logger.InfoContext(ctx, "room closed", slog.String("room_code", code))
		return r.view(), true, nil
	}

	if r.creatorID == memberID {
		r.creatorID = r.seats[0].ID
		r.seats[0].Creator = true
		m.logger.InfoContext(ctx, "creator handed over",
			slog.String("room_code", code),
			slog.String("creator", r.seats[0].Name),
		)
	}

	v = r.view()
	m.broadcast(r, MsgPlayerLeft, PlayerLeft{LeftPlayer: left.Name, Players: v.Players, Room: v})
	m.broadcast(r, MsgRoomUpdate, v)
	m.logger.InfoContext(ctx, "member left",
		slog.String("room_code", code),
		slog.String("member", left.Name),
	)
	return v, false, nil
}

// teardown releases everything the room owns. The caller holds r.mu.
func (m *Manager) teardown(r *room) {
	m.stopTimer(r)
	r.closed = true
	r.closeSubscribers()
	m.engine.Remove(r.code)
	m.sim.Remove(r.code)
	m.rooms.Remove(r.code)
}

// creator locks the room and checks that memberID created it.
func (m *Manager) creator(code, memberID string) (*room, error) {
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	if r.creatorID != memberID {
		r.mu.Unlock()
		return nil, ErrNotCreator
	}
	return r, nil
}

// StartAuction begins the auction with one team per member.
func (m *Manager) StartAuction(ctx context.Context, code, memberID string) (auction.State, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.StartAuction", trace.WithAttributes(attribute.String("room.code", code)))
	defer span.End()

	r, err := m.creator(code, memberID)
	if err != nil {
		return auction.State{}, err
	}
	defer r.mu.Unlock()

	if r.status != StatusWaiting {
		return auction.State{}, ErrRoomStarted
	}
	if len(r.seats) < MinPlayers {
		return auction.State{}, ErrNotEnoughPlayers
	}
	seeds := make([]auction.TeamSeed, 0, len(r.seats))
	for _, s := range r.seats {
		if s.TeamID == "" {
			return auction.State{}, ErrTeamsNotSelected
		}
		f, _ := catalog.FranchiseByID(s.TeamID)
		seeds = append(seeds, auction.TeamSeed{ID: f.ID, Name: f.Name, PlayerID: s.ID, PlayerName: s.Name})
	}

	st, err := m.engine.Initialize(ctx, code, seeds)
	if err != nil {
		return auction.State{}, fmt.Errorf("starting auction: %w", err)
	}
	r.status = StatusAuction
	r.startedAt = m.sched.Now().UTC()
	m.armTimer(r)

	m.broadcast(r, MsgAuctionStarted, Started{Room: r.view(), State: st})
	return st, nil
}

// memberTeam returns the franchise held by a seated member. The caller
// holds r.mu.
func (r *room) memberTeam(memberID string) (Seat, error) {
	s := r.seat(memberID)
	if s == nil {
		return Seat{}, ErrNotMember
	}
	return *s, nil
}

// Bid places a bid for the member's franchise.
func (m *Manager) Bid(ctx context.Context, code, memberID string, amount int) (auction.BidResult, error) {
	r, err := m.lock(code)
	if err != nil {
		return auction.BidResult{}, err
	}
	defer r.mu.Unlock()

	seat, err := r.memberTeam(memberID)
	if err != nil {
		return auction.BidResult{}, err
	}
	res, err := m.engine.PlaceBid(ctx, code, seat.TeamID, amount)
	if err != nil {
		return auction.BidResult{}, err
	}
	m.armTimer(r)

	stats, _ := m.engine.TeamStats(code)
	m.broadcast(r, MsgBidPlaced, BidPlaced{
		Bidder:    seat.Name,
		Team:      seat.TeamID,
		Amount:    amount,
		Message:   res.Message,
		State:     res.State,
		TeamStats: stats,
	})
	return res, nil
}

// Pass declines the current item on behalf of the member's franchise.
func (m *Manager) Pass(ctx context.Context, code, memberID string) (auction.PassResult, error) {
	r, err := m.lock(code)
	if err != nil {
		return auction.PassResult{}, err
	}
	defer r.mu.Unlock()

	seat, err := r.memberTeam(memberID)
	if err != nil {
		return auction.PassResult{}, err
	}
	return m.pass(ctx, r, seat.TeamID, seat.Name, false)
}

// pass relays one pass and broadcasts it. The caller holds r.mu.
func (m *Manager) pass(ctx context.Context, r *room, teamID, passer string, auto bool) (auction.PassResult, error) {
	res, err := m.engine.Pass(ctx, r.code, teamID)
	if err != nil {
		return auction.PassResult{}, err
	}
	if res.Resolution != nil {
		if res.Resolution.Completed {
			m.stopTimer(r)
		} else {
			m.armTimer(r)
		}
	}
	m.broadcast(r, MsgPassed, Passed{
		Passer:     passer,
		Team:       teamID,
		Auto:       auto,
		PlayerSold: res.Sold,
		Resolution: res.Resolution,
		State:      res.State,
		TeamStats:  res.TeamStats,
	})
	return res, nil
}

// Pause suspends the auction and its bid timer.
func (m *Manager) Pause(ctx context.Context, code, memberID string) (auction.State, error) {
	r, err := m.creator(code, memberID)
	if err != nil {
		return auction.State{}, err
	}
	defer r.mu.Unlock()

	res, err := m.engine.Pause(ctx, code)
	if err != nil {
		return auction.State{}, err
	}
	m.stopTimer(r)
	m.broadcast(r, MsgPaused, res.State)
	return res.State, nil
}

// Resume continues the auction with a fresh bid timer.
func (m *Manager) Resume(ctx context.Context, code, memberID string) (auction.State, error) {
	r, err := m.creator(code, memberID)
	if err != nil {
		return auction.State{}, err
	}
	defer r.mu.Unlock()

	res, err := m.engine.Resume(ctx, code)
	if err != nil {
		return auction.State{}, err
	}
	m.armTimer(r)
	m.broadcast(r, MsgResumed, res.State)
	return res.State, nil
}

// End closes the auction, dropping teams short of the roster minimum.
func (m *Manager) End(ctx context.Context, code, memberID string) (auction.EndResult, error) {
	r, err := m.creator(code, memberID)
	if err != nil {
		return auction.EndResult{}, err
	}
	defer r.mu.Unlock()

	res, err := m.engine.End(ctx, code)
	if err != nil {
		return auction.EndResult{}, err
	}
	m.stopTimer(r)
	r.status = StatusEnded
	m.broadcast(r, MsgEnded, Ended{State: res.State, RemovedTeams: res.RemovedTeams})
	return res, nil
}

// StartTournament plays the whole tournament between the teams that
// survived the auction and records the champion. When the auction already
// produced a winner by default no matches are played.
func (m *Manager) StartTournament(ctx context.Context, code, memberID string) (TournamentResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.StartTournament", trace.WithAttributes(attribute.String("room.code", code)))
	defer span.End()

	r, err := m.creator(code, memberID)
	if err != nil {
		return TournamentResult{}, err
	}
	defer r.mu.Unlock()

	st, ok := m.engine.State(code)
	if !ok || st.Status != auction.StatusEnded {
		return TournamentResult{}, ErrAuctionNotEnded
	}

	var out TournamentResult
	result := store.Result{RoomCode: code, AuctionID: st.ID, Teams: len(st.Teams)}

	if w := st.TournamentWinner; w != nil {
		out = TournamentResult{WinnerID: w.ID, WinnerName: w.Name, Message: st.TournamentMessage}
	} else {
		entrants := make([]tournament.Entrant, len(st.Teams))
		for i, t := range st.Teams {
			entrants[i] = tournament.Entrant{ID: t.ID, Name: t.Name, Players: t.Players}
		}
		if _, err := m.sim.Initialize(ctx, code, entrants); err != nil {
			return TournamentResult{}, fmt.Errorf("initializing tournament: %w", err)
		}
		ts, err := m.sim.SimulateFull(ctx, code)
		if err != nil {
			return TournamentResult{}, fmt.Errorf("simulating tournament: %w", err)
		}
		summary, _ := m.sim.Summary(code)
		out = TournamentResult{Tournament: &ts, Summary: &summary}
		if ts.Winner != nil {
			out.WinnerID, out.WinnerName = ts.Winner.ID, ts.Winner.Name
		}
		result.TournamentID = ts.ID
		result.Matches = summary.TotalMatches
	}
	r.status = StatusFinished

	result.WinnerID, result.WinnerName = out.WinnerID, out.WinnerName
	if err := m.results.Save(ctx, &result); err != nil {
		m.logger.ErrorContext(ctx, "failed to save result",
			slog.String("room_code", code),
			slog.Any("error", err),
		)
	}

	m.broadcast(r, MsgTournamentComplete, out)
	m.logger.InfoContext(ctx, "tournament finished",
		slog.String("room_code", code),
		slog.String("winner", out.WinnerName),
	)
	return out, nil
}

// View returns the room's public description.
func (m *Manager) View(code string) (View, bool) {
	r, err := m.lock(code)
	if err != nil {
		return View{}, false
	}
	defer r.mu.Unlock()
	return r.view(), true
}

// Snapshot returns the room with its auction and tournament, if any.
func (m *Manager) Snapshot(code string) (Snapshot, bool) {
	r, err := m.lock(code)
	if err != nil {
		return Snapshot{}, false
	}
	defer r.mu.Unlock()

	snap := Snapshot{Room: r.view()}
	if st, ok := m.engine.State(code); ok {
		snap.Auction = &st
		snap.TeamStats, _ = m.engine.TeamStats(code)
	}
	if ts, ok := m.sim.State(code); ok {
		snap.Tournament = &ts
		if sum, ok := m.sim.Summary(code); ok {
			snap.Summary = &sum
		}
	}
	return snap, true
}

// Len returns the number of open rooms.
func (m *Manager) Len() int {
	return m.rooms.Len()
}

// Close stops every bid timer and disconnects every subscriber.
func (m *Manager) Close() {
	for _, code := range m.rooms.Codes() {
		r, err := m.lock(code)
		if err != nil {
			continue
		}
		m.teardown(r)
		r.mu.Unlock()
	}
}
