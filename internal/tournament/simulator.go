package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
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

const instrumentation = "github.com/jensholdgaard/ipl-auction/internal/tournament"

var margins = []string{
	"by 6 wickets", "by 4 wickets", "by 8 wickets", "by 2 wickets",
	"by 15 runs", "by 23 runs", "by 7 runs", "by 45 runs",
	"by 1 wicket", "by 3 wickets", "by 5 wickets",
}

// Tournament holds one room's tournament.
type Tournament struct {
	mu       sync.Mutex
	state    State
	recorded bool
}

// finish returns the completion event the first time the tournament is
// seen completed. The caller holds t.mu.
func (t *Tournament) finish(clk clock.Clock) []event.Event {
	if t.recorded || t.state.Phase != PhaseCompleted || t.state.Winner == nil {
		return nil
	}
	t.recorded = true
	sum := summarize(t.state)
	return []event.Event{event.New(t.state.ID, t.state.RoomCode, event.TournamentCompleted, 1, event.TournamentCompletedData{
		Winner:  t.state.Winner.ID,
		Matches: sum.TotalMatches,
	}, clk.Now())}
}

// Simulator runs tournaments for every room.
type Simulator struct {
	rooms  *registry.Registry[*Tournament]
	events event.Store
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	simulated metric.Int64Counter
}

// NewSimulator creates a Simulator drawing match outcomes from rng.
func NewSimulator(rooms *registry.Registry[*Tournament], rng *rand.Rand, events event.Store, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Simulator {
	simulated, _ := otel.Meter(instrumentation).Int64Counter("tournament.matches.simulated",
		metric.WithDescription("Simulated matches"))
	return &Simulator{
		rooms:     rooms,
		events:    events,
		logger:    logger,
		tracer:    tp.Tracer(instrumentation),
		clock:     clk,
		rng:       rng,
		simulated: simulated,
	}
}

// Initialize registers a tournament for the room and schedules its league
// fixtures. A single entrant wins without playing.
func (s *Simulator) Initialize(ctx context.Context, roomCode string, entrants []Entrant) (State, error) {
	ctx, span := s.tracer.Start(ctx, "Simulator.Initialize",
		trace.WithAttributes(
			attribute.String("room.code", roomCode),
			attribute.Int("teams", len(entrants)),
		),
	)
	defer span.End()

	switch {
	case len(entrants) == 0:
		return State{}, ErrNoTeams
	case len(entrants) > MaxTeams:
		return State{}, ErrTooManyTeams
	}

	teams := make([]Standing, len(entrants))
	for i, e := range entrants {
		teams[i] = Standing{
			ID:       e.ID,
			Name:     e.Name,
			Players:  append([]pool.Item(nil), e.Players...),
			Strength: Strength(e.Players),
		}
	}

	t := &Tournament{state: State{
		ID:           fmt.Sprintf("tournament-%s-%d", roomCode, s.clock.Now().UnixNano()),
		RoomCode:     roomCode,
		Phase:        PhaseLeague,
		Teams:        teams,
		Matches:      fixtures(teams),
		PlayoffTeams: []TeamRef{},
		FinalTeams:   []TeamRef{},
	}}
	t.state.PointsTable = sortStandings(teams)

	if len(teams) == 1 {
		w := teams[0].clone()
		t.state.Winner = &w
		t.state.Phase = PhaseCompleted
	}

	if err := s.rooms.Create(roomCode, t); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return State{}, ErrTournamentExists
		}
		return State{}, fmt.Errorf("registering tournament: %w", err)
	}

	t.mu.Lock()
	snap := t.state.clone()
	evs := t.finish(s.clock)
	t.mu.Unlock()

	s.persist(ctx, evs)
	s.logger.InfoContext(ctx, "tournament initialized",
		slog.String("room_code", roomCode),
		slog.Int("teams", len(teams)),
		slog.Int("fixtures", len(snap.Matches)),
	)
	return snap, nil
}

// fixtures builds the league schedule: 15 meetings for two teams, three
// rounds of every pairing for three, two rounds for four or more.
func fixtures(teams []Standing) []Match {
	var matches []Match
	add := func(round int, a, b Standing) {
		n := len(matches) + 1
		matches = append(matches, Match{
			ID:     fmt.Sprintf("match_%d", n),
			Number: n,
			Round:  round,
			Team1:  a.ref(),
			Team2:  b.ref(),
			Stage:  StageLeague,
		})
	}

	switch n := len(teams); {
	case n < 2:
	case n == 2:
		for i := 0; i < 15; i++ {
			add(i+1, teams[0], teams[1])
		}
	default:
		rounds := 2
		if n == 3 {
			rounds = 3
		}
		for r := 0; r < rounds; r++ {
			for i := 0; i < n; i++ {
				for j := i + 1; j < n; j++ {
					add(r+1, teams[i], teams[j])
				}
			}
		}
	}
	return matches
}

// SimulateLeague plays every league fixture. Two or three teams finish the
// tournament here; four or more advance the top four into the playoffs.
func (s *Simulator) SimulateLeague(ctx context.Context, roomCode string) (State, error) {
	ctx, span := s.tracer.Start(ctx, "Simulator.SimulateLeague", trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	t, ok := s.rooms.Get(roomCode)
	if !ok {
		return State{}, ErrTournamentNotFound
	}

	t.mu.Lock()
	snap, err := s.league(ctx, t)
	evs := t.finish(s.clock)
	t.mu.Unlock()
	if err != nil {
		return State{}, err
	}

	s.persist(ctx, evs)
	return snap, nil
}

// league runs the league phase. The caller holds t.mu.
func (s *Simulator) league(ctx context.Context, t *Tournament) (State, error) {
	st := &t.state
	if st.Phase != PhaseLeague {
		return State{}, fmt.Errorf("%w: tournament is in %s", ErrInvalidPhase, st.Phase)
	}

	played := 0
	for i := range st.Matches {
		m := &st.Matches[i]
		if m.Stage != StageLeague || m.Completed {
			continue
		}
		s.play(st, m)
		played++

		winner, loser := st.standing(m.Winner.ID), st.standing(m.loser().ID)
		winner.Played++
		winner.Won++
		winner.Points += PointsPerWin
		loser.Played++
		loser.Lost++
	}
	s.simulated.Add(ctx, int64(played), metric.WithAttributes(attribute.String("stage", string(StageLeague))))

	st.PointsTable = sortStandings(st.Teams)

	if len(st.Teams) < PlayoffSize {
		st.Phase = PhaseCompleted
		w := mostWins(st.Teams).clone()
		st.Winner = &w
	} else {
		st.Phase = PhasePlayoffs
		top := st.PointsTable[:PlayoffSize]
		st.PlayoffTeams = []TeamRef{top[0].ref(), top[1].ref(), top[2].ref(), top[3].ref()}
		st.Matches = append(st.Matches, playoffMatch(st, "qualifier1", StageQualifier1, top[0].ref(), top[1].ref()))
		st.Matches = append(st.Matches, playoffMatch(st, "eliminator", StageEliminator, top[2].ref(), top[3].ref()))
	}

	s.logger.InfoContext(ctx, "league phase simulated",
		slog.String("room_code", st.RoomCode),
		slog.Int("matches", played),
		slog.String("phase", string(st.Phase)),
	)
	return st.clone(), nil
}

// mostWins returns the team with the most wins, the earliest on ties.
func mostWins(teams []Standing) Standing {
	best := teams[0]
	for _, t := range teams[1:] {
		if t.Won > best.Won {
			best = t
		}
	}
	return best
}

func playoffMatch(st *State, id string, stage Stage, a, b TeamRef) Match {
	return Match{
		ID:     id,
		Number: len(st.Matches) + 1,
		Team1:  a,
		Team2:  b,
		Stage:  stage,
	}
}

// SimulatePlayoffs plays Qualifier 1 and the Eliminator, then Qualifier 2
// between the Qualifier 1 loser and the Eliminator winner, then the Final.
func (s *Simulator) SimulatePlayoffs(ctx context.Context, roomCode string) (State, error) {
	ctx, span := s.tracer.Start(ctx, "Simulator.SimulatePlayoffs", trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	t, ok := s.rooms.Get(roomCode)
	if !ok {
		return State{}, ErrTournamentNotFound
	}

	t.mu.Lock()
	snap, err := s.playoffs(ctx, t)
	evs := t.finish(s.clock)
	t.mu.Unlock()
	if err != nil {
		return State{}, err
	}

	s.persist(ctx, evs)
	return snap, nil
}

// playoffs runs the knockout bracket. The caller holds t.mu.
func (s *Simulator) playoffs(ctx context.Context, t *Tournament) (State, error) {
	st := &t.state
	if st.Phase != PhasePlayoffs {
		return State{}, fmt.Errorf("%w: tournament is in %s", ErrInvalidPhase, st.Phase)
	}

	stageMatch := func(stage Stage) *Match {
		for i := range st.Matches {
			if st.Matches[i].Stage == stage {
				return &st.Matches[i]
			}
		}
		return nil
	}

	q1, elim := stageMatch(StageQualifier1), stageMatch(StageEliminator)
	s.play(st, q1)
	s.play(st, elim)
	st.FinalTeams = append(st.FinalTeams, *q1.Winner)
	q2Teams := [2]TeamRef{q1.loser(), *elim.Winner}

	st.Matches = append(st.Matches, playoffMatch(st, "qualifier2", StageQualifier2, q2Teams[0], q2Teams[1]))
	q2 := &st.Matches[len(st.Matches)-1]
	s.play(st, q2)
	st.FinalTeams = append(st.FinalTeams, *q2.Winner)

	st.Matches = append(st.Matches, playoffMatch(st, "final", StageFinal, st.FinalTeams[0], st.FinalTeams[1]))
	final := &st.Matches[len(st.Matches)-1]
	s.play(st, final)

	w := st.standing(final.Winner.ID).clone()
	st.Winner = &w
	st.Phase = PhaseCompleted
	s.simulated.Add(ctx, 4, metric.WithAttributes(attribute.String("stage", "playoffs")))

	s.logger.InfoContext(ctx, "playoffs simulated",
		slog.String("room_code", st.RoomCode),
		slog.String("winner", w.Name),
	)
	return st.clone(), nil
}

// SimulateFull runs whatever phases remain and returns the final state.
func (s *Simulator) SimulateFull(ctx context.Context, roomCode string) (State, error) {
	ctx, span := s.tracer.Start(ctx, "Simulator.SimulateFull", trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	t, ok := s.rooms.Get(roomCode)
	if !ok {
		return State{}, ErrTournamentNotFound
	}

	t.mu.Lock()
	var err error
	if t.state.Phase == PhaseLeague {
		_, err = s.league(ctx, t)
	}
	if err == nil && t.state.Phase == PhasePlayoffs {
		_, err = s.playoffs(ctx, t)
	}
	snap := t.state.clone()
	evs := t.finish(s.clock)
	t.mu.Unlock()
	if err != nil {
		return State{}, err
	}

	s.persist(ctx, evs)
	return snap, nil
}

// play simulates one match in place.
func (s *Simulator) play(st *State, m *Match) {
	a, b := st.standing(m.Team1.ID), st.standing(m.Team2.ID)

	s.rngMu.Lock()
	team1Wins := s.team1Wins(a.Strength, b.Strength)
	m.Team1Score = 140 + s.rng.Intn(81)
	m.Team2Score = 140 + s.rng.Intn(81)
	m.Margin = margins[s.rng.Intn(len(margins))]
	s.rngMu.Unlock()

	winner := m.Team2
	if team1Wins {
		winner = m.Team1
	}
	m.Winner = &winner
	m.Completed = true
}

// team1Wins draws a result biased by strength. A strength of zero counts
// as 50. The caller holds rngMu.
func (s *Simulator) team1Wins(str1, str2 float64) bool {
	if str1 == 0 {
		str1 = 50
	}
	if str2 == 0 {
		str2 = 50
	}
	p := str1 / (str1 + str2)
	p *= 0.85 + s.rng.Float64()*0.3
	return s.rng.Float64() < p
}

// State returns a snapshot of the room's tournament.
func (s *Simulator) State(roomCode string) (State, bool) {
	t, ok := s.rooms.Get(roomCode)
	if !ok {
		return State{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone(), true
}

// Summary returns the winner, table and completed matches.
func (s *Simulator) Summary(roomCode string) (Summary, bool) {
	st, ok := s.State(roomCode)
	if !ok {
		return Summary{}, false
	}
	return summarize(st), true
}

func summarize(st State) Summary {
	sum := Summary{
		Winner:      st.Winner,
		PointsTable: st.PointsTable,
		Matches:     []Match{},
	}
	for _, m := range st.Matches {
		if !m.Completed {
			continue
		}
		sum.Matches = append(sum.Matches, m)
		if m.Stage == StageLeague {
			sum.Phases.League++
		} else if m.Stage.Playoff() {
			sum.Phases.Playoffs++
		}
	}
	sum.TotalMatches = len(sum.Matches)
	return sum
}

// Remove discards the room's tournament.
func (s *Simulator) Remove(roomCode string) bool {
	return s.rooms.Remove(roomCode)
}

func (s *Simulator) persist(ctx context.Context, evs []event.Event) {
	if len(evs) == 0 {
		return
	}
	if err := s.events.Append(ctx, evs...); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist tournament result",
			slog.String("aggregate_id", evs[0].AggregateID),
			slog.Any("error", err),
		)
	}
}
