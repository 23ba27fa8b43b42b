package tournament_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/event"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"
)

type mockEventStore struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(context.Context, string) ([]event.Event, error) { return nil, nil }

func (m *mockEventStore) LoadByType(_ context.Context, t event.Type) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func newSimulator(seed int64) (*tournament.Simulator, *mockEventStore) {
	events := &mockEventStore{}
	sim := tournament.NewSimulator(registry.New[*tournament.Tournament](), rand.New(rand.NewSource(seed)),
		events, slog.Default(), noop.NewTracerProvider(), clock.Mock{T: time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC)})
	return sim, events
}

// squad returns n batters with the given score.
func squad(n, score int) []pool.Item {
	items := make([]pool.Item, n)
	for i := range items {
		items[i] = pool.Item{ID: fmt.Sprintf("player_%d", i+1), Role: catalog.RoleBatter, Score: score}
	}
	return items
}

func entrants(n int) []tournament.Entrant {
	out := make([]tournament.Entrant, n)
	for i := range out {
		f := catalog.Franchises[i]
		out[i] = tournament.Entrant{ID: f.ID, Name: f.Name, Players: squad(18, 60+i*3)}
	}
	return out
}

func TestStrength(t *testing.T) {
	tests := []struct {
		name    string
		players []pool.Item
		want    float64
	}{
		{name: "empty", players: nil, want: 0},
		{name: "perfect batter", players: squad(1, 95), want: 100},
		{name: "capped", players: squad(3, 100), want: 100},
		{
			name: "weighted",
			players: []pool.Item{
				{Role: catalog.RoleBatter, Score: 80},
				{Role: catalog.RoleBowler, Score: 60},
			},
			want: (80*1.2 + 60*1.1) / 2.3 / 95 * 100,
		},
		{
			name:    "unknown role weighs 1",
			players: []pool.Item{{Role: "umpire", Score: 57}},
			want:    60,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tournament.Strength(tt.players); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Strength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitialize_FixtureCounts(t *testing.T) {
	for k := 2; k <= tournament.MaxTeams; k++ {
		t.Run(fmt.Sprintf("%d teams", k), func(t *testing.T) {
			sim, _ := newSimulator(1)
			st, err := sim.Initialize(context.Background(), "T1", entrants(k))
			if err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}

			want := 2 * k * (k - 1) / 2
			switch k {
			case 2:
				want = 15
			case 3:
				want = 9
			}
			if len(st.Matches) != want {
				t.Errorf("fixtures = %d, want %d", len(st.Matches), want)
			}

			seen := map[string]bool{}
			for i, m := range st.Matches {
				if m.Stage != tournament.StageLeague || m.Completed || m.Number != i+1 {
					t.Errorf("fixture %d = %+v", i, m)
				}
				seen[m.Team1.ID] = true
				seen[m.Team2.ID] = true
			}
			if len(seen) != k {
				t.Errorf("%d teams scheduled, want %d", len(seen), k)
			}
		})
	}
}

func TestInitialize_Errors(t *testing.T) {
	sim, _ := newSimulator(1)
	ctx := context.Background()

	if _, err := sim.Initialize(ctx, "T1", nil); !errors.Is(err, tournament.ErrNoTeams) {
		t.Errorf("no teams error = %v", err)
	}

	eleven := append(entrants(10), tournament.Entrant{ID: "x", Name: "Extra"})
	if _, err := sim.Initialize(ctx, "T1", eleven); !errors.Is(err, tournament.ErrTooManyTeams) {
		t.Errorf("eleven teams error = %v", err)
	}

	if _, err := sim.Initialize(ctx, "T1", entrants(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Initialize(ctx, "T1", entrants(2)); !errors.Is(err, tournament.ErrTournamentExists) {
		t.Errorf("duplicate error = %v", err)
	}
}

func TestSingleEntrantWinsImmediately(t *testing.T) {
	sim, events := newSimulator(1)
	ctx := context.Background()

	st, err := sim.Initialize(ctx, "T1", entrants(1))
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != tournament.PhaseCompleted || st.Winner == nil || st.Winner.ID != "csk" {
		t.Fatalf("state = %s winner %+v", st.Phase, st.Winner)
	}
	if len(st.Matches) != 0 {
		t.Errorf("matches = %d, want 0", len(st.Matches))
	}

	if _, err := sim.SimulateFull(ctx, "T1"); err != nil {
		t.Errorf("SimulateFull() error = %v", err)
	}
	done, _ := events.LoadByType(ctx, event.TournamentCompleted)
	if len(done) != 1 {
		t.Errorf("completion recorded %d times, want 1", len(done))
	}
}

func TestSimulateLeague_Standings(t *testing.T) {
	for _, k := range []int{2, 3, 5, 8} {
		t.Run(fmt.Sprintf("%d teams", k), func(t *testing.T) {
			sim, _ := newSimulator(int64(k))
			if _, err := sim.Initialize(context.Background(), "T1", entrants(k)); err != nil {
				t.Fatal(err)
			}
			st, err := sim.SimulateLeague(context.Background(), "T1")
			if err != nil {
				t.Fatalf("SimulateLeague() error = %v", err)
			}

			league := 0
			for _, m := range st.Matches {
				if m.Stage == tournament.StageLeague {
					if !m.Completed || m.Winner == nil || m.Margin == "" {
						t.Fatalf("league match not played: %+v", m)
					}
					if m.Team1Score < 140 || m.Team1Score > 220 || m.Team2Score < 140 || m.Team2Score > 220 {
						t.Errorf("scores out of range: %d/%d", m.Team1Score, m.Team2Score)
					}
					league++
				}
			}

			points, played := 0, 0
			for _, s := range st.Teams {
				points += s.Points
				played += s.Played
				if s.Won+s.Lost != s.Played || s.Points != s.Won*tournament.PointsPerWin {
					t.Errorf("%s record inconsistent: %+v", s.ID, s)
				}
			}
			if points != 2*league {
				t.Errorf("total points = %d, want %d", points, 2*league)
			}
			if played != 2*league {
				t.Errorf("total played = %d, want %d", played, 2*league)
			}

			for i := 1; i < len(st.PointsTable); i++ {
				if st.PointsTable[i].Points > st.PointsTable[i-1].Points {
					t.Errorf("points table not sorted at %d", i)
				}
				if st.PointsTable[i].Position != i+1 {
					t.Errorf("position %d = %d", i, st.PointsTable[i].Position)
				}
			}
		})
	}
}

func TestSmallTournamentEndsAfterLeague(t *testing.T) {
	sim, events := newSimulator(7)
	ctx := context.Background()
	if _, err := sim.Initialize(ctx, "T1", entrants(3)); err != nil {
		t.Fatal(err)
	}
	st, err := sim.SimulateFull(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != tournament.PhaseCompleted || st.Winner == nil {
		t.Fatalf("phase = %s winner = %+v", st.Phase, st.Winner)
	}

	best := st.Teams[0]
	for _, s := range st.Teams[1:] {
		if s.Won > best.Won {
			best = s
		}
	}
	if st.Winner.ID != best.ID {
		t.Errorf("winner = %s, want first team with most wins %s", st.Winner.ID, best.ID)
	}
	for _, m := range st.Matches {
		if m.Stage.Playoff() {
			t.Errorf("playoff match %s in a three-team tournament", m.ID)
		}
	}

	if _, err := sim.SimulatePlayoffs(ctx, "T1"); !errors.Is(err, tournament.ErrInvalidPhase) {
		t.Errorf("SimulatePlayoffs() after completion error = %v", err)
	}
	done, _ := events.LoadByType(ctx, event.TournamentCompleted)
	if len(done) != 1 {
		t.Errorf("completion recorded %d times", len(done))
	}
}

func TestFourTeamPlayoffs(t *testing.T) {
	sim, _ := newSimulator(11)
	ctx := context.Background()
	if _, err := sim.Initialize(ctx, "T1", entrants(4)); err != nil {
		t.Fatal(err)
	}

	if _, err := sim.SimulatePlayoffs(ctx, "T1"); !errors.Is(err, tournament.ErrInvalidPhase) {
		t.Errorf("SimulatePlayoffs() before league error = %v", err)
	}

	st, err := sim.SimulateLeague(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != tournament.PhasePlayoffs || len(st.PlayoffTeams) != 4 {
		t.Fatalf("phase = %s playoff teams = %d", st.Phase, len(st.PlayoffTeams))
	}
	for i, ref := range st.PlayoffTeams {
		if ref.ID != st.PointsTable[i].ID {
			t.Errorf("playoff seed %d = %s, want %s", i+1, ref.ID, st.PointsTable[i].ID)
		}
	}
	var stages []tournament.Stage
	for _, m := range st.Matches[12:] {
		stages = append(stages, m.Stage)
		if m.Completed {
			t.Errorf("%s completed before playoffs ran", m.Stage)
		}
	}
	if len(stages) != 2 || stages[0] != tournament.StageQualifier1 || stages[1] != tournament.StageEliminator {
		t.Fatalf("playoff fixtures after league = %v", stages)
	}

	st, err = sim.SimulatePlayoffs(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Matches) != 16 {
		t.Fatalf("matches = %d, want 16", len(st.Matches))
	}
	q1, elim, q2, final := st.Matches[12], st.Matches[13], st.Matches[14], st.Matches[15]
	if q2.Stage != tournament.StageQualifier2 || final.Stage != tournament.StageFinal {
		t.Fatalf("stages = %s, %s", q2.Stage, final.Stage)
	}
	for i, m := range st.Matches {
		if !m.Completed || m.Number != i+1 {
			t.Errorf("match %d = %+v", i, m)
		}
	}

	q1Loser := q1.Team1
	if q1.Winner.ID == q1.Team1.ID {
		q1Loser = q1.Team2
	}
	if q2.Team1.ID != q1Loser.ID || q2.Team2.ID != elim.Winner.ID {
		t.Errorf("qualifier2 = %s vs %s, want %s vs %s", q2.Team1.ID, q2.Team2.ID, q1Loser.ID, elim.Winner.ID)
	}
	if final.Team1.ID != q1.Winner.ID || final.Team2.ID != q2.Winner.ID {
		t.Errorf("final = %s vs %s", final.Team1.ID, final.Team2.ID)
	}
	if st.Phase != tournament.PhaseCompleted || st.Winner == nil || st.Winner.ID != final.Winner.ID {
		t.Errorf("winner = %+v, final winner %s", st.Winner, final.Winner.ID)
	}

	sum, ok := sim.Summary("T1")
	if !ok {
		t.Fatal("Summary() not found")
	}
	if sum.TotalMatches != 16 || sum.Phases.League != 12 || sum.Phases.Playoffs != 4 {
		t.Errorf("summary counts = %d (%+v)", sum.TotalMatches, sum.Phases)
	}
	if sum.Winner == nil || sum.Winner.ID != st.Winner.ID {
		t.Errorf("summary winner = %+v", sum.Winner)
	}
}

func TestStrengthSkewsResults(t *testing.T) {
	sim, _ := newSimulator(2024)
	ctx := context.Background()

	strongWins, total := 0, 0
	for i := 0; i < 200; i++ {
		code := fmt.Sprintf("S%03d", i)
		teams := []tournament.Entrant{
			{ID: "strong", Name: "Strong", Players: squad(18, 90)},
			{ID: "weak", Name: "Weak", Players: squad(18, 30)},
		}
		if _, err := sim.Initialize(ctx, code, teams); err != nil {
			t.Fatal(err)
		}
		st, err := sim.SimulateLeague(ctx, code)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range st.Matches {
			total++
			if m.Winner.ID == "strong" {
				strongWins++
			}
		}
	}

	// Expected rate is 0.75.
	rate := float64(strongWins) / float64(total)
	if rate < 0.68 || rate > 0.82 {
		t.Errorf("strong team win rate = %.3f over %d matches", rate, total)
	}
}

func TestQueries(t *testing.T) {
	sim, _ := newSimulator(1)
	ctx := context.Background()

	if _, ok := sim.State("NOPE"); ok {
		t.Error("State(unknown) ok")
	}
	if _, ok := sim.Summary("NOPE"); ok {
		t.Error("Summary(unknown) ok")
	}
	for name, fn := range map[string]func(context.Context, string) (tournament.State, error){
		"SimulateLeague":   sim.SimulateLeague,
		"SimulatePlayoffs": sim.SimulatePlayoffs,
		"SimulateFull":     sim.SimulateFull,
	} {
		if _, err := fn(ctx, "NOPE"); !errors.Is(err, tournament.ErrTournamentNotFound) {
			t.Errorf("%s(unknown) error = %v", name, err)
		}
	}

	in := entrants(2)
	if _, err := sim.Initialize(ctx, "T1", in); err != nil {
		t.Fatal(err)
	}
	in[0].Players[0].Score = 1

	st, _ := sim.State("T1")
	if st.Teams[0].Players[0].Score == 1 {
		t.Error("tournament aliases the entrant roster")
	}
	st.Teams[0].Points = 99
	again, _ := sim.State("T1")
	if again.Teams[0].Points == 99 {
		t.Error("mutating a snapshot changed simulator state")
	}

	if !sim.Remove("T1") {
		t.Error("Remove() = false")
	}
	if _, ok := sim.State("T1"); ok {
		t.Error("state present after Remove")
	}
}
