// Package tournament simulates the league and playoff phase played by the
// squads assembled in an auction.
package tournament

import (
	"errors"
	"sort"

	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
)

// Errors returned by Simulator operations.
var (
	ErrNoTeams            = errors.New("tournament needs at least one team")
	ErrTooManyTeams       = errors.New("tournament supports at most 10 teams")
	ErrTournamentExists   = errors.New("tournament already exists for room")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrInvalidPhase       = errors.New("tournament is not in the required phase")
)

const (
	MaxTeams     = 10
	PointsPerWin = 2
	PlayoffSize  = 4
)

// Phase is the tournament's overall progress.
type Phase string

const (
	PhaseLeague    Phase = "league"
	PhasePlayoffs  Phase = "playoffs"
	PhaseCompleted Phase = "completed"
)

// Stage tags a match with the part of the tournament it belongs to.
type Stage string

const (
	StageLeague     Stage = "league"
	StageQualifier1 Stage = "qualifier1"
	StageEliminator Stage = "eliminator"
	StageQualifier2 Stage = "qualifier2"
	StageFinal      Stage = "final"
)

// Playoff reports whether the stage is part of the knockout bracket.
func (s Stage) Playoff() bool {
	return s == StageQualifier1 || s == StageEliminator || s == StageQualifier2 || s == StageFinal
}

// Entrant is a squad frozen at the end of the auction.
type Entrant struct {
	ID      string
	Name    string
	Players []pool.Item
}

// TeamRef identifies a team inside a match.
type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Standing is a team's league record.
type Standing struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Players  []pool.Item `json:"players"`
	Played   int         `json:"matchesPlayed"`
	Won      int         `json:"matchesWon"`
	Lost     int         `json:"matchesLost"`
	Points   int         `json:"points"`
	Strength float64     `json:"probabilityScore"`
	Position int         `json:"position,omitempty"`
}

func (s Standing) ref() TeamRef { return TeamRef{ID: s.ID, Name: s.Name} }

func (s Standing) clone() Standing {
	s.Players = append([]pool.Item(nil), s.Players...)
	return s
}

// Match is one fixture.
type Match struct {
	ID         string   `json:"matchId"`
	Number     int      `json:"matchNumber"`
	Round      int      `json:"round,omitempty"`
	Team1      TeamRef  `json:"team1"`
	Team2      TeamRef  `json:"team2"`
	Stage      Stage    `json:"phase"`
	Completed  bool     `json:"completed"`
	Winner     *TeamRef `json:"winner"`
	Team1Score int      `json:"team1Score,omitempty"`
	Team2Score int      `json:"team2Score,omitempty"`
	Margin     string   `json:"margin,omitempty"`
}

// loser returns the team that did not win a completed match.
func (m Match) loser() TeamRef {
	if m.Winner != nil && m.Winner.ID == m.Team1.ID {
		return m.Team2
	}
	return m.Team1
}

// State is a snapshot of one room's tournament.
type State struct {
	ID           string     `json:"id"`
	RoomCode     string     `json:"roomCode"`
	Phase        Phase      `json:"currentPhase"`
	Teams        []Standing `json:"teams"`
	Matches      []Match    `json:"matches"`
	PointsTable  []Standing `json:"pointsTable"`
	PlayoffTeams []TeamRef  `json:"playoffTeams"`
	FinalTeams   []TeamRef  `json:"finalTeams"`
	Winner       *Standing  `json:"tournamentWinner"`
}

func (s *State) clone() State {
	c := *s
	c.Teams = cloneStandings(s.Teams)
	c.PointsTable = cloneStandings(s.PointsTable)
	c.Matches = make([]Match, len(s.Matches))
	for i, m := range s.Matches {
		if m.Winner != nil {
			w := *m.Winner
			m.Winner = &w
		}
		c.Matches[i] = m
	}
	c.PlayoffTeams = append([]TeamRef(nil), s.PlayoffTeams...)
	c.FinalTeams = append([]TeamRef(nil), s.FinalTeams...)
	if s.Winner != nil {
		w := s.Winner.clone()
		c.Winner = &w
	}
	return c
}

func (s *State) standing(id string) *Standing {
	for i := range s.Teams {
		if s.Teams[i].ID == id {
			return &s.Teams[i]
		}
	}
	return nil
}

// PhaseCounts counts completed matches per part of the tournament.
type PhaseCounts struct {
	League   int `json:"league"`
	Playoffs int `json:"playoffs"`
}

// Summary is the end-of-tournament projection.
type Summary struct {
	Winner       *Standing   `json:"winner"`
	PointsTable  []Standing  `json:"pointsTable"`
	Matches      []Match     `json:"matches"`
	TotalMatches int         `json:"totalMatches"`
	Phases       PhaseCounts `json:"phases"`
}

func cloneStandings(in []Standing) []Standing {
	if in == nil {
		return nil
	}
	out := make([]Standing, len(in))
	for i, s := range in {
		out[i] = s.clone()
	}
	return out
}

var roleWeights = map[catalog.Role]float64{
	catalog.RoleBatter:             1.2,
	catalog.RoleWicketKeeper:       1.1,
	catalog.RoleWicketKeeperBatter: 1.2,
	catalog.RoleAllRounder:         1.3,
	catalog.RoleBowler:             1.1,
}

// Strength is the role-weighted average score of a squad on a 0-100 scale,
// taking 95 as the best achievable average. An empty squad scores 0.
func Strength(players []pool.Item) float64 {
	if len(players) == 0 {
		return 0
	}
	var total, weights float64
	for _, p := range players {
		w, ok := roleWeights[p.Role]
		if !ok {
			w = 1.0
		}
		total += float64(p.Score) * w
		weights += w
	}
	strength := total / weights / 95 * 100
	if strength > 100 {
		return 100
	}
	return strength
}

// sortStandings orders by points, then wins, then strength. Equal teams
// keep their relative order.
func sortStandings(teams []Standing) []Standing {
	table := cloneStandings(teams)
	sort.SliceStable(table, func(i, j int) bool {
		a, b := table[i], table[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Won != b.Won {
			return a.Won > b.Won
		}
		return a.Strength > b.Strength
	})
	for i := range table {
		table[i].Position = i + 1
	}
	return table
}
