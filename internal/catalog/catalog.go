// Package catalog holds the static game data: rarity tiers and their
// pricing, player roles, the franchise list and the player catalog that
// auction pools are drawn from.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Tier is a rarity tier. Higher tiers carry higher or equal prices.
type Tier string

const (
	TierUltraLegend Tier = "ultra-legend"
	TierLegend      Tier = "legend"
	TierElite       Tier = "elite"
	TierPro         Tier = "pro"
	TierDomestic    Tier = "domestic"
	TierUncapped    Tier = "uncapped"
)

// Tiers lists every tier from highest to lowest.
var Tiers = []Tier{TierUltraLegend, TierLegend, TierElite, TierPro, TierDomestic, TierUncapped}

// BasePrice returns the opening price for a tier, in thousands.
func BasePrice(t Tier) int {
	switch t {
	case TierUltraLegend, TierLegend:
		return 20000
	case TierElite:
		return 15000
	case TierPro:
		return 10000
	default:
		return 5000
	}
}

// BidIncrement returns the minimum raise for a tier, in thousands.
func BidIncrement(t Tier) int {
	switch t {
	case TierUltraLegend, TierLegend, TierElite:
		return 5000
	case TierPro:
		return 2500
	default:
		return 1000
	}
}

// Role is a player's playing role.
type Role string

const (
	RoleBatter             Role = "batter"
	RoleBowler             Role = "bowler"
	RoleAllRounder         Role = "all-rounder"
	RoleWicketKeeper       Role = "wicket-keeper"
	RoleWicketKeeperBatter Role = "wicket-keeper batter"
)

// Player is a catalog entry before it enters an auction pool.
type Player struct {
	Name     string `yaml:"name"`
	Role     Role   `yaml:"role"`
	Tier     Tier   `yaml:"-"`
	Overseas bool   `yaml:"overseas"`
	Score    int    `yaml:"score"`
}

// Catalog groups players by tier.
type Catalog struct {
	Players map[Tier][]Player
}

// Count returns the number of players in a tier.
func (c *Catalog) Count(t Tier) int {
	return len(c.Players[t])
}

// Of returns a copy of the players in the given tiers, in tier order.
func (c *Catalog) Of(tiers ...Tier) []Player {
	var out []Player
	for _, t := range tiers {
		out = append(out, c.Players[t]...)
	}
	return out
}

//go:embed players.yaml
var defaultPlayers []byte

// Default returns the built-in player catalog.
func Default() (*Catalog, error) {
	return Parse(defaultPlayers)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document keyed by tier name.
func Parse(data []byte) (*Catalog, error) {
	var raw map[Tier][]Player
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{Players: make(map[Tier][]Player, len(Tiers))}
	for tier, players := range raw {
		if !tier.valid() {
			return nil, fmt.Errorf("unknown tier %q", tier)
		}
		for i := range players {
			if players[i].Name == "" {
				return nil, fmt.Errorf("tier %s: player %d has no name", tier, i)
			}
			players[i].Tier = tier
		}
		c.Players[tier] = players
	}
	return c, nil
}

func (t Tier) valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}
