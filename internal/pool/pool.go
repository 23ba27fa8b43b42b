// Package pool builds the deck of auctionable players for a room.
package pool

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/jensholdgaard/ipl-auction/internal/catalog"
)

// Item is a player in an auction pool.
type Item struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         catalog.Role `json:"role"`
	Level        catalog.Tier `json:"level"`
	BasePrice    int          `json:"basePrice"`
	BidIncrement int          `json:"bidIncrement"`
	Overseas     bool         `json:"overseas"`
	Score        int          `json:"score"`

	Sold          bool   `json:"sold"`
	CurrentBid    int    `json:"currentBid"`
	CurrentBidder string `json:"currentBidder,omitempty"`
	SoldPrice     int    `json:"soldPrice,omitempty"`
	SoldTo        string `json:"soldTo,omitempty"`
	TeamOwner     string `json:"teamOwner,omitempty"`
}

// Size returns the nominal pool size for a room with n teams.
func Size(n int) int {
	switch n {
	case 2:
		return 60
	case 3:
		return 90
	case 4:
		return 120
	default:
		return n * 30
	}
}

// Generator draws pools from a catalog. It is safe for concurrent use.
type Generator struct {
	catalog *catalog.Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator drawing from c with the given random source.
func NewGenerator(c *catalog.Catalog, rng *rand.Rand) *Generator {
	return &Generator{catalog: c, rng: rng}
}

// Generate returns the pool for numberOfTeams teams. Every ultra-legend is
// included; the remaining slots are a uniform sample of the other tiers.
// The pool is longer than Size when there are more ultra-legends than slots,
// and shorter when the catalog cannot fill it.
func (g *Generator) Generate(numberOfTeams int) []Item {
	size := Size(numberOfTeams)
	elite := g.catalog.Of(catalog.TierUltraLegend)

	others := g.catalog.Of(
		catalog.TierLegend,
		catalog.TierElite,
		catalog.TierPro,
		catalog.TierDomestic,
		catalog.TierUncapped,
	)
	g.mu.Lock()
	shuffle(g.rng, others)
	g.mu.Unlock()

	remaining := size - len(elite)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(others) {
		remaining = len(others)
	}

	picked := make([]catalog.Player, 0, len(elite)+remaining)
	picked = append(picked, elite...)
	picked = append(picked, others[:remaining]...)

	items := make([]Item, len(picked))
	for i, p := range picked {
		items[i] = Item{
			ID:           fmt.Sprintf("player_%d", i+1),
			Name:         p.Name,
			Role:         p.Role,
			Level:        p.Tier,
			BasePrice:    catalog.BasePrice(p.Tier),
			BidIncrement: catalog.BidIncrement(p.Tier),
			Overseas:     p.Overseas,
			Score:        p.Score,
		}
	}
	return items
}

// Shuffle permutes items in place.
func (g *Generator) Shuffle(items []Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	shuffle(g.rng, items)
}

// shuffle is a Fisher-Yates permutation.
func shuffle[T any](rng *rand.Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
