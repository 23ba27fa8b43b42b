package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jensholdgaard/ipl-auction/internal/catalog"
)

func TestPricingMonotonicByTier(t *testing.T) {
	// catalog.Tiers is ordered highest first.
	for i := 0; i < len(catalog.Tiers); i++ {
		for j := i + 1; j < len(catalog.Tiers); j++ {
			hi, lo := catalog.Tiers[i], catalog.Tiers[j]
			if catalog.BasePrice(hi) < catalog.BasePrice(lo) {
				t.Errorf("BasePrice(%s)=%d < BasePrice(%s)=%d", hi, catalog.BasePrice(hi), lo, catalog.BasePrice(lo))
			}
			if catalog.BidIncrement(hi) < catalog.BidIncrement(lo) {
				t.Errorf("BidIncrement(%s)=%d < BidIncrement(%s)=%d", hi, catalog.BidIncrement(hi), lo, catalog.BidIncrement(lo))
			}
		}
	}
}

func TestPricingTables(t *testing.T) {
	tests := []struct {
		tier      catalog.Tier
		base, inc int
	}{
		{catalog.TierUltraLegend, 20000, 5000},
		{catalog.TierLegend, 20000, 5000},
		{catalog.TierElite, 15000, 5000},
		{catalog.TierPro, 10000, 2500},
		{catalog.TierDomestic, 5000, 1000},
		{catalog.TierUncapped, 5000, 1000},
		{catalog.Tier("mystery"), 5000, 1000},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := catalog.BasePrice(tt.tier); got != tt.base {
				t.Errorf("BasePrice() = %d, want %d", got, tt.base)
			}
			if got := catalog.BidIncrement(tt.tier); got != tt.inc {
				t.Errorf("BidIncrement() = %d, want %d", got, tt.inc)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if c.Count(catalog.TierUltraLegend) == 0 {
		t.Fatal("default catalog has no ultra-legend players")
	}
	others := len(c.Of(catalog.TierLegend, catalog.TierElite, catalog.TierPro, catalog.TierDomestic, catalog.TierUncapped))
	// A four-team room needs 120 items.
	if c.Count(catalog.TierUltraLegend)+others < 120 {
		t.Errorf("default catalog too small: %d players", c.Count(catalog.TierUltraLegend)+others)
	}
	for _, p := range c.Of(catalog.Tiers...) {
		if p.Score <= 0 || p.Score > 100 {
			t.Errorf("%s has score %d outside (0,100]", p.Name, p.Score)
		}
		if p.Tier == "" {
			t.Errorf("%s has no tier", p.Name)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid",
			yaml: `
elite:
  - {name: A, role: batter, score: 80}
uncapped:
  - {name: B, role: bowler, overseas: true, score: 50}
`,
		},
		{
			name:    "unknown tier",
			yaml:    "mythic:\n  - {name: A, role: batter, score: 80}\n",
			wantErr: true,
		},
		{
			name:    "missing name",
			yaml:    "pro:\n  - {role: batter, score: 80}\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := catalog.Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			b := c.Players[catalog.TierUncapped][0]
			if b.Tier != catalog.TierUncapped || !b.Overseas || b.Role != catalog.RoleBowler {
				t.Errorf("parsed player = %+v", b)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.yaml")
	if err := os.WriteFile(path, []byte("legend:\n  - {name: X, role: batter, score: 90}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if c.Count(catalog.TierLegend) != 1 {
		t.Errorf("legend count = %d, want 1", c.Count(catalog.TierLegend))
	}

	if _, err := catalog.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFranchiseByID(t *testing.T) {
	f, ok := catalog.FranchiseByID("mi")
	if !ok || f.Name != "Mumbai Indians" {
		t.Errorf("FranchiseByID(mi) = %+v, %v", f, ok)
	}
	if _, ok := catalog.FranchiseByID("nope"); ok {
		t.Error("FranchiseByID(nope) found a franchise")
	}
	if len(catalog.Franchises) != 10 {
		t.Errorf("len(Franchises) = %d, want 10", len(catalog.Franchises))
	}
}
