// Package world runs the deterministic tick engine: a toroidal tile grid,
// an energy economy, and an ECS population of sandboxed organisms. Given
// the same seed, configuration, and initial genomes, two runs produce
// identical worlds tick for tick.
package world

import (
	"math/rand"

	"github.com/ojrac/opensimplex-go"

	"github.com/microcosm-sim/microcosm/config"
)

// TileKind classifies a grid tile.
type TileKind uint8

const (
	TileEmpty TileKind = iota
	TileResource
	TileObstacle
	TileHazard
)

// Tile is one cell of the grid. Amount is meaningful only for resource
// tiles; Max bounds both eating and regeneration.
type Tile struct {
	Kind   TileKind
	Amount int32
	Max    int32
}

// Grid is a toroidal tile field. Coordinates wrap on both axes.
type Grid struct {
	Width, Height int
	tiles         []Tile

	regenRate float64
}

// NewGrid lays out a grid from the configuration. Each tile rolls once
// against the configured densities; with a positive cluster scale the
// resource roll is biased by smooth noise so resources form patches.
func NewGrid(cfg config.WorldConfig, rng *rand.Rand) *Grid {
	g := &Grid{
		Width:     cfg.Width,
		Height:    cfg.Height,
		tiles:     make([]Tile, cfg.Width*cfg.Height),
		regenRate: cfg.ResourceRegenRate,
	}

	var noise opensimplex.Noise
	if cfg.ResourceClusterScale > 0 {
		noise = opensimplex.NewNormalized(rng.Int63())
	}

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			roll := rng.Float64()
			resourceDensity := cfg.ResourceDensity
			if noise != nil {
				// Noise in [0,1] scales the local density, keeping the
				// global expectation near the configured value.
				n := noise.Eval2(float64(x)/cfg.ResourceClusterScale, float64(y)/cfg.ResourceClusterScale)
				resourceDensity = cfg.ResourceDensity * 2 * n
			}

			t := &g.tiles[y*cfg.Width+x]
			switch {
			case roll < resourceDensity:
				t.Kind = TileResource
				t.Max = cfg.MaxResourcePerTile
				t.Amount = int32(rng.Intn(int(cfg.MaxResourcePerTile))) + 1
			case roll < resourceDensity+cfg.ObstacleDensity:
				t.Kind = TileObstacle
			case roll < resourceDensity+cfg.ObstacleDensity+cfg.HazardDensity:
				t.Kind = TileHazard
			}
		}
	}
	return g
}

// Wrap maps any coordinate pair onto the torus.
func (g *Grid) Wrap(x, y int) (int, int) {
	x = ((x % g.Width) + g.Width) % g.Width
	y = ((y % g.Height) + g.Height) % g.Height
	return x, y
}

// At returns the tile at the wrapped coordinates.
func (g *Grid) At(x, y int) *Tile {
	x, y = g.Wrap(x, y)
	return &g.tiles[y*g.Width+x]
}

// Regenerate applies one tick of logistic regrowth to every depleted
// resource tile. Growth truncates toward zero but is at least 1 so a
// depleted tile always recovers; amounts never exceed Max.
func (g *Grid) Regenerate() {
	for i := range g.tiles {
		t := &g.tiles[i]
		if t.Kind != TileResource || t.Amount >= t.Max {
			continue
		}
		a := float64(t.Amount)
		growth := int32(g.regenRate * a * (1 - a/float64(t.Max)))
		if growth < 1 {
			growth = 1
		}
		t.Amount += growth
		if t.Amount > t.Max {
			t.Amount = t.Max
		}
	}
}

// TotalResource sums the resource amounts across the grid.
func (g *Grid) TotalResource() int64 {
	var sum int64
	for i := range g.tiles {
		if g.tiles[i].Kind == TileResource {
			sum += int64(g.tiles[i].Amount)
		}
	}
	return sum
}

// Deposit seeds resource on an empty tile, used for corpse recycling.
// Non-empty tiles are left alone.
func (g *Grid) Deposit(x, y int, amount, maxAmount int32) {
	t := g.At(x, y)
	if t.Kind != TileEmpty || amount <= 0 {
		return
	}
	t.Kind = TileResource
	t.Max = maxAmount
	t.Amount = min(amount, maxAmount)
}
