// Package fitness scores finished organisms and aggregates scores per
// lineage. Scoring is a pure function of an organism's recorded metrics
// so it can run after the simulation without touching world state.
package fitness

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics accumulates over one organism's life and is finalized exactly
// once, at death or at end of run.
type Metrics struct {
	Lifetime       uint64
	NetEnergy      int64 // energy at finalization minus energy at birth
	OffspringCount uint32
	TilesExplored  uint32 // distinct tiles visited
	Kills          uint32
	TimesEaten     uint32
	DamageDealt    int64
	DamageReceived int64
}

// Weights of the scalar score.
const (
	lifetimeWeight  = 1.0
	netEnergyWeight = 0.5
	offspringWeight = 100.0
	exploredWeight  = 0.1
	killWeight      = 50.0
)

// Scalar collapses metrics to a single comparable score. Negative net
// energy contributes nothing rather than penalizing.
func Scalar(m Metrics) float64 {
	net := float64(m.NetEnergy)
	if net < 0 {
		net = 0
	}
	return float64(m.Lifetime)*lifetimeWeight +
		net*netEnergyWeight +
		float64(m.OffspringCount)*offspringWeight +
		float64(m.TilesExplored)*exploredWeight +
		float64(m.Kills)*killWeight
}

// Summary aggregates the scores of one lineage.
type Summary struct {
	Count     int
	Mean      float64
	Median    float64
	Best      float64
	Offspring uint32
	Kills     uint32
}

// Summarize reduces a lineage's finalized metrics to a Summary. An empty
// slice yields the zero Summary.
func Summarize(ms []Metrics) Summary {
	if len(ms) == 0 {
		return Summary{}
	}
	scores := make([]float64, len(ms))
	s := Summary{Count: len(ms)}
	for i := range ms {
		scores[i] = Scalar(ms[i])
		s.Offspring += ms[i].OffspringCount
		s.Kills += ms[i].Kills
	}
	sort.Float64s(scores)
	s.Mean = stat.Mean(scores, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, scores, nil)
	s.Best = scores[len(scores)-1]
	return s
}
