// Package main provides CMA-ES search for energy-economy parameters that
// keep an evolved population alive and reproducing.
package main

import (
	"github.com/microcosm-sim/microcosm/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of tunable parameters. Structural
// caps and sandbox limits are deliberately excluded: tuning those changes
// what genomes are expressible rather than whether the economy sustains them.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Energy (initial_energy locked at 1000)
			{Name: "basal_cost", Path: "energy.basal_cost_per_tick", Min: 1, Max: 10, Default: 1},
			{Name: "move_cost", Path: "energy.move_cost", Min: 1, Max: 20, Default: 3},
			{Name: "eat_efficiency", Path: "energy.eat_efficiency", Min: 0.2, Max: 1.0, Default: 0.8},
			{Name: "eat_cap", Path: "energy.eat_cap", Min: 20, Max: 400, Default: 100},
			{Name: "reproduce_cost", Path: "energy.reproduce_cost", Min: 200, Max: 1500, Default: 500},
			{Name: "min_reproduce_energy", Path: "energy.min_reproduce_energy", Min: 300, Max: 2000, Default: 600},
			{Name: "corpse_deposit", Path: "energy.corpse_deposit", Min: 0, Max: 300, Default: 50},
			// World resources
			{Name: "resource_density", Path: "world.resource_density", Min: 0.05, Max: 0.6, Default: 0.3},
			{Name: "resource_regen_rate", Path: "world.resource_regen_rate", Min: 0.005, Max: 0.3, Default: 0.05},
			{Name: "max_resource_per_tile", Path: "world.max_resource_per_tile", Min: 100, Max: 4000, Default: 1000},
			// Hazards
			{Name: "hazard_damage", Path: "world.hazard_damage_per_tick", Min: 0, Max: 100, Default: 10},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	i := 0

	cfg.Energy.BasalCostPerTick = int32(clamped[i])
	i++
	cfg.Energy.MoveCost = int32(clamped[i])
	i++
	cfg.Energy.EatEfficiency = clamped[i]
	i++
	cfg.Energy.EatCap = int32(clamped[i])
	i++
	cfg.Energy.ReproduceCost = int32(clamped[i])
	i++
	cfg.Energy.MinReproduceEnergy = int32(clamped[i])
	i++
	cfg.Energy.CorpseDeposit = int32(clamped[i])
	i++

	cfg.World.ResourceDensity = clamped[i]
	i++
	cfg.World.ResourceRegenRate = clamped[i]
	i++
	cfg.World.MaxResourcePerTile = int32(clamped[i])
	i++

	cfg.World.HazardDamagePerTick = int32(clamped[i])
}

// ExtractFromConfig extracts current parameter values from a Config.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		float64(cfg.Energy.BasalCostPerTick),
		float64(cfg.Energy.MoveCost),
		cfg.Energy.EatEfficiency,
		float64(cfg.Energy.EatCap),
		float64(cfg.Energy.ReproduceCost),
		float64(cfg.Energy.MinReproduceEnergy),
		float64(cfg.Energy.CorpseDeposit),
		cfg.World.ResourceDensity,
		cfg.World.ResourceRegenRate,
		float64(cfg.World.MaxResourcePerTile),
		float64(cfg.World.HazardDamagePerTick),
	}
}
