// Package config provides configuration loading and validation for a
// simulation run. A Config value is fixed for the duration of one run;
// islands never share a mutable Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid marks a setup-time configuration contradiction. It is the only
// run-fatal error class: everything past setup degrades per organism.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all simulation parameters for one run.
type Config struct {
	Energy    EnergyConfig    `yaml:"energy"`
	World     WorldConfig     `yaml:"world"`
	Mutation  MutationConfig  `yaml:"mutation"`
	Exec      ExecConfig      `yaml:"exec"`
	Rules     RulesConfig     `yaml:"rules"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EnergyConfig holds the energy economy: every cost and conversion factor
// is applied exactly where its name says.
type EnergyConfig struct {
	InitialEnergy              int32   `yaml:"initial_energy"`
	BasalCostPerTick           int32   `yaml:"basal_cost_per_tick"`
	InstructionCostPerFuelUnit float64 `yaml:"instruction_cost_per_fuel_unit"`
	MoveCost                   int32   `yaml:"move_cost"`
	AttackCost                 int32   `yaml:"attack_cost"`
	ReproduceCost              int32   `yaml:"reproduce_cost"`
	EatEfficiency              float64 `yaml:"eat_efficiency"`
	MinReproduceEnergy         int32   `yaml:"min_reproduce_energy"`
	EatCap                     int32   `yaml:"eat_cap"`
	MaxAttackDamage            int32   `yaml:"max_attack_damage"`
	CorpseDeposit              int32   `yaml:"corpse_deposit"` // resource seeded on a vacated tile (0 = disabled)
}

// WorldConfig holds grid layout parameters.
type WorldConfig struct {
	Width                int     `yaml:"width"`
	Height               int     `yaml:"height"`
	ResourceDensity      float64 `yaml:"resource_density"`
	MaxResourcePerTile   int32   `yaml:"max_resource_per_tile"`
	ResourceRegenRate    float64 `yaml:"resource_regen_rate"`
	ResourceClusterScale float64 `yaml:"resource_cluster_scale"` // 0 = uniform placement, >0 = noise-clustered
	ObstacleDensity      float64 `yaml:"obstacle_density"`
	HazardDensity        float64 `yaml:"hazard_density"`
	HazardDamagePerTick  int32   `yaml:"hazard_damage_per_tick"`
}

// MutationConfig holds operator rates and the hard structural caps no
// operator may exceed.
type MutationConfig struct {
	PointMutationRate          float64 `yaml:"point_mutation_rate"`
	InsertionRate              float64 `yaml:"insertion_rate"`
	DeletionRate               float64 `yaml:"deletion_rate"`
	BlockDuplicationRate       float64 `yaml:"block_duplication_rate"`
	FunctionAdditionRate       float64 `yaml:"function_addition_rate"`
	MaxInstructionsPerFunction int     `yaml:"max_instructions_per_function"`
	MaxFunctions               int     `yaml:"max_functions"`
	MaxBlocksPerFunction       int     `yaml:"max_blocks_per_function"`
	MaxRegisters               int     `yaml:"max_registers"`
}

// ExecConfig holds sandbox execution limits.
type ExecConfig struct {
	FuelPerStep  uint64 `yaml:"fuel_per_step"`
	MemoryBytes  int    `yaml:"memory_bytes"`
	MaxCallDepth int    `yaml:"max_call_depth"`
	SensorRadius int32  `yaml:"sensor_radius"`
}

// RulesConfig holds dynamic rules toggled per run.
type RulesConfig struct {
	AllowReproduction bool `yaml:"allow_reproduction"`
	AllowCombat       bool `yaml:"allow_combat"`
	MaxPopulation     int  `yaml:"max_population"`
}

// TelemetryConfig holds collection settings.
type TelemetryConfig struct {
	TickStatsInterval uint64 `yaml:"tick_stats_interval"` // 0 = no per-tick stats
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are broken: %v", err))
	}
	return cfg
}

// Load reads the defaults and, if path is non-empty, merges the file on top.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteYAML saves the configuration to a file, for run-output snapshots.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setup-time contradiction found.
func (c *Config) Validate() error {
	if c.World.Width < 1 || c.World.Height < 1 {
		return fmt.Errorf("%w: world %dx%d", ErrInvalid, c.World.Width, c.World.Height)
	}
	if c.World.MaxResourcePerTile < 1 {
		return fmt.Errorf("%w: max_resource_per_tile must be positive", ErrInvalid)
	}
	if c.World.ResourceRegenRate < 0 {
		return fmt.Errorf("%w: resource_regen_rate must not be negative", ErrInvalid)
	}
	densities := c.World.ResourceDensity + c.World.ObstacleDensity + c.World.HazardDensity
	if c.World.ResourceDensity < 0 || c.World.ObstacleDensity < 0 || c.World.HazardDensity < 0 || densities > 1 {
		return fmt.Errorf("%w: tile densities must be in [0,1] and sum to at most 1, got %.3f", ErrInvalid, densities)
	}
	if c.Energy.InitialEnergy < 1 {
		return fmt.Errorf("%w: initial_energy must be positive", ErrInvalid)
	}
	// Above 1 a resource unit would yield more than one energy unit and
	// eating would create energy from nothing.
	if c.Energy.EatEfficiency < 0 || c.Energy.EatEfficiency > 1 {
		return fmt.Errorf("%w: eat_efficiency must be in [0,1], got %g", ErrInvalid, c.Energy.EatEfficiency)
	}
	if c.Energy.EatCap < 1 {
		return fmt.Errorf("%w: eat_cap must be positive", ErrInvalid)
	}
	for name, rate := range map[string]float64{
		"point_mutation_rate":    c.Mutation.PointMutationRate,
		"insertion_rate":         c.Mutation.InsertionRate,
		"deletion_rate":          c.Mutation.DeletionRate,
		"block_duplication_rate": c.Mutation.BlockDuplicationRate,
		"function_addition_rate": c.Mutation.FunctionAdditionRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %g", ErrInvalid, name, rate)
		}
	}
	if c.Mutation.MaxInstructionsPerFunction < 1 || c.Mutation.MaxFunctions < 1 ||
		c.Mutation.MaxBlocksPerFunction < 1 || c.Mutation.MaxRegisters < 1 {
		return fmt.Errorf("%w: mutation caps must be positive", ErrInvalid)
	}
	if c.Mutation.MaxRegisters > 256 {
		return fmt.Errorf("%w: max_registers must fit a byte, got %d", ErrInvalid, c.Mutation.MaxRegisters)
	}
	if c.Mutation.MaxBlocksPerFunction > 65535 || c.Mutation.MaxFunctions > 65535 {
		return fmt.Errorf("%w: block and function caps must fit 16 bits", ErrInvalid)
	}
	if c.Exec.FuelPerStep < 1 {
		return fmt.Errorf("%w: fuel_per_step must be positive", ErrInvalid)
	}
	if c.Exec.MemoryBytes < 4 {
		return fmt.Errorf("%w: memory_bytes must hold at least one word", ErrInvalid)
	}
	if c.Exec.MaxCallDepth < 1 {
		return fmt.Errorf("%w: max_call_depth must be positive", ErrInvalid)
	}
	if c.Exec.SensorRadius < 0 {
		return fmt.Errorf("%w: sensor_radius must not be negative", ErrInvalid)
	}
	if c.Rules.MaxPopulation < 1 {
		return fmt.Errorf("%w: max_population must be positive", ErrInvalid)
	}
	return nil
}
