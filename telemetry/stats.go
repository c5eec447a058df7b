package telemetry

import "log/slog"

// TickStats is one windowed sample of simulation activity, written as one
// row of ticks.csv.
type TickStats struct {
	WindowStart uint64 `csv:"window_start"`
	WindowEnd   uint64 `csv:"window_end"`

	Population    int   `csv:"population"`
	TotalEnergy   int64 `csv:"total_energy"`
	TotalResource int64 `csv:"total_resource"`

	Births          int   `csv:"births"`
	DeathsStarved   int   `csv:"deaths_starved"`
	DeathsKilled    int   `csv:"deaths_killed"`
	DeathsHazard    int   `csv:"deaths_hazard"`
	Traps           int   `csv:"traps"`
	FuelExhaustions int   `csv:"fuel_exhaustions"`
	Moves           int   `csv:"moves"`
	Eats            int   `csv:"eats"`
	EatenAmount     int64 `csv:"eaten_amount"`
	Attacks         int   `csv:"attacks"`
	Kills           int   `csv:"kills"`
	Signals         int   `csv:"signals"`

	ReproAttempts            int `csv:"repro_attempts"`
	ReproSuccesses           int `csv:"repro_successes"`
	ReproFailedEnergy        int `csv:"repro_failed_energy"`
	ReproFailedBelowMinimum  int `csv:"repro_failed_below_minimum"`
	ReproFailedPopulationCap int `csv:"repro_failed_population_cap"`
	ReproFailedNoFreeTile    int `csv:"repro_failed_no_free_tile"`
}

// LineageRow is one lineage's aggregate, written as one row of
// lineages.csv.
type LineageRow struct {
	Lineage     string  `csv:"lineage"`
	Count       int     `csv:"count"`
	MeanScore   float64 `csv:"mean_score"`
	MedianScore float64 `csv:"median_score"`
	BestScore   float64 `csv:"best_score"`
	Offspring   uint32  `csv:"offspring"`
	Kills       uint32  `csv:"kills"`
}

// RunStats summarizes a whole run for the final log line.
type RunStats struct {
	Seed           int64
	Ticks          uint64
	FinalPop       int
	Lineages       int
	Births         int
	DeathsStarved  int
	DeathsKilled   int
	DeathsHazard   int
	Traps          int
	BestScore      float64
	ElapsedSeconds float64
}

// LogValue renders the run summary as structured attributes.
func (s RunStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("seed", s.Seed),
		slog.Uint64("ticks", s.Ticks),
		slog.Int("final_pop", s.FinalPop),
		slog.Int("lineages", s.Lineages),
		slog.Int("births", s.Births),
		slog.Int("deaths_starved", s.DeathsStarved),
		slog.Int("deaths_killed", s.DeathsKilled),
		slog.Int("deaths_hazard", s.DeathsHazard),
		slog.Int("traps", s.Traps),
		slog.Float64("best_score", s.BestScore),
		slog.Float64("elapsed_sec", s.ElapsedSeconds),
	)
}
