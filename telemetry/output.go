package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/microcosm-sim/microcosm/config"
)

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir         string
	ticksFile   *os.File
	lineageFile *os.File

	ticksHeaderWritten   bool
	lineageHeaderWritten bool
}

// NewOutputManager creates the output directory and its files. Returns
// nil if dir is empty (output disabled); a nil manager ignores all writes.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "ticks.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks.csv: %w", err)
	}
	om.ticksFile = f

	f, err = os.Create(filepath.Join(dir, "lineages.csv"))
	if err != nil {
		om.ticksFile.Close()
		return nil, fmt.Errorf("creating lineages.csv: %w", err)
	}
	om.lineageFile = f

	return om, nil
}

// WriteConfig saves the run configuration as YAML next to the CSVs.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTickStats appends one window record to ticks.csv.
func (om *OutputManager) WriteTickStats(stats TickStats) error {
	if om == nil {
		return nil
	}

	records := []TickStats{stats}
	if !om.ticksHeaderWritten {
		if err := gocsv.Marshal(records, om.ticksFile); err != nil {
			return fmt.Errorf("writing ticks: %w", err)
		}
		om.ticksHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.ticksFile); err != nil {
		return fmt.Errorf("writing ticks: %w", err)
	}
	return nil
}

// WriteLineages writes the per-lineage summary rows to lineages.csv.
func (om *OutputManager) WriteLineages(rows []LineageRow) error {
	if om == nil {
		return nil
	}

	if !om.lineageHeaderWritten {
		if err := gocsv.Marshal(rows, om.lineageFile); err != nil {
			return fmt.Errorf("writing lineages: %w", err)
		}
		om.lineageHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, om.lineageFile); err != nil {
		return fmt.Errorf("writing lineages: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	if om.ticksFile != nil {
		if err := om.ticksFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if om.lineageFile != nil {
		if err := om.lineageFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
