// Package seed bootstraps an empty config store from a YAML file of
// threshold configs.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lingoloop/viability/internal/threshold"
)

// File is the top-level structure of a seed file.
type File struct {
	Configs []ConfigEntry `yaml:"configs"`
}

// ConfigEntry is one threshold config in YAML form. Empty country/region
// mean wildcard.
type ConfigEntry struct {
	Name                      string  `yaml:"name"`
	Language                  string  `yaml:"language"`
	Country                   string  `yaml:"country"`
	Region                    string  `yaml:"region"`
	MinAttendance             int     `yaml:"min_attendance"`
	ProfitTarget              int     `yaml:"profit_target"`
	InstructorHourlyRate      float64 `yaml:"instructor_hourly_rate"`
	RevenuePerStudent         float64 `yaml:"revenue_per_student"`
	AutoCancel                bool    `yaml:"auto_cancel"`
	CancellationDeadlineHours int     `yaml:"cancellation_deadline_hours"`
	Active                    *bool   `yaml:"active"` // defaults to true
	Priority                  int     `yaml:"priority"`
	Notes                     string  `yaml:"notes"`
}

// ConfigWriter is the store surface the seeder needs.
type ConfigWriter interface {
	ListConfigs(ctx context.Context) ([]threshold.Config, error)
	CreateConfig(ctx context.Context, cfg threshold.Config) (*threshold.Config, error)
}

// Load parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i, c := range f.Configs {
		if c.Language == "" {
			return nil, fmt.Errorf("seed config %d (%q): language is required", i, c.Name)
		}
		if c.CancellationDeadlineHours <= 0 {
			return nil, fmt.Errorf("seed config %d (%q): cancellation_deadline_hours must be > 0", i, c.Name)
		}
		if c.MinAttendance < 0 || c.ProfitTarget < 0 || c.InstructorHourlyRate < 0 || c.RevenuePerStudent < 0 {
			return nil, fmt.Errorf("seed config %d (%q): thresholds must be non-negative", i, c.Name)
		}
	}
	return &f, nil
}

// Apply inserts the seed configs when the store holds none. A non-empty
// store is left untouched so operator edits survive restarts.
func Apply(ctx context.Context, store ConfigWriter, f *File, logger zerolog.Logger) error {
	existing, err := store.ListConfigs(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Debug().Int("existing", len(existing)).Msg("config store not empty, skipping seed")
		return nil
	}

	for _, entry := range f.Configs {
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		cfg := threshold.Config{
			Name:                      entry.Name,
			Language:                  entry.Language,
			Country:                   threshold.Exactly(entry.Country),
			Region:                    threshold.Exactly(entry.Region),
			MinAttendance:             entry.MinAttendance,
			ProfitTarget:              entry.ProfitTarget,
			InstructorHourlyRate:      entry.InstructorHourlyRate,
			RevenuePerStudent:         entry.RevenuePerStudent,
			AutoCancel:                entry.AutoCancel,
			CancellationDeadlineHours: entry.CancellationDeadlineHours,
			Active:                    active,
			Priority:                  entry.Priority,
			Notes:                     entry.Notes,
		}
		if _, err := store.CreateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seeding config %q: %w", entry.Name, err)
		}
	}

	logger.Info().Int("count", len(f.Configs)).Msg("threshold configs seeded")
	return nil
}
