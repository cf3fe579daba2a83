package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// SchemaVersion is the version of the run export document
const SchemaVersion = "1.0.0"

// ExportFormat specifies the output format for run export
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// RunExport is the portable form of a finished run. Scores that are not
// finite are written as null.
type RunExport struct {
	SchemaVersion string                 `json:"schema_version" yaml:"schema_version"`
	ExportedAt    time.Time              `json:"exported_at" yaml:"exported_at"`
	RunID         string                 `json:"run_id" yaml:"run_id"`
	Status        store.RunStatus        `json:"status" yaml:"status"`
	Source        string                 `json:"source" yaml:"source"`
	Assets        []string               `json:"assets" yaml:"assets"`
	StartDate     string                 `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate       string                 `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Config        genetic.Config         `json:"config" yaml:"config"`
	Allocations   []portfolio.Allocation `json:"allocations" yaml:"allocations"`
	BestScore     *float64               `json:"best_score" yaml:"best_score"`
	ScoreHistory  []*float64             `json:"score_history" yaml:"score_history"`
	Metrics       *portfolio.Metrics     `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Seed          int64                  `json:"seed" yaml:"seed"`
	Evaluations   int                    `json:"evaluations" yaml:"evaluations"`
	DurationMs    int64                  `json:"duration_ms" yaml:"duration_ms"`
	Error         string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRunExport builds the export document of run. riskMetrics may be nil.
func NewRunExport(run *store.Run, riskMetrics *portfolio.Metrics) *RunExport {
	exp := &RunExport{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		RunID:         run.ID.String(),
		Status:        run.Status,
		Source:        run.Source,
		Assets:        run.Assets,
		Config:        run.Config,
		Allocations:   portfolio.Allocations(run.Assets, run.BestWeighting),
		BestScore:     finite(run.BestScore),
		ScoreHistory:  make([]*float64, len(run.ScoreHistory)),
		Metrics:       finiteMetrics(riskMetrics),
		Seed:          run.Seed,
		Evaluations:   run.Evaluations,
		DurationMs:    run.Duration().Milliseconds(),
		Error:         run.Error,
	}
	if !run.StartDate.IsZero() {
		exp.StartDate = run.StartDate.Format(time.DateOnly)
	}
	if !run.EndDate.IsZero() {
		exp.EndDate = run.EndDate.Format(time.DateOnly)
	}
	for i, score := range run.ScoreHistory {
		exp.ScoreHistory[i] = finite(score)
	}
	return exp
}

// Export serializes a run export
func Export(exp *RunExport, format ExportFormat) ([]byte, error) {
	if exp == nil {
		return nil, fmt.Errorf("export cannot be nil")
	}

	switch format {
	case FormatYAML, "":
		var buf bytes.Buffer
		buf.WriteString("# Sharpefolio Optimization Run\n")
		fmt.Fprintf(&buf, "# Schema Version: %s\n\n", exp.SchemaVersion)

		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(exp); err != nil {
			return nil, fmt.Errorf("failed to encode run to YAML: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(exp, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode run to JSON: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// FormatForPath picks the export format from a file extension, defaulting to YAML
func FormatForPath(path string) ExportFormat {
	if filepath.Ext(path) == ".json" {
		return FormatJSON
	}
	return FormatYAML
}

// ExportToFile writes a run export to path. An empty format is taken from the
// file extension.
func ExportToFile(exp *RunExport, path string, format ExportFormat) error {
	if format == "" {
		format = FormatForPath(path)
	}

	data, err := Export(exp, format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}

	return nil
}

// Import parses a run export in either format and checks its schema version
func Import(data []byte) (*RunExport, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty run export")
	}

	var exp RunExport
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &exp); err != nil {
			return nil, fmt.Errorf("failed to parse run export as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse run export as YAML: %w", err)
	}

	if err := CheckCompatibility(exp.SchemaVersion); err != nil {
		return nil, err
	}

	return &exp, nil
}

// ImportFromFile reads and parses a run export
func ImportFromFile(path string) (*RunExport, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied export path
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}

	exp, err := Import(data)
	if err != nil {
		return nil, fmt.Errorf("failed to import run from %s: %w", path, err)
	}
	return exp, nil
}

// CheckCompatibility accepts any version of the current major that is not
// newer than SchemaVersion
func CheckCompatibility(version string) error {
	if version == "" {
		return fmt.Errorf("missing schema version")
	}

	current, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema version: %s", version)
	}

	target := semver.MustParse(SchemaVersion)
	if current.GreaterThan(target) {
		return fmt.Errorf("run export requires schema version %s, but only %s is supported",
			version, SchemaVersion)
	}
	if current.Major() != target.Major() {
		return fmt.Errorf("no migration path from version %s to %s", version, SchemaVersion)
	}

	return nil
}

// ToRun converts an imported export back into a storable run
func (e *RunExport) ToRun() (*store.Run, error) {
	id, err := uuid.Parse(e.RunID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}

	run := &store.Run{
		ID:            id,
		Status:        e.Status,
		Source:        e.Source,
		Assets:        e.Assets,
		Config:        e.Config,
		BestWeighting: make([]float64, len(e.Allocations)),
		BestScore:     orNaN(e.BestScore),
		ScoreHistory:  make([]float64, len(e.ScoreHistory)),
		Seed:          e.Seed,
		Evaluations:   e.Evaluations,
		Error:         e.Error,
		CompletedAt:   e.ExportedAt,
	}
	run.StartedAt = run.CompletedAt.Add(-time.Duration(e.DurationMs) * time.Millisecond)

	for i, a := range e.Allocations {
		run.BestWeighting[i] = a.Weight
	}
	for i, score := range e.ScoreHistory {
		run.ScoreHistory[i] = orNaN(score)
	}
	if e.StartDate != "" {
		if run.StartDate, err = time.Parse(time.DateOnly, e.StartDate); err != nil {
			return nil, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if e.EndDate != "" {
		if run.EndDate, err = time.Parse(time.DateOnly, e.EndDate); err != nil {
			return nil, fmt.Errorf("invalid end date: %w", err)
		}
	}

	return run, nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// finiteMetrics drops metrics that JSON cannot carry
func finiteMetrics(m *portfolio.Metrics) *portfolio.Metrics {
	if m == nil {
		return nil
	}
	for _, v := range []float64{m.SharpeRatio, m.MeanReturn, m.Volatility, m.AnnualizedReturn, m.AnnualizedVol, m.SortinoRatio, m.MaxDrawdown} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	}
	return m
}
