// Package alerts notifies operators about finished optimization runs through
// the log and, optionally, Telegram.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// rank orders severities; unknown values rank as info
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ParseSeverity parses a case-insensitive severity name
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(s)); sev {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown alert severity %q", s)
	}
}

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every alerter at or above its minimum severity
type Manager struct {
	alerters    []Alerter
	minSeverity Severity
}

// NewManager creates a new alert manager
func NewManager(minSeverity Severity, alerters ...Alerter) *Manager {
	return &Manager{
		alerters:    alerters,
		minSeverity: minSeverity,
	}
}

// Send sends an alert to all configured alerters
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Severity.rank() < m.minSeverity.rank() {
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var errs []error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NotifyRun raises the alert describing a finished run: critical when it
// failed, a warning when its best score is not finite, info otherwise
func (m *Manager) NotifyRun(ctx context.Context, run *store.Run) error {
	return m.Send(ctx, RunAlert(run))
}

// RunAlert builds the alert for a finished run
func RunAlert(run *store.Run) Alert {
	metadata := map[string]interface{}{
		"run_id": run.ID.String(),
		"source": run.Source,
		"assets": strings.Join(run.Assets, ","),
	}

	if run.Status == store.RunStatusFailed {
		metadata["error"] = run.Error
		return Alert{
			Title:    "Optimization Failed",
			Message:  fmt.Sprintf("Run over %d assets failed: %s", len(run.Assets), run.Error),
			Severity: SeverityCritical,
			Metadata: metadata,
		}
	}

	if math.IsNaN(run.BestScore) || math.IsInf(run.BestScore, 0) {
		return Alert{
			Title:    "Degenerate Optimization",
			Message:  fmt.Sprintf("Best Sharpe ratio is %v; the price history may have no variance", run.BestScore),
			Severity: SeverityWarning,
			Metadata: metadata,
		}
	}

	metadata["best_score"] = run.BestScore
	metadata["duration"] = run.Duration().Round(time.Millisecond).String()
	return Alert{
		Title:    "Optimization Completed",
		Message:  fmt.Sprintf("Sharpe %.4f with %s", run.BestScore, formatAllocations(run)),
		Severity: SeverityInfo,
		Metadata: metadata,
	}
}

func formatAllocations(run *store.Run) string {
	allocations := portfolio.Allocations(run.Assets, run.BestWeighting)
	parts := make([]string, len(allocations))
	for i, a := range allocations {
		parts[i] = fmt.Sprintf("%s %d%%", a.Asset, a.Percent())
	}
	return strings.Join(parts, ", ")
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)

	return nil
}
