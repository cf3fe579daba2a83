// Package bus publishes optimization progress events over NATS so that
// dashboards and other processes can follow a run as it evolves.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
)

// EventType identifies the kind of run event
type EventType string

const (
	EventGeneration   EventType = "generation"
	EventRunCompleted EventType = "completed"
	EventRunFailed    EventType = "failed"
)

// Event is the envelope published for every run event.
// Subject pattern: {prefix}runs.{run_id}.{type}
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// GenerationPayload carries one generation's scores. Undefined scores are null.
type GenerationPayload struct {
	Generation    int       `json:"generation"`
	Total         int       `json:"total"`
	BestScore     *float64  `json:"best_score"`
	WorstScore    *float64  `json:"worst_score"`
	AvgScore      *float64  `json:"avg_score"`
	BestWeighting []float64 `json:"best_weighting"`
}

// RunPayload summarizes a finished run
type RunPayload struct {
	Status        store.RunStatus `json:"status"`
	Source        string          `json:"source"`
	Assets        []string        `json:"assets"`
	BestScore     *float64        `json:"best_score"`
	BestWeighting []float64       `json:"best_weighting"`
	Evaluations   int             `json:"evaluations"`
	DurationMs    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}

// EventHandler is a callback for received events
type EventHandler func(event *Event)

// Config configures the publisher
type Config struct {
	URL    string
	Prefix string // Subject prefix (default: "sharpefolio.")
}

// Publisher sends run events to NATS
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		URL:    nats.DefaultURL,
		Prefix: "sharpefolio.",
	}
}

// NewPublisher connects to NATS
func NewPublisher(config Config) (*Publisher, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("sharpefolio-optimizer"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = DefaultConfig().Prefix
	}

	log.Info().
		Str("nats_url", config.URL).
		Str("prefix", config.Prefix).
		Msg("Event publisher initialized")

	return &Publisher{nc: nc, prefix: config.Prefix}, nil
}

// Subject returns the subject of an event type for runID
func (p *Publisher) Subject(runID uuid.UUID, eventType EventType) string {
	return fmt.Sprintf("%sruns.%s.%s", p.prefix, runID, eventType)
}

// PublishGeneration publishes a generation report
func (p *Publisher) PublishGeneration(ctx context.Context, runID uuid.UUID, report genetic.GenerationReport) error {
	payload := GenerationPayload{
		Generation:    report.Generation,
		Total:         report.Total,
		BestScore:     finite(report.BestScore),
		WorstScore:    finite(report.WorstScore),
		AvgScore:      finite(report.AvgScore),
		BestWeighting: report.BestWeighting,
	}
	return p.publish(ctx, runID, EventGeneration, payload)
}

// PublishRunCompleted publishes the final state of run
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *store.Run) error {
	eventType := EventRunCompleted
	if run.Status == store.RunStatusFailed {
		eventType = EventRunFailed
	}

	payload := RunPayload{
		Status:        run.Status,
		Source:        run.Source,
		Assets:        run.Assets,
		BestScore:     finite(run.BestScore),
		BestWeighting: run.BestWeighting,
		Evaluations:   run.Evaluations,
		DurationMs:    run.Duration().Milliseconds(),
		Error:         run.Error,
	}
	return p.publish(ctx, run.ID, eventType, payload)
}

// Observer adapts the publisher to the optimizer's per-generation callback.
// Publish failures are logged and never stop the run.
func (p *Publisher) Observer(ctx context.Context, runID uuid.UUID) genetic.Observer {
	return func(report genetic.GenerationReport) {
		if err := p.PublishGeneration(ctx, runID, report); err != nil {
			log.Warn().
				Err(err).
				Str("run_id", runID.String()).
				Int("generation", report.Generation).
				Msg("Failed to publish generation event")
		}
	}
}

func (p *Publisher) publish(ctx context.Context, runID uuid.UUID, eventType EventType, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("event publisher not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Payload:   raw,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(runID, eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("run_id", runID.String()).
		Str("subject", subject).
		Msg("Published event")

	return nil
}

// SubscribeRun delivers every event of runID. Pass uuid.Nil for all runs.
func (p *Publisher) SubscribeRun(runID uuid.UUID, handler EventHandler) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%sruns.*.>", p.prefix)
	if runID != uuid.Nil {
		subject = fmt.Sprintf("%sruns.%s.>", p.prefix, runID)
	}

	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to run events")
	return sub, nil
}

// Flush waits until the server has processed all published events
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Stats returns connection statistics
func (p *Publisher) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if p.nc != nil {
		s := p.nc.Stats()
		stats["connected"] = p.nc.IsConnected()
		stats["status"] = p.nc.Status().String()
		stats["out_msgs"] = s.OutMsgs
		stats["out_bytes"] = s.OutBytes
		stats["reconnects"] = s.Reconnects
	}
	return stats
}

// Health reports whether the NATS connection is up
func (p *Publisher) Health(_ context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		log.Info().Msg("Event publisher closed")
	}
	return nil
}

// finite returns nil for NaN and infinities, which JSON cannot carry
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
