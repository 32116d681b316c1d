// Package events publishes risk assessment results to downstream sinks:
// the realtime WebSocket hub and, when configured, a Kafka topic.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/chainwatch/internal/idgen"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/risk"
)

// Type names an event.
type Type string

const (
	TypeRiskAssessed Type = "risk.assessed"
	TypeRiskAlert    Type = "risk.alert"
)

// Event is the wire payload shared by every sink.
type Event struct {
	ID              string         `json:"id"`
	Type            Type           `json:"type"`
	WalletID        string         `json:"walletId"`
	Label           string         `json:"label,omitempty"`
	Score           float64        `json:"score"`
	Level           risk.Level     `json:"level"`
	SubScores       risk.SubScores `json:"subScores"`
	Patterns        []string       `json:"patterns"`
	Recommendations []string       `json:"recommendations"`
	SkippedChains   int            `json:"skippedChains,omitempty"`
	AssessedAt      time.Time      `json:"assessedAt"`
}

// FromAssessment builds the events for one assessment: always
// risk.assessed, plus risk.alert when the level is high or critical.
func FromAssessment(a *risk.Assessment, label string) []*Event {
	patterns := make([]string, 0, len(a.Patterns))
	for _, p := range a.Patterns {
		patterns = append(patterns, p.Kind)
	}
	base := Event{
		WalletID:        a.WalletID,
		Label:           label,
		Score:           a.Score,
		Level:           a.Level,
		SubScores:       a.SubScores,
		Patterns:        patterns,
		Recommendations: a.Recommendations,
		SkippedChains:   len(a.Skipped),
		AssessedAt:      a.AssessedAt,
	}

	assessed := base
	assessed.ID = idgen.WithPrefix("evt_")
	assessed.Type = TypeRiskAssessed
	out := []*Event{&assessed}

	if a.Level.Elevated() {
		alert := base
		alert.ID = idgen.WithPrefix("evt_")
		alert.Type = TypeRiskAlert
		out = append(out, &alert)
	}
	return out
}

// Publisher delivers events to one sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e *Event) error
}

// Emitter fans events out to every sink. Delivery is best effort: failures
// are logged and counted, never returned. A nil or sink-less Emitter is a
// no-op.
type Emitter struct {
	sinks   []Publisher
	logger  *slog.Logger
	timeout time.Duration
}

// NewEmitter creates an emitter over the given sinks. Nil sinks are ignored.
func NewEmitter(logger *slog.Logger, sinks ...Publisher) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{logger: logger.With("component", "events"), timeout: 10 * time.Second}
	for _, s := range sinks {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
	return e
}

// EmitAssessment publishes the events for a, returning what was built.
func (e *Emitter) EmitAssessment(ctx context.Context, a *risk.Assessment, label string) []*Event {
	evts := FromAssessment(a, label)
	if e == nil || len(e.sinks) == 0 {
		return evts
	}

	// the request that produced the assessment may already be done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	for _, ev := range evts {
		for _, sink := range e.sinks {
			if err := sink.Publish(ctx, ev); err != nil {
				metrics.EventsPublishedTotal.WithLabelValues(sink.Name(), "error").Inc()
				e.logger.Warn("event publish failed",
					"sink", sink.Name(), "type", ev.Type, "wallet_id", ev.WalletID, "error", err)
				continue
			}
			metrics.EventsPublishedTotal.WithLabelValues(sink.Name(), "ok").Inc()
		}
	}
	return evts
}
