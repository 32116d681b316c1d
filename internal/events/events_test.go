package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"

	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/realtime"
	"github.com/mbd888/chainwatch/internal/risk"
)

var assessedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func assessment(score float64, level risk.Level) *risk.Assessment {
	return &risk.Assessment{
		WalletID:        "wal_1",
		Score:           score,
		Level:           level,
		Patterns:        []risk.Pattern{{Kind: risk.PatternRoundTrip, Count: 1}},
		Recommendations: []string{"review bridge activity"},
		AssessedAt:      assessedAt,
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeHub struct {
	events []*realtime.Event
	full   bool
}

func (h *fakeHub) Broadcast(e *realtime.Event) bool {
	if h.full {
		return false
	}
	h.events = append(h.events, e)
	return true
}

func counter(t *testing.T, sink, result string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.EventsPublishedTotal.WithLabelValues(sink, result).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestFromAssessment(t *testing.T) {
	tests := []struct {
		level risk.Level
		want  []Type
	}{
		{risk.LevelLow, []Type{TypeRiskAssessed}},
		{risk.LevelMedium, []Type{TypeRiskAssessed}},
		{risk.LevelHigh, []Type{TypeRiskAssessed, TypeRiskAlert}},
		{risk.LevelCritical, []Type{TypeRiskAssessed, TypeRiskAlert}},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			evts := FromAssessment(assessment(50, tt.level), "desk")
			if len(evts) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(evts), len(tt.want))
			}
			for i, e := range evts {
				if e.Type != tt.want[i] {
					t.Errorf("event %d type = %s, want %s", i, e.Type, tt.want[i])
				}
				if e.WalletID != "wal_1" || e.Label != "desk" || e.Patterns[0] != risk.PatternRoundTrip {
					t.Errorf("event %d = %+v", i, e)
				}
			}
			if len(evts) == 2 && evts[0].ID == evts[1].ID {
				t.Error("events must carry distinct ids")
			}
		})
	}
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, "chainwatch.risk")
	e := FromAssessment(assessment(82, risk.LevelHigh), "")[1]

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "wal_1" {
		t.Errorf("key = %q, want wallet id", msg.Key)
	}
	if string(msg.Headers[0].Value) != string(TypeRiskAlert) {
		t.Errorf("event-type header = %q", msg.Headers[0].Value)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Score != 82 || decoded.Level != risk.LevelHigh {
		t.Errorf("payload = %+v", decoded)
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), e); err == nil {
		t.Error("expected write error")
	}
}

func TestHubPublisher(t *testing.T) {
	hub := &fakeHub{}
	p := NewHubPublisher(hub)
	e := FromAssessment(assessment(30, risk.LevelLow), "")[0]

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	got := hub.events[0]
	if got.Type != realtime.EventRiskAssessed || got.WalletID != "wal_1" || got.Score != 30 {
		t.Errorf("hub event = %+v", got)
	}

	hub.full = true
	if err := p.Publish(context.Background(), e); err == nil {
		t.Error("a full hub queue should be reported")
	}
}

func TestEmitterContinuesPastFailingSink(t *testing.T) {
	broken := NewKafkaPublisherWithWriter(&fakeWriter{err: errors.New("broker down")}, "t")
	hub := &fakeHub{}
	em := NewEmitter(nil, broken, NewHubPublisher(hub), nil)

	okBefore := counter(t, "realtime", "ok")
	errBefore := counter(t, "kafka", "error")

	evts := em.EmitAssessment(context.Background(), assessment(90, risk.LevelCritical), "")
	if len(evts) != 2 {
		t.Fatalf("events = %d, want 2", len(evts))
	}
	if len(hub.events) != 2 {
		t.Errorf("hub received %d events, want 2", len(hub.events))
	}
	if got := counter(t, "realtime", "ok") - okBefore; got != 2 {
		t.Errorf("realtime ok delta = %v, want 2", got)
	}
	if got := counter(t, "kafka", "error") - errBefore; got != 2 {
		t.Errorf("kafka error delta = %v, want 2", got)
	}
}

func TestNilEmitter(t *testing.T) {
	var em *Emitter
	if evts := em.EmitAssessment(context.Background(), assessment(10, risk.LevelVeryLow), ""); len(evts) != 1 {
		t.Errorf("events = %d", len(evts))
	}
}
