package events

import (
	"context"
	"errors"

	"github.com/mbd888/chainwatch/internal/realtime"
)

// Broadcaster is implemented by *realtime.Hub.
type Broadcaster interface {
	Broadcast(e *realtime.Event) bool
}

var errHubFull = errors.New("events: realtime queue full")

// HubPublisher forwards events to WebSocket subscribers.
type HubPublisher struct {
	hub Broadcaster
}

// NewHubPublisher creates a publisher over the realtime hub.
func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Name() string { return "realtime" }

func (p *HubPublisher) Publish(_ context.Context, e *Event) error {
	ok := p.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventType(e.Type),
		WalletID:  e.WalletID,
		Score:     e.Score,
		Timestamp: e.AssessedAt,
		Data:      e,
	})
	if !ok {
		return errHubFull
	}
	return nil
}
