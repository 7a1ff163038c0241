package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/henna-boutique/api/internal/enum"
	"github.com/henna-boutique/api/internal/ws"
)

var ErrFeedFull = errors.New("order feed queue is full")

// broadcaster is satisfied by *ws.Hub.
type broadcaster interface {
	Broadcast(room string, event ws.Event) bool
}

// FeedNotifier pushes orders onto the staff live feed.
type FeedNotifier struct {
	hub broadcaster
}

func NewFeedNotifier(hub broadcaster) *FeedNotifier {
	return &FeedNotifier{hub: hub}
}

func (n *FeedNotifier) Notify(ctx context.Context, msg OrderMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if !n.hub.Broadcast(enum.RoomOrders, ws.Event{Type: msg.Event, Payload: payload}) {
		return ErrFeedFull
	}
	return nil
}
