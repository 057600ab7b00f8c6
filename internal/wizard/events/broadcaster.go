package events

import (
	"context"

	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/messaging"
)

// HistoryPayload is the data of a history message sent to views
type HistoryPayload struct {
	Kind     history.ChangeKind `json:"kind"`
	EntryIDs []string           `json:"entryIds"`
	Count    int                `json:"count"`
}

// HandlerRegistrar is the part of messaging.Consumer the broadcaster needs
type HandlerRegistrar interface {
	RegisterHandler(eventType string, handler messaging.MessageHandler)
}

// Broadcaster notifies local views through the hub and the other
// instances through the broker. publisher may be nil for a single instance.
type Broadcaster struct {
	hub       *Hub
	publisher messaging.EventPublisher
	origin    string
	log       *logger.Logger

	onRemoteReset func(sessionID string)
}

// NewBroadcaster creates a broadcaster. origin identifies this instance.
func NewBroadcaster(hub *Hub, publisher messaging.EventPublisher, origin string, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		hub:       hub,
		publisher: publisher,
		origin:    origin,
		log:       log.WithComponent("broadcaster"),
	}
}

// OnRemoteReset is called when another instance reset a session
func (b *Broadcaster) OnRemoteReset(fn func(sessionID string)) {
	b.onRemoteReset = fn
}

// HistoryChanged implements history.Notifier
func (b *Broadcaster) HistoryChanged(ctx context.Context, change history.Change) {
	b.hub.Publish(change.SessionID, Message{
		Type: TypeHistoryChanged,
		Data: HistoryPayload{Kind: change.Kind, EntryIDs: change.EntryIDs, Count: change.Count},
	})

	if b.publisher == nil {
		return
	}
	eventType := messaging.EventHistoryAppended
	if change.Kind == history.ChangeRemoved {
		eventType = messaging.EventHistoryRemoved
	}
	data := messaging.HistoryChangedEvent{
		SessionID: change.SessionID,
		EntryIDs:  change.EntryIDs,
		Origin:    b.origin,
		Count:     change.Count,
	}
	if err := b.publisher.Publish(ctx, eventType, data); err != nil {
		b.log.Error().Err(err).Str("session_id", change.SessionID).Msg("failed to publish history event")
	}
}

// SessionReset tells the views and the other instances that a session
// started over
func (b *Broadcaster) SessionReset(ctx context.Context, sessionID string) {
	b.hub.Publish(sessionID, Message{Type: TypeSessionReset})

	if b.publisher == nil {
		return
	}
	data := messaging.SessionResetEvent{SessionID: sessionID, Origin: b.origin}
	if err := b.publisher.Publish(ctx, messaging.EventSessionReset, data); err != nil {
		b.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish reset event")
	}
}

// Register installs the handlers for events coming from other instances
func (b *Broadcaster) Register(consumer HandlerRegistrar) {
	consumer.RegisterHandler(messaging.EventHistoryAppended, b.handleHistory(history.ChangeAppended))
	consumer.RegisterHandler(messaging.EventHistoryRemoved, b.handleHistory(history.ChangeRemoved))
	consumer.RegisterHandler(messaging.EventSessionReset, b.handleReset)
}

func (b *Broadcaster) handleHistory(kind history.ChangeKind) messaging.MessageHandler {
	return func(ctx context.Context, event *messaging.Event) error {
		var data messaging.HistoryChangedEvent
		if err := event.UnmarshalData(&data); err != nil {
			return err
		}
		if data.Origin == b.origin {
			return nil
		}

		n := b.hub.Publish(data.SessionID, Message{
			Type: TypeHistoryChanged,
			Data: HistoryPayload{Kind: kind, EntryIDs: data.EntryIDs, Count: data.Count},
		})
		b.log.Debug().
			Str("session_id", data.SessionID).
			Str("origin", data.Origin).
			Int("subscribers", n).
			Msg("relayed remote history change")
		return nil
	}
}

func (b *Broadcaster) handleReset(ctx context.Context, event *messaging.Event) error {
	var data messaging.SessionResetEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if data.Origin == b.origin {
		return nil
	}

	if b.onRemoteReset != nil {
		b.onRemoteReset(data.SessionID)
	}
	b.hub.Publish(data.SessionID, Message{Type: TypeSessionReset})
	return nil
}
