package ws

import (
	"errors"
	"fmt"

	"vestnik/internal/content"
	"vestnik/internal/metrics"
	"vestnik/internal/models"
)

// ErrDeliveryFailed is surfaced to the sender when persistence fails.
// The receiver never sees a message that failed to persist.
var ErrDeliveryFailed = errors.New("failed to send message")

// MessageStore durably persists a message and maintains the conversation
// summary for its participant pair.
type MessageStore interface {
	SaveMessage(message models.Message) (models.Message, error)
}

// Relay accepts outbound chat messages, persists them and forwards them
// to the receiver's live connection when there is one.
type Relay struct {
	store MessageStore
	hub   *Hub
}

func NewRelay(store MessageStore, hub *Hub) *Relay {
	return &Relay{store: store, hub: hub}
}

// Send persists one message and fans it out. It returns the canonical
// persisted record, which the caller echoes back to the sender whether or
// not the receiver was reachable. Validation failures wrap
// models.ErrInvalidIdentity; anything store-side wraps ErrDeliveryFailed.
func (r *Relay) Send(sender string, ev models.ClientEvent) (models.Message, error) {
	if err := content.ValidateID(sender); err != nil {
		metrics.MessageErrors.WithLabelValues("validation").Inc()
		return models.Message{}, fmt.Errorf("%w: sender: %s", models.ErrInvalidIdentity, err)
	}
	if err := content.ValidateID(ev.Receiver); err != nil {
		metrics.MessageErrors.WithLabelValues("validation").Inc()
		return models.Message{}, fmt.Errorf("%w: receiver: %s", models.ErrInvalidIdentity, err)
	}

	msgType := ev.MsgType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	switch msgType {
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		metrics.MessageErrors.WithLabelValues("validation").Inc()
		return models.Message{}, fmt.Errorf("unsupported message type %q", msgType)
	}
	if ev.Text == "" && ev.FileID == "" {
		metrics.MessageErrors.WithLabelValues("validation").Inc()
		return models.Message{}, errors.New("message text or file reference required")
	}

	persisted, err := r.store.SaveMessage(models.Message{
		Text:     content.Sanitize(ev.Text),
		Sender:   sender,
		Receiver: ev.Receiver,
		Type:     msgType,
		FileID:   ev.FileID,
	})
	if err != nil {
		metrics.MessageErrors.WithLabelValues("store").Inc()
		return models.Message{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	metrics.MessagesSent.Inc()

	// Presence is consulted only after persistence completed, so a slow
	// store never holds up registry access for other connections.
	delivered := r.hub.DeliverToUser(persisted.Receiver, models.ServerEvent{
		Type:    models.ServerEventMessageReceived,
		Message: &persisted,
	})
	if delivered {
		metrics.MessagesDelivered.WithLabelValues("delivered").Inc()
	} else {
		// The message stays persisted; the receiver picks it up from
		// history when they come back.
		metrics.MessagesDelivered.WithLabelValues("offline").Inc()
	}

	return persisted, nil
}
