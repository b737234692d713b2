// Package bus provides the channel and NATS event buses.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// defaultRequestTimeout bounds Request when ctx has no deadline.
const defaultRequestTimeout = 30 * time.Second

// New creates the bus named by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(topic string, payload []byte, replyTo string) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if replyTo != "" {
		msg.Metadata[domain.MetadataReplyTo] = replyTo
	}
	return msg
}

// encode serializes the envelope for transports that carry bytes.
func encode(msg *domain.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}
	return data, nil
}

// dispatch runs handler for one message. A panic in the handler is logged
// and counted like an error so the subscription keeps consuming.
func dispatch(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerErrors.WithLabelValues(msg.Topic).Inc()
			slog.Error("handler panicked",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"panic", r,
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		metrics.BusHandlerErrors.WithLabelValues(msg.Topic).Inc()
		slog.Error("handler error",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
}
