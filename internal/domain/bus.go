package domain

import (
	"context"
	"errors"
)

// Delivery errors. The channel bus knows its subscribers and reports a
// message nobody received; NATS cannot and never returns these.
var (
	ErrNoSubscribers = errors.New("no subscribers for topic")
	ErrDropped       = errors.New("every subscriber buffer is full")
)

// EventBus carries claim submissions and validation outcomes between the
// API and the intake worker. The community tier runs it on Go channels, the
// pro tier on NATS.
type EventBus interface {
	// Publish may return ErrNoSubscribers or ErrDropped when no
	// subscriber received the message.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message on topic to handler until the
	// subscription or ctx ends.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and waits for one reply. The responder
	// publishes the reply to msg.ReplyTo().
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one message. A returned error is logged and
// counted; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message metadata keys.
const (
	MetadataReplyTo = "reply_to"
)

// Message is the envelope published on the bus.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// ReplyTo returns the topic the sender waits on, or "" for a plain publish.
func (m *Message) ReplyTo() string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[MetadataReplyTo]
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int    // seconds
	NATSQueueGroup    string // empty subscribes every instance to every message
}

// Claim pipeline topics.
const (
	TopicClaimSubmitted = "claimguard.claim.submitted"
	TopicClaimValidated = "claimguard.claim.validated"
	TopicClaimRejected  = "claimguard.claim.rejected"
)
