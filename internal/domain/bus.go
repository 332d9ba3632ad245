package domain

import (
	"context"
)

// EventBus carries records into the engine and results out of it.
// Channel-backed in the community tier, NATS in pro.
type EventBus interface {
	// Publish sends a payload to a tenant-scoped topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Use GlobalTenant to receive
	// every tenant's messages.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// GlobalTenant subscribes across all tenants.
const GlobalTenant = "*"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is a bus envelope.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Pipeline topics.
const (
	TopicRecordIngested = "plb.record.ingested"
	TopicResultComputed = "plb.result.computed"
	TopicResultEligible = "plb.result.eligible"
)

// RecordMessage is the payload of TopicRecordIngested.
type RecordMessage struct {
	TenantID string `json:"tenantId,omitempty"`
	TraceID  string `json:"traceId,omitempty"`
	Record   Record `json:"record"`
}

// ResultMessage is the payload of TopicResultComputed and
// TopicResultEligible.
type ResultMessage struct {
	TenantID string            `json:"tenantId"`
	TraceID  string            `json:"traceId,omitempty"`
	Result   *ProcessingResult `json:"result"`
}
