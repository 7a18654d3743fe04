// Package broker defines the data-plane seams used by the session manager and
// provides the Apache Pulsar and in-memory implementations.
package broker

import (
	"context"
	"errors"
	"time"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
)

// Sentinel errors every driver maps its native failures onto.
var (
	ErrAuth              = errors.New("authentication rejected")
	ErrConnection        = errors.New("broker unreachable")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrTimeout           = errors.New("operation timed out")
	ErrSubscriptionBusy  = errors.New("subscription is held by another consumer")
	ErrTopicNotFound     = errors.New("topic not found")
	ErrTopicExists       = errors.New("topic already exists")
	ErrTopicBusy         = errors.New("topic has active subscriptions")
	ErrInvalidTopic      = errors.New("invalid topic name")
	ErrHandleClosed      = errors.New("handle closed")
	ErrAckFailed         = errors.New("acknowledgment failed")
	ErrUnsupportedConfig = errors.New("invalid client configuration")
)

// Driver dials data-plane connections.
type Driver interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one logical connection to the broker.
type Conn interface {
	// Ping performs a metadata round-trip to verify reachability and credentials.
	Ping(ctx context.Context, topic string) error
	CreateProducer(ctx context.Context, opts ProducerOptions) (Producer, error)
	Subscribe(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	// Lost is closed when the transport reports the connection gone for good.
	// A nil channel means the driver never reports loss.
	Lost() <-chan struct{}
	Close()
}

// Producer publishes to a single topic.
type Producer interface {
	Send(ctx context.Context, msg contracts.OutboundMessage) (string, error)
	Close()
}

// Consumer receives from a single subscription.
type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
	Close()
}

// Delivery is a received message that still has to be acknowledged. A failed Ack
// leaves the message pending on the subscription; it is not handed out again to the
// same receive loop.
type Delivery interface {
	Message() contracts.Message
	Ack() error
}

// DialOptions carries the connection-level settings from the session config.
type DialOptions struct {
	ServiceURL        string
	Token             string
	TLSTrustCertsPath string
	TLSAllowInsecure  bool
	OperationTimeout  time.Duration
	ConnectionTimeout time.Duration
}

// ProducerOptions configures a producer.
type ProducerOptions struct {
	Topic           string
	Name            string
	SendTimeout     time.Duration
	BatchingEnabled bool
}

// ConsumerOptions configures a consumer.
type ConsumerOptions struct {
	Topic            string
	SubscriptionName string
	Name             string
	Type             config.SubscriptionType
	// FromEarliest positions a newly created subscription at the first retained message.
	// It has no effect on a subscription that already exists.
	FromEarliest bool
}

// IsConnectionError reports failures after which the connection must be re-established.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrConnectionClosed)
}
