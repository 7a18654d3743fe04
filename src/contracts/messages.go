// Package contracts defines the data structures and error taxonomy shared between
// the broker session layer, the admin client, and the operation facade.
package contracts

import (
	"encoding/json"
	"time"
)

// Default bounds for a single consume call.
const (
	DefaultMaxMessages = 10
	MinMaxMessages     = 1
	MaxMaxMessages     = 100
)

// OutboundMessage is a message handed to the broker by a publish call.
type OutboundMessage struct {
	// Topic the message is published to.
	Topic string `json:"topic"`
	// Raw message body.
	Payload []byte `json:"payload"`
	// Optional application-defined properties.
	Properties map[string]string `json:"properties,omitempty"`
	// Optional routing key (used by KeyShared subscriptions and partition routing).
	Key string `json:"key,omitempty"`
}

// Message is a message received from a subscription.
type Message struct {
	// Broker-assigned message id, returned verbatim.
	ID string `json:"id"`
	// Raw message body.
	Payload []byte `json:"payload"`
	// Application-defined properties.
	Properties map[string]string `json:"properties"`
	// Time the broker accepted the message.
	PublishTime time.Time `json:"publishTime"`
	// Producer-assigned event time, zero when unset.
	EventTime time.Time `json:"eventTime,omitempty"`
	// Fully qualified topic (or partition) the message was read from.
	Topic string `json:"topic"`
	// Routing key, empty when unset.
	Key string `json:"key,omitempty"`
	// Number of times the broker redelivered this message.
	RedeliveryCount uint32 `json:"redeliveryCount,omitempty"`
}

// TopicDescriptor describes a topic managed through the admin API.
type TopicDescriptor struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
}

// StatsSnapshot is the broker's point-in-time statistics document for a topic.
// It is passed through untouched.
type StatsSnapshot = json.RawMessage

// ConnectorType selects Pulsar IO source or sink connectors.
type ConnectorType string

const (
	ConnectorSource ConnectorType = "source"
	ConnectorSink   ConnectorType = "sink"
)

// ParseConnectorType validates a connector type name.
func ParseConnectorType(s string) (ConnectorType, bool) {
	switch ConnectorType(s) {
	case ConnectorSource, ConnectorSink:
		return ConnectorType(s), true
	}
	return "", false
}

// ConnectorInfo is the status or configuration document of a Pulsar IO connector
// or function, tagged with the endpoint family that answered.
type ConnectorInfo struct {
	Name string          `json:"connector_name"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// ConnectorSummary groups every connector of the configured namespace by type.
type ConnectorSummary struct {
	Source      []string `json:"source"`
	Sink        []string `json:"sink"`
	TotalSource int      `json:"total_source"`
	TotalSink   int      `json:"total_sink"`
	Total       int      `json:"total"`
}
