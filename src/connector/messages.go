package connector

import (
	"encoding/base64"
	"time"
	"unicode/utf8"

	"pulsar-mcp/src/contracts"
)

// ConsumedMessage is the wire form of a received message. Payloads that are not valid
// UTF-8 are base64 encoded and flagged through PayloadEncoding.
type ConsumedMessage struct {
	ID              string            `json:"id"`
	Payload         string            `json:"payload"`
	PayloadEncoding string            `json:"payloadEncoding,omitempty"`
	Properties      map[string]string `json:"properties"`
	PublishTime     time.Time         `json:"publishTime"`
	Topic           string            `json:"topic,omitempty"`
	Key             string            `json:"key,omitempty"`
	RedeliveryCount uint32            `json:"redeliveryCount,omitempty"`
}

func encodeMessages(messages []contracts.Message) []ConsumedMessage {
	out := make([]ConsumedMessage, 0, len(messages))
	for _, m := range messages {
		cm := ConsumedMessage{
			ID:              m.ID,
			Properties:      m.Properties,
			PublishTime:     m.PublishTime,
			Topic:           m.Topic,
			Key:             m.Key,
			RedeliveryCount: m.RedeliveryCount,
		}
		if cm.Properties == nil {
			cm.Properties = map[string]string{}
		}
		if utf8.Valid(m.Payload) {
			cm.Payload = string(m.Payload)
		} else {
			cm.Payload = base64.StdEncoding.EncodeToString(m.Payload)
			cm.PayloadEncoding = "base64"
		}
		out = append(out, cm)
	}
	return out
}
