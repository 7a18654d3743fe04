// Package connector is the operation facade: it validates named operations, routes them
// to the session and admin layers, and normalizes every outcome into a Result.
package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"pulsar-mcp/src/admin"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
	"pulsar-mcp/src/sanitize"
)

// Operation names.
const (
	OpPublish         = "publish"
	OpConsume         = "consume"
	OpCreateTopic     = "createTopic"
	OpDeleteTopic     = "deleteTopic"
	OpListTopics      = "listTopics"
	OpTopicStats      = "topicStats"
	OpListConnectors  = "listConnectors"
	OpConnectorStatus = "connectorStatus"
	OpConnectorConfig = "connectorConfig"
	OpAllConnectors   = "allConnectors"
)

// Messaging is the data-plane surface the facade needs. *session.Session implements it.
type Messaging interface {
	Publish(ctx context.Context, msg contracts.OutboundMessage) (string, error)
	Consume(ctx context.Context, topic, subscription string, max int) ([]contracts.Message, error)
}

// Result is the normalized outcome of one operation.
type Result struct {
	OK        bool             `json:"ok"`
	Data      any              `json:"data,omitempty"`
	ErrorKind contracts.Kind   `json:"errorKind,omitempty"`
	Reason    contracts.Reason `json:"reason,omitempty"`
	Message   string           `json:"message,omitempty"`
}

type operation struct {
	// kind is reported when the handler panics or returns an unclassified error.
	kind contracts.Kind
	run  func(ctx context.Context, p Params) (any, error)
}

// Connector dispatches operations. It is safe for concurrent use.
type Connector struct {
	cfg       config.Config
	messaging Messaging
	admin     admin.Admin
	log       logger.Logger
	ops       map[string]operation
}

// New creates a Connector.
func New(cfg config.Config, messaging Messaging, adm admin.Admin, log logger.Logger) *Connector {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	c := &Connector{cfg: cfg, messaging: messaging, admin: adm, log: log}
	c.ops = map[string]operation{
		OpPublish:         {contracts.KindPublish, c.publish},
		OpConsume:         {contracts.KindConsume, c.consume},
		OpCreateTopic:     {contracts.KindTopicAdmin, c.createTopic},
		OpDeleteTopic:     {contracts.KindTopicAdmin, c.deleteTopic},
		OpListTopics:      {contracts.KindTopicAdmin, c.listTopics},
		OpTopicStats:      {contracts.KindTopicAdmin, c.topicStats},
		OpListConnectors:  {contracts.KindTopicAdmin, c.listConnectors},
		OpConnectorStatus: {contracts.KindTopicAdmin, c.connectorStatus},
		OpConnectorConfig: {contracts.KindTopicAdmin, c.connectorConfig},
		OpAllConnectors:   {contracts.KindTopicAdmin, c.allConnectors},
	}
	return c
}

// Operations returns the supported operation names.
func (c *Connector) Operations() []string {
	return []string{
		OpPublish, OpConsume, OpCreateTopic, OpDeleteTopic, OpListTopics, OpTopicStats,
		OpListConnectors, OpConnectorStatus, OpConnectorConfig, OpAllConnectors,
	}
}

// Invoke runs the named operation. Names are accepted in camelCase, snake_case, or with
// the "pulsar_" tool prefix. Invoke never panics and never returns a broker-native error.
func (c *Connector) Invoke(ctx context.Context, name string, params Params) (res Result) {
	opName := canonicalName(name)
	op, ok := c.ops[opName]
	if !ok {
		return c.failure(contracts.Validationf("unknown operation %q", name))
	}
	if params == nil {
		params = Params{}
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Operation %s panicked: %v", opName, r)
			res = c.failure(contracts.NewError(op.kind, "", fmt.Sprintf("internal error in %s", opName), fmt.Errorf("%v", r)))
		}
	}()

	c.log.Debug("Invoking %s", opName)
	data, err := op.run(ctx, params)
	if err != nil {
		var ce *contracts.Error
		if !errors.As(err, &ce) {
			ce = contracts.NewError(op.kind, "", "operation failed", err)
		}
		if ce.Kind == contracts.KindValidation {
			c.log.Warn("Rejected %s: %s", opName, ce.Message)
		}
		return c.failure(ce)
	}
	return Result{OK: true, Data: data}
}

func (c *Connector) failure(e *contracts.Error) Result {
	return Result{ErrorKind: e.Kind, Reason: e.Reason, Message: sanitize.Redact(describe(e), c.cfg.Token)}
}

func describe(e *contracts.Error) string {
	msg := e.Message
	if e.Topic != "" {
		msg += fmt.Sprintf(" (topic %s)", e.Topic)
	}
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return msg
}

// canonicalName maps "pulsar_create_topic" and "create_topic" to "createTopic".
func canonicalName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "pulsar_")
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		r := []rune(parts[i])
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, "")
}

// topic resolves the "topic" parameter to a fully qualified name. When fallback is
// set, an absent topic resolves to the configured default.
func (c *Connector) topic(p Params, fallback bool) (contracts.TopicName, error) {
	raw, ok, err := p.GetString("topic")
	if err != nil {
		return contracts.TopicName{}, err
	}
	if !ok {
		if !fallback {
			return contracts.TopicName{}, contracts.Validationf("topic is required")
		}
		raw = c.cfg.Topic
	}
	if strings.TrimSpace(raw) == "" {
		return contracts.TopicName{}, contracts.Validationf("topic must not be empty")
	}
	tn, err := contracts.ParseTopicName(raw, c.cfg.Tenant, c.cfg.Namespace)
	if err != nil {
		return contracts.TopicName{}, contracts.Validationf("%v", err)
	}
	return tn, nil
}

func (c *Connector) publish(ctx context.Context, p Params) (any, error) {
	topic, err := c.topic(p, true)
	if err != nil {
		return nil, err
	}
	message, ok, err := p.GetString("message")
	if err != nil {
		return nil, err
	}
	if !ok || message == "" {
		return nil, contracts.Validationf("message is required")
	}
	payload, err := decodePayload(p, message)
	if err != nil {
		return nil, err
	}
	props, err := p.GetProperties("properties")
	if err != nil {
		return nil, err
	}
	key, _, err := p.GetString("key")
	if err != nil {
		return nil, err
	}

	id, err := c.messaging.Publish(ctx, contracts.OutboundMessage{
		Topic:      topic.String(),
		Payload:    payload,
		Properties: props,
		Key:        key,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"messageId": id, "topic": topic.String()}, nil
}

func decodePayload(p Params, message string) ([]byte, error) {
	encoding, _, err := p.GetString("payloadEncoding")
	if err != nil {
		return nil, err
	}
	switch encoding {
	case "", "utf-8", "utf8", "text":
		return []byte(message), nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(message)
		if err != nil {
			return nil, contracts.Validationf("message is not valid base64: %v", err)
		}
		return data, nil
	default:
		return nil, contracts.Validationf("unknown payloadEncoding %q (want text or base64)", encoding)
	}
}

func (c *Connector) consume(ctx context.Context, p Params) (any, error) {
	topic, err := c.topic(p, true)
	if err != nil {
		return nil, err
	}
	subscription, ok, err := p.GetString("subscriptionName")
	if err != nil {
		return nil, err
	}
	if !ok {
		subscription = c.cfg.Subscription
	}
	if strings.TrimSpace(subscription) == "" {
		return nil, contracts.Validationf("subscriptionName must not be empty")
	}
	max, err := p.GetInt("maxMessages", contracts.DefaultMaxMessages)
	if err != nil {
		return nil, err
	}
	if max < contracts.MinMaxMessages || max > contracts.MaxMaxMessages {
		return nil, contracts.Validationf("maxMessages must be between %d and %d, got %d",
			contracts.MinMaxMessages, contracts.MaxMaxMessages, max)
	}

	messages, err := c.messaging.Consume(ctx, topic.String(), subscription, max)
	if err != nil {
		return nil, err
	}
	return encodeMessages(messages), nil
}

func (c *Connector) createTopic(ctx context.Context, p Params) (any, error) {
	topic, err := c.topic(p, false)
	if err != nil {
		return nil, err
	}
	partitions, err := p.GetInt("partitions", 1)
	if err != nil {
		return nil, err
	}
	if partitions < 1 {
		return nil, contracts.Validationf("partitions must be >= 1, got %d", partitions)
	}

	if err := c.admin.CreateTopic(ctx, topic, partitions); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "topic": topic.String(), "partitions": partitions}, nil
}

func (c *Connector) deleteTopic(ctx context.Context, p Params) (any, error) {
	topic, err := c.topic(p, false)
	if err != nil {
		return nil, err
	}
	if err := c.admin.DeleteTopic(ctx, topic); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "topic": topic.String()}, nil
}

func (c *Connector) listTopics(ctx context.Context, p Params) (any, error) {
	return c.admin.ListTopics(ctx)
}

func (c *Connector) topicStats(ctx context.Context, p Params) (any, error) {
	topic, err := c.topic(p, false)
	if err != nil {
		return nil, err
	}
	return c.admin.TopicStats(ctx, topic)
}

func (c *Connector) listConnectors(ctx context.Context, p Params) (any, error) {
	raw, ok, err := p.GetString("connectorType")
	if err != nil {
		return nil, err
	}
	if !ok {
		raw = string(contracts.ConnectorSource)
	}
	typ, valid := contracts.ParseConnectorType(raw)
	if !valid {
		return nil, contracts.Validationf("connectorType must be %q or %q, got %q",
			contracts.ConnectorSource, contracts.ConnectorSink, raw)
	}

	names, err := c.admin.ListConnectors(ctx, typ)
	if err != nil {
		return nil, err
	}
	return map[string]any{"connectorType": typ, "connectors": names, "count": len(names)}, nil
}

func (c *Connector) connectorName(p Params) (string, error) {
	name, _, err := p.GetString("connectorName")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "", contracts.Validationf("connectorName is required")
	}
	if strings.ContainsAny(name, "/?#") {
		return "", contracts.Validationf("connectorName %q must not contain '/', '?' or '#'", name)
	}
	return name, nil
}

func (c *Connector) connectorStatus(ctx context.Context, p Params) (any, error) {
	name, err := c.connectorName(p)
	if err != nil {
		return nil, err
	}
	return c.admin.ConnectorStatus(ctx, name)
}

func (c *Connector) connectorConfig(ctx context.Context, p Params) (any, error) {
	name, err := c.connectorName(p)
	if err != nil {
		return nil, err
	}
	return c.admin.ConnectorConfig(ctx, name)
}

func (c *Connector) allConnectors(ctx context.Context, p Params) (any, error) {
	return c.admin.AllConnectors(ctx)
}
