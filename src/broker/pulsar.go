package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apache/pulsar-client-go/pulsar"
	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
)

// PulsarDriver dials Apache Pulsar clusters over the binary protocol.
type PulsarDriver struct {
	logger *slog.Logger
}

// NewPulsarDriver creates a PulsarDriver. The client library logs through logger when it is non-nil.
func NewPulsarDriver(logger *slog.Logger) *PulsarDriver {
	return &PulsarDriver{logger: logger}
}

// Dial creates a Pulsar client. The client connects lazily; use Conn.Ping to verify reachability.
func (d *PulsarDriver) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	clientOpts := pulsar.ClientOptions{
		URL:               opts.ServiceURL,
		OperationTimeout:  opts.OperationTimeout,
		ConnectionTimeout: opts.ConnectionTimeout,
	}
	if opts.Token != "" {
		clientOpts.Authentication = pulsar.NewAuthenticationToken(opts.Token)
	}
	if opts.TLSTrustCertsPath != "" {
		clientOpts.TLSTrustCertsFilePath = opts.TLSTrustCertsPath
	}
	clientOpts.TLSAllowInsecureConnection = opts.TLSAllowInsecure
	if d.logger != nil {
		clientOpts.Logger = pulsarlog.NewLoggerWithSlog(d.logger)
	}

	client, err := pulsar.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pulsar client: %w", translatePulsarError(err))
	}

	return &pulsarConn{client: client}, nil
}

type pulsarConn struct {
	client pulsar.Client
}

// Ping looks up the partition metadata of topic. A missing topic still proves the
// connection and credentials work.
func (c *pulsarConn) Ping(ctx context.Context, topic string) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := c.client.TopicPartitions(topic)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		mapped := translatePulsarError(err)
		if errors.Is(mapped, ErrTopicNotFound) {
			return nil
		}
		return mapped
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
	}
}

func (c *pulsarConn) CreateProducer(ctx context.Context, opts ProducerOptions) (Producer, error) {
	p, err := c.client.CreateProducer(pulsar.ProducerOptions{
		Topic:           opts.Topic,
		Name:            opts.Name,
		SendTimeout:     opts.SendTimeout,
		DisableBatching: !opts.BatchingEnabled,
	})
	if err != nil {
		return nil, translatePulsarError(err)
	}
	return &pulsarProducer{producer: p}, nil
}

func (c *pulsarConn) Subscribe(ctx context.Context, opts ConsumerOptions) (Consumer, error) {
	position := pulsar.SubscriptionPositionLatest
	if opts.FromEarliest {
		position = pulsar.SubscriptionPositionEarliest
	}

	consumer, err := c.client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       opts.Topic,
		SubscriptionName:            opts.SubscriptionName,
		Name:                        opts.Name,
		Type:                        pulsarSubscriptionType(opts.Type),
		SubscriptionInitialPosition: position,
	})
	if err != nil {
		return nil, translatePulsarError(err)
	}
	return &pulsarConsumer{consumer: consumer}, nil
}

// Lost returns nil: the Pulsar client reconnects its own broker connections and
// reports persistent failures through operation errors instead.
func (c *pulsarConn) Lost() <-chan struct{} {
	return nil
}

func (c *pulsarConn) Close() {
	c.client.Close()
}

type pulsarProducer struct {
	producer pulsar.Producer
}

func (p *pulsarProducer) Send(ctx context.Context, msg contracts.OutboundMessage) (string, error) {
	id, err := p.producer.Send(ctx, &pulsar.ProducerMessage{
		Payload:    msg.Payload,
		Key:        msg.Key,
		Properties: msg.Properties,
	})
	if err != nil {
		return "", translatePulsarError(err)
	}
	return id.String(), nil
}

func (p *pulsarProducer) Close() {
	p.producer.Close()
}

type pulsarConsumer struct {
	consumer pulsar.Consumer
}

func (c *pulsarConsumer) Receive(ctx context.Context) (Delivery, error) {
	msg, err := c.consumer.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, translatePulsarError(err)
	}
	return &pulsarDelivery{consumer: c.consumer, msg: msg}, nil
}

func (c *pulsarConsumer) Close() {
	c.consumer.Close()
}

type pulsarDelivery struct {
	consumer pulsar.Consumer
	msg      pulsar.Message
}

func (d *pulsarDelivery) Message() contracts.Message {
	return contracts.Message{
		ID:              d.msg.ID().String(),
		Payload:         d.msg.Payload(),
		Properties:      d.msg.Properties(),
		PublishTime:     d.msg.PublishTime(),
		EventTime:       d.msg.EventTime(),
		Topic:           d.msg.Topic(),
		Key:             d.msg.Key(),
		RedeliveryCount: d.msg.RedeliveryCount(),
	}
}

// Ack acknowledges the message. On failure the message is negatively acknowledged
// so the broker redelivers it after the consumer's nack delay.
func (d *pulsarDelivery) Ack() error {
	if err := d.consumer.Ack(d.msg); err != nil {
		d.consumer.Nack(d.msg)
		return fmt.Errorf("%w: %w", ErrAckFailed, translatePulsarError(err))
	}
	return nil
}

func pulsarSubscriptionType(t config.SubscriptionType) pulsar.SubscriptionType {
	switch t {
	case config.Exclusive:
		return pulsar.Exclusive
	case config.Failover:
		return pulsar.Failover
	case config.KeyShared:
		return pulsar.KeyShared
	default:
		return pulsar.Shared
	}
}

// pulsarResultErrors maps client result codes onto the driver sentinels.
var pulsarResultErrors = map[pulsar.Result]error{
	pulsar.AuthenticationError:            ErrAuth,
	pulsar.AuthorizationError:             ErrAuth,
	pulsar.ErrorGettingAuthenticationData: ErrAuth,
	pulsar.ConnectError:                   ErrConnection,
	pulsar.LookupError:                    ErrConnection,
	pulsar.NotConnectedError:              ErrConnectionClosed,
	pulsar.TimeoutError:                   ErrTimeout,
	pulsar.ConsumerBusy:                   ErrSubscriptionBusy,
	pulsar.TopicNotFound:                  ErrTopicNotFound,
	pulsar.InvalidTopicName:               ErrInvalidTopic,
	pulsar.ProducerClosed:                 ErrHandleClosed,
	pulsar.ConsumerClosed:                 ErrHandleClosed,
	pulsar.AlreadyClosedError:             ErrHandleClosed,
	pulsar.InvalidURL:                     ErrUnsupportedConfig,
	pulsar.InvalidConfiguration:           ErrUnsupportedConfig,
}

// pulsarMessageErrors catches server errors that the client only surfaces as text.
var pulsarMessageErrors = []struct {
	fragment string
	err      error
}{
	{"AuthenticationError", ErrAuth},
	{"AuthorizationError", ErrAuth},
	{"authentication", ErrAuth},
	{"tls: ", ErrAuth},
	{"x509: ", ErrAuth},
	{"ConsumerBusy", ErrSubscriptionBusy},
	{"Exclusive consumer is already connected", ErrSubscriptionBusy},
	{"TopicNotFound", ErrTopicNotFound},
	{"connection refused", ErrConnection},
	{"connection closed", ErrConnectionClosed},
	{"timeout", ErrTimeout},
	{"timed out", ErrTimeout},
}

// translatePulsarError wraps a native client error with the matching sentinel.
// Errors that match nothing are returned unchanged.
func translatePulsarError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var perr *pulsar.Error
	if errors.As(err, &perr) {
		if sentinel, ok := pulsarResultErrors[perr.Result()]; ok {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}

	return classifyMessage(err)
}

func classifyMessage(err error) error {
	text := err.Error()
	lower := strings.ToLower(text)
	for _, m := range pulsarMessageErrors {
		if strings.Contains(text, m.fragment) || strings.Contains(lower, strings.ToLower(m.fragment)) {
			return fmt.Errorf("%w: %w", m.err, err)
		}
	}
	return err
}
