package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
)

// Session is the process-wide owner of the broker connection and its producer and
// consumer caches. It is safe for concurrent use.
type Session struct {
	cfg       config.Config
	conn      *Connection
	producers *ProducerCache
	consumers *ConsumerCache
	log       logger.Logger

	closeOnce sync.Once
}

// New creates a Session. The connection is established on first use.
func New(cfg config.Config, driver broker.Driver, log logger.Logger) *Session {
	if log == nil {
		log = &logger.SilentLogger{}
	}

	// Producer names must be unique per topic across the cluster.
	name := "pulsar-mcp-" + uuid.NewString()[:8]

	conn := NewConnection(cfg, driver, log)
	return &Session{
		cfg:       cfg,
		conn:      conn,
		producers: NewProducerCache(conn, name, cfg.SendTimeout, cfg.BatchingEnabled, log),
		consumers: NewConsumerCache(conn, ConsumerOptions{
			Name:              name,
			Type:              cfg.SubscriptionType,
			ReadFromBeginning: cfg.ReadFromBeginning,
			ReceiveTimeout:    cfg.ReceiveTimeout,
			IdleTimeout:       cfg.ConsumerIdleTimeout,
		}, log),
		log: log,
	}
}

// Publish sends one message and returns its broker-assigned id.
func (s *Session) Publish(ctx context.Context, msg contracts.OutboundMessage) (string, error) {
	return s.producers.Publish(ctx, msg)
}

// Consume receives up to max messages from topic on subscription.
func (s *Session) Consume(ctx context.Context, topic, subscription string, max int) ([]contracts.Message, error) {
	return s.consumers.Consume(ctx, topic, subscription, max)
}

// State returns the connection state.
func (s *Session) State() State {
	return s.conn.State()
}

// Stats reports the number of live producers and consumers.
func (s *Session) Stats() (producers, consumers int) {
	return s.producers.Len(), s.consumers.Len()
}

// Close releases every handle and the connection. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.log.Info("Closing Pulsar session")
		s.producers.Close()
		s.consumers.Close()
		s.conn.Close()
	})
}
