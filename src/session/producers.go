package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
)

// producerSlot holds at most one producer for a topic. Its mutex serializes
// creation so concurrent first publishes build a single producer.
type producerSlot struct {
	mu       sync.Mutex
	producer broker.Producer
	gen      uint64
}

// ProducerCache keeps one producer per fully qualified topic name.
type ProducerCache struct {
	conn        *Connection
	name        string
	sendTimeout time.Duration
	batching    bool
	log         logger.Logger

	slots  *haxmap.Map[string, *producerSlot]
	closed atomic.Bool
}

// NewProducerCache creates an empty cache. name is given to every producer created.
func NewProducerCache(conn *Connection, name string, sendTimeout time.Duration, batching bool, log logger.Logger) *ProducerCache {
	return &ProducerCache{
		conn:        conn,
		name:        name,
		sendTimeout: sendTimeout,
		batching:    batching,
		log:         log,
		slots:       haxmap.New[string, *producerSlot](),
	}
}

// Publish sends msg on the cached producer for msg.Topic and returns the broker-assigned id.
// A failed send evicts the producer so the next call builds a fresh one.
func (p *ProducerCache) Publish(ctx context.Context, msg contracts.OutboundMessage) (string, error) {
	prod, gen, err := p.acquire(ctx, msg.Topic)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	id, err := prod.Send(sendCtx, msg)
	if err != nil {
		p.evict(msg.Topic, prod)
		if broker.IsConnectionError(err) {
			p.conn.MarkLost(gen, err)
		}
		p.log.Error("Failed to publish to %s: %v", msg.Topic, err)
		return "", classify(contracts.KindPublish, msg.Topic, "failed to publish message", err)
	}

	p.log.Debug("Published %s to %s", id, msg.Topic)
	return id, nil
}

func (p *ProducerCache) acquire(ctx context.Context, topic string) (broker.Producer, uint64, error) {
	conn, gen, err := p.conn.EnsureConnected(ctx)
	if err != nil {
		return nil, 0, err
	}

	slot, _ := p.slots.GetOrCompute(topic, func() *producerSlot { return &producerSlot{} })
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.producer != nil && slot.gen == gen {
		return slot.producer, gen, nil
	}
	if slot.producer != nil {
		p.log.Debug("Discarding producer for %s from connection generation %d", topic, slot.gen)
		slot.producer.Close()
		slot.producer = nil
	}

	prod, err := conn.CreateProducer(ctx, broker.ProducerOptions{
		Topic:           topic,
		Name:            p.name,
		SendTimeout:     p.sendTimeout,
		BatchingEnabled: p.batching,
	})
	if err != nil {
		if broker.IsConnectionError(err) {
			p.conn.MarkLost(gen, err)
		}
		p.log.Error("Failed to create producer for %s: %v", topic, err)
		return nil, 0, classify(contracts.KindProducerCreation, topic, "failed to create producer", err)
	}
	if p.closed.Load() {
		prod.Close()
		return nil, 0, contracts.NewError(contracts.KindProducerCreation, topic, "failed to create producer", errSessionClosed)
	}

	slot.producer, slot.gen = prod, gen
	p.log.Info("Created producer for %s", topic)
	return prod, gen, nil
}

// evict drops prod from the cache if it is still the cached producer for topic.
func (p *ProducerCache) evict(topic string, prod broker.Producer) {
	slot, ok := p.slots.Get(topic)
	if !ok {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.producer == prod {
		slot.producer.Close()
		slot.producer = nil
	}
}

// Len returns the number of live producers.
func (p *ProducerCache) Len() int {
	n := 0
	p.slots.ForEach(func(_ string, slot *producerSlot) bool {
		slot.mu.Lock()
		if slot.producer != nil {
			n++
		}
		slot.mu.Unlock()
		return true
	})
	return n
}

// Close closes every cached producer. Publish fails afterwards.
func (p *ProducerCache) Close() {
	p.closed.Store(true)
	p.slots.ForEach(func(_ string, slot *producerSlot) bool {
		slot.mu.Lock()
		if slot.producer != nil {
			slot.producer.Close()
			slot.producer = nil
		}
		slot.mu.Unlock()
		return true
	})
}
