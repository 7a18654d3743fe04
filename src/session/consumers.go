package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
)

// ConsumerKey identifies a cached consumer.
type ConsumerKey struct {
	Topic        string
	Subscription string
	Type         config.SubscriptionType
}

func (k ConsumerKey) String() string {
	return k.Topic + "\x00" + k.Subscription + "\x00" + string(k.Type)
}

// consumerSlot holds at most one consumer for a key. The slot is held for the
// whole of a Consume call, so one subscription cursor is read by one caller at a time.
// sem is a one-token semaphore so waiting for the slot can honor a context.
type consumerSlot struct {
	sem      chan struct{}
	consumer broker.Consumer
	gen      uint64
	lastUsed time.Time
}

func newConsumerSlot() *consumerSlot {
	return &consumerSlot{sem: make(chan struct{}, 1)}
}

// lock takes the slot, or reports false once ctx is done.
func (s *consumerSlot) lock(ctx context.Context) bool {
	if s.tryLock() {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *consumerSlot) tryLock() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *consumerSlot) unlock() {
	<-s.sem
}

// ConsumerOptions configures a ConsumerCache.
type ConsumerOptions struct {
	Name              string
	Type              config.SubscriptionType
	ReadFromBeginning bool
	ReceiveTimeout    time.Duration
	// IdleTimeout closes consumers unused for this long. Zero keeps them until Close.
	IdleTimeout time.Duration
}

// ConsumerCache keeps one consumer per (topic, subscription, type).
type ConsumerCache struct {
	conn *Connection
	opts ConsumerOptions
	log  logger.Logger

	slots  *haxmap.Map[string, *consumerSlot]
	closed atomic.Bool

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewConsumerCache creates an empty cache and starts the idle reaper when
// opts.IdleTimeout is set.
func NewConsumerCache(conn *Connection, opts ConsumerOptions, log logger.Logger) *ConsumerCache {
	c := &ConsumerCache{
		conn:  conn,
		opts:  opts,
		log:   log,
		slots: haxmap.New[string, *consumerSlot](),
		quit:  make(chan struct{}),
	}
	if opts.IdleTimeout > 0 {
		c.startReaper(opts.IdleTimeout)
	}
	return c
}

// Consume receives up to max messages from topic on subscription, acknowledging each
// one before it is returned. It stops at max or when nothing arrives within the
// receive timeout. Messages whose acknowledgment fails are left out of the result
// and redelivered by the broker on a later call, never within this one. If ctx ends
// while another call holds the subscription, Consume returns an empty batch.
func (c *ConsumerCache) Consume(ctx context.Context, topic, subscription string, max int) ([]contracts.Message, error) {
	max = clampMaxMessages(max)
	key := ConsumerKey{Topic: topic, Subscription: subscription, Type: c.opts.Type}

	conn, gen, err := c.conn.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}

	slot, _ := c.slots.GetOrCompute(key.String(), newConsumerSlot)
	if !slot.lock(ctx) {
		c.log.Warn("Subscription %s on %s is busy, returning no messages: %v", subscription, topic, ctx.Err())
		return []contracts.Message{}, nil
	}
	defer slot.unlock()

	consumer, err := c.ensureConsumerLocked(ctx, slot, conn, gen, key)
	if err != nil {
		return nil, err
	}
	slot.lastUsed = time.Now()
	defer func() { slot.lastUsed = time.Now() }()

	recvCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiveTimeout)
	defer cancel()

	messages := make([]contracts.Message, 0, max)
	for len(messages) < max {
		delivery, err := consumer.Receive(recvCtx)
		if err != nil {
			if recvCtx.Err() != nil {
				break
			}
			c.dropLocked(slot)
			if broker.IsConnectionError(err) {
				c.conn.MarkLost(gen, err)
			}
			if len(messages) > 0 {
				c.log.Warn("Receive from %s failed after %d messages, returning partial batch: %v", topic, len(messages), err)
				break
			}
			c.log.Error("Failed to receive from %s: %v", topic, err)
			return nil, classify(contracts.KindConsume, topic, "failed to receive messages", err)
		}

		msg := delivery.Message()
		if err := delivery.Ack(); err != nil {
			c.log.Error("Failed to acknowledge %s on %s, leaving it for later redelivery: %v", msg.ID, topic, err)
			continue
		}
		messages = append(messages, msg)
	}

	c.log.Debug("Consumed %d messages from %s (subscription %s)", len(messages), topic, subscription)
	return messages, nil
}

func (c *ConsumerCache) ensureConsumerLocked(ctx context.Context, slot *consumerSlot, conn broker.Conn, gen uint64, key ConsumerKey) (broker.Consumer, error) {
	if slot.consumer != nil && slot.gen == gen {
		return slot.consumer, nil
	}
	if slot.consumer != nil {
		c.log.Debug("Discarding consumer for %s from connection generation %d", key.Topic, slot.gen)
		c.dropLocked(slot)
	}

	consumer, err := conn.Subscribe(ctx, broker.ConsumerOptions{
		Topic:            key.Topic,
		SubscriptionName: key.Subscription,
		Name:             c.opts.Name,
		Type:             key.Type,
		FromEarliest:     c.opts.ReadFromBeginning,
	})
	if err != nil {
		if broker.IsConnectionError(err) {
			c.conn.MarkLost(gen, err)
		}
		c.log.Error("Failed to subscribe %s to %s: %v", key.Subscription, key.Topic, err)
		return nil, classify(contracts.KindConsumerCreation, key.Topic, "failed to create consumer", err)
	}
	if c.closed.Load() {
		consumer.Close()
		return nil, contracts.NewError(contracts.KindConsumerCreation, key.Topic, "failed to create consumer", errSessionClosed)
	}

	slot.consumer, slot.gen = consumer, gen
	c.log.Info("Created %s consumer for %s (subscription %s)", key.Type, key.Topic, key.Subscription)
	return consumer, nil
}

func (c *ConsumerCache) dropLocked(slot *consumerSlot) {
	if slot.consumer != nil {
		slot.consumer.Close()
		slot.consumer = nil
	}
}

func (c *ConsumerCache) startReaper(idle time.Duration) {
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.reapIdle(idle)
			case <-c.quit:
				return
			}
		}
	}()
}

// reapIdle closes consumers unused for longer than idle. Slots busy in a Consume
// call are skipped.
func (c *ConsumerCache) reapIdle(idle time.Duration) int {
	reaped := 0
	c.slots.ForEach(func(_ string, slot *consumerSlot) bool {
		if !slot.tryLock() {
			return true
		}
		if slot.consumer != nil && time.Since(slot.lastUsed) > idle {
			c.dropLocked(slot)
			reaped++
		}
		slot.unlock()
		return true
	})
	if reaped > 0 {
		c.log.Info("Closed %d idle consumers", reaped)
	}
	return reaped
}

// Len returns the number of live consumers.
func (c *ConsumerCache) Len() int {
	n := 0
	c.slots.ForEach(func(_ string, slot *consumerSlot) bool {
		slot.lock(context.Background())
		if slot.consumer != nil {
			n++
		}
		slot.unlock()
		return true
	})
	return n
}

// Close stops the reaper and closes every cached consumer, waiting for in-flight
// Consume calls on each slot to finish.
func (c *ConsumerCache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.quit)
	c.wg.Wait()

	c.slots.ForEach(func(_ string, slot *consumerSlot) bool {
		slot.lock(context.Background())
		c.dropLocked(slot)
		slot.unlock()
		return true
	})
}

func clampMaxMessages(n int) int {
	switch {
	case n < contracts.MinMaxMessages:
		return contracts.MinMaxMessages
	case n > contracts.MaxMaxMessages:
		return contracts.MaxMaxMessages
	}
	return n
}
