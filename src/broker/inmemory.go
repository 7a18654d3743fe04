package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
)

// InMemoryBroker is an in-process stand-in for a Pulsar cluster.
// It implements Driver for the data plane and exposes topic management used by
// the in-memory admin adapter. Subscriptions keep a broker-side cursor and enforce
// the delivery rules of each subscription type.
type InMemoryBroker struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	conns  map[*memConn]struct{}
	token  string

	dials            int
	failDials        int
	producersCreated int
	consumersCreated int
	failAcks         bool
	verbose          bool
	nextTopicID      int64
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		topics: make(map[string]*memTopic),
		conns:  make(map[*memConn]struct{}),
	}
}

// SetVerbose enables or disables verbose logging.
func (b *InMemoryBroker) SetVerbose(verbose bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verbose = verbose
}

// RequireToken makes Dial reject connections that do not present token.
func (b *InMemoryBroker) RequireToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// FailNextDials makes the next n Dial calls fail as if the broker were unreachable.
func (b *InMemoryBroker) FailNextDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

// FailAcks makes every acknowledgment fail while set.
func (b *InMemoryBroker) FailAcks(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAcks = fail
}

// DropConnections severs every open connection, closing their Lost channels.
// Producers and consumers created on them fail from then on.
func (b *InMemoryBroker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.sever()
		delete(b.conns, c)
	}
	for _, t := range b.topics {
		for _, s := range t.subs {
			for _, mc := range append([]*memConsumer(nil), s.consumers...) {
				if mc.conn.dead {
					s.detach(mc)
				}
			}
		}
		t.wake()
	}
}

// Dials returns how many Dial attempts were made, including failed ones.
func (b *InMemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// ProducersCreated returns how many producers were created over the broker's lifetime.
func (b *InMemoryBroker) ProducersCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.producersCreated
}

// ConsumersCreated returns how many consumers were created over the broker's lifetime.
func (b *InMemoryBroker) ConsumersCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumersCreated
}

// Dial implements Driver.
func (b *InMemoryBroker) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, fmt.Errorf("%w: dial %s: connection refused", ErrConnection, opts.ServiceURL)
	}
	if b.token != "" && opts.Token != b.token {
		return nil, fmt.Errorf("%w: invalid token", ErrAuth)
	}

	c := &memConn{broker: b, lost: make(chan struct{})}
	b.conns[c] = struct{}{}
	if b.verbose {
		fmt.Fprintf(os.Stderr, "[InMemoryBroker] Accepted connection #%d\n", b.dials)
	}
	return c, nil
}

// CreateTopic registers a topic with the given partition count.
// Re-creating a topic with the same count is a no-op.
func (b *InMemoryBroker) CreateTopic(name string, partitions int) error {
	if partitions < 1 {
		return fmt.Errorf("%w: partitions must be >= 1", ErrUnsupportedConfig)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		if t.partitions != partitions {
			return fmt.Errorf("%w: %s has %d partitions", ErrTopicExists, name, t.partitions)
		}
		return nil
	}
	b.topicLocked(name).partitions = partitions
	return nil
}

// DeleteTopic removes a topic. Topics with connected consumers cannot be deleted.
func (b *InMemoryBroker) DeleteTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	for _, s := range t.subs {
		if len(s.consumers) > 0 {
			return fmt.Errorf("%w: subscription %s on %s", ErrTopicBusy, s.name, name)
		}
	}
	delete(b.topics, name)
	t.wake()
	return nil
}

// Topics returns every topic with its partition count, sorted by name.
func (b *InMemoryBroker) Topics() []contracts.TopicDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]contracts.TopicDescriptor, 0, len(b.topics))
	for name, t := range b.topics {
		out = append(out, contracts.TopicDescriptor{Name: name, Partitions: t.partitions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TopicStats returns a stats document shaped like the Pulsar admin API's.
func (b *InMemoryBroker) TopicStats(name string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}

	var bytesIn int64
	for _, e := range t.log {
		bytesIn += int64(len(e.msg.Payload))
	}

	subs := make(map[string]any, len(t.subs))
	for name, s := range t.subs {
		consumers := make([]map[string]any, 0, len(s.consumers))
		for _, c := range s.consumers {
			consumers = append(consumers, map[string]any{"consumerName": c.name})
		}
		subs[name] = map[string]any{
			"type":       string(s.typ),
			"msgBacklog": s.backlog(len(t.log)),
			"consumers":  consumers,
		}
	}

	return map[string]any{
		"msgInCounter":   len(t.log),
		"bytesInCounter": bytesIn,
		"producerCount":  t.producers,
		"partitions":     t.partitions,
		"subscriptions":  subs,
	}, nil
}

func (b *InMemoryBroker) topicLocked(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		b.nextTopicID++
		t = &memTopic{
			id:         b.nextTopicID,
			name:       name,
			partitions: 1,
			subs:       make(map[string]*memSub),
			notify:     make(chan struct{}),
		}
		b.topics[name] = t
	}
	return t
}

type memEntry struct {
	msg contracts.Message
}

type memTopic struct {
	id         int64
	name       string
	partitions int
	producers  int
	log        []memEntry
	subs       map[string]*memSub
	notify     chan struct{}
}

// wake releases every receiver blocked on this topic.
func (t *memTopic) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

type memSub struct {
	name       string
	typ        config.SubscriptionType
	start      int
	dispatched map[int]*memConsumer
	acked      map[int]bool
	consumers  []*memConsumer
}

func (s *memSub) backlog(logLen int) int {
	n := 0
	for i := s.start; i < logLen; i++ {
		if !s.acked[i] {
			n++
		}
	}
	return n
}

// eligible reports whether c may receive a message with key under the subscription type.
func (s *memSub) eligible(c *memConsumer, key string) bool {
	switch s.typ {
	case config.Exclusive, config.Failover:
		return len(s.consumers) > 0 && s.consumers[0] == c
	case config.KeyShared:
		if len(s.consumers) == 0 {
			return false
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return s.consumers[int(h.Sum32())%len(s.consumers)] == c
	default:
		return true
	}
}

func (s *memSub) advance() {
	for s.acked[s.start] {
		delete(s.acked, s.start)
		s.start++
	}
}

func (s *memSub) detach(c *memConsumer) {
	for i, other := range s.consumers {
		if other == c {
			s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
			break
		}
	}
	for idx, owner := range s.dispatched {
		if owner == c {
			delete(s.dispatched, idx)
		}
	}
}

type memConn struct {
	broker *InMemoryBroker
	lost   chan struct{}
	dead   bool
	closed bool
}

// sever must be called with the broker lock held.
func (c *memConn) sever() {
	if !c.dead {
		c.dead = true
		close(c.lost)
	}
}

func (c *memConn) usable() error {
	if c.dead {
		return ErrConnectionClosed
	}
	if c.closed {
		return fmt.Errorf("%w: client closed", ErrConnectionClosed)
	}
	return nil
}

func (c *memConn) Ping(ctx context.Context, topic string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.usable()
}

func (c *memConn) CreateProducer(ctx context.Context, opts ProducerOptions) (Producer, error) {
	if opts.Topic == "" {
		return nil, ErrInvalidTopic
	}

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}
	t := b.topicLocked(opts.Topic)
	t.producers++
	b.producersCreated++
	return &memProducer{conn: c, topic: opts.Topic}, nil
}

func (c *memConn) Subscribe(ctx context.Context, opts ConsumerOptions) (Consumer, error) {
	if opts.Topic == "" {
		return nil, ErrInvalidTopic
	}
	if opts.SubscriptionName == "" {
		return nil, fmt.Errorf("%w: empty subscription name", ErrUnsupportedConfig)
	}

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}

	t := b.topicLocked(opts.Topic)
	s, ok := t.subs[opts.SubscriptionName]
	if !ok {
		start := len(t.log)
		if opts.FromEarliest {
			start = 0
		}
		s = &memSub{
			name:       opts.SubscriptionName,
			typ:        opts.Type,
			start:      start,
			dispatched: make(map[int]*memConsumer),
			acked:      make(map[int]bool),
		}
		t.subs[opts.SubscriptionName] = s
	}

	if len(s.consumers) > 0 {
		if s.typ != opts.Type {
			return nil, fmt.Errorf("%w: %s is a %s subscription", ErrSubscriptionBusy, s.name, s.typ)
		}
		if s.typ == config.Exclusive {
			return nil, fmt.Errorf("%w: exclusive consumer already connected to %s", ErrSubscriptionBusy, s.name)
		}
	} else {
		s.typ = opts.Type
	}

	mc := &memConsumer{conn: c, topic: t, sub: s, name: opts.Name}
	s.consumers = append(s.consumers, mc)
	b.consumersCreated++
	t.wake()
	return mc, nil
}

func (c *memConn) Lost() <-chan struct{} {
	return c.lost
}

func (c *memConn) Close() {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	c.closed = true
	delete(b.conns, c)
}

type memProducer struct {
	conn   *memConn
	topic  string
	closed bool
}

func (p *memProducer) Send(ctx context.Context, msg contracts.OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	b := p.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.closed {
		return "", ErrHandleClosed
	}
	if err := p.conn.usable(); err != nil {
		return "", err
	}

	t := b.topicLocked(p.topic)
	idx := len(t.log)
	props := make(map[string]string, len(msg.Properties))
	for k, v := range msg.Properties {
		props[k] = v
	}
	id := fmt.Sprintf("%d:%d:-1", t.id, idx)
	t.log = append(t.log, memEntry{msg: contracts.Message{
		ID:          id,
		Payload:     append([]byte(nil), msg.Payload...),
		Properties:  props,
		PublishTime: time.Now(),
		Topic:       p.topic,
		Key:         msg.Key,
	}})
	t.wake()

	if b.verbose {
		fmt.Fprintf(os.Stderr, "[InMemoryBroker] Published to topic '%s': %s\n", p.topic, id)
	}
	return id, nil
}

func (p *memProducer) Close() {
	b := p.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if t, ok := b.topics[p.topic]; ok && t.producers > 0 {
		t.producers--
	}
}

type memConsumer struct {
	conn   *memConn
	topic  *memTopic
	sub    *memSub
	name   string
	closed bool
}

func (c *memConsumer) Receive(ctx context.Context) (Delivery, error) {
	b := c.conn.broker
	for {
		b.mu.Lock()
		if c.closed {
			b.mu.Unlock()
			return nil, ErrHandleClosed
		}
		if err := c.conn.usable(); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if b.topics[c.topic.name] != c.topic {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %s was deleted", ErrTopicNotFound, c.topic.name)
		}

		s := c.sub
		for i := s.start; i < len(c.topic.log); i++ {
			if s.acked[i] || s.dispatched[i] != nil {
				continue
			}
			entry := c.topic.log[i]
			if !s.eligible(c, entry.msg.Key) {
				continue
			}
			s.dispatched[i] = c
			b.mu.Unlock()
			return &memDelivery{consumer: c, index: i, msg: entry.msg}, nil
		}

		notify := c.topic.notify
		b.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *memConsumer) Close() {
	b := c.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sub.detach(c)
	c.topic.wake()
}

type memDelivery struct {
	consumer *memConsumer
	index    int
	msg      contracts.Message
}

func (d *memDelivery) Message() contracts.Message {
	return d.msg
}

func (d *memDelivery) Ack() error {
	b := d.consumer.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failAcks {
		return fmt.Errorf("%w: injected failure for %s", ErrAckFailed, d.msg.ID)
	}
	if err := d.consumer.conn.usable(); err != nil {
		return fmt.Errorf("%w: %w", ErrAckFailed, err)
	}

	s := d.consumer.sub
	s.acked[d.index] = true
	delete(s.dispatched, d.index)
	s.advance()
	return nil
}
