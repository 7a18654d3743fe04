package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
)

const testTopic = "persistent://public/default/test-topic"

func dial(t *testing.T, b *InMemoryBroker) Conn {
	t.Helper()
	conn, err := b.Dial(context.Background(), DialOptions{ServiceURL: "pulsar://memory"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func send(t *testing.T, conn Conn, key, payload string) string {
	t.Helper()
	p, err := conn.CreateProducer(context.Background(), ProducerOptions{Topic: testTopic})
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}
	defer p.Close()
	id, err := p.Send(context.Background(), contracts.OutboundMessage{Topic: testTopic, Key: key, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	return id
}

func subscribe(t *testing.T, conn Conn, sub string, typ config.SubscriptionType, earliest bool) Consumer {
	t.Helper()
	c, err := conn.Subscribe(context.Background(), ConsumerOptions{
		Topic:            testTopic,
		SubscriptionName: sub,
		Type:             typ,
		FromEarliest:     earliest,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return c
}

func receive(t *testing.T, c Consumer, wait time.Duration) (Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return c.Receive(ctx)
}

func TestInMemoryBroker_SendReceive(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)

	consumer := subscribe(t, conn, "sub", config.Shared, false)
	defer consumer.Close()

	id := send(t, conn, "k", "test message")

	d, err := receive(t, consumer, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	msg := d.Message()
	if msg.ID != id {
		t.Errorf("Expected id %s, got %s", id, msg.ID)
	}
	if msg.Key != "k" || string(msg.Payload) != "test message" || msg.Topic != testTopic {
		t.Errorf("Unexpected message %+v", msg)
	}
	if err := d.Ack(); err != nil {
		t.Errorf("Ack failed: %v", err)
	}
}

func TestInMemoryBroker_InitialPosition(t *testing.T) {
	tests := []struct {
		name     string
		earliest bool
		wantMsg  bool
	}{
		{"latest skips existing messages", false, false},
		{"earliest replays existing messages", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewInMemoryBroker()
			conn := dial(t, b)
			send(t, conn, "", "before")

			consumer := subscribe(t, conn, "sub", config.Shared, tt.earliest)
			defer consumer.Close()

			_, err := receive(t, consumer, 50*time.Millisecond)
			if got := err == nil; got != tt.wantMsg {
				t.Errorf("Expected message=%v, got err=%v", tt.wantMsg, err)
			}
		})
	}
}

func TestInMemoryBroker_UnackedRedelivered(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)
	consumer := subscribe(t, conn, "sub", config.Shared, false)
	send(t, conn, "", "once")

	if _, err := receive(t, consumer, time.Second); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	consumer.Close()

	again := subscribe(t, conn, "sub", config.Shared, false)
	defer again.Close()
	d, err := receive(t, again, time.Second)
	if err != nil {
		t.Fatalf("Expected unacknowledged message to be redelivered: %v", err)
	}
	if string(d.Message().Payload) != "once" {
		t.Errorf("Unexpected payload %q", d.Message().Payload)
	}
}

func TestInMemoryBroker_ExclusiveSubscription(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)

	owner := subscribe(t, conn, "sub", config.Exclusive, false)
	_, err := conn.Subscribe(context.Background(), ConsumerOptions{
		Topic:            testTopic,
		SubscriptionName: "sub",
		Type:             config.Exclusive,
	})
	if !errors.Is(err, ErrSubscriptionBusy) {
		t.Fatalf("Expected ErrSubscriptionBusy, got %v", err)
	}

	_, err = conn.Subscribe(context.Background(), ConsumerOptions{
		Topic:            testTopic,
		SubscriptionName: "sub",
		Type:             config.Shared,
	})
	if !errors.Is(err, ErrSubscriptionBusy) {
		t.Errorf("Expected type mismatch to be rejected, got %v", err)
	}

	owner.Close()
	next := subscribe(t, conn, "sub", config.Exclusive, false)
	next.Close()
}

func TestInMemoryBroker_SharedSplitsMessages(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)
	c1 := subscribe(t, conn, "sub", config.Shared, false)
	defer c1.Close()
	c2 := subscribe(t, conn, "sub", config.Shared, false)
	defer c2.Close()

	send(t, conn, "", "a")
	send(t, conn, "", "b")

	d1, err := receive(t, c1, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	d2, err := receive(t, c2, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if d1.Message().ID == d2.Message().ID {
		t.Error("Expected each message to be dispatched to one consumer only")
	}
}

func TestInMemoryBroker_FailoverTakeover(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)
	active := subscribe(t, conn, "sub", config.Failover, false)
	standby := subscribe(t, conn, "sub", config.Failover, false)
	defer standby.Close()

	send(t, conn, "", "first")
	if _, err := receive(t, standby, 50*time.Millisecond); err == nil {
		t.Fatal("Expected the standby consumer to receive nothing while the active one is connected")
	}
	d, err := receive(t, active, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := d.Ack(); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	send(t, conn, "", "second")
	active.Close()

	d, err = receive(t, standby, time.Second)
	if err != nil {
		t.Fatalf("Expected the standby consumer to take over: %v", err)
	}
	if string(d.Message().Payload) != "second" {
		t.Errorf("Expected payload %q, got %q", "second", d.Message().Payload)
	}
}

func TestInMemoryBroker_KeySharedStickyKeys(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)
	consumers := []Consumer{
		subscribe(t, conn, "sub", config.KeyShared, false),
		subscribe(t, conn, "sub", config.KeyShared, false),
	}
	for _, c := range consumers {
		defer c.Close()
	}

	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5"}
	for round := 0; round < 3; round++ {
		for _, k := range keys {
			send(t, conn, k, k)
		}
	}

	owner := make(map[string]int)
	total := 0
	for i, c := range consumers {
		for {
			d, err := receive(t, c, 50*time.Millisecond)
			if err != nil {
				break
			}
			key := d.Message().Key
			if prev, ok := owner[key]; ok && prev != i {
				t.Errorf("Key %s delivered to consumers %d and %d", key, prev, i)
			}
			owner[key] = i
			total++
			if err := d.Ack(); err != nil {
				t.Fatalf("Ack failed: %v", err)
			}
		}
	}

	if total != len(keys)*3 {
		t.Errorf("Expected %d messages, got %d", len(keys)*3, total)
	}
}

func TestInMemoryBroker_DropConnections(t *testing.T) {
	b := NewInMemoryBroker()
	conn := dial(t, b)
	p, err := conn.CreateProducer(context.Background(), ProducerOptions{Topic: testTopic})
	if err != nil {
		t.Fatalf("CreateProducer failed: %v", err)
	}

	b.DropConnections()

	select {
	case <-conn.Lost():
	default:
		t.Fatal("Expected Lost() to be closed")
	}
	if _, err := p.Send(context.Background(), contracts.OutboundMessage{Payload: []byte("x")}); !IsConnectionError(err) {
		t.Errorf("Expected connection error, got %v", err)
	}
	if err := conn.Ping(context.Background(), testTopic); !IsConnectionError(err) {
		t.Errorf("Expected ping to fail, got %v", err)
	}
}

func TestInMemoryBroker_DialFailures(t *testing.T) {
	b := NewInMemoryBroker()

	b.FailNextDials(1)
	if _, err := b.Dial(context.Background(), DialOptions{}); !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection, got %v", err)
	}

	b.RequireToken("secret")
	if _, err := b.Dial(context.Background(), DialOptions{Token: "wrong"}); !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth, got %v", err)
	}
	conn, err := b.Dial(context.Background(), DialOptions{Token: "secret"})
	if err != nil {
		t.Fatalf("Dial with token failed: %v", err)
	}
	conn.Close()

	if got := b.Dials(); got != 3 {
		t.Errorf("Expected 3 dials, got %d", got)
	}
}

func TestInMemoryBroker_TopicAdmin(t *testing.T) {
	b := NewInMemoryBroker()

	if err := b.CreateTopic(testTopic, 3); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	if err := b.CreateTopic(testTopic, 3); err != nil {
		t.Errorf("Idempotent CreateTopic failed: %v", err)
	}
	if err := b.CreateTopic(testTopic, 2); !errors.Is(err, ErrTopicExists) {
		t.Errorf("Expected ErrTopicExists, got %v", err)
	}

	topics := b.Topics()
	if len(topics) != 1 || topics[0].Partitions != 3 {
		t.Errorf("Unexpected topics %+v", topics)
	}

	conn := dial(t, b)
	consumer := subscribe(t, conn, "sub", config.Shared, false)
	if err := b.DeleteTopic(testTopic); !errors.Is(err, ErrTopicBusy) {
		t.Errorf("Expected ErrTopicBusy, got %v", err)
	}
	consumer.Close()

	if err := b.DeleteTopic(testTopic); err != nil {
		t.Errorf("DeleteTopic failed: %v", err)
	}
	if err := b.DeleteTopic(testTopic); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}
	if _, err := b.TopicStats(testTopic); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound for stats, got %v", err)
	}
}
