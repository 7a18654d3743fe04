package admin

import (
	"context"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
)

func TestMemory_TopicLifecycle(t *testing.T) {
	b := broker.NewInMemoryBroker()
	m := NewMemory(b, "public", "default")
	ctx := context.Background()
	orders := topicName(t, "orders")

	if err := m.CreateTopic(ctx, orders, 3); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	if err := m.CreateTopic(ctx, orders, 3); err != nil {
		t.Errorf("Re-creating with the same partition count should succeed: %v", err)
	}
	err := m.CreateTopic(ctx, orders, 5)
	if contracts.ReasonOf(err) != contracts.ReasonAlreadyExists {
		t.Errorf("Expected AlreadyExists, got %v", err)
	}

	if err := m.CreateTopic(ctx, topicName(t, "other-tenant/ns/skipped"), 1); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	if err := m.CreateTopic(ctx, topicName(t, "non-persistent://public/default/ticks"), 2); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	topics, err := m.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if strings.Join(topics, ",") != "non-persistent://public/default/ticks,orders" {
		t.Errorf("Expected [non-persistent://public/default/ticks orders], got %v", topics)
	}

	stats, err := m.TopicStats(ctx, orders)
	if err != nil {
		t.Fatalf("TopicStats failed: %v", err)
	}
	if got := gjson.GetBytes(stats, "partitions").Int(); got != 3 {
		t.Errorf("Expected 3 partitions in stats, got %d", got)
	}

	if err := m.DeleteTopic(ctx, orders); err != nil {
		t.Fatalf("DeleteTopic failed: %v", err)
	}
	err = m.DeleteTopic(ctx, orders)
	if contracts.ReasonOf(err) != contracts.ReasonNotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
	_, err = m.TopicStats(ctx, orders)
	if contracts.ReasonOf(err) != contracts.ReasonNotFound {
		t.Errorf("Expected NotFound for stats, got %v", err)
	}
}

func TestMemory_DeleteWithActiveSubscription(t *testing.T) {
	b := broker.NewInMemoryBroker()
	m := NewMemory(b, "public", "default")
	ctx := context.Background()
	orders := topicName(t, "orders")

	conn, err := b.Dial(ctx, broker.DialOptions{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	consumer, err := conn.Subscribe(ctx, broker.ConsumerOptions{
		Topic:            orders.String(),
		SubscriptionName: "sub",
		Type:             config.Shared,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err = m.DeleteTopic(ctx, orders)
	if contracts.ReasonOf(err) != contracts.ReasonHasActiveSubscriptions {
		t.Fatalf("Expected HasActiveSubscriptions, got %v", err)
	}

	consumer.Close()
	if err := m.DeleteTopic(ctx, orders); err != nil {
		t.Errorf("DeleteTopic after consumer closed failed: %v", err)
	}
}

func TestMemory_Connectors(t *testing.T) {
	m := NewMemory(broker.NewInMemoryBroker(), "public", "default")
	ctx := context.Background()
	m.AddConnector("pg-cdc", contracts.ConnectorSource, []byte(`{"archive":"builtin://debezium-postgres"}`))
	m.AddConnector("es-out", contracts.ConnectorSink, []byte(`{"archive":"builtin://elastic-search"}`))

	summary, err := m.AllConnectors(ctx)
	if err != nil {
		t.Fatalf("AllConnectors failed: %v", err)
	}
	if summary.Total != 2 || summary.Source[0] != "pg-cdc" || summary.Sink[0] != "es-out" {
		t.Errorf("Unexpected summary %+v", summary)
	}

	info, err := m.ConnectorConfig(ctx, "pg-cdc")
	if err != nil {
		t.Fatalf("ConnectorConfig failed: %v", err)
	}
	if info.Type != "source" || !strings.Contains(string(info.Body), "debezium") {
		t.Errorf("Unexpected config %+v", info)
	}

	_, err = m.ConnectorStatus(ctx, "ghost")
	if contracts.ReasonOf(err) != contracts.ReasonNotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
}
