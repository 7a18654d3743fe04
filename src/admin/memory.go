package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/contracts"
)

// memoryReasons maps in-memory cluster sentinels to admin reasons.
var memoryReasons = []struct {
	sentinel error
	reason   contracts.Reason
}{
	{broker.ErrTopicNotFound, contracts.ReasonNotFound},
	{broker.ErrTopicExists, contracts.ReasonAlreadyExists},
	{broker.ErrTopicBusy, contracts.ReasonHasActiveSubscriptions},
}

type memConnector struct {
	typ    contracts.ConnectorType
	config []byte
}

// Memory serves the Admin interface from an InMemoryBroker.
type Memory struct {
	broker    *broker.InMemoryBroker
	tenant    string
	namespace string

	mu         sync.Mutex
	connectors map[string]memConnector
}

// NewMemory creates an admin adapter scoped to tenant/namespace.
func NewMemory(b *broker.InMemoryBroker, tenant, namespace string) *Memory {
	return &Memory{
		broker:     b,
		tenant:     tenant,
		namespace:  namespace,
		connectors: make(map[string]memConnector),
	}
}

// AddConnector registers a Pulsar IO connector so the connector operations have
// something to report.
func (m *Memory) AddConnector(name string, typ contracts.ConnectorType, config []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[name] = memConnector{typ: typ, config: config}
}

func memoryError(err error, topic, action string) error {
	reason := contracts.ReasonRejected
	for _, m := range memoryReasons {
		if errors.Is(err, m.sentinel) {
			reason = m.reason
			break
		}
	}
	return contracts.AdminError(reason, topic, "failed to "+action, err)
}

func (m *Memory) CreateTopic(ctx context.Context, topic contracts.TopicName, partitions int) error {
	if err := m.broker.CreateTopic(topic.String(), partitions); err != nil {
		return memoryError(err, topic.String(), "create topic")
	}
	return nil
}

func (m *Memory) DeleteTopic(ctx context.Context, topic contracts.TopicName) error {
	if err := m.broker.DeleteTopic(topic.String()); err != nil {
		return memoryError(err, topic.String(), "delete topic")
	}
	return nil
}

func (m *Memory) ListTopics(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, t := range m.broker.Topics() {
		for _, domain := range []string{contracts.DomainPersistent, contracts.DomainNonPersistent} {
			if strings.HasPrefix(t.Name, fmt.Sprintf("%s://%s/%s/", domain, m.tenant, m.namespace)) {
				seen[contracts.ListingName(t.Name)] = struct{}{}
			}
		}
	}
	topics := make([]string, 0, len(seen))
	for n := range seen {
		topics = append(topics, n)
	}
	sort.Strings(topics)
	return topics, nil
}

func (m *Memory) TopicStats(ctx context.Context, topic contracts.TopicName) (contracts.StatsSnapshot, error) {
	stats, err := m.broker.TopicStats(topic.String())
	if err != nil {
		return nil, memoryError(err, topic.String(), "read topic stats")
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, contracts.AdminError(contracts.ReasonRejected, topic.String(), "failed to encode topic stats", err)
	}
	return data, nil
}

func (m *Memory) ListConnectors(ctx context.Context, typ contracts.ConnectorType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := []string{}
	for name, c := range m.connectors {
		if c.typ == typ {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) ConnectorStatus(ctx context.Context, name string) (*contracts.ConnectorInfo, error) {
	c, err := m.connector(name, "read connector status")
	if err != nil {
		return nil, err
	}
	status, _ := json.Marshal(map[string]any{"numInstances": 1, "numRunning": 1})
	return &contracts.ConnectorInfo{Name: name, Type: string(c.typ), Body: status}, nil
}

func (m *Memory) ConnectorConfig(ctx context.Context, name string) (*contracts.ConnectorInfo, error) {
	c, err := m.connector(name, "read connector config")
	if err != nil {
		return nil, err
	}
	return &contracts.ConnectorInfo{Name: name, Type: string(c.typ), Body: c.config}, nil
}

func (m *Memory) connector(name, action string) (memConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[name]
	if !ok {
		return memConnector{}, contracts.AdminError(contracts.ReasonNotFound, "",
			fmt.Sprintf("failed to %s for %s", action, name), nil)
	}
	return c, nil
}

func (m *Memory) AllConnectors(ctx context.Context) (*contracts.ConnectorSummary, error) {
	sources, _ := m.ListConnectors(ctx, contracts.ConnectorSource)
	sinks, _ := m.ListConnectors(ctx, contracts.ConnectorSink)
	return summarize(sources, sinks), nil
}
