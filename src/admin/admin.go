// Package admin implements topic and connector management over the Pulsar admin REST API,
// plus an adapter with the same semantics for the in-memory cluster.
package admin

import (
	"context"

	"pulsar-mcp/src/contracts"
)

// Admin is the control-plane surface used by the operation facade.
// Every error it returns is a *contracts.Error.
type Admin interface {
	// CreateTopic creates topic with the given partition count. Creating a topic that
	// already exists with the same count succeeds.
	CreateTopic(ctx context.Context, topic contracts.TopicName, partitions int) error
	DeleteTopic(ctx context.Context, topic contracts.TopicName) error
	// ListTopics returns the local names of the persistent topics in the configured
	// namespace, with partitions collapsed into their parent topic.
	ListTopics(ctx context.Context) ([]string, error)
	TopicStats(ctx context.Context, topic contracts.TopicName) (contracts.StatsSnapshot, error)

	ListConnectors(ctx context.Context, typ contracts.ConnectorType) ([]string, error)
	ConnectorStatus(ctx context.Context, name string) (*contracts.ConnectorInfo, error)
	ConnectorConfig(ctx context.Context, name string) (*contracts.ConnectorInfo, error)
	AllConnectors(ctx context.Context) (*contracts.ConnectorSummary, error)
}

func summarize(sources, sinks []string) *contracts.ConnectorSummary {
	if sources == nil {
		sources = []string{}
	}
	if sinks == nil {
		sinks = []string{}
	}
	return &contracts.ConnectorSummary{
		Source:      sources,
		Sink:        sinks,
		TotalSource: len(sources),
		TotalSink:   len(sinks),
		Total:       len(sources) + len(sinks),
	}
}
