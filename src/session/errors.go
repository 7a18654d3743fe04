package session

import (
	"errors"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/contracts"
)

// kindOverrides maps driver sentinels to the kind they report regardless of the
// operation that hit them. Rules are checked in order.
var kindOverrides = []struct {
	sentinel error
	// creationOnly limits the rule to producer and consumer creation.
	creationOnly bool
	kind         contracts.Kind
}{
	{broker.ErrAuth, false, contracts.KindAuth},
	{broker.ErrConnection, true, contracts.KindConnection},
	{broker.ErrConnectionClosed, true, contracts.KindConnection},
}

// classify converts a driver error into the facade taxonomy. fallback is the kind
// for the operation in progress. Errors that are already classified pass through.
func classify(fallback contracts.Kind, topic, message string, err error) error {
	if err == nil {
		return nil
	}
	var done *contracts.Error
	if errors.As(err, &done) {
		return err
	}

	creation := fallback == contracts.KindProducerCreation || fallback == contracts.KindConsumerCreation
	kind := fallback
	for _, rule := range kindOverrides {
		if rule.creationOnly && !creation {
			continue
		}
		if errors.Is(err, rule.sentinel) {
			kind = rule.kind
			break
		}
	}
	return contracts.NewError(kind, topic, message, err)
}
