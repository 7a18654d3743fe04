package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"pulsar-mcp/src/contracts"
)

// connectorFamilies is the lookup order for status and config queries.
// Pulsar IO connectors run as functions, so the functions endpoint answers first.
var connectorFamilies = []string{"function", "source", "sink"}

func (c *Client) v3Path(family string) string {
	return fmt.Sprintf("/admin/v3/%ss/%s/%s", family, c.tenant, c.namespace)
}

// ListConnectors implements Admin. It lists the dedicated sources or sinks endpoint and
// falls back to classifying the namespace's functions by their configuration when that
// endpoint is unavailable.
func (c *Client) ListConnectors(ctx context.Context, typ contracts.ConnectorType) ([]string, error) {
	names, err := c.listNames(ctx, c.v3Path(string(typ)))
	if err == nil {
		sort.Strings(names)
		return names, nil
	}
	if !fallbackAllowed(err) {
		return nil, err
	}
	c.log.Debug("Listing %s connectors through functions: %v", typ, err)

	functions, err := c.listNames(ctx, c.v3Path("function"))
	if err != nil {
		return nil, err
	}
	connectors := make([]string, 0, len(functions))
	for _, name := range functions {
		resp, err := c.call(ctx, http.MethodGet, c.v3Path("function")+"/"+name, "", nil)
		if err != nil {
			return nil, err
		}
		if resp.ok() && isConnector(resp.body, typ) {
			connectors = append(connectors, name)
		}
	}
	sort.Strings(connectors)
	c.log.Info("Found %d %s connectors", len(connectors), typ)
	return connectors, nil
}

func (c *Client) listNames(ctx context.Context, path string) ([]string, error) {
	resp, err := c.call(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(resp, "", "list connectors", contracts.ReasonRejected)
	}
	names := []string{}
	if err := json.Unmarshal(resp.body, &names); err != nil {
		return nil, contracts.AdminError(contracts.ReasonRejected, "", "failed to decode connector list", err)
	}
	return names, nil
}

// fallbackAllowed reports whether a failed listing may be retried another way.
// Credential and reachability failures would fail the same way again.
func fallbackAllowed(err error) bool {
	if contracts.KindOf(err, "") == contracts.KindAuth {
		return false
	}
	return contracts.ReasonOf(err) != contracts.ReasonUnreachable
}

// isConnector classifies a function configuration document as a source or sink.
func isConnector(config []byte, typ contracts.ConnectorType) bool {
	t := string(typ)
	doc := gjson.ParseBytes(config)
	return doc.Get(t+"Details").Exists() ||
		doc.Get(t).Exists() ||
		strings.Contains(strings.ToLower(doc.Get("className").String()), t) ||
		strings.Contains(strings.ToLower(doc.Get("archive").String()), t)
}

// ConnectorStatus implements Admin.
func (c *Client) ConnectorStatus(ctx context.Context, name string) (*contracts.ConnectorInfo, error) {
	return c.lookupConnector(ctx, name, "/status", "read connector status")
}

// ConnectorConfig implements Admin.
func (c *Client) ConnectorConfig(ctx context.Context, name string) (*contracts.ConnectorInfo, error) {
	return c.lookupConnector(ctx, name, "", "read connector config")
}

func (c *Client) lookupConnector(ctx context.Context, name, suffix, action string) (*contracts.ConnectorInfo, error) {
	var failures []error
	for _, family := range connectorFamilies {
		resp, err := c.call(ctx, http.MethodGet, c.v3Path(family)+"/"+name+suffix, "", nil)
		if err != nil {
			return nil, err
		}
		if resp.ok() {
			c.log.Debug("Connector %s answered as %s", name, family)
			return &contracts.ConnectorInfo{Name: name, Type: family, Body: resp.body}, nil
		}
		serr := statusError(resp, "", action, contracts.ReasonRejected)
		if contracts.KindOf(serr, "") == contracts.KindAuth {
			return nil, serr
		}
		failures = append(failures, fmt.Errorf("%s: %w", family, serr))
	}

	reason := contracts.ReasonNotFound
	for _, f := range failures {
		if contracts.ReasonOf(f) != contracts.ReasonNotFound {
			reason = contracts.ReasonRejected
		}
	}
	return nil, contracts.AdminError(reason, "", fmt.Sprintf("failed to %s for %s", action, name), errors.Join(failures...))
}

// AllConnectors implements Admin.
func (c *Client) AllConnectors(ctx context.Context) (*contracts.ConnectorSummary, error) {
	sources, err := c.ListConnectors(ctx, contracts.ConnectorSource)
	if err != nil {
		return nil, err
	}
	sinks, err := c.ListConnectors(ctx, contracts.ConnectorSink)
	if err != nil {
		return nil, err
	}
	return summarize(sources, sinks), nil
}
