package admin

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
	"pulsar-mcp/src/sanitize"
)

// Client talks to the Pulsar admin REST API. Requests are not retried.
type Client struct {
	baseURL    string
	token      string
	tenant     string
	namespace  string
	httpClient *http.Client
	log        logger.Logger
}

// NewClient creates an admin client for cfg.AdminURL using the same token and TLS
// settings as the data plane.
func NewClient(cfg config.Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewSilentLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSEnabled() || cfg.TLSTrustCertsPath != "" || cfg.TLSAllowInsecure {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.AdminURL, "/"),
		token:     cfg.Token,
		tenant:    cfg.Tenant,
		namespace: cfg.Namespace,
		httpClient: &http.Client{
			Timeout:   cfg.AdminTimeout,
			Transport: transport,
		},
		log: log,
	}, nil
}

func buildTLS(cfg config.Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSAllowInsecure,
	}

	if cfg.TLSTrustCertsPath != "" {
		caCert, err := os.ReadFile(cfg.TLSTrustCertsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust certificates: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse trust certificates in %s", cfg.TLSTrustCertsPath)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// response is a completed admin call.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do executes one request. Only transport failures are returned as errors; HTTP
// error statuses are left to the caller.
func (c *Client) do(ctx context.Context, method, path string, payload any) (response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug("Admin %s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("failed to read response: %w", err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// call is do with transport failures mapped to Unreachable.
func (c *Client) call(ctx context.Context, method, path, topic string, payload any) (response, error) {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		c.log.Error("Admin %s %s failed: %v", method, path, err)
		return response{}, contracts.AdminError(contracts.ReasonUnreachable, topic,
			fmt.Sprintf("admin endpoint %s unreachable", c.baseURL), err)
	}
	return resp, nil
}

// statusError maps an HTTP error status onto the admin taxonomy.
// conflict is the reason reported for 409.
func statusError(resp response, topic, action string, conflict contracts.Reason) error {
	cause := fmt.Errorf("status %d: %s", resp.status, errorText(resp.body))
	message := "failed to " + action

	switch resp.status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return contracts.NewError(contracts.KindAuth, topic, "admin API rejected credentials", cause)
	case http.StatusNotFound:
		return contracts.AdminError(contracts.ReasonNotFound, topic, message, cause)
	case http.StatusConflict:
		return contracts.AdminError(conflict, topic, message, cause)
	case http.StatusPreconditionFailed:
		return contracts.AdminError(contracts.ReasonHasActiveSubscriptions, topic, message, cause)
	default:
		return contracts.AdminError(contracts.ReasonRejected, topic, message, cause)
	}
}

// errorText extracts the "reason" field of a Pulsar error body, or the raw text.
func errorText(body []byte) string {
	if reason := gjson.GetBytes(body, "reason"); reason.Exists() {
		return sanitize.ErrorText(reason.String())
	}
	return sanitize.ErrorText(string(body))
}

func topicPath(topic contracts.TopicName) string {
	return "/admin/v2/" + topic.Path()
}

// partitionCount returns the partition metadata of topic; 0 means non-partitioned.
func (c *Client) partitionCount(ctx context.Context, topic contracts.TopicName) (int, error) {
	resp, err := c.call(ctx, http.MethodGet, topicPath(topic)+"/partitions", topic.String(), nil)
	if err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, statusError(resp, topic.String(), "read partition metadata", contracts.ReasonRejected)
	}
	return int(gjson.GetBytes(resp.body, "partitions").Int()), nil
}

// CreateTopic implements Admin.
func (c *Client) CreateTopic(ctx context.Context, topic contracts.TopicName, partitions int) error {
	name := topic.String()
	path := topicPath(topic)
	var payload any
	if partitions > 1 {
		path += "/partitions"
		payload = partitions
	}

	resp, err := c.call(ctx, http.MethodPut, path, name, payload)
	if err != nil {
		return err
	}
	if resp.ok() {
		c.log.Info("Created topic %s with %d partitions", name, partitions)
		return nil
	}
	if resp.status != http.StatusConflict {
		return statusError(resp, name, "create topic", contracts.ReasonAlreadyExists)
	}

	existing, err := c.partitionCount(ctx, topic)
	if err != nil {
		return err
	}
	if existing == 0 {
		existing = 1
	}
	if existing != partitions {
		return contracts.AdminError(contracts.ReasonAlreadyExists, name,
			fmt.Sprintf("topic exists with %d partitions, requested %d", existing, partitions), nil)
	}
	c.log.Info("Topic %s already exists with %d partitions", name, partitions)
	return nil
}

// DeleteTopic implements Admin. Partitioned topics are deleted with all their partitions.
func (c *Client) DeleteTopic(ctx context.Context, topic contracts.TopicName) error {
	name := topic.String()
	partitions, err := c.partitionCount(ctx, topic)
	if err != nil {
		return err
	}

	path := topicPath(topic)
	if partitions > 0 {
		path += "/partitions"
	}
	resp, err := c.call(ctx, http.MethodDelete, path, name, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return statusError(resp, name, "delete topic", contracts.ReasonHasActiveSubscriptions)
	}
	c.log.Info("Deleted topic %s", name)
	return nil
}

// ListTopics implements Admin. Both persistent and non-persistent topics are listed.
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, domain := range []string{contracts.DomainPersistent, contracts.DomainNonPersistent} {
		base := fmt.Sprintf("/admin/v2/%s/%s/%s", domain, url.PathEscape(c.tenant), url.PathEscape(c.namespace))
		for _, path := range []string{base, base + "/partitioned"} {
			resp, err := c.call(ctx, http.MethodGet, path, "", nil)
			if err != nil {
				return nil, err
			}
			if !resp.ok() {
				return nil, statusError(resp, "", "list topics", contracts.ReasonRejected)
			}
			var names []string
			if err := json.Unmarshal(resp.body, &names); err != nil {
				return nil, contracts.AdminError(contracts.ReasonRejected, "", "failed to decode topic list", err)
			}
			for _, n := range names {
				seen[contracts.ListingName(n)] = struct{}{}
			}
		}
	}

	topics := make([]string, 0, len(seen))
	for n := range seen {
		topics = append(topics, n)
	}
	sort.Strings(topics)
	c.log.Debug("Found %d topics in %s/%s", len(topics), c.tenant, c.namespace)
	return topics, nil
}

// TopicStats implements Admin. Partitioned topics answer through partitioned-stats.
func (c *Client) TopicStats(ctx context.Context, topic contracts.TopicName) (contracts.StatsSnapshot, error) {
	name := topic.String()
	resp, err := c.call(ctx, http.MethodGet, topicPath(topic)+"/stats", name, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		resp, err = c.call(ctx, http.MethodGet, topicPath(topic)+"/partitioned-stats", name, nil)
		if err != nil {
			return nil, err
		}
	}
	if !resp.ok() {
		return nil, statusError(resp, name, "read topic stats", contracts.ReasonRejected)
	}
	return contracts.StatsSnapshot(resp.body), nil
}
