// Package config provides configuration management for the Pulsar MCP server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded (when present) before reading the environment.
const DefaultEnvFile = ".env"

// Driver names select the data-plane implementation.
const (
	DriverPulsar = "pulsar"
	DriverMemory = "memory"
)

// SubscriptionType governs broker-side delivery semantics for a subscription.
type SubscriptionType string

const (
	Exclusive SubscriptionType = "Exclusive"
	Shared    SubscriptionType = "Shared"
	Failover  SubscriptionType = "Failover"
	KeyShared SubscriptionType = "KeyShared"
)

// ParseSubscriptionType accepts the four subscription type names, case-insensitively.
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	for _, t := range []SubscriptionType{Exclusive, Shared, Failover, KeyShared} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown subscription type %q (want Exclusive, Shared, Failover or KeyShared)", s)
}

// Config holds the resolved application configuration.
// It is built once at startup and passed by value afterwards.
type Config struct {
	// ServiceURL is the broker data-plane endpoint (pulsar:// or pulsar+ssl://).
	ServiceURL string
	// AdminURL is the broker HTTP management endpoint (http:// or https://).
	AdminURL string
	// Tenant and Namespace scope the admin operations and short topic names.
	Tenant    string
	Namespace string

	// Topic and Subscription are the defaults used when a caller omits them.
	Topic             string
	Subscription      string
	SubscriptionType  SubscriptionType
	ReadFromBeginning bool

	// Token enables token authentication for both the data plane and the admin API.
	Token             string
	TLSTrustCertsPath string
	TLSAllowInsecure  bool

	SendTimeout         time.Duration
	BatchingEnabled     bool
	ReceiveTimeout      time.Duration
	OperationTimeout    time.Duration
	ConnectionTimeout   time.Duration
	ConnectMaxAttempts  int
	ConnectBackoff      time.Duration
	ConnectBackoffMax   time.Duration
	AdminTimeout        time.Duration
	ConsumerIdleTimeout time.Duration

	// Driver is "pulsar" for a real cluster or "memory" for an in-process broker.
	Driver   string
	LogLevel string

	// Display-only tool descriptions.
	PublishDescription string
	ConsumeDescription string
}

// Default returns the configuration used when no environment overrides are present.
func Default() Config {
	return Config{
		ServiceURL:         "pulsar://localhost:6650",
		AdminURL:           "http://localhost:8080",
		Tenant:             "public",
		Namespace:          "default",
		Topic:              "my-topic",
		Subscription:       "pulsar-mcp-subscription",
		SubscriptionType:   Shared,
		SendTimeout:        30 * time.Second,
		BatchingEnabled:    true,
		ReceiveTimeout:     2 * time.Second,
		OperationTimeout:   30 * time.Second,
		ConnectionTimeout:  10 * time.Second,
		ConnectMaxAttempts: 5,
		ConnectBackoff:     500 * time.Millisecond,
		ConnectBackoffMax:  4 * time.Second,
		AdminTimeout:       10 * time.Second,
		Driver:             DriverPulsar,
		LogLevel:           "info",
		PublishDescription: "Publishes information to the configured Pulsar topic",
		ConsumeDescription: "Consumes information from the configured Pulsar topic",
	}
}

// LoadFromEnv loads configuration from environment variables.
// Variables already set in the process environment win over the .env file.
func LoadFromEnv() (*Config, error) {
	return LoadFromEnvFile(DefaultEnvFile)
}

// LoadFromEnvFile loads envFile (if it exists) and then reads the environment.
func LoadFromEnvFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	integer := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("PULSAR_SERVICE_URL", &cfg.ServiceURL)
	str("PULSAR_WEB_SERVICE_URL", &cfg.AdminURL)
	str("PULSAR_TENANT", &cfg.Tenant)
	str("PULSAR_NAMESPACE", &cfg.Namespace)
	str("TOPIC_NAME", &cfg.Topic)
	str("SUBSCRIPTION_NAME", &cfg.Subscription)
	if v, ok := os.LookupEnv("SUBSCRIPTION_TYPE"); ok && strings.TrimSpace(v) != "" {
		st, err := ParseSubscriptionType(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("SUBSCRIPTION_TYPE: %w", err))
		} else {
			cfg.SubscriptionType = st
		}
	}
	boolean("IS_TOPIC_READ_FROM_BEGINNING", &cfg.ReadFromBeginning)
	str("PULSAR_TOKEN", &cfg.Token)
	str("PULSAR_TLS_TRUST_CERTS_FILE_PATH", &cfg.TLSTrustCertsPath)
	boolean("PULSAR_TLS_ALLOW_INSECURE_CONNECTION", &cfg.TLSAllowInsecure)
	duration("PULSAR_SEND_TIMEOUT", &cfg.SendTimeout)
	boolean("PULSAR_BATCHING_ENABLED", &cfg.BatchingEnabled)
	duration("PULSAR_RECEIVE_TIMEOUT", &cfg.ReceiveTimeout)
	duration("PULSAR_OPERATION_TIMEOUT", &cfg.OperationTimeout)
	duration("PULSAR_CONNECTION_TIMEOUT", &cfg.ConnectionTimeout)
	integer("PULSAR_CONNECT_MAX_ATTEMPTS", &cfg.ConnectMaxAttempts)
	duration("PULSAR_CONNECT_BACKOFF", &cfg.ConnectBackoff)
	duration("PULSAR_CONNECT_BACKOFF_MAX", &cfg.ConnectBackoffMax)
	duration("PULSAR_ADMIN_TIMEOUT", &cfg.AdminTimeout)
	duration("PULSAR_CONSUMER_IDLE_TIMEOUT", &cfg.ConsumerIdleTimeout)
	str("PULSAR_MCP_DRIVER", &cfg.Driver)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("TOOL_PUBLISH_DESCRIPTION", &cfg.PublishDescription)
	str("TOOL_CONSUME_DESCRIPTION", &cfg.ConsumeDescription)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the URL schemes, enumerations and numeric bounds.
func (c Config) Validate() error {
	var errs []error

	if c.Driver != DriverPulsar && c.Driver != DriverMemory {
		errs = append(errs, fmt.Errorf("driver must be %q or %q, got %q", DriverPulsar, DriverMemory, c.Driver))
	}
	if err := checkScheme(c.ServiceURL, "pulsar", "pulsar+ssl"); err != nil {
		errs = append(errs, fmt.Errorf("service URL: %w", err))
	}
	if err := checkScheme(c.AdminURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("admin URL: %w", err))
	}
	if _, err := ParseSubscriptionType(string(c.SubscriptionType)); err != nil {
		errs = append(errs, err)
	}
	if c.Tenant == "" || c.Namespace == "" {
		errs = append(errs, errors.New("tenant and namespace are required"))
	}
	if c.ConnectMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("connect max attempts must be >= 1, got %d", c.ConnectMaxAttempts))
	}
	for name, d := range map[string]time.Duration{
		"send timeout":    c.SendTimeout,
		"receive timeout": c.ReceiveTimeout,
		"admin timeout":   c.AdminTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ConsumerIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("consumer idle timeout must not be negative, got %s", c.ConsumerIdleTimeout))
	}

	return errors.Join(errs...)
}

// TLSEnabled reports whether either endpoint uses TLS.
func (c Config) TLSEnabled() bool {
	return strings.HasPrefix(c.ServiceURL, "pulsar+ssl://") || strings.HasPrefix(c.AdminURL, "https://")
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %s", raw, strings.Join(schemes, ", "))
}

// parseDuration accepts Go durations ("30s") and bare integers as milliseconds,
// matching the *_millis settings of the Pulsar CLI tools.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
