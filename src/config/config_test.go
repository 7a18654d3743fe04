package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFromEnvFile("")
		if err != nil {
			t.Fatalf("LoadFromEnvFile() unexpected error: %v", err)
		}
		if cfg.ServiceURL != "pulsar://localhost:6650" {
			t.Errorf("ServiceURL = %v", cfg.ServiceURL)
		}
		if cfg.SubscriptionType != Shared || cfg.Driver != DriverPulsar {
			t.Errorf("Unexpected defaults %+v", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PULSAR_SERVICE_URL", "pulsar+ssl://broker:6651")
		t.Setenv("TOPIC_NAME", "events")
		t.Setenv("SUBSCRIPTION_TYPE", "keyshared")
		t.Setenv("IS_TOPIC_READ_FROM_BEGINNING", "true")
		t.Setenv("PULSAR_RECEIVE_TIMEOUT", "250")
		t.Setenv("PULSAR_SEND_TIMEOUT", "5s")
		t.Setenv("PULSAR_CONNECT_MAX_ATTEMPTS", "7")

		cfg, err := LoadFromEnvFile("")
		if err != nil {
			t.Fatalf("LoadFromEnvFile() unexpected error: %v", err)
		}
		if cfg.ServiceURL != "pulsar+ssl://broker:6651" || cfg.Topic != "events" {
			t.Errorf("Unexpected endpoints %+v", cfg)
		}
		if cfg.SubscriptionType != KeyShared {
			t.Errorf("SubscriptionType = %v, want KeyShared", cfg.SubscriptionType)
		}
		if !cfg.ReadFromBeginning {
			t.Error("ReadFromBeginning = false, want true")
		}
		if cfg.ReceiveTimeout != 250*time.Millisecond || cfg.SendTimeout != 5*time.Second {
			t.Errorf("Unexpected timeouts receive=%s send=%s", cfg.ReceiveTimeout, cfg.SendTimeout)
		}
		if cfg.ConnectMaxAttempts != 7 {
			t.Errorf("ConnectMaxAttempts = %d, want 7", cfg.ConnectMaxAttempts)
		}
		if !cfg.TLSEnabled() {
			t.Error("Expected TLS to be enabled for pulsar+ssl")
		}
	})

	t.Run("malformed values are reported together", func(t *testing.T) {
		t.Setenv("PULSAR_RECEIVE_TIMEOUT", "soon")
		t.Setenv("SUBSCRIPTION_TYPE", "broadcast")

		_, err := LoadFromEnvFile("")
		if err == nil {
			t.Fatal("LoadFromEnvFile() expected error, got nil")
		}
		for _, want := range []string{"PULSAR_RECEIVE_TIMEOUT", "SUBSCRIPTION_TYPE"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("Expected error to mention %s, got %v", want, err)
			}
		}
	})

	t.Run("env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		if err := os.WriteFile(path, []byte("PULSAR_TENANT=acme\nPULSAR_NAMESPACE=orders\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("PULSAR_NAMESPACE", "from-env")
		t.Cleanup(func() { os.Unsetenv("PULSAR_TENANT") })

		cfg, err := LoadFromEnvFile(path)
		if err != nil {
			t.Fatalf("LoadFromEnvFile() unexpected error: %v", err)
		}
		if cfg.Tenant != "acme" {
			t.Errorf("Tenant = %v, want acme", cfg.Tenant)
		}
		if cfg.Namespace != "from-env" {
			t.Errorf("Namespace = %v, want the process environment to win", cfg.Namespace)
		}
	})

	t.Run("missing env file is ignored", func(t *testing.T) {
		if _, err := LoadFromEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
			t.Errorf("LoadFromEnvFile() unexpected error: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad service scheme", func(c *Config) { c.ServiceURL = "http://broker:6650" }, "service URL"},
		{"bad admin scheme", func(c *Config) { c.AdminURL = "pulsar://broker:8080" }, "admin URL"},
		{"unknown driver", func(c *Config) { c.Driver = "kafka" }, "driver"},
		{"empty namespace", func(c *Config) { c.Namespace = "" }, "namespace"},
		{"zero attempts", func(c *Config) { c.ConnectMaxAttempts = 0 }, "attempts"},
		{"zero receive timeout", func(c *Config) { c.ReceiveTimeout = 0 }, "receive timeout"},
		{"negative idle timeout", func(c *Config) { c.ConsumerIdleTimeout = -time.Second }, "idle timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseSubscriptionType(t *testing.T) {
	tests := map[string]SubscriptionType{
		"Exclusive": Exclusive,
		"shared":    Shared,
		"FAILOVER":  Failover,
		"KeyShared": KeyShared,
	}
	for in, want := range tests {
		got, err := ParseSubscriptionType(in)
		if err != nil || got != want {
			t.Errorf("ParseSubscriptionType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseSubscriptionType("broadcast"); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"1500": 1500 * time.Millisecond,
		"30s":  30 * time.Second,
		"2m":   2 * time.Minute,
	}
	for in, want := range tests {
		got, err := parseDuration(in)
		if err != nil || got != want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
