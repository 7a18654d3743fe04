package main

import (
	"testing"

	"pulsar-mcp/src/config"
	"pulsar-mcp/src/connector"
)

func resetFlags(t *testing.T) {
	t.Helper()
	envFile, driverFlag, logLevel, serviceURL, adminURL = "", "", "", "", ""
	t.Cleanup(func() {
		envFile, driverFlag, logLevel, serviceURL, adminURL = config.DefaultEnvFile, "", "", "", ""
	})
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		setup   func()
		check   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{
			name:  "driver flag wins over environment",
			env:   map[string]string{"PULSAR_MCP_DRIVER": "pulsar"},
			setup: func() { driverFlag = config.DriverMemory },
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Driver != config.DriverMemory {
					t.Errorf("Expected memory driver, got %s", cfg.Driver)
				}
			},
		},
		{
			name:  "service URL flag",
			setup: func() { serviceURL = "pulsar+ssl://broker:6651" },
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.ServiceURL != "pulsar+ssl://broker:6651" {
					t.Errorf("Unexpected service URL %s", cfg.ServiceURL)
				}
			},
		},
		{
			name:    "invalid admin URL flag is rejected",
			setup:   func() { adminURL = "ftp://broker" },
			wantErr: true,
		},
		{
			name:    "invalid driver flag is rejected",
			setup:   func() { driverFlag = "kafka" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.setup()

			cfg, err := loadConfig()
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestRunOperation_MemoryDriver(t *testing.T) {
	resetFlags(t)
	driverFlag = config.DriverMemory

	if err := runOperation(connector.OpCreateTopic, connector.Params{"topic": "orders", "partitions": 2}); err != nil {
		t.Errorf("create failed: %v", err)
	}
	if err := runOperation(connector.OpPublish, connector.Params{"topic": "orders", "message": "hi"}); err != nil {
		t.Errorf("publish failed: %v", err)
	}
	if err := runOperation(connector.OpDeleteTopic, connector.Params{"topic": "ghost"}); err == nil {
		t.Error("Expected deleting an unknown topic to fail")
	}
	if err := runOperation(connector.OpConsume, connector.Params{"maxMessages": 0}); err == nil {
		t.Error("Expected validation failure")
	}
}
