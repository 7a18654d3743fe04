// Package main provides the pulsar-mcp binary: an MCP server exposing Apache Pulsar
// messaging and administration as tools, plus one-shot commands for the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pulsar-mcp/src/admin"
	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/connector"
	"pulsar-mcp/src/logger"
	"pulsar-mcp/src/session"
)

var (
	envFile    string
	driverFlag string
	logLevel   string
	serviceURL string
	adminURL   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulsar-mcp",
	Short: "pulsar-mcp - Apache Pulsar tools over the Model Context Protocol",
	Long: `pulsar-mcp exposes publishing, consuming, topic administration and
Pulsar IO connector inspection as MCP tools.

Configuration is read from PULSAR_* environment variables and an optional
.env file. Run 'pulsar-mcp serve' to start the MCP server on stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before the environment")
	flags.StringVar(&driverFlag, "driver", "", "broker driver: pulsar or memory (overrides PULSAR_MCP_DRIVER)")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.StringVar(&serviceURL, "service-url", "", "broker service URL (overrides PULSAR_SERVICE_URL)")
	flags.StringVar(&adminURL, "admin-url", "", "admin REST URL (overrides PULSAR_WEB_SERVICE_URL)")

	rootCmd.AddCommand(serveCmd, publishCmd, consumeCmd, topicsCmd, connectorsCmd, versionCmd)
}

// runtime is everything a command needs to run operations.
type runtime struct {
	cfg       *config.Config
	log       *logger.ConsoleLogger
	session   *session.Session
	connector *connector.Connector
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnvFile(envFile)
	if err != nil {
		return nil, err
	}

	if driverFlag != "" {
		cfg.Driver = driverFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if serviceURL != "" {
		cfg.ServiceURL = serviceURL
	}
	if adminURL != "" {
		cfg.AdminURL = adminURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRuntime wires the configured driver and admin backend into a connector.
func newRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	log := logger.NewConsoleLogger(cfg.LogLevel)

	var (
		driver broker.Driver
		adm    admin.Admin
	)
	switch cfg.Driver {
	case config.DriverMemory:
		mem := broker.NewInMemoryBroker()
		mem.SetVerbose(cfg.LogLevel == "debug")
		driver = mem
		adm = admin.NewMemory(mem, cfg.Tenant, cfg.Namespace)
	default:
		client, err := admin.NewClient(*cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create admin client: %w", err)
		}
		driver = broker.NewPulsarDriver(log.Slog())
		adm = client
	}

	sess := session.New(*cfg, driver, log)
	return &runtime{
		cfg:       cfg,
		log:       log,
		session:   sess,
		connector: connector.New(*cfg, sess, adm, log),
	}, nil
}

func (r *runtime) Close() {
	r.session.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
