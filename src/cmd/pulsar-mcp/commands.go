package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"pulsar-mcp/src/connector"
	"pulsar-mcp/src/mcp"
)

// runOperation invokes one connector operation and prints its Result as JSON.
// A failed operation makes the command exit non-zero.
func runOperation(op string, params connector.Params) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.OperationTimeout+rt.cfg.ReceiveTimeout)
	defer cancel()

	res := rt.connector.Invoke(ctx, op, params)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))

	if !res.OK {
		return fmt.Errorf("%s failed: %s", op, res.ErrorKind)
	}
	return nil
}

var (
	pubTopic      string
	pubKey        string
	pubProperties map[string]string
	pubBase64     bool

	consumeTopic        string
	consumeSubscription string
	consumeMax          int

	partitions    int
	connectorType string
)

// optional adds value under name only when the flag was set, so the connector's
// defaults apply otherwise.
func optional(cmd *cobra.Command, p connector.Params, flag, name string, value any) {
	if cmd.Flags().Changed(flag) {
		p[name] = value
	}
}

var publishCmd = &cobra.Command{
	Use:   "publish <message>",
	Short: "Publish one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := connector.Params{"message": args[0]}
		optional(cmd, p, "topic", "topic", pubTopic)
		optional(cmd, p, "key", "key", pubKey)
		if len(pubProperties) > 0 {
			p["properties"] = pubProperties
		}
		if pubBase64 {
			p["payloadEncoding"] = "base64"
		}
		return runOperation(connector.OpPublish, p)
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Receive and acknowledge up to --max messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := connector.Params{}
		optional(cmd, p, "topic", "topic", consumeTopic)
		optional(cmd, p, "subscription", "subscriptionName", consumeSubscription)
		optional(cmd, p, "max", "maxMessages", consumeMax)
		return runOperation(connector.OpConsume, p)
	},
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage topics in the configured namespace",
}

var topicsCreateCmd = &cobra.Command{
	Use:   "create <topic>",
	Short: "Create a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpCreateTopic, connector.Params{"topic": args[0], "partitions": partitions})
	},
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete <topic>",
	Short: "Delete a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpDeleteTopic, connector.Params{"topic": args[0]})
	},
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpListTopics, nil)
	},
}

var topicsStatsCmd = &cobra.Command{
	Use:   "stats <topic>",
	Short: "Show topic statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpTopicStats, connector.Params{"topic": args[0]})
	},
}

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "Inspect Pulsar IO connectors",
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connectors of one type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpListConnectors, connector.Params{"connectorType": connectorType})
	},
}

var connectorsStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show connector status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpConnectorStatus, connector.Params{"connectorName": args[0]})
	},
}

var connectorsConfigCmd = &cobra.Command{
	Use:   "config <name>",
	Short: "Show connector configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpConnectorConfig, connector.Params{"connectorName": args[0]})
	},
}

var connectorsAllCmd = &cobra.Command{
	Use:   "all",
	Short: "List all sources and sinks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(connector.OpAllConnectors, nil)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(mcp.Version)
	},
}

func init() {
	publishCmd.Flags().StringVar(&pubTopic, "topic", "", "topic (default from TOPIC_NAME)")
	publishCmd.Flags().StringVar(&pubKey, "key", "", "partition key")
	publishCmd.Flags().StringToStringVar(&pubProperties, "property", nil, "message property as key=value (repeatable)")
	publishCmd.Flags().BoolVar(&pubBase64, "base64", false, "message is base64-encoded binary")

	consumeCmd.Flags().StringVar(&consumeTopic, "topic", "", "topic (default from TOPIC_NAME)")
	consumeCmd.Flags().StringVar(&consumeSubscription, "subscription", "", "subscription name (default from SUBSCRIPTION_NAME)")
	consumeCmd.Flags().IntVar(&consumeMax, "max", 10, "maximum messages to receive (1-100)")

	topicsCreateCmd.Flags().IntVar(&partitions, "partitions", 1, "number of partitions")
	topicsCmd.AddCommand(topicsCreateCmd, topicsDeleteCmd, topicsListCmd, topicsStatsCmd)

	connectorsListCmd.Flags().StringVar(&connectorType, "type", "source", "connector type: source or sink")
	connectorsCmd.AddCommand(connectorsListCmd, connectorsStatusCmd, connectorsConfigCmd, connectorsAllCmd)
}
