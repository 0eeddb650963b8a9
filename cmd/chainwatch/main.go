package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "chainwatch",
		Short:        "EVM event fetcher and live watcher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and decode historical events",
		RunE:  runFetch,
	}

	addEngineFlags(fetchCmd.Flags())
	fetchCmd.Flags().String("from", "0", "start block (inclusive), number or latest")
	fetchCmd.Flags().String("to", "latest", "end block (inclusive), number or latest")
	fetchCmd.Flags().String("out", "./data/events.jsonl", "decoded events JSONL path")
	fetchCmd.Flags().String("raw-out", "", "optional raw logs JSONL path, input for decode")

	root.AddCommand(fetchCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll for new events and dispatch them to sinks",
		RunE:  runWatch,
	}

	addEngineFlags(watchCmd.Flags())
	watchCmd.Flags().Duration("poll-interval", 2*time.Second, "sleep between polls")
	watchCmd.Flags().Uint64("confirmations", 0, "blocks to stay behind the head")
	watchCmd.Flags().String("start-cursor", "", "last block treated as already dispatched (default: checkpoint or head)")
	watchCmd.Flags().String("checkpoint", "", "cursor checkpoint file (ignored when sqlite or pg-dsn is set)")
	watchCmd.Flags().String("out", "", "decoded events JSONL path")
	watchCmd.Flags().Bool("log-events", true, "log every dispatched event")
	watchCmd.Flags().String("metrics", "", "prometheus listen address (e.g. :9102)")

	root.AddCommand(watchCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs JSONL into events offline",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().StringSlice("schema", nil, "schema files, ABI JSON or YAML (comma-separated)")
	decodeCmd.Flags().StringArray("signature", nil, "event signature, repeatable")
	decodeCmd.Flags().Bool("skip-unknown", true, "skip logs without a registered schema")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL (http, ws or ipc)")
	flags.Duration("rpc-timeout", 30*time.Second, "timeout per RPC call")
	flags.StringSlice("address", nil, "contract addresses (comma-separated)")
	flags.StringSlice("schema", nil, "schema files, ABI JSON or YAML (comma-separated)")
	flags.StringArray("signature", nil, "event signature, repeatable")
	flags.String("event", "", "restrict to one event name or signature hash")
	flags.Uint64("chunk-size", 2000, "blocks per eth_getLogs call")
	flags.Int("max-retries", 5, "maximum retries per chunk")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Duration("max-backoff", 30*time.Second, "maximum retry backoff")
	flags.Bool("skip-unknown", false, "skip logs without a registered schema")
	flags.String("sqlite", "", "SQLite database path for events and cursors")
	flags.String("pg-dsn", "", "Postgres DSN for events and cursors")
	flags.StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	flags.String("kafka-topic", "chainwatch.events", "Kafka topic")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
