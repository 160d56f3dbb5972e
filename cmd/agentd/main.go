// Command agentd runs the GitHub webhook ingestion agent: it validates
// and parses push events and publishes a WorkItem onto the AMQP intake
// queue for each one.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codepr/graderd/agent"
	"github.com/codepr/graderd/config"
	"github.com/codepr/graderd/mq"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "agentd",
		Short: "Runs the graderd webhook ingestion agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "agentd.yaml", "path to the agent's YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	queue, err := mq.Dial(cfg.AmqpURL, cfg.AmqpQueue, mq.WithDurable())
	if err != nil {
		return err
	}
	defer queue.Close()

	a := agent.NewAgent(cfg.ListenAddr, cfg.WebhookSecret, queue, log)
	return a.Run()
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(parsed).
		With().Timestamp().Logger()
}
