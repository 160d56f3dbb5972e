// Command dispatcherd runs the dispatcher collaborator: the
// worker-facing HTTP protocol, the durable bbolt-backed queue, and the
// source tarball exporter.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codepr/graderd/config"
	"github.com/codepr/graderd/dispatcher"
	"github.com/codepr/graderd/model"
	"github.com/codepr/graderd/source"
	"github.com/codepr/graderd/storage"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "dispatcherd",
		Short: "Runs the graderd dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "dispatcherd.yaml", "path to the dispatcher's YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadDispatcherConfig(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	store, err := storage.Open(cfg.DatabasePath, storage.GradingConfig{
		Image:        model.ImageId(cfg.BuildImage),
		BuildCommand: cfg.BuildCommand,
		BuildTimeout: cfg.BuildTimeout,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.RepoCacheDir, 0o755); err != nil {
		return err
	}
	exporter := source.NewExporter(cfg.RepoCacheDir, log.With().Str("component", "source").Logger())
	tar := source.NewTeamExporter(exporter, store)

	exec := dispatcher.NewExecutor(log.With().Str("component", "executor").Logger())
	defer exec.Close()

	server := dispatcher.NewServer(cfg.ListenAddr, exec, store, tar, log.With().Str("component", "server").Logger())
	return server.Run()
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
