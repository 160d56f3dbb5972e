// Command workerd runs a build-runner or taste-runner worker against a
// dispatcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codepr/graderd/config"
	"github.com/codepr/graderd/model"
	"github.com/codepr/graderd/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "workerd",
		Short: "Runs a graderd build or test-tasting worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "workerd.yaml", "path to the worker's YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadWorkerConfig(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	mode := model.ModeBuild
	if cfg.Mode == string(model.ModeTaste) {
		mode = model.ModeTaste
	}

	w := worker.New(worker.Config{
		Id:            model.RunnerId(cfg.Id),
		Description:   cfg.Description,
		Mode:          mode,
		DispatcherURL: cfg.DispatcherURL,
		BaseDir:       cfg.BaseDir,
		Parallelism:   cfg.Parallelism,
		PingInterval:  cfg.PingInterval,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("worker is shutting down")
		cancel()
	}()

	err = w.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
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
