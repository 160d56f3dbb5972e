// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package agent is the boundary collaborator spec.md §1 excludes from
// the graded core: it ingests GitHub push webhooks and turns them into
// WorkItems, publishing each onto the AMQP intake queue the dispatcher
// drains into its persistent store. Not part of the Container Driver,
// Judge or Dispatcher proper, but the only concrete producer of
// WorkItems, so it is implemented end to end.
package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
	"github.com/codepr/graderd/mq"
)

type Agent struct {
	server *http.Server
	queue  mq.Queue
	secret string
	log    zerolog.Logger
}

func NewAgent(addr, webhookSecret string, queue mq.Queue, log zerolog.Logger) *Agent {
	return &Agent{queue: queue, secret: webhookSecret, log: log, server: &http.Server{Addr: addr}}
}

// Run serves the webhook endpoint and forwards every decoded WorkItem
// onto the queue until SIGINT/SIGTERM, then shuts down gracefully.
func (a *Agent) Run() error {
	a.log.Info().Msg("agent is starting")

	events := make(chan model.WorkItem)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for event := range events {
			if err := a.queue.Produce(ctx, event); err != nil {
				a.log.Error().Err(err).Str("task_id", string(event.Id)).Msg("failed to publish work item")
				continue
			}
			payload, _ := json.Marshal(event)
			a.log.Info().RawJSON("work_item", payload).Msg("published work item")
		}
	}()

	router := http.NewServeMux()
	router.Handle("/health", healthCheckHandler())
	router.Handle("/commit", commitHandler(a.secret, events, a.log))

	a.server.Handler = logging(a.log)(router)
	a.server.ReadTimeout = 5 * time.Second
	a.server.WriteTimeout = 10 * time.Second
	a.server.IdleTimeout = 15 * time.Second

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		a.log.Info().Msg("agent is shutting down")
		close(events)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		a.server.SetKeepAlivesEnabled(false)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("agent did not shut down cleanly")
		}
		close(done)
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("agent is ready to handle requests")
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-done
	a.log.Info().Msg("agent stopped")
	return nil
}

func logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request handled")
		})
	}
}
