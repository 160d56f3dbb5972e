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

package dispatcher

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/storage"
)

// Server is the worker-facing HTTP surface over one Executor: the
// register/ping/request-work/request-tar/update/done/taste protocol
// spec.md §6 names.
type Server struct {
	server *http.Server
	exec   *Executor
	queue  *fairQueue
	store  storage.Store
	tar    TarExporter
	log    zerolog.Logger
}

// TarExporter streams the source tarball for a team's revision; the
// source collaborator (package source) implements it.
type TarExporter interface {
	Export(ctx context.Context, team, revision string, w io.Writer) error
}

// NewServer wires an Executor, a durable Store and a TarExporter behind
// an http.Server on addr.
func NewServer(addr string, exec *Executor, store storage.Store, tar TarExporter, log zerolog.Logger) *Server {
	s := &Server{
		exec:  exec,
		queue: newFairQueue(),
		store: store,
		tar:   tar,
		log:   log,
	}
	s.server = &http.Server{
		Addr:           addr,
		Handler:        logRequests(log)(s.router()),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) router() *http.ServeMux {
	router := http.NewServeMux()
	router.HandleFunc("/runners/register", s.handleRegister)
	router.HandleFunc("/runners/ping", s.handlePing)
	router.HandleFunc("/runners/work", s.handleRequestWork)
	router.HandleFunc("/runners/work/tar", s.handleRequestTar)
	router.HandleFunc("/runners/update", s.handleUpdate)
	router.HandleFunc("/runners/done", s.handleDone)
	router.HandleFunc("/runners/taste", s.handleRequestTaste)
	router.HandleFunc("/runners/taste/done", s.handleDoneTaste)
	router.HandleFunc("/tests", s.handleSubmitTest)
	router.HandleFunc("/info", s.handleInfo)
	return router
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully,
// stopping the Executor's background sweepers first.
func (s *Server) Run() error {
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info().Msg("shutting down dispatcher")
		s.exec.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.server.SetKeepAlivesEnabled(false)
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("dispatcher did not shut down cleanly")
		}
		close(done)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("dispatcher listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Str("addr", s.server.Addr).Msg("unable to bind dispatcher listener")
		return err
	}

	<-done
	return nil
}

func logRequests(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}
