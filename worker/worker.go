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

package worker

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

// Config holds everything a Worker needs to poll a dispatcher and run
// whatever work it hands back.
type Config struct {
	Id            model.RunnerId
	Description   string
	Mode          model.RunnerMode
	DispatcherURL string
	BaseDir       string
	Parallelism   int
	PingInterval  time.Duration
}

// Worker repeatedly polls a dispatcher for work, grounded in
// original_source/executor/src/task_executor.rs's execute_task for the
// grading itself and in the teacher's runner/runner.go registry for
// the register/ping-and-retry shape, generalised onto the HTTP
// register/ping/request-work protocol dispatcher.Server exposes
// instead of a net/rpc registry.
type Worker struct {
	cfg     Config
	client  *Client
	log     zerolog.Logger
	current atomic.Bool // not set or read by any poll path
}

func New(cfg Config, log zerolog.Logger) *Worker {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	return &Worker{
		cfg:    cfg,
		client: NewClient(cfg.DispatcherURL, cfg.Id, 30*time.Second),
		log:    log.With().Str("runner_id", string(cfg.Id)).Logger(),
	}
}

// Run registers with the dispatcher and polls for work until ctx is
// cancelled. A failed register/request-work round backs off
// exponentially, capped at 60s; an empty request-work response backs
// off a flat 2s before polling again, matching the teacher's
// poll-then-backoff runner loop generalised onto HTTP.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.BaseDir, 0o755); err != nil {
		return err
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	info := model.RunnerInfo{Id: w.cfg.Id, Description: w.cfg.Description, Mode: w.cfg.Mode}
	registered := true
	if _, err := w.client.Register(ctx, info); err != nil {
		w.log.Warn().Err(err).Msg("initial register failed, retrying in the poll loop")
		registered = false
	}

	go w.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var gotWork bool
		var err error
		if !registered {
			if _, err = w.client.Register(ctx, info); err == nil {
				registered = true
			}
		}
		if err == nil {
			switch w.cfg.Mode {
			case model.ModeTaste:
				gotWork, err = w.pollTaste(ctx)
			default:
				gotWork, err = w.pollBuild(ctx)
			}
		}

		switch {
		case err != nil:
			w.log.Warn().Err(err).Dur("backoff", backoff).Msg("poll round failed, backing off")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case gotWork:
			backoff = time.Second
		default:
			backoff = time.Second
			if !sleepCtx(ctx, 2*time.Second) {
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Ping(ctx); err != nil {
				w.log.Warn().Err(err).Msg("ping failed")
			}
		}
	}
}

func (w *Worker) pollBuild(ctx context.Context) (bool, error) {
	info := model.RunnerInfo{Id: w.cfg.Id, Description: w.cfg.Description, Mode: w.cfg.Mode}

	task, reset, err := w.client.RequestWork(ctx, info)
	if err != nil {
		return false, err
	}
	if reset || task == nil {
		return false, nil
	}

	w.log.Info().Str("task_id", string(task.TaskId)).Str("team", string(task.TeamId)).Msg("starting build task")

	workdir, err := os.MkdirTemp(w.cfg.BaseDir, "task-"+string(task.TaskId)+"-")
	if err != nil {
		return true, err
	}
	defer os.RemoveAll(workdir)

	sourceTar, err := os.CreateTemp(workdir, "source-*.tar.gz")
	if err != nil {
		return true, err
	}
	sourceTar.Close()
	if err := w.downloadSource(ctx, sourceTar.Name()); err != nil {
		return true, err
	}

	aborted := &atomic.Bool{}
	reporter := reportFunc(func(u model.RunnerUpdate) {
		if err := w.client.Update(ctx, u); err != nil {
			w.log.Warn().Err(err).Str("task_id", string(task.TaskId)).Msg("failed to report update")
		}
	})

	finished := executeTask(ctx, workdir, *task, sourceTar.Name(), w.cfg.Parallelism, aborted, reporter, w.log)
	if err := w.client.Update(ctx, model.RunnerUpdate{Kind: model.UpdateDone}); err != nil {
		w.log.Warn().Err(err).Msg("failed to report done update")
	}
	if err := w.client.Done(ctx, finished); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) downloadSource(ctx context.Context, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	return w.client.RequestTar(ctx, f)
}

func (w *Worker) pollTaste(ctx context.Context) (bool, error) {
	task, err := w.client.RequestTaste(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	w.log.Info().Str("taste_id", task.Id).Msg("running test-tasting candidate")
	aborted := &atomic.Bool{}
	workdir, err := os.MkdirTemp(w.cfg.BaseDir, "taste-"+task.Id+"-")
	if err != nil {
		return true, err
	}
	defer os.RemoveAll(workdir)

	output := runTastingTask(ctx, workdir, *task, aborted, w.log)
	if err := w.client.DoneTaste(ctx, task.Id, output); err != nil {
		return true, err
	}
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
