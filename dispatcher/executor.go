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

// Package dispatcher owns the live state of the worker fleet and the
// in-flight task set: which runner is doing what, who is still alive,
// and who is subscribed to a task's live updates. It delegates
// durable queue state to a Store and fairness ordering to fairQueue
// (fairness.go), keeping its own lock short and never doing I/O while
// held.
package dispatcher

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

// ErrRunnerNotFound is returned by GetWork when the caller is not a
// currently registered runner; it indicates API misuse and never
// mutates dispatcher state.
var ErrRunnerNotFound = errors.New("runner not found")

const (
	broadcastBufferSize = 100
	evictAfter          = 5 * time.Minute
)

// runningTaskState is the internal bookkeeping for one in-flight task:
// the append-only replay log and the broadcast hub new subscribers
// attach to after reading that log.
type runningTaskState struct {
	soFar []model.RunnerUpdateForFrontend
	hub   *broadcastHub
}

// RunningTaskState is what GetRunningTask hands back to a subscriber: a
// snapshot of everything published so far, plus a channel that will
// see every update published after the snapshot was taken, in order
// and without gaps.
type RunningTaskState struct {
	SoFar    []model.RunnerUpdateForFrontend
	Updates  <-chan model.RunnerUpdateForFrontend
	Unsubscribe func()
}

// Executor holds the fleet and in-flight state behind a single coarse
// mutex, matching spec.md's concurrency model: every operation here is
// short and non-blocking, and callers do their own I/O (storage
// lookups, tarball streaming) outside of it.
type Executor struct {
	mu         sync.Mutex
	runners    map[model.RunnerId]*model.Runner
	inProgress map[model.TaskId]*runningTaskState
	tasting    *testTasting
	log        zerolog.Logger
	stopSweep  chan struct{}
}

// NewExecutor builds an Executor and starts its housekeeping sweeper
// (evicting stale runners every 60s) and its test-tasting expiry
// sweeper. Call Close to stop both.
func NewExecutor(log zerolog.Logger) *Executor {
	e := &Executor{
		runners:    make(map[model.RunnerId]*model.Runner),
		inProgress: make(map[model.TaskId]*runningTaskState),
		tasting:    newTestTasting(),
		log:        log,
		stopSweep:  make(chan struct{}),
	}
	go e.runHousekeeping()
	go e.tasting.runSweeper(e.stopSweep, log)
	return e
}

// Close stops the background sweepers. The Executor is unusable
// afterwards.
func (e *Executor) Close() {
	close(e.stopSweep)
}

// RegisterRunner upserts the runner and refreshes its last-ping,
// returning the task it is currently assigned, if any.
func (e *Executor) RegisterRunner(info model.RunnerInfo) *model.TaskId {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runners[info.Id]; ok {
		r.Info = info
		r.LastPing = time.Now()
		if r.WorkingOn != nil {
			id := r.WorkingOn.Id
			return &id
		}
		return nil
	}

	e.runners[info.Id] = &model.Runner{Info: info, LastPing: time.Now()}
	return nil
}

// RunnerPinged refreshes last-ping for a known runner; unknown runners
// are silently ignored since a ping from a runner the dispatcher has
// forgotten carries no actionable state.
func (e *Executor) RunnerPinged(id model.RunnerId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runners[id]; ok {
		r.LastPing = time.Now()
	}
}

// GetWork assigns the first unclaimed item in queue (expected to
// already be in fairness order; see fairQueue.Order) to runner,
// seeding its RunningTaskState with an AllTests event.
func (e *Executor) GetWork(info model.RunnerInfo, queue []model.WorkItem, testIDs []model.TestId) (*model.WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runner, ok := e.runners[info.Id]
	if !ok {
		return nil, errors.Wrapf(ErrRunnerNotFound, "runner %q", info.Id)
	}

	taken := make(map[model.TaskId]struct{}, len(e.runners))
	for id, r := range e.runners {
		if id == info.Id || r.WorkingOn == nil {
			continue
		}
		taken[r.WorkingOn.Id] = struct{}{}
	}

	var assigned *model.WorkItem
	for i := range queue {
		if _, isTaken := taken[queue[i].Id]; !isTaken {
			item := queue[i]
			assigned = &item
			break
		}
	}

	runner.WorkingOn = assigned
	if assigned == nil {
		return nil, nil
	}

	initial := model.StampUpdate(model.RunnerUpdate{Kind: model.UpdateAllTests, Tests: testIDs}, time.Now())
	e.inProgress[assigned.Id] = &runningTaskState{
		soFar: []model.RunnerUpdateForFrontend{initial},
		hub:   newBroadcastHub(broadcastBufferSize),
	}

	return assigned, nil
}

// UpdateTask appends update to the task the runner is currently
// working on and broadcasts it to subscribers. A no-op if the runner
// is unknown, idle, or its task has no live state (already finished or
// evicted).
func (e *Executor) UpdateTask(runnerID model.RunnerId, update model.RunnerUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runner, ok := e.runners[runnerID]
	if !ok || runner.WorkingOn == nil {
		return
	}
	state, ok := e.inProgress[runner.WorkingOn.Id]
	if !ok {
		return
	}

	stamped := model.StampUpdate(update, time.Now())
	state.soFar = append(state.soFar, stamped)
	state.hub.publish(stamped)
}

// GetRunningTask returns a fresh subscription for id: a snapshot of
// everything published so far, followed by every update published
// from this point on, in order.
func (e *Executor) GetRunningTask(id model.TaskId) (RunningTaskState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.inProgress[id]
	if !ok {
		return RunningTaskState{}, false
	}

	soFar := append([]model.RunnerUpdateForFrontend(nil), state.soFar...)
	ch, unsubscribe := state.hub.subscribe()
	return RunningTaskState{SoFar: soFar, Updates: ch, Unsubscribe: unsubscribe}, true
}

// GetCurrentTask returns the runner's current assignment, used to
// decide what to stream for request-tar.
func (e *Executor) GetCurrentTask(id model.RunnerId) *model.WorkItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runners[id]; ok {
		return r.WorkingOn
	}
	return nil
}

// FinishTask drops the task's live state and clears the runner's
// assignment. Safe to call more than once.
func (e *Executor) FinishTask(runnerID model.RunnerId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runner, ok := e.runners[runnerID]
	if !ok {
		return
	}
	if runner.WorkingOn != nil {
		if state, ok := e.inProgress[runner.WorkingOn.Id]; ok {
			state.hub.close()
			delete(e.inProgress, runner.WorkingOn.Id)
		}
	}
	runner.WorkingOn = nil
}

// Info summarises fleet state for observability.
func (e *Executor) Info() model.ExecutorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := model.ExecutorInfo{}
	for _, r := range e.runners {
		info.Runners = append(info.Runners, model.RunnerForFrontend{
			Id: r.Info.Id, Info: r.Info.Description, WorkingOn: r.WorkingOn, LastSeen: r.LastPing,
		})
	}
	for id, state := range e.inProgress {
		info.InProgress = append(info.InProgress, model.TaskProgress{TaskId: id, Subscribers: state.hub.subscriberCount()})
	}
	return info
}

// runHousekeeping evicts runners that have not pinged in evictAfter,
// releasing their in-flight task's live state; the WorkItem itself
// stays in the persistent queue and will be handed to the next
// requester.
func (e *Executor) runHousekeeping() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopSweep:
			return
		case <-ticker.C:
			e.evictStaleRunners()
		}
	}
}

func (e *Executor) evictStaleRunners() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for id, r := range e.runners {
		if now.Sub(r.LastPing) <= evictAfter {
			continue
		}
		if r.WorkingOn != nil {
			if state, ok := e.inProgress[r.WorkingOn.Id]; ok {
				state.hub.close()
				delete(e.inProgress, r.WorkingOn.Id)
			}
			e.log.Info().Str("runner_id", string(id)).Str("task_id", string(r.WorkingOn.Id)).Msg("evicting unresponsive runner, releasing its task")
		} else {
			e.log.Info().Str("runner_id", string(id)).Msg("evicting unresponsive idle runner")
		}
		delete(e.runners, id)
	}
}
