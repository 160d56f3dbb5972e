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
	"encoding/json"
	"net/http"
	"time"

	"github.com/codepr/graderd/model"
)

// basicAuthRunnerID extracts the runner id a worker authenticates with
// over HTTP Basic auth, the username carrying the id as
// original_source's endpoints/executor.rs does with axum's
// Authorization<Basic> extractor.
func basicAuthRunnerID(r *http.Request) (model.RunnerId, bool) {
	user, _, ok := r.BasicAuth()
	if !ok || user == "" {
		return "", false
	}
	return model.RunnerId(user), true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var info model.RunnerInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if info.Id != runnerID {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	current := s.exec.RegisterRunner(info)
	reset := !sameTask(current, info.CurrentTask)
	if reset {
		s.log.Info().Str("runner_id", string(runnerID)).Msg("runner task changed, resetting it")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": reset})
}

func sameTask(a, b *model.TaskId) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.exec.RunnerPinged(runnerID)
	w.WriteHeader(http.StatusOK)
}

// requestWorkResponse is the wire shape of POST /runners/work.
type requestWorkResponse struct {
	Task  *model.CompilerTask `json:"task,omitempty"`
	Reset bool                `json:"reset"`
}

func (s *Server) handleRequestWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var info model.RunnerInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if info.Id != runnerID {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if info.CurrentTask != nil {
		s.log.Warn().Str("runner_id", string(runnerID)).Str("task_id", string(*info.CurrentTask)).Msg("runner already had a task, resetting it")
		writeJSON(w, http.StatusOK, requestWorkResponse{Reset: true})
		return
	}

	ctx := r.Context()
	queued, err := s.store.GetQueuedTasks(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("fetching queued tasks")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	tests, err := s.store.GetTests(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("fetching test definitions")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ordered := s.queue.Order(queued)
	testIDs := make([]model.TestId, len(tests))
	for i, t := range tests {
		testIDs[i] = t.TestId
	}

	item, err := s.exec.GetWork(info, ordered, testIDs)
	if err != nil {
		s.log.Warn().Err(err).Str("runner_id", string(runnerID)).Msg("error assigning work, resetting runner")
		writeJSON(w, http.StatusOK, requestWorkResponse{Reset: true})
		return
	}
	if item == nil {
		writeJSON(w, http.StatusOK, requestWorkResponse{Reset: false})
		return
	}

	task := model.CompilerTask{
		TaskId:        item.Id,
		TeamId:        item.Team,
		RevisionId:    item.Revision,
		CommitMessage: item.CommitMessage,
		Image:         s.store.BuildImage(),
		BuildCommand:  s.store.BuildCommand(),
		BuildTimeout:  s.store.BuildTimeout(),
		Tests:         tests,
	}
	writeJSON(w, http.StatusOK, requestWorkResponse{Task: &task})
}

func (s *Server) handleRequestTar(w http.ResponseWriter, r *http.Request) {
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	task := s.exec.GetCurrentTask(runnerID)
	if task == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	if err := s.tar.Export(r.Context(), string(task.Team), task.Revision, w); err != nil {
		s.log.Warn().Err(err).Str("runner_id", string(runnerID)).Str("revision", task.Revision).Msg("failed to export requested revision")
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update model.RunnerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.exec.UpdateTask(runnerID, update)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var task model.FinishedCompilerTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if _, ok := s.exec.GetRunningTask(task.Info.TaskId); !ok {
		s.log.Warn().Str("task_id", string(task.Info.TaskId)).Str("runner_id", string(runnerID)).Msg("runner submitted unknown task for completion")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := s.store.AddFinishedTask(r.Context(), task); err != nil {
		s.log.Error().Err(err).Str("task_id", string(task.Info.TaskId)).Msg("failed to persist finished task")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.exec.FinishTask(runnerID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRequestTaste(w http.ResponseWriter, r *http.Request) {
	runnerID, ok := basicAuthRunnerID(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	task := s.exec.tasting.PollTasting(runnerID)
	writeJSON(w, http.StatusOK, map[string]*model.TastingTask{"task": task})
}

type doneTasteRequest struct {
	Id     string                 `json:"id"`
	Output model.ExecutionOutput `json:"output"`
}

func (s *Server) handleDoneTaste(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := basicAuthRunnerID(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req doneTasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.exec.tasting.FinishTasting(req.Id, req.Output)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.Info())
}

type submitTestRequest struct {
	Image model.ImageId      `json:"image"`
	Test  model.CompilerTest `json:"test"`
}

type submitTestResponse struct {
	Accepted bool                  `json:"accepted"`
	Output   model.ExecutionOutput `json:"output"`
}

// handleSubmitTest is the test submission path spec.md §4.C describes:
// it tastes a candidate test against the reference compiler image
// before accepting it into the grading matrix, blocking on the
// tasting's oneshot reply until a taste-runner reports a verdict or the
// tasting expires. Only a verdict of Success persists the test, so a
// test that never runs cleanly against the reference compiler never
// reaches request-work.
func (s *Server) handleSubmitTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req submitTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reply := s.exec.tasting.AddTasting(req.Image, req.Test)

	ctx, cancel := context.WithTimeout(r.Context(), tastingExpiry+5*time.Second)
	defer cancel()

	select {
	case output, ok := <-reply:
		if !ok {
			s.log.Warn().Str("test_id", string(req.Test.TestId)).Msg("test tasting expired before a taste-runner claimed it")
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		accepted := output.Kind == model.OutcomeSuccess
		if accepted {
			if err := s.store.AddTest(r.Context(), req.Test); err != nil {
				s.log.Error().Err(err).Str("test_id", string(req.Test.TestId)).Msg("failed to persist accepted test")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, submitTestResponse{Accepted: accepted, Output: output})
	case <-ctx.Done():
		s.log.Warn().Str("test_id", string(req.Test.TestId)).Msg("timed out waiting for a test tasting verdict")
		w.WriteHeader(http.StatusGatewayTimeout)
	}
}
