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

package agent

import (
	"net/http"
	"time"

	"github.com/google/go-github/v32/github"
	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// commitHandler validates and parses a GitHub push webhook, builds a
// WorkItem from the head commit, and hands it to events. Generalised
// from commitHandler's Commit-typed version: team is resolved from the
// repository's full name rather than carrying a bespoke Repository
// type, since the dispatcher's storage collaborator keys repos by team
// id, not by hosting service.
func commitHandler(secret string, events chan<- model.WorkItem, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := github.ValidatePayload(r, []byte(secret))
		if err != nil {
			log.Warn().Err(err).Msg("error validating webhook payload")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		defer r.Body.Close()

		event, err := github.ParseWebHook(github.WebHookType(r), payload)
		if err != nil {
			log.Warn().Err(err).Msg("could not parse webhook")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch e := event.(type) {
		case *github.PushEvent:
			head := e.GetHeadCommit()
			repo := e.GetRepo()
			if head == nil || repo == nil {
				w.WriteHeader(http.StatusOK)
				return
			}

			item := model.WorkItem{
				Id:            model.TaskId(head.GetID()),
				Team:          model.TeamId(repo.GetFullName()),
				Revision:      head.GetID(),
				CommitMessage: head.GetMessage(),
				InsertTime:    time.Now(),
			}
			events <- item
			w.WriteHeader(http.StatusAccepted)
		default:
			log.Debug().Str("event", github.WebHookType(r)).Msg("ignored webhook event type")
			w.WriteHeader(http.StatusOK)
		}
	}
}
