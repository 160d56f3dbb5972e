package agent

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-github/v32/github"
	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

const testSecret = "my-secret-key"

func signedPushRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write(payload)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/commit", bytes.NewReader(payload))
	req.Header.Set("X-Hub-Signature", sig)
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCommitHandlerPublishesWorkItemOnPush(t *testing.T) {
	id := "abc123"
	message := "fix the thing"
	fullName := "students/team-a"

	event := github.PushEvent{
		HeadCommit: &github.HeadCommit{ID: &id, Message: &message, Timestamp: &github.Timestamp{Time: time.Now()}},
		Repo:       &github.PushEventRepository{FullName: &fullName},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshalling fixture event: %v", err)
	}

	events := make(chan model.WorkItem, 1)
	handler := commitHandler(testSecret, events, zerolog.Nop())

	rec := httptest.NewRecorder()
	handler(rec, signedPushRequest(t, payload))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 Accepted, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case item := <-events:
		if item.Id != model.TaskId(id) || item.Team != model.TeamId(fullName) || item.CommitMessage != message {
			t.Errorf("unexpected work item: %+v", item)
		}
	default:
		t.Fatalf("expected a work item to be published")
	}
}

func TestCommitHandlerRejectsBadSignature(t *testing.T) {
	events := make(chan model.WorkItem, 1)
	handler := commitHandler(testSecret, events, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/commit", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature", "sha1=deadbeef")
	req.Header.Set("X-GitHub-Event", "push")

	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad signature, got %d", rec.Code)
	}
}

func TestCommitHandlerIgnoresNonPushEvents(t *testing.T) {
	events := make(chan model.WorkItem, 1)
	handler := commitHandler(testSecret, events, zerolog.Nop())

	payload := []byte(`{"action":"opened"}`)
	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write(payload)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/commit", bytes.NewReader(payload))
	req.Header.Set("X-Hub-Signature", sig)
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for an ignored event type, got %d", rec.Code)
	}
	select {
	case item := <-events:
		t.Errorf("expected no work item for a non-push event, got %+v", item)
	default:
	}
}
