package agentos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAskSendsUtteranceAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/utterances" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("unexpected body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Reply{DisplayText: "echo: " + body["utterance"], Route: "direct_tool", OK: true})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetToken("token")

	reply, err := client.Ask(context.Background(), "Pause the music")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !reply.OK || reply.DisplayText != "echo: Pause the music" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWaitJobPollsUntilDone(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		calls++
		job := Job{ID: "job-1", Status: "running", MaxRetries: 3, Attempts: 1}
		if calls >= 3 {
			job.Status = "succeeded"
			job.Result = &JobResult{DisplayText: "38", OK: true}
		}
		_ = json.NewEncoder(w).Encode(job)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := client.WaitJob(ctx, "job-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait job: %v", err)
	}
	if job.Result == nil || job.Result.DisplayText != "38" || calls != 3 {
		t.Fatalf("unexpected job %+v after %d calls", job, calls)
	}
}

func TestAPIErrorIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error_code":   "JOB_NOT_FOUND",
			"display_text": "JOB_NOT_FOUND: job not found",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetJob(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "JOB_NOT_FOUND" || !IsNotFound(err) {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestRunsSendsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode([]Run{{ID: "run-1", Status: "succeeded"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	runs, err := client.Runs(context.Background(), 5)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
