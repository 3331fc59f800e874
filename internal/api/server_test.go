package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"AgentOS-Bridge/internal/arena"
	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/observability/alerting"
	"AgentOS-Bridge/internal/storage"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoUtterer struct {
	seen []string
}

func (e *echoUtterer) Handle(_ context.Context, utterance string, _ arena.ProgressSink) bridge.Reply {
	e.seen = append(e.seen, utterance)
	if utterance == "12345" {
		return bridge.Reply{Route: "unclassified", DisplayText: "Please rephrase."}
	}
	return bridge.Reply{Route: "direct_tool", Tool: "media_control", OK: true, DisplayText: "recorded pause"}
}

type staticRecords struct {
	runs    []storage.RunRecord
	matches []storage.MatchRecord
	limits  []int
}

func (s *staticRecords) AppendRun(context.Context, storage.RunRecord) error     { return nil }
func (s *staticRecords) AppendMatch(context.Context, storage.MatchRecord) error { return nil }
func (s *staticRecords) ListRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	s.limits = append(s.limits, limit)
	return s.runs, nil
}
func (s *staticRecords) ListMatches(_ context.Context, limit int) ([]storage.MatchRecord, error) {
	s.limits = append(s.limits, limit)
	return s.matches, nil
}
func (s *staticRecords) Close() error { return nil }

type fixedState transport.State

func (f fixedState) State() transport.State { return transport.State(f) }

type staticTools []tools.Definition

func (s staticTools) Definitions(includeHidden bool) []tools.Definition {
	var out []tools.Definition
	for _, def := range s {
		if def.Hidden && !includeHidden {
			continue
		}
		out = append(out, def)
	}
	return out
}

func serve(t *testing.T, server *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSubmitUtterance(t *testing.T) {
	utterer := &echoUtterer{}
	server := NewServer(":0", "", Dependencies{Utterer: utterer})

	rec := serve(t, server, http.MethodPost, "/api/v1/utterances", "", map[string]string{"utterance": "Pause the music"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	got := decode[utteranceResponse](t, rec)
	if !got.OK || got.Route != "direct_tool" || got.DisplayText != "recorded pause" {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if len(utterer.seen) != 1 || utterer.seen[0] != "Pause the music" {
		t.Fatalf("utterance not forwarded: %v", utterer.seen)
	}

	rec = serve(t, server, http.MethodPost, "/api/v1/utterances", "", map[string]string{"utterance": "12345"})
	got = decode[utteranceResponse](t, rec)
	if rec.Code != http.StatusOK || got.OK || got.ErrorCode != "" {
		t.Fatalf("unclassified utterance should be a plain reply: %d %+v", rec.Code, got)
	}
	if strings.Contains(rec.Body.String(), "error_code") {
		t.Fatalf("error_code should be omitted: %s", rec.Body.String())
	}
}

func TestSubmitUtteranceRejectsMissingText(t *testing.T) {
	server := NewServer(":0", "", Dependencies{Utterer: &echoUtterer{}})
	rec := serve(t, server, http.MethodPost, "/api/v1/utterances", "", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	got := decode[errorResponse](t, rec)
	if got.ErrorCode != "INVALID_ARGUMENT" || got.DisplayText != "INVALID_ARGUMENT: utterance is required" {
		t.Fatalf("unexpected error body: %+v", got)
	}
}

func TestBearerToken(t *testing.T) {
	server := NewServer(":0", "s3cret", Dependencies{Utterer: &echoUtterer{}})

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, server, http.MethodPost, "/api/v1/utterances", tc.token, map[string]string{"utterance": "pause"})
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}

	if rec := serve(t, server, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require a token, got %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	records := &staticRecords{
		runs:    []storage.RunRecord{{ID: "run-2", Status: "succeeded"}, {ID: "run-1", Status: "failed"}},
		matches: []storage.MatchRecord{{ID: "match-1", Winner: "Agent A"}},
	}
	server := NewServer(":0", "", Dependencies{Records: records})

	rec := serve(t, server, http.MethodGet, "/api/v1/runs?limit=5", "", nil)
	runs := decode[[]storage.RunRecord](t, rec)
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	rec = serve(t, server, http.MethodGet, "/api/v1/matches?limit=abc", "", nil)
	matches := decode[[]storage.MatchRecord](t, rec)
	if len(matches) != 1 || matches[0].Winner != "Agent A" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if len(records.limits) != 2 || records.limits[0] != 5 || records.limits[1] != storage.DefaultListLimit {
		t.Fatalf("unexpected limits: %v", records.limits)
	}
}

func TestToolsEndpointHidesArenaByDefault(t *testing.T) {
	server := NewServer(":0", "", Dependencies{Tools: staticTools{
		{Name: "calculator", SideEffect: tools.PureQuery},
		{Name: "agent_arena", SideEffect: tools.LocalMutation, Hidden: true},
	}})

	defs := decode[[]tools.Definition](t, serve(t, server, http.MethodGet, "/api/v1/tools", "", nil))
	if len(defs) != 1 || defs[0].Name != "calculator" {
		t.Fatalf("unexpected tools: %+v", defs)
	}
	defs = decode[[]tools.Definition](t, serve(t, server, http.MethodGet, "/api/v1/tools?hidden=true", "", nil))
	if len(defs) != 2 {
		t.Fatalf("expected hidden tools to be listed, got %+v", defs)
	}
}

func TestJobEndpoints(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 3)
	server := NewServer(":0", "", Dependencies{Jobs: svc})

	rec := serve(t, server, http.MethodPost, "/api/v1/jobs", "", map[string]string{"id": "job-1", "utterance": "pause"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusAccepted)
	}

	sample := &task.Job{
		ID:         "job-done",
		Utterance:  "calculate 2+2",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result:     &task.Result{Route: "direct_tool", DisplayText: "4", OK: true},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample job: %v", err)
	}

	rec = serve(t, server, http.MethodGet, "/api/v1/jobs/job-done", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	got := decode[task.Job](t, rec)
	if got.Result == nil || got.Result.DisplayText != "4" {
		t.Fatalf("unexpected job result: %+v", got.Result)
	}

	if rec := serve(t, server, http.MethodGet, "/api/v1/jobs/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
	if rec := serve(t, server, http.MethodGet, "/api/v1/jobs?status=bogus", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	jobs := decode[[]task.Job](t, serve(t, server, http.MethodGet, "/api/v1/jobs?status=succeeded", "", nil))
	if len(jobs) != 1 || jobs[0].ID != "job-done" {
		t.Fatalf("unexpected filtered jobs: %+v", jobs)
	}

	stats := decode[task.JobStats](t, serve(t, server, http.MethodGet, "/api/v1/jobs/stats", "", nil))
	if stats.Total != 2 || stats.Pending != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealthReportsQueueAndAlerts(t *testing.T) {
	alerts := alerting.NewRecorder(10)
	_ = alerts.Notify(context.Background(), alerting.Event{Code: "JOB_RETRIES_EXHAUSTED", JobID: "job-9"})
	queue := task.NewMemoryQueue(8)
	svc := task.NewService(task.NewMemoryStore(), queue, 3)
	if _, err := svc.Submit(context.Background(), task.Submission{Utterance: "pause"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	server := NewServer(":0", "", Dependencies{
		Jobs:    svc,
		Alerts:  alerts,
		Channel: fixedState(transport.StateDegraded),
	})

	rec := serve(t, server, http.MethodGet, "/healthz", "", nil)
	got := decode[healthResponse](t, rec)
	if got.Status != "degraded" || got.Channel != transport.StateDegraded.String() {
		t.Fatalf("unexpected channel health: %+v", got)
	}
	if got.QueueDepth == nil || *got.QueueDepth != 1 {
		t.Fatalf("unexpected queue depth: %+v", got.QueueDepth)
	}
	if got.Alerts != 1 || got.LastAlert == nil || got.LastAlert.JobID != "job-9" {
		t.Fatalf("unexpected alerts: %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewServer(":0", "", Dependencies{})
	_ = serve(t, server, http.MethodGet, "/healthz", "", nil)
	rec := serve(t, server, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "agentos_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}
