package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AgentOS-Bridge/internal/agent"
	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/router"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/internal/tools/builtin"
	"AgentOS-Bridge/internal/transport"
)

type pipeDiscoverer struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
}

func (p *pipeDiscoverer) Discover(context.Context) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, errors.New("no peer")
	}
	conn := p.conn
	p.conn = nil
	return conn, nil
}

func openPair(t *testing.T) (*transport.Session, *transport.Session) {
	t.Helper()
	a, b := net.Pipe()
	noRetry := transport.WithReconnectPolicy(transport.ReconnectPolicy{})
	bridgeSide, err := transport.Open(context.Background(), &pipeDiscoverer{conn: a}, noRetry)
	require.NoError(t, err)
	shell, err := transport.Open(context.Background(), &pipeDiscoverer{conn: b}, noRetry)
	require.NoError(t, err)
	t.Cleanup(func() {
		bridgeSide.Close()
		shell.Close()
	})
	return bridgeSide, shell
}

type fixture struct {
	registry *tools.Registry
	recorder *host.Recorder
	client   *llm.Scripted
	handler  *Handler
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	recorder := host.NewRecorder()
	reg := tools.NewRegistry()
	require.NoError(t, builtin.Register(reg, builtin.Options{
		WorkspaceDir: t.TempDir(),
		Shell:        builtin.ShellOptions{Allowlist: []string{"echo"}},
		Host:         recorder,
	}))
	client := llm.NewScripted("Final Answer: done", replies...)
	engine := agent.New(client, reg.AgentView())
	return &fixture{
		registry: reg,
		recorder: recorder,
		client:   client,
		handler:  NewHandler(router.New(reg), reg, engine),
	}
}

// drain 持续读取展示端收到的事件，避免入站缓冲写满。
func drain(ctx context.Context, s *transport.Session) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for {
			f, err := s.Receive(ctx)
			if err != nil {
				return
			}
			var ev Event
			if f.Decode(&ev) == nil {
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out
}

func ask(t *testing.T, shell *transport.Session, utterance string) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := shell.Request(ctx, Request{Utterance: utterance})
	require.NoError(t, err)
	require.Equal(t, transport.KindResponse, resp.Kind)
	var reply Reply
	require.NoError(t, resp.Decode(&reply))
	return reply
}

func TestPauseTheMusicOverChannel(t *testing.T) {
	f := newFixture(t)
	bridgeSide, shell := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drain(ctx, shell)

	served := make(chan error, 1)
	go func() { served <- NewDispatcher(f.handler, bridgeSide).Serve(ctx) }()

	reply := ask(t, shell, "Pause the music")
	require.True(t, reply.OK)
	require.Equal(t, string(router.RouteDirectTool), reply.Route)
	require.Equal(t, "media_control", reply.Tool)
	require.NotEmpty(t, reply.DisplayText)
	require.Empty(t, reply.ErrorCode)

	records := f.recorder.Records()
	require.Len(t, records, 1)
	require.Equal(t, "pause", records[0].Action.Kind)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestMalformedPayloadGetsErrorReply(t *testing.T) {
	f := newFixture(t)
	bridgeSide, shell := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drain(ctx, shell)
	go NewDispatcher(f.handler, bridgeSide).Serve(ctx)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	resp, err := shell.Request(reqCtx, []string{"not", "an", "object"})
	require.NoError(t, err)
	var reply Reply
	require.NoError(t, resp.Decode(&reply))
	require.False(t, reply.OK)
	require.Equal(t, string(transport.CodeFrameInvalid), reply.ErrorCode)
	require.True(t, strings.HasPrefix(reply.DisplayText, "TRANSPORT_FRAME_INVALID: "))
}

func TestUnclassifiedUtteranceIsNotAnError(t *testing.T) {
	f := newFixture(t)
	reply := f.handler.Handle(context.Background(), "12345", nil)
	require.Equal(t, string(router.RouteUnclassified), reply.Route)
	require.False(t, reply.OK)
	require.Empty(t, reply.ErrorCode)
	require.Contains(t, reply.DisplayText, "rephrase")
	require.Empty(t, f.client.Requests())
}

func TestAgentRunAnswer(t *testing.T) {
	f := newFixture(t, "Thought: this needs no tools.\nFinal Answer: Go was announced in 2009.")
	reply := f.handler.Handle(context.Background(), "when was the Go language announced", nil)
	require.True(t, reply.OK)
	require.Equal(t, string(router.RouteRunAgent), reply.Route)
	require.Equal(t, "Go was announced in 2009.", reply.DisplayText)
	require.NotEmpty(t, reply.RunID)
	require.False(t, reply.HostMutation)
}

func TestAgentRunThatMutatesHostIsFlagged(t *testing.T) {
	f := newFixture(t,
		"Thought: quiet first.\nAction: media_control\nAction Input: {\"action\": \"pause\"}",
		"Thought: the music is paused.\nFinal Answer: paused",
	)
	reply := f.handler.Handle(context.Background(), "make it quiet in here", nil)
	require.True(t, reply.OK)
	require.Equal(t, "paused", reply.DisplayText)
	require.True(t, reply.HostMutation)
	require.True(t, reply.Result().HostMutation)
	require.Len(t, f.recorder.Records(), 1)
}

type fixedClassifier router.Decision

func (c fixedClassifier) Classify(_ context.Context, utterance string) router.Decision {
	d := router.Decision(c)
	d.Utterance = utterance
	return d
}

func TestDirectToolFailureCarriesCode(t *testing.T) {
	f := newFixture(t)
	f.recorder.Fail = errors.New("player crashed")
	h := NewHandler(fixedClassifier(router.DirectTool("media_control", tools.Params{"action": "pause"})), f.registry, nil)

	reply := h.Handle(context.Background(), "pause", nil)
	require.False(t, reply.OK)
	require.Equal(t, string(tools.CodeExecution), reply.ErrorCode)
	require.True(t, strings.HasPrefix(reply.DisplayText, "TOOL_EXECUTION: "))
	require.NotContains(t, reply.DisplayText, "player crashed")
	require.True(t, reply.HostMutation)
}

func TestRunWithoutEngineReportsInferenceUnavailable(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(fixedClassifier(router.RunAgent("plan my week")), f.registry, nil)
	reply := h.Handle(context.Background(), "plan my week", nil)
	require.False(t, reply.OK)
	require.Equal(t, string(agent.CodeInferenceUnavailable), reply.ErrorCode)
}

func TestQueuedUtteranceRepliesOnCompletion(t *testing.T) {
	f := newFixture(t)
	bridgeSide, shell := openPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events := drain(ctx, shell)

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	service := task.NewService(store, queue, 3)
	dispatcher := NewDispatcher(f.handler, bridgeSide, WithJobService(service))
	processor := task.NewProcessor(dispatcher, store, queue, queue, task.WithCompletion(dispatcher.Complete))
	go processor.Start(ctx)
	go dispatcher.Serve(ctx)

	reply := ask(t, shell, "calculate sqrt(1444)")
	require.True(t, reply.OK)
	require.Equal(t, string(router.RouteDirectTool), reply.Route)
	require.Contains(t, reply.DisplayText, "38")

	jobs, err := service.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, task.StatusSucceeded, jobs[0].Status)
	require.NotEmpty(t, jobs[0].ReplyTo)

	select {
	case ev := <-events:
		require.Equal(t, "accepted", ev.Type)
		require.Equal(t, jobs[0].ID, ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("accepted event not received")
	}
}

func TestReplyFromFailedJob(t *testing.T) {
	reply := ReplyFromJob(&task.Job{
		Status:    task.StatusFailed,
		LastError: "JOB_PROCESSING_FAILED: utterance processing failed",
		ErrorCode: string(task.CodeJobProcessing),
	})
	require.False(t, reply.OK)
	require.Equal(t, "JOB_PROCESSING_FAILED: utterance processing failed", reply.DisplayText)

	reply = ReplyFromJob(&task.Job{Status: task.StatusSucceeded, Result: &task.Result{Route: "direct_tool", DisplayText: "38", OK: true}})
	require.True(t, reply.OK)
	require.Equal(t, "38", reply.DisplayText)
}
