package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fn        func(call int32, job *Job) (Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, job *Job) (Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	call := f.processed.Add(1)
	if f.fn != nil {
		return f.fn(call, job)
	}
	return Result{Route: "run_agent", DisplayText: "echo: " + job.Utterance, OK: true}, nil
}

type completions struct {
	mu   sync.Mutex
	jobs []*Job
}

func (c *completions) record(_ context.Context, job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

func (c *completions) snapshot() []*Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Job(nil), c.jobs...)
}

func startPipeline(t *testing.T, exec Executor, maxRetries int, opts ...ProcessorOption) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, maxRetries)
	processor := NewProcessor(exec, store, queue, queue, opts...)

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(cancel)
	return service, cancel
}

func waitJob(t *testing.T, service *Service, id string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("job %s did not complete: %v", id, err)
	}
	return job
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	exec := &fakeExecutor{latency: 10 * time.Millisecond}
	done := &completions{}
	service, cancel := startPipeline(t, exec, 3, WithWorkerCount(8), WithCompletion(done.record))
	defer cancel()

	total := 200
	for i := 0; i < total; i++ {
		if _, err := service.Submit(context.Background(), Submission{Utterance: fmt.Sprintf("utterance-%d", i)}); err != nil {
			t.Fatalf("提交作业失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for len(done.snapshot()) < total {
		select {
		case <-deadline:
			t.Fatalf("作业未能及时处理，已完成 %d", exec.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	for _, job := range done.snapshot() {
		if job.Status != StatusSucceeded || job.Result == nil || !job.Result.OK {
			t.Fatalf("unexpected completed job: %+v", job)
		}
	}
}

func TestProcessorRetriesInfrastructureErrors(t *testing.T) {
	exec := &fakeExecutor{fn: func(call int32, job *Job) (Result, error) {
		if call == 1 {
			return Result{}, xerrors.New(CodeJobProcessing, "inference backend restarting")
		}
		return Result{Route: "direct_tool", DisplayText: "38", OK: true}, nil
	}}
	done := &completions{}
	service, cancel := startPipeline(t, exec, 3, WithCompletion(done.record))
	defer cancel()

	submitted, err := service.Submit(context.Background(), Submission{Utterance: "calculate sqrt(1444)", ReplyTo: "corr-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitJob(t, service, submitted.ID)
	if job.Status != StatusSucceeded || job.Attempts != 2 || job.Result.DisplayText != "38" {
		t.Fatalf("unexpected job after retry: %+v", job)
	}
	if got := done.snapshot(); len(got) != 1 || got[0].ReplyTo != "corr-1" {
		t.Fatalf("completion must fire once with the reply target: %+v", got)
	}
}

func TestProcessorNeverRetriesAfterHostMutation(t *testing.T) {
	exec := &fakeExecutor{fn: func(int32, *Job) (Result, error) {
		return Result{Route: "direct_tool", HostMutation: true}, xerrors.New(CodeJobProcessing, "reply channel lost")
	}}
	recorder := alerting.NewRecorder(10)
	done := &completions{}
	service, cancel := startPipeline(t, exec, 3,
		WithCompletion(done.record),
		WithAlertDispatcher(alerting.NewFanout([]alerting.Notifier{recorder})),
	)
	defer cancel()

	submitted, err := service.Submit(context.Background(), Submission{Utterance: "pause music"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitJob(t, service, submitted.ID)
	if job.Status != StatusFailed || job.Attempts != 1 {
		t.Fatalf("host mutation must not be retried: %+v", job)
	}
	if exec.processed.Load() != 1 {
		t.Fatalf("executor called %d times", exec.processed.Load())
	}
	if job.LastError != "JOB_PROCESSING_FAILED: reply channel lost" {
		t.Fatalf("unexpected last error: %q", job.LastError)
	}
	events := recorder.Events()
	if len(events) != 1 || events[0].Metadata["stage"] != "host_mutation" {
		t.Fatalf("unexpected alerts: %+v", events)
	}
	if len(done.snapshot()) != 1 {
		t.Fatalf("terminal failure must complete the job")
	}
}

func TestProcessorRecoveryProducesCodedReply(t *testing.T) {
	exec := &fakeExecutor{fn: func(int32, *Job) (Result, error) {
		return Result{Route: "run_agent"}, xerrors.Wrap(xerrors.CodeInvalidArgument, errors.New("secret stack"), "bad strategy")
	}}
	service, cancel := startPipeline(t, exec, 3, WithRecoveryHandler(DescribeFailure))
	defer cancel()

	submitted, err := service.Submit(context.Background(), Submission{Utterance: "think hard"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitJob(t, service, submitted.ID)
	if job.Status != StatusSucceeded || job.Result == nil {
		t.Fatalf("recovery should settle the job: %+v", job)
	}
	if job.Result.OK || job.Result.ErrorCode != "INVALID_ARGUMENT" || job.Result.DisplayText != "INVALID_ARGUMENT: bad strategy" {
		t.Fatalf("unexpected fallback reply: %+v", job.Result)
	}
	if job.Result.Route != "run_agent" {
		t.Fatalf("fallback must keep the route, got %q", job.Result.Route)
	}
}

func TestSubmitValidatesAndDeduplicates(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 0)
	ctx := context.Background()

	if _, err := service.Submit(ctx, Submission{Utterance: "   "}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	first, err := service.Submit(ctx, Submission{ID: "fixed", Utterance: "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	again, err := service.Submit(ctx, Submission{ID: "fixed", Utterance: "other"})
	if err != nil || again.Utterance != first.Utterance {
		t.Fatalf("duplicate submission should return the existing job: %+v, %v", again, err)
	}
	if depth := service.QueueDepth(ctx); depth != 1 {
		t.Fatalf("expected one queued job, got %d", depth)
	}
	if first.MaxRetries != 3 {
		t.Fatalf("default retries not applied: %d", first.MaxRetries)
	}
}
