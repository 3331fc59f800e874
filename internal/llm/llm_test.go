package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentOS-Bridge/internal/errors"
)

func TestRetryRecoversWithinBudget(t *testing.T) {
	var calls atomic.Int32
	flaky := ClientFunc(func(context.Context, Request) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return &Response{Text: "ok"}, nil
	})

	resp, err := WithRetry(flaky, RetryPolicy{Retries: 2, Delay: time.Millisecond}).Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", resp.Text, calls.Load())
	}
}

func TestRetryGivesUpAsUnavailable(t *testing.T) {
	var calls atomic.Int32
	down := ClientFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})

	_, err := WithRetry(down, RetryPolicy{Retries: 2, Delay: time.Millisecond}).Generate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRetryAppliesPerCallTimeout(t *testing.T) {
	hang := ClientFunc(func(ctx context.Context, _ Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := WithRetry(hang, RetryPolicy{Retries: 1, Timeout: 20 * time.Millisecond}).Generate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
}

func TestScriptedRepliesInOrder(t *testing.T) {
	s := NewScripted("done", "first", "second")
	for _, want := range []string{"first", "second", "done", "done"} {
		resp, err := s.Generate(context.Background(), Request{Prompt: want})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Text != want {
			t.Fatalf("expected %q, got %q", want, resp.Text)
		}
	}
	if len(s.Requests()) != 4 {
		t.Fatalf("expected requests to be recorded")
	}

	resp, _ := NewScripted("").Generate(context.Background(), Request{})
	if resp.Text != DefaultOfflineReply {
		t.Fatalf("unexpected offline reply %q", resp.Text)
	}
}

func TestScriptedKeepsOnlyRecentRequests(t *testing.T) {
	s := NewScripted("done")
	total := maxRecordedRequests + 10
	for i := 0; i < total; i++ {
		if _, err := s.Generate(context.Background(), Request{Prompt: fmt.Sprint(i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	reqs := s.Requests()
	if len(reqs) != maxRecordedRequests {
		t.Fatalf("expected %d recorded requests, got %d", maxRecordedRequests, len(reqs))
	}
	if reqs[len(reqs)-1].Prompt != fmt.Sprint(total-1) || reqs[0].Prompt != fmt.Sprint(total-maxRecordedRequests) {
		t.Fatalf("unexpected window %q..%q", reqs[0].Prompt, reqs[len(reqs)-1].Prompt)
	}
}

func TestUnavailableIsCriticalAndAlerts(t *testing.T) {
	if got := xerrors.SeverityOf(ErrUnavailable); got != xerrors.SeverityCritical {
		t.Fatalf("expected critical severity, got %q", got)
	}
	if !xerrors.ShouldAlert(ErrUnavailable) || !xerrors.RetryableError(ErrUnavailable) {
		t.Fatalf("unavailable inference must alert and stay retryable")
	}
}
