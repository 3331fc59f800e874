package alerting

import (
	"context"
	"errors"
	"testing"

	xerrors "AgentOS-Bridge/internal/errors"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) Name() string { return "failing" }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("smtp down")
}

func TestFanoutDeliversToAllNotifiers(t *testing.T) {
	recorder := NewRecorder(2)
	failing := &failingNotifier{}
	dispatcher := NewFanout([]Notifier{failing, recorder, nil, &LogNotifier{}})

	err := dispatcher.Notify(context.Background(), Event{Code: "JOB_RETRIES_EXHAUSTED", Severity: xerrors.SeverityCritical, JobID: "j1"})
	if err == nil {
		t.Fatalf("expected joined error from failing notifier")
	}
	if failing.calls != 1 {
		t.Fatalf("failing notifier called %d times", failing.calls)
	}
	if got := recorder.Events(); len(got) != 1 || got[0].JobID != "j1" {
		t.Fatalf("recorder did not receive event: %+v", got)
	}
}

func TestFanoutFiltersBySeverity(t *testing.T) {
	recorder := NewRecorder(0)
	dispatcher := NewFanout([]Notifier{recorder}, WithMinSeverity(xerrors.SeverityWarning))

	ctx := context.Background()
	_ = dispatcher.Notify(ctx, Event{Severity: xerrors.SeverityInfo, JobID: "quiet"})
	_ = dispatcher.Notify(ctx, Event{Severity: xerrors.SeverityWarning, JobID: "loud"})

	events := recorder.Events()
	if len(events) != 1 || events[0].JobID != "loud" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestRecorderKeepsMostRecent(t *testing.T) {
	recorder := NewRecorder(2)
	for _, id := range []string{"a", "b", "c"} {
		_ = recorder.Notify(context.Background(), Event{JobID: id})
	}
	events := recorder.Events()
	if len(events) != 2 || events[0].JobID != "b" || events[1].JobID != "c" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
