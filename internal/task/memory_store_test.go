package task

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "t1", Utterance: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Utterance: "g2", Status: StatusFailed, MaxRetries: 3},
		{ID: "t3", Utterance: "g3", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "t2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", Result{DisplayText: "ok", OK: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["t1"].UpdatedAt = base.Unix()
	store.jobs["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest job first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, buildListOptions([]ListOption{WithReplyPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	jobs := []*Job{
		{ID: "a", Utterance: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Utterance: "g2", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Utterance: "g3", Status: StatusPending, MaxRetries: 3},
	}

	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", Result{DisplayText: "ok", OK: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["a"].UpdatedAt = base.Unix()
	store.jobs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithReplyPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithReplyPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j1", Utterance: "pause music", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j1"}); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "j1")
	if err != nil || job.Attempts != 1 || job.Status != StatusRunning {
		t.Fatalf("unexpected claim: %+v, %v", job, err)
	}
	if _, err := store.Claim(ctx, "j1"); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("running job must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "JOB_PROCESSING_FAILED: job execution failed", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !IsJobError(err, CodeJobExhausted) {
		t.Fatalf("terminal failure must exhaust the job, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsJobError(err, CodeJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreQueryFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, job := range []*Job{
		{ID: "a", Utterance: "play Yesterday by The Beatles", Status: StatusPending, MaxRetries: 1},
		{ID: "b", Utterance: "calculate sqrt(1444)", Status: StatusPending, MaxRetries: 1},
	} {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}
	if err := store.MarkSucceeded(ctx, "b", Result{Route: "direct_tool", DisplayText: "38", OK: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	beatles, _ := store.List(ctx, buildListOptions([]ListOption{WithQuery("beatles")}))
	if len(beatles) != 1 || beatles[0].ID != "a" {
		t.Fatalf("unexpected query result: %+v", beatles)
	}
	byReply, _ := store.List(ctx, buildListOptions([]ListOption{WithQuery("38")}))
	if len(byReply) != 1 || byReply[0].ID != "b" || byReply[0].Result.DisplayText != "38" {
		t.Fatalf("unexpected reply query result: %+v", byReply)
	}
	paged, _ := store.List(ctx, buildListOptions([]ListOption{WithOffset(5)}))
	if len(paged) != 0 {
		t.Fatalf("expected empty page, got %d", len(paged))
	}
}
