package discoverer

import (
	"context"
	"testing"
	"time"

	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/notification/domain"
	"citizen-identity/session-notifications/internal/testfixtures"
)

const delayStep = 30 * time.Second

func newDiscoverer(repo *testfixtures.MemoryRepository, q *testfixtures.FakeQueue, emitter *testfixtures.CaptureEmitter) *Discoverer {
	d := New(repo, q, emitter, delayStep)
	d.now = func() time.Time { return testfixtures.FixedNow }
	return d
}

// seed creates a record expiring within FixedNow's UTC day.
func seed(t *testing.T, repo *testfixtures.MemoryRepository, subject string, offset time.Duration) int64 {
	t.Helper()
	expiredAt := testfixtures.FixedNow.Add(offset).UnixMilli()
	if err := repo.Create(context.Background(), subject, expiredAt); err != nil {
		t.Fatalf("seed %s: %v", subject, err)
	}
	return expiredAt
}

func TestRun_FlagsAndForwards(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	q := &testfixtures.FakeQueue{}
	d := newDiscoverer(repo, q, &testfixtures.CaptureEmitter{})
	expiredAt := seed(t, repo, "subject-1", 2*time.Hour)

	if err := d.Run(context.Background(), testfixtures.FixedNow); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := repo.Get("subject-1", expiredAt)
	if rec == nil || !rec.Flag(domain.EventExpiredSession) {
		t.Fatalf("record flag not set: %+v", rec)
	}
	sent := q.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Item.SubjectID != "subject-1" || sent[0].Item.ExpiresAt != expiredAt {
		t.Errorf("sent item = %+v", sent[0].Item)
	}
	if sent[0].Delay != 0 {
		t.Errorf("first chunk delay = %v, want 0", sent[0].Delay)
	}
}

func TestRun_SkipsAlreadyFlaggedAndOutOfWindow(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	q := &testfixtures.FakeQueue{}
	d := newDiscoverer(repo, q, &testfixtures.CaptureEmitter{})

	flagged := seed(t, repo, "subject-flagged", time.Hour)
	if err := repo.UpdateExpiredFlag(context.Background(), "subject-flagged", flagged, true); err != nil {
		t.Fatalf("pre-flag: %v", err)
	}
	seed(t, repo, "subject-tomorrow", 26*time.Hour)
	due := seed(t, repo, "subject-due", 3*time.Hour)

	if err := d.Run(context.Background(), testfixtures.FixedNow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := q.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Item.SubjectID != "subject-due" || sent[0].Item.ExpiresAt != due {
		t.Errorf("sent item = %+v, want subject-due", sent[0].Item)
	}
}

func TestRun_DelayIncreasesPerChunk(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	repo.PageSize = 2
	q := &testfixtures.FakeQueue{}
	d := newDiscoverer(repo, q, &testfixtures.CaptureEmitter{})

	seed(t, repo, "subject-a", 1*time.Hour)
	seed(t, repo, "subject-b", 2*time.Hour)
	seed(t, repo, "subject-c", 3*time.Hour)
	seed(t, repo, "subject-d", 4*time.Hour)
	seed(t, repo, "subject-e", 5*time.Hour)

	if err := d.Run(context.Background(), testfixtures.FixedNow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := q.Sent()
	if len(sent) != 5 {
		t.Fatalf("sent = %d, want 5", len(sent))
	}
	counts := map[time.Duration]int{}
	for _, s := range sent {
		counts[s.Delay]++
	}
	if counts[0] != 2 || counts[delayStep] != 2 || counts[2*delayStep] != 1 {
		t.Errorf("delay distribution = %v, want {0:2, %v:2, %v:1}", counts, delayStep, 2*delayStep)
	}
}

func TestRun_EnqueueFailureRevertsFlag(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	q := &testfixtures.FakeQueue{SendErrs: []error{failure.Transientf("queue.send", "redis down")}}
	d := newDiscoverer(repo, q, &testfixtures.CaptureEmitter{})
	expiredAt := seed(t, repo, "subject-1", time.Hour)

	err := d.Run(context.Background(), testfixtures.FixedNow)
	if err == nil {
		t.Fatal("Run should report the failed item")
	}

	rec := repo.Get("subject-1", expiredAt)
	if rec == nil {
		t.Fatal("record disappeared")
	}
	if rec.Flag(domain.EventExpiredSession) {
		t.Error("flag should be reverted to false after enqueue failure")
	}
}

func TestRun_RevertFailureEmitsTelemetryOnly(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	// First update (flip true) succeeds, second (revert) fails.
	repo.UpdateErrs = []error{nil, failure.Transientf("store.updateFlag", "unavailable")}
	q := &testfixtures.FakeQueue{SendErrs: []error{failure.Transientf("queue.send", "redis down")}}
	emitter := &testfixtures.CaptureEmitter{}
	d := newDiscoverer(repo, q, emitter)
	expiredAt := seed(t, repo, "subject-1", time.Hour)

	err := d.Run(context.Background(), testfixtures.FixedNow)
	if err == nil {
		t.Fatal("Run should report the failed item")
	}

	// Accepted inconsistency: flag stays true, telemetry fires.
	rec := repo.Get("subject-1", expiredAt)
	if !rec.Flag(domain.EventExpiredSession) {
		t.Error("flag should remain true when revert also fails")
	}
	if !emitter.WaitFor("session.discoverer.flagRevertFailed", 1, time.Second) {
		t.Error("flagRevertFailed telemetry not emitted")
	}
}

func TestRun_BadItemDoesNotBlockSiblings(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	repo.BadRows = 1
	q := &testfixtures.FakeQueue{}
	emitter := &testfixtures.CaptureEmitter{}
	d := newDiscoverer(repo, q, emitter)
	seed(t, repo, "subject-1", time.Hour)
	seed(t, repo, "subject-2", 2*time.Hour)

	if err := d.Run(context.Background(), testfixtures.FixedNow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(q.Sent()); got != 2 {
		t.Errorf("sent = %d, want 2 despite the bad row", got)
	}
	if !emitter.WaitFor("session.discoverer.badRecord", 1, time.Second) {
		t.Error("badRecord telemetry not emitted")
	}
}

func TestRunWithRetries_MaxRetryTelemetryOnce(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	seed(t, repo, "subject-1", time.Hour)
	// Every flag update fails, so every run attempt fails.
	repo.UpdateErrs = []error{
		failure.Transientf("store.updateFlag", "down"),
		failure.Transientf("store.updateFlag", "down"),
		failure.Transientf("store.updateFlag", "down"),
	}
	emitter := &testfixtures.CaptureEmitter{}
	d := newDiscoverer(repo, &testfixtures.FakeQueue{}, emitter)

	err := d.RunWithRetries(context.Background(), testfixtures.FixedNow, 3, 0)
	if err == nil {
		t.Fatal("RunWithRetries should surface the failure")
	}
	if !emitter.WaitFor("session.discoverer.maxRetryReached", 1, time.Second) {
		t.Fatal("maxRetryReached telemetry not emitted")
	}
	if got := len(emitter.Named("session.discoverer.maxRetryReached")); got != 1 {
		t.Errorf("maxRetryReached events = %d, want exactly 1", got)
	}
}
