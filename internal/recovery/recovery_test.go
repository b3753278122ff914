package recovery

import (
	"context"
	"testing"
	"time"

	"citizen-identity/session-notifications/internal/clients/sessioninfo"
	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/testfixtures"
)

type fakeSessions struct {
	state sessioninfo.SessionState
	err   error
}

func (f *fakeSessions) GetSession(ctx context.Context, subjectID string) (sessioninfo.SessionState, error) {
	return f.state, f.err
}

const subject = "VRDLGI92M15F205Z"

func activeSessions() *fakeSessions {
	return &fakeSessions{state: sessioninfo.SessionState{Active: true}}
}

func testItem() queue.Item {
	return queue.NewItem(subject, testfixtures.FixedNow.Add(2*time.Hour).UnixMilli())
}

func TestHandle_SeedsMissingRecord(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	emitter := &testfixtures.CaptureEmitter{}
	r := New(repo, activeSessions(), emitter)
	item := testItem()

	if err := r.Handle(context.Background(), item); err != nil {
		t.Fatalf("Handle() = %v, want nil", err)
	}
	rec := repo.Get(subject, item.ExpiresAt)
	if rec == nil {
		t.Fatal("record was not created")
	}
	if want := int64(2*3600 + 2592000); rec.TTLSeconds != want {
		t.Errorf("TTLSeconds = %d, want %d", rec.TTLSeconds, want)
	}
	if !emitter.WaitFor("session.recovery.recordSeeded", 1, time.Second) {
		t.Error("recordSeeded telemetry was not emitted")
	}
}

func TestHandle_SecondInvocationIsNoOp(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	emitter := &testfixtures.CaptureEmitter{}
	r := New(repo, activeSessions(), emitter)
	item := testItem()

	if err := r.Handle(context.Background(), item); err != nil {
		t.Fatalf("first Handle() = %v, want nil", err)
	}
	if err := r.Handle(context.Background(), item); err != nil {
		t.Fatalf("second Handle() = %v, want nil", err)
	}
	if got := len(repo.Records()); got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
	if !emitter.WaitFor("session.recovery.skipped", 1, time.Second) {
		t.Fatal("skipped telemetry was not emitted")
	}
	ev := emitter.Named("session.recovery.skipped")[0]
	if got := ev.Properties["reason"]; got != "recovery.alreadyRecorded" {
		t.Errorf("skip reason = %q, want %q", got, "recovery.alreadyRecorded")
	}
}

func TestHandle_InactiveSessionIsSkipped(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	emitter := &testfixtures.CaptureEmitter{}
	r := New(repo, &fakeSessions{}, emitter)

	if err := r.Handle(context.Background(), testItem()); err != nil {
		t.Fatalf("Handle() = %v, want nil", err)
	}
	if got := len(repo.Records()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
	if !emitter.WaitFor("session.recovery.skipped", 1, time.Second) {
		t.Fatal("skipped telemetry was not emitted")
	}
	ev := emitter.Named("session.recovery.skipped")[0]
	if got := ev.Properties["reason"]; got != "recovery.sessionInactive" {
		t.Errorf("skip reason = %q, want %q", got, "recovery.sessionInactive")
	}
}

func TestHandle_SessionLookupFailureIsRetried(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	sessions := &fakeSessions{err: failure.Transientf("sessionInfo.get", "status 503")}
	r := New(repo, sessions, &testfixtures.CaptureEmitter{})

	err := r.Handle(context.Background(), testItem())
	if !failure.IsTransient(err) {
		t.Fatalf("Handle() = %v, want transient error", err)
	}
	if got := len(repo.Records()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
}

func TestHandle_ExistenceCheckFailureIsRetried(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	repo.QueryErr = failure.Transientf("store.query", "connection refused")
	r := New(repo, activeSessions(), &testfixtures.CaptureEmitter{})

	err := r.Handle(context.Background(), testItem())
	if !failure.IsTransient(err) {
		t.Fatalf("Handle() = %v, want transient error", err)
	}
	if got := len(repo.Records()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
}

func TestHandle_StaleExpiryIsSkipped(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	emitter := &testfixtures.CaptureEmitter{}
	r := New(repo, activeSessions(), emitter)
	// Expiry so old the retention window already elapsed: TTL is negative
	// and creation fails permanently.
	item := queue.NewItem(subject, testfixtures.FixedNow.AddDate(0, 0, -31).UnixMilli())

	if err := r.Handle(context.Background(), item); err != nil {
		t.Fatalf("Handle() = %v, want nil", err)
	}
	if got := len(repo.Records()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
	if !emitter.WaitFor("session.recovery.skipped", 1, time.Second) {
		t.Error("skipped telemetry was not emitted")
	}
}

func TestHandle_UnreadableRowsDoNotBlockSeeding(t *testing.T) {
	repo := testfixtures.NewMemoryRepository()
	repo.BadRows = 1
	emitter := &testfixtures.CaptureEmitter{}
	r := New(repo, activeSessions(), emitter)
	item := testItem()

	if err := r.Handle(context.Background(), item); err != nil {
		t.Fatalf("Handle() = %v, want nil", err)
	}
	if repo.Get(subject, item.ExpiresAt) == nil {
		t.Error("record was not created")
	}
}
