// Package testfixtures provides in-memory collaborators for unit tests:
// a record store, a delivery queue, and a capturing telemetry emitter.
package testfixtures

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/notification/domain"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
)

// FixedNow is the reference instant used across fixtures.
var FixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordKey struct {
	subjectID string
	expiredAt int64
}

// MemoryRepository is an in-memory repository.Repository with error
// injection knobs. Zero value is not usable; call NewMemoryRepository.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[recordKey]*domain.Record

	// RetentionOffsetSeconds mirrors the TTL arithmetic of the real store.
	RetentionOffsetSeconds int64
	FallbackOffsetSeconds  int64
	Now                    func() time.Time

	// Error injection: when non-nil the matching operation fails once per
	// queued error.
	CreateErrs []error
	DeleteErrs []error
	UpdateErrs []error
	QueryErr   error

	// BadRows are appended to every FindBySubject/FindByExpiryWindow page as
	// rejected elements, simulating malformed store documents.
	BadRows int
	// PageSize splits query results into pages of this size; 0 means one page.
	PageSize int

	DeleteCalls int
	UpdateCalls int
}

// NewMemoryRepository returns an empty store with a 30-day retention offset.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:                map[recordKey]*domain.Record{},
		RetentionOffsetSeconds: 2592000,
		FallbackOffsetSeconds:  2592000,
		Now:                    func() time.Time { return FixedNow },
	}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *MemoryRepository) Create(ctx context.Context, subjectID string, expiredAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := popErr(&m.CreateErrs); err != nil {
		return err
	}
	ttl, err := domain.ComputeTTL(expiredAt, m.Now(), m.RetentionOffsetSeconds)
	if err != nil {
		return failure.Permanent("store.create", err)
	}
	m.records[recordKey{subjectID, expiredAt}] = &domain.Record{
		SubjectID:          subjectID,
		ExpiredAt:          expiredAt,
		NotificationEvents: map[domain.EventKind]bool{},
		TTLSeconds:         ttl,
		LastModified:       m.Now(),
	}
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, subjectID string, expiredAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if err := popErr(&m.DeleteErrs); err != nil {
		return err
	}
	key := recordKey{subjectID, expiredAt}
	if _, ok := m.records[key]; !ok {
		return failure.Transientf("store.delete", "no record for subject=%s expiredAt=%d", subjectID, expiredAt)
	}
	delete(m.records, key)
	return nil
}

func (m *MemoryRepository) UpdateExpiredFlag(ctx context.Context, subjectID string, expiredAt int64, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if err := popErr(&m.UpdateErrs); err != nil {
		return err
	}
	rec, ok := m.records[recordKey{subjectID, expiredAt}]
	if !ok {
		return failure.Transientf("store.updateFlag", "no record for subject=%s expiredAt=%d", subjectID, expiredAt)
	}
	ttl, err := domain.ComputeTTL(expiredAt, m.Now(), m.RetentionOffsetSeconds)
	if err != nil {
		ttl = m.FallbackOffsetSeconds
	}
	if rec.NotificationEvents == nil {
		rec.NotificationEvents = map[domain.EventKind]bool{}
	}
	rec.NotificationEvents[domain.EventExpiredSession] = value
	rec.TTLSeconds = ttl
	rec.LastModified = m.Now()
	return nil
}

func (m *MemoryRepository) FindBySubject(ctx context.Context, subjectID string) repository.Pager {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page []repository.RecordResult
	for _, rec := range m.sortedRecords() {
		if rec.SubjectID == subjectID {
			clone := *rec
			page = append(page, repository.RecordResult{Record: &clone})
		}
	}
	return m.newPager(page)
}

func (m *MemoryRepository) FindByExpiryWindow(ctx context.Context, interval domain.Interval) repository.Pager {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to := interval.From.UnixMilli(), interval.To.UnixMilli()
	var page []repository.RecordResult
	for _, rec := range m.sortedRecords() {
		if rec.ExpiredAt >= from && rec.ExpiredAt < to && !rec.Flag(domain.EventExpiredSession) {
			clone := *rec
			page = append(page, repository.RecordResult{Record: &clone})
		}
	}
	return m.newPager(page)
}

func (m *MemoryRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for key, rec := range m.records {
		if time.UnixMilli(rec.ExpiredAt).Add(time.Duration(rec.TTLSeconds) * time.Second).Before(now) {
			delete(m.records, key)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryRepository) newPager(page []repository.RecordResult) repository.Pager {
	for i := 0; i < m.BadRows; i++ {
		page = append(page, repository.RecordResult{Err: failure.Permanent("store.decode", errors.New("malformed document"))})
	}
	return &slicePager{elems: page, pageSize: m.PageSize, err: m.QueryErr}
}

func (m *MemoryRepository) sortedRecords() []*domain.Record {
	out := make([]*domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].ExpiredAt < out[j].ExpiredAt
	})
	return out
}

// Records returns a snapshot of all live records for assertions.
func (m *MemoryRepository) Records() []*domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Record, 0, len(m.records))
	for _, rec := range m.sortedRecords() {
		clone := *rec
		out = append(out, &clone)
	}
	return out
}

// Get returns the record for the key, or nil.
func (m *MemoryRepository) Get(subjectID string, expiredAt int64) *domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{subjectID, expiredAt}]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

// slicePager serves fixed results, split into pages, or an injected error.
type slicePager struct {
	elems    []repository.RecordResult
	pageSize int
	err      error
}

func (p *slicePager) Next(ctx context.Context) ([]repository.RecordResult, bool, error) {
	if p.err != nil {
		return nil, false, p.err
	}
	if len(p.elems) == 0 {
		return nil, false, nil
	}
	n := p.pageSize
	if n <= 0 || n > len(p.elems) {
		n = len(p.elems)
	}
	page := p.elems[:n]
	p.elems = p.elems[n:]
	return page, true, nil
}

// CaptureEmitter records emitted telemetry events.
type CaptureEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (c *CaptureEmitter) Emit(ctx context.Context, event telemetry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// Events returns a snapshot of captured events.
func (c *CaptureEmitter) Events() []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Event(nil), c.events...)
}

// Named returns the captured events with the given name.
func (c *CaptureEmitter) Named(name string) []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor polls until at least n events named name were captured or the
// timeout elapses. Needed because emission is asynchronous.
func (c *CaptureEmitter) WaitFor(name string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.Named(name)) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return len(c.Named(name)) >= n
}

// SentItem is one FakeQueue delivery.
type SentItem struct {
	Item  queue.Item
	Delay time.Duration
}

// FakeQueue records sends and can fail on demand.
type FakeQueue struct {
	mu       sync.Mutex
	sent     []SentItem
	SendErrs []error
}

func (q *FakeQueue) Send(ctx context.Context, item queue.Item, visibilityDelay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := popErr(&q.SendErrs); err != nil {
		return err
	}
	q.sent = append(q.sent, SentItem{Item: item, Delay: visibilityDelay})
	return nil
}

func (q *FakeQueue) Receive(ctx context.Context) (queue.Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sent) == 0 {
		return queue.Item{}, false, nil
	}
	item := q.sent[0].Item
	q.sent = q.sent[1:]
	return item, true, nil
}

// Sent returns a snapshot of deliveries.
func (q *FakeQueue) Sent() []SentItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]SentItem(nil), q.sent...)
}
