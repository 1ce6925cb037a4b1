// Package queue provides unit tests for the durable sync queue.
package queue

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/schema"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, opts Options) (*Queue, *schema.Catalog, *fakeClock) {
	t.Helper()
	ctx := context.Background()
	log := logging.New(io.Discard, logging.LevelError)

	cat, err := schema.Open(ctx, t.TempDir(), log)
	if err != nil {
		t.Fatalf("schema.Open() error = %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts.Clock = clock.Now
	opts.Logger = log
	q, err := New(ctx, cat.SyncQueue, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return q, cat, clock
}

func attendance(id string, version int) *models.Attendance {
	a := &models.Attendance{
		ID:        id,
		ClassID:   "c1",
		StudentID: "s1",
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:    models.StatusPresent,
	}
	a.Version = version
	return a
}

func student(id string, version int) *models.Student {
	s := &models.Student{ID: id, RollNumber: "1", Name: "Asha", ClassID: "c1"}
	s.Version = version
	return s
}

// =====================================================
// Enqueue Tests
// =====================================================

// TestEnqueue verifies a fresh item carries the kind defaults.
func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, Options{})

	item, err := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if item.ID == "" {
		t.Error("Expected item ID to be set")
	}
	if item.Type != models.KindAttendance {
		t.Errorf("Type = %s, want attendance", item.Type)
	}
	if item.RecordID != "att_1" || item.Version != 1 {
		t.Errorf("RecordID/Version = %s/%d, want att_1/1", item.RecordID, item.Version)
	}
	if item.Status != models.QueuePending {
		t.Errorf("Status = %s, want pending", item.Status)
	}
	if item.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", item.RetryCount)
	}
	if item.Priority != models.PriorityUrgent || item.MaxRetries != 5 {
		t.Errorf("Priority/MaxRetries = %d/%d, want %d/5", item.Priority, item.MaxRetries, models.PriorityUrgent)
	}
	if !item.CreatedAt.Equal(clock.now) {
		t.Errorf("CreatedAt = %v, want %v", item.CreatedAt, clock.now)
	}

	stored, ok, err := q.Get(ctx, item.ID)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want stored item", ok, err)
	}
	p, err := stored.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	if got, ok := p.(*models.Attendance); !ok || got.ID != "att_1" {
		t.Errorf("Payload() = %#v, want attendance att_1", p)
	}
}

// TestEnqueue_options verifies per-item overrides.
func TestEnqueue_options(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})

	item, err := q.Enqueue(context.Background(), student("stu_1", 1), models.ActionCreate,
		WithPriority(2), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.Priority != 2 || item.MaxRetries != 0 {
		t.Errorf("Priority/MaxRetries = %d/%d, want 2/0", item.Priority, item.MaxRetries)
	}
}

// TestEnqueue_delete verifies deletes carry a tombstone with version 0.
func TestEnqueue_delete(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	item, err := q.Enqueue(ctx, &models.Tombstone{Kind: models.KindStudent, ID: "stu_1"}, models.ActionDelete)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.Version != 0 || item.Action != models.ActionDelete {
		t.Errorf("Version/Action = %d/%s, want 0/delete", item.Version, item.Action)
	}
	p, err := item.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	if tomb, ok := p.(*models.Tombstone); !ok || tomb.ID != "stu_1" {
		t.Errorf("Payload() = %#v, want tombstone stu_1", p)
	}
}

// TestEnqueue_invalid verifies malformed requests are refused.
func TestEnqueue_invalid(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	tests := []struct {
		name   string
		p      models.Payload
		action models.Action
	}{
		{"nil payload", nil, models.ActionCreate},
		{"unknown action", attendance("a", 1), models.Action("upsert")},
		{"empty id", attendance("", 1), models.ActionCreate},
		{"delete with record body", attendance("a", 1), models.ActionDelete},
		{"update with tombstone", &models.Tombstone{Kind: models.KindScore, ID: "x"}, models.ActionUpdate},
		{"unknown kind", &models.Tombstone{Kind: "teacher", ID: "x"}, models.ActionDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.p, tt.action)
			if !errors.Is(err, errors.ErrInvalid) {
				t.Errorf("Enqueue() error = %v, want INVALID_INPUT", err)
			}
		})
	}

	n, err := q.PendingCount(ctx)
	if err != nil || n != 0 {
		t.Errorf("PendingCount() = %d, %v; want 0", n, err)
	}
}

// =====================================================
// Ordering Tests
// =====================================================

// TestListPending_order verifies priority, then createdAt, then sequence.
func TestListPending_order(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, Options{})

	mustEnqueue := func(p models.Payload) *models.SyncQueueItem {
		t.Helper()
		item, err := q.Enqueue(ctx, p, models.ActionCreate)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		return item
	}

	stu := mustEnqueue(student("stu_1", 1))
	clock.Advance(time.Second)
	att1 := mustEnqueue(attendance("att_1", 1))
	att2 := mustEnqueue(attendance("att_2", 1)) // same createdAt as att1
	clock.Advance(time.Second)
	att3 := mustEnqueue(attendance("att_3", 1))

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}

	want := []string{att1.ID, att2.ID, att3.ID, stu.ID}
	if len(pending) != len(want) {
		t.Fatalf("ListPending() returned %d items, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("pending[%d] = %s (%s), want %s", i, pending[i].ID, pending[i].RecordID, id)
		}
	}
}

// TestNew_resumesSequence verifies ordering survives reopening the queue.
func TestNew_resumesSequence(t *testing.T) {
	ctx := context.Background()
	q, cat, clock := newTestQueue(t, Options{})

	first, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)

	reopened, err := New(ctx, cat.SyncQueue, Options{Clock: clock.Now, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	second, err := reopened.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("Seq after reopen = %d, want > %d", second.Seq, first.Seq)
	}
}

// =====================================================
// Failure and Retry Tests
// =====================================================

// TestRecordFailure_budget verifies an item fails after maxRetries+1 attempts.
func TestRecordFailure_budget(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	item, _ := q.Enqueue(ctx, student("stu_1", 1), models.ActionCreate) // maxRetries 3
	cause := stderrors.New("connection refused")

	for attempt := 1; attempt <= item.MaxRetries; attempt++ {
		got, err := q.RecordFailure(ctx, item.ID, cause, false)
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if got.Status != models.QueuePending {
			t.Fatalf("after %d failures status = %s, want pending", attempt, got.Status)
		}
	}

	got, err := q.RecordFailure(ctx, item.ID, cause, false)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if got.Status != models.QueueFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != item.MaxRetries+1 {
		t.Errorf("RetryCount = %d, want %d", got.RetryCount, item.MaxRetries+1)
	}
	if got.Error != "connection refused" {
		t.Errorf("Error = %q, want 'connection refused'", got.Error)
	}

	pending, _ := q.ListPending(ctx)
	failed, _ := q.ListFailed(ctx)
	if len(pending) != 0 || len(failed) != 1 {
		t.Errorf("pending/failed = %d/%d, want 0/1", len(pending), len(failed))
	}
}

// TestRecordFailure_permanent verifies a rejected item fails at once.
func TestRecordFailure_permanent(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	item, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	got, err := q.RecordFailure(ctx, item.ID, stderrors.New("400 bad request"), true)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if got.Status != models.QueueFailed || got.RetryCount != 1 {
		t.Errorf("Status/RetryCount = %s/%d, want failed/1", got.Status, got.RetryCount)
	}
}

// TestRecordFailure_missing verifies a missing item reports NOT_FOUND.
func TestRecordFailure_missing(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})

	_, err := q.RecordFailure(context.Background(), "nope", nil, false)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("RecordFailure() error = %v, want NOT_FOUND", err)
	}
}

// TestRecordFailure_backoff verifies retries are spaced when backoff is on.
func TestRecordFailure_backoff(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, Options{BackoffBase: time.Minute, BackoffMax: 3 * time.Minute})

	item, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)

	wantDelays := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}
	for i, want := range wantDelays {
		got, err := q.RecordFailure(ctx, item.ID, stderrors.New("timeout"), false)
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if got.NextRetryAt == nil {
			t.Fatalf("failure %d: NextRetryAt not set", i+1)
		}
		if d := got.NextRetryAt.Sub(clock.now); d != want {
			t.Errorf("failure %d: delay = %v, want %v", i+1, d, want)
		}
		if got.Due(clock.now) {
			t.Errorf("failure %d: item due immediately", i+1)
		}
		if !got.Due(clock.now.Add(want)) {
			t.Errorf("failure %d: item not due after %v", i+1, want)
		}
	}
}

// TestCalculateBackoff tests exponential growth and the cap.
func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{60, time.Hour},
	}

	for _, tt := range tests {
		if got := calculateBackoff(time.Minute, time.Hour, tt.retryCount); got != tt.expected {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.expected)
		}
	}
}

// TestRetryFailed verifies manual retry resets failed items.
func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	item, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)
	q.RecordFailure(ctx, item.ID, stderrors.New("rejected"), true)

	n, err := q.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RetryFailed() = %d, want 1", n)
	}

	got, _, _ := q.Get(ctx, item.ID)
	if got.Status != models.QueuePending || got.RetryCount != 0 || got.Error != "" {
		t.Errorf("after retry: status=%s retry=%d error=%q", got.Status, got.RetryCount, got.Error)
	}
}

// =====================================================
// Settle and Sweep Tests
// =====================================================

// TestSettle_removes verifies settling deletes by default.
func TestSettle_removes(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	item, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	if _, err := q.Settle(ctx, item.ID); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if _, ok, _ := q.Get(ctx, item.ID); ok {
		t.Error("settled item still stored")
	}
	// Idempotent
	if _, err := q.Settle(ctx, item.ID); err != nil {
		t.Errorf("second Settle() error = %v", err)
	}
}

// TestSettle_retainAndSweep verifies retained items are swept after the window.
func TestSettle_retainAndSweep(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t, Options{RetainSettled: true})

	old, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	recent, _ := q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)

	q.Settle(ctx, old.ID)
	clock.Advance(6 * 24 * time.Hour)
	q.Settle(ctx, recent.ID)

	got, _, _ := q.Get(ctx, old.ID)
	if got.Status != models.QueueSettled || got.SyncedAt == nil {
		t.Fatalf("retained item status=%s syncedAt=%v", got.Status, got.SyncedAt)
	}
	if n, _ := q.PendingCount(ctx); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}

	clock.Advance(2 * 24 * time.Hour)
	removed, err := q.SweepSettled(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("SweepSettled() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepSettled() = %d, want 1", removed)
	}
	if _, ok, _ := q.Get(ctx, old.ID); ok {
		t.Error("old settled item survived the sweep")
	}
	if _, ok, _ := q.Get(ctx, recent.ID); !ok {
		t.Error("recent settled item was swept")
	}
}

// TestSettle_supersedesOlder verifies a confirmed item drops the unsettled
// items enqueued before it for the same record, and only those.
func TestSettle_supersedesOlder(t *testing.T) {
	for _, retain := range []bool{false, true} {
		ctx := context.Background()
		q, _, _ := newTestQueue(t, Options{RetainSettled: retain})

		v1, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
		v2, _ := q.Enqueue(ctx, attendance("att_1", 2), models.ActionUpdate)
		tomb, _ := q.Enqueue(ctx, &models.Tombstone{Kind: models.KindAttendance, ID: "att_1"}, models.ActionDelete)
		other, _ := q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)
		if _, err := q.RecordFailure(ctx, v1.ID, stderrors.New("timeout"), false); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}

		dropped, err := q.Settle(ctx, v2.ID)
		if err != nil {
			t.Fatalf("retain=%v: Settle(v2) error = %v", retain, err)
		}
		if dropped != 1 {
			t.Errorf("retain=%v: Settle(v2) dropped %d, want 1", retain, dropped)
		}
		if _, ok, _ := q.Get(ctx, v1.ID); ok {
			t.Errorf("retain=%v: failed v1 survived a confirmed v2", retain)
		}
		if _, ok, _ := q.Get(ctx, tomb.ID); !ok {
			t.Errorf("retain=%v: later tombstone was dropped", retain)
		}

		dropped, err = q.Settle(ctx, tomb.ID)
		if err != nil {
			t.Fatalf("retain=%v: Settle(tombstone) error = %v", retain, err)
		}
		if dropped != 0 {
			t.Errorf("retain=%v: Settle(tombstone) dropped %d, want 0", retain, dropped)
		}
		unsettled, _ := q.ForRecord(ctx, models.KindAttendance, "att_1")
		if len(unsettled) != 0 {
			t.Errorf("retain=%v: unsettled for att_1 = %v, want none", retain, ids(unsettled))
		}
		if _, ok, _ := q.Get(ctx, other.ID); !ok {
			t.Errorf("retain=%v: other record's item was dropped", retain)
		}
	}
}

// =====================================================
// Per-Record Tests
// =====================================================

// TestRemoveForRecord verifies only covered snapshots are removed.
func TestRemoveForRecord(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	q.Enqueue(ctx, attendance("att_1", 2), models.ActionUpdate)
	newer, _ := q.Enqueue(ctx, attendance("att_1", 3), models.ActionUpdate)
	other, _ := q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)

	removed, err := q.RemoveForRecord(ctx, models.KindAttendance, "att_1", 2)
	if err != nil {
		t.Fatalf("RemoveForRecord() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("RemoveForRecord() = %d, want 2", removed)
	}

	pending, _ := q.ListPending(ctx)
	if len(pending) != 2 || pending[0].ID != newer.ID || pending[1].ID != other.ID {
		t.Errorf("remaining = %v, want [%s %s]", ids(pending), newer.ID, other.ID)
	}
}

// TestHasNewer verifies newer versions and deletes are detected.
func TestHasNewer(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	q.Enqueue(ctx, student("stu_1", 2), models.ActionUpdate)

	if ok, _ := q.HasNewer(ctx, models.KindStudent, "stu_1", 2); ok {
		t.Error("HasNewer(v2) = true, want false")
	}
	if ok, _ := q.HasNewer(ctx, models.KindStudent, "stu_1", 1); !ok {
		t.Error("HasNewer(v1) = false, want true")
	}

	q.Enqueue(ctx, &models.Tombstone{Kind: models.KindStudent, ID: "stu_1"}, models.ActionDelete)
	if ok, _ := q.HasNewer(ctx, models.KindStudent, "stu_1", 5); !ok {
		t.Error("HasNewer() with pending delete = false, want true")
	}
}

// =====================================================
// Maintenance Tests
// =====================================================

// TestRemoveAndClear verifies idempotent removal and clearing.
func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{})

	a, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)

	if err := q.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := q.Remove(ctx, a.ID); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
	if n, _ := q.PendingCount(ctx); n != 1 {
		t.Errorf("PendingCount() = %d, want 1", n)
	}

	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	all, _ := q.List(ctx)
	if len(all) != 0 {
		t.Errorf("List() after Clear = %d items, want 0", len(all))
	}
}

// TestStats verifies counts by status and kind.
func TestStats(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, Options{RetainSettled: true})

	a, _ := q.Enqueue(ctx, attendance("att_1", 1), models.ActionCreate)
	b, _ := q.Enqueue(ctx, attendance("att_2", 1), models.ActionCreate)
	q.Enqueue(ctx, student("stu_1", 1), models.ActionCreate)
	q.RecordFailure(ctx, a.ID, nil, true)
	q.Settle(ctx, b.ID)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Settled != 1 {
		t.Errorf("Stats() = %s", stats)
	}
	if stats.ByType[models.KindAttendance] != 1 || stats.ByType[models.KindStudent] != 1 {
		t.Errorf("ByType = %v", stats.ByType)
	}
}

func ids(items []*models.SyncQueueItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
