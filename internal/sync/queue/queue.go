// Package queue provides the durable sync queue: one item per local mutation
// that must reach the remote store, persisted in the teacher namespace so the
// backlog survives restarts.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nabhalearn/edusync/internal/db"
	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/uuid"
)

// Options configures retry spacing and settled-item retention.
type Options struct {
	// BackoffBase is the delay after the first failure; each further failure
	// doubles it. Zero disables backoff: a failed item is due on the next drain.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RetainSettled keeps settled items, stamped with SyncedAt, until
	// SweepSettled removes them. Otherwise Settle deletes at once.
	RetainSettled bool

	Clock  func() time.Time
	Logger *logging.Logger
}

// EnqueueOption overrides the per-kind defaults of one item.
type EnqueueOption func(*models.SyncQueueItem)

// WithPriority overrides the kind's default priority.
func WithPriority(priority int) EnqueueOption {
	return func(item *models.SyncQueueItem) { item.Priority = priority }
}

// WithMaxRetries overrides the kind's default retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(item *models.SyncQueueItem) { item.MaxRetries = n }
}

// Queue is the durable sync queue.
type Queue struct {
	items *db.Collection[*models.SyncQueueItem]
	opts  Options
	log   *logging.Logger
	seq   atomic.Int64
}

// New opens a queue over items. The enqueue sequence resumes after the
// highest stored one so ties on createdAt still break by insertion order.
func New(ctx context.Context, items *db.Collection[*models.SyncQueueItem], opts Options) (*Queue, error) {
	if items == nil {
		return nil, errors.NotReady("sync queue")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = logging.Get()
	}

	q := &Queue{items: items, opts: opts, log: log.Named("queue")}

	all, err := items.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var maxSeq int64
	for _, item := range all {
		if item.Seq > maxSeq {
			maxSeq = item.Seq
		}
	}
	q.seq.Store(maxSeq)
	return q, nil
}

// Store returns the store the queue persists into, for callers that enqueue
// inside their own transaction.
func (q *Queue) Store() *db.Store {
	return q.items.Store()
}

// =====================================================
// Enqueue
// =====================================================

// Enqueue records intent to propagate action on p.
func (q *Queue) Enqueue(ctx context.Context, p models.Payload, action models.Action, opts ...EnqueueOption) (*models.SyncQueueItem, error) {
	var item *models.SyncQueueItem
	err := q.Store().WithTx(ctx, func(tx *db.Tx) error {
		var err error
		item, err = q.EnqueueTx(ctx, tx, p, action, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueTx is Enqueue inside tx, so the record write and its queue item
// commit together.
func (q *Queue) EnqueueTx(ctx context.Context, tx *db.Tx, p models.Payload, action models.Action, opts ...EnqueueOption) (*models.SyncQueueItem, error) {
	item, err := q.newItem(p, action, opts)
	if err != nil {
		return nil, err
	}
	if err := q.items.PutTx(ctx, tx, item); err != nil {
		return nil, err
	}

	q.log.Debug("Enqueued sync item", map[string]interface{}{
		"item_id":  item.ID,
		"type":     item.Type,
		"action":   item.Action,
		"record":   item.RecordID,
		"version":  item.Version,
		"priority": item.Priority,
	})
	return item, nil
}

func (q *Queue) newItem(p models.Payload, action models.Action, opts []EnqueueOption) (*models.SyncQueueItem, error) {
	if p == nil {
		return nil, errors.New(errors.ErrInvalid, "enqueue: nil payload")
	}
	if !action.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "enqueue: unknown action %q", action)
	}
	kind := p.PayloadKind()
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "enqueue: unknown kind %q", kind)
	}
	if p.RecordKey() == "" {
		return nil, errors.Newf(errors.ErrInvalid, "enqueue %s: empty record id", kind)
	}
	if _, tomb := p.(*models.Tombstone); tomb != (action == models.ActionDelete) {
		return nil, errors.Newf(errors.ErrInvalid, "enqueue %s: action %s does not match payload", kind, action)
	}

	data, err := models.EncodePayload(p)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "enqueue "+string(kind), err)
	}

	version := 0
	if s, ok := p.(models.Syncable); ok {
		version = s.SyncMeta().Version
	}

	policy := models.DefaultPolicy(kind)
	item := &models.SyncQueueItem{
		ID:         uuid.Prefixed(string(kind)),
		Type:       kind,
		Action:     action,
		RecordID:   p.RecordKey(),
		Version:    version,
		Data:       data,
		Priority:   policy.Priority,
		MaxRetries: policy.MaxRetries,
		Status:     models.QueuePending,
		Seq:        q.seq.Add(1),
		CreatedAt:  q.opts.Clock().UTC(),
	}
	for _, opt := range opts {
		opt(item)
	}
	if item.MaxRetries < 0 {
		item.MaxRetries = 0
	}
	return item, nil
}

// =====================================================
// Reads
// =====================================================

// Get returns the item with id; ok is false when absent.
func (q *Queue) Get(ctx context.Context, id string) (*models.SyncQueueItem, bool, error) {
	return q.items.Get(ctx, id)
}

// ListPending returns every pending item in drain order: priority ascending
// (lower is more urgent), then createdAt, then enqueue sequence.
func (q *Queue) ListPending(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.listStatus(ctx, models.QueuePending)
}

// ListFailed returns permanently failed items in drain order.
func (q *Queue) ListFailed(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.listStatus(ctx, models.QueueFailed)
}

// List returns every item regardless of status in drain order.
func (q *Queue) List(ctx context.Context) ([]*models.SyncQueueItem, error) {
	items, err := q.items.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

// ForRecord returns the unsettled items that carry the record kind:id.
func (q *Queue) ForRecord(ctx context.Context, kind models.Kind, id string) ([]*models.SyncQueueItem, error) {
	items, err := q.items.GetAllByIndex(ctx, "by-record", models.RecordRef(kind, id))
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, item := range items {
		if item.Status != models.QueueSettled {
			out = append(out, item)
		}
	}
	sortItems(out)
	return out, nil
}

// HasNewer reports whether an unsettled item for kind:id carries a version
// above version or deletes the record.
func (q *Queue) HasNewer(ctx context.Context, kind models.Kind, id string, version int) (bool, error) {
	items, err := q.ForRecord(ctx, kind, id)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.Version > version || item.Action == models.ActionDelete {
			return true, nil
		}
	}
	return false, nil
}

// PendingCount returns the backlog size.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.items.CountByIndex(ctx, "by-status", models.QueuePending)
}

func (q *Queue) listStatus(ctx context.Context, status models.QueueStatus) ([]*models.SyncQueueItem, error) {
	items, err := q.items.GetAllByIndex(ctx, "by-status", status)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

func sortItems(items []*models.SyncQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

// =====================================================
// Outcomes
// =====================================================

// RecordFailure counts one failed attempt of id. The item becomes failed
// once retryCount exceeds maxRetries or when permanent is set; otherwise it
// stays pending, due after the backoff delay when backoff is enabled.
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error, permanent bool) (*models.SyncQueueItem, error) {
	var updated *models.SyncQueueItem
	found, err := q.items.Modify(ctx, id, func(item *models.SyncQueueItem) (*models.SyncQueueItem, bool) {
		item.RetryCount++
		if cause != nil {
			item.Error = cause.Error()
		}
		item.NextRetryAt = nil
		if permanent || item.Exhausted() {
			item.Status = models.QueueFailed
		} else if q.opts.BackoffBase > 0 {
			next := q.opts.Clock().UTC().Add(calculateBackoff(q.opts.BackoffBase, q.opts.BackoffMax, item.RetryCount))
			item.NextRetryAt = &next
		}
		updated = item
		return item, true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound("sync queue item", id)
	}

	if updated.Status == models.QueueFailed {
		q.log.Warn("Sync item failed permanently", map[string]interface{}{
			"item_id":     updated.ID,
			"type":        updated.Type,
			"record":      updated.RecordID,
			"retry_count": updated.RetryCount,
			"error":       updated.Error,
		})
	}
	return updated, nil
}

// Settle finishes id after a confirmed transmission and drops the unsettled
// items for the same record enqueued before it, since the remote now holds
// this item's snapshot or has deleted the record. It returns how many older
// items were dropped. Settling a missing item is a no-op.
func (q *Queue) Settle(ctx context.Context, id string) (int, error) {
	settled, ok, err := q.items.Get(ctx, id)
	if err != nil || !ok {
		return 0, err
	}

	if !q.opts.RetainSettled {
		if err := q.Remove(ctx, id); err != nil {
			return 0, err
		}
	} else {
		now := q.opts.Clock().UTC()
		_, err := q.items.Modify(ctx, id, func(item *models.SyncQueueItem) (*models.SyncQueueItem, bool) {
			item.Status = models.QueueSettled
			item.SyncedAt = &now
			item.NextRetryAt = nil
			item.Error = ""
			return item, true
		})
		if err != nil {
			return 0, err
		}
	}
	return q.supersede(ctx, settled)
}

// supersede removes the unsettled items for settled's record that were
// enqueued before it, whatever their action or status.
func (q *Queue) supersede(ctx context.Context, settled *models.SyncQueueItem) (int, error) {
	items, err := q.ForRecord(ctx, settled.Type, settled.RecordID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if item.ID == settled.ID || item.Seq >= settled.Seq {
			continue
		}
		if err := q.items.Delete(ctx, item.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		q.log.Debug("Dropped superseded sync items", map[string]interface{}{
			"record":  settled.RecordRef(),
			"action":  settled.Action,
			"removed": removed,
		})
	}
	return removed, nil
}

// SweepSettled removes settled items whose syncedAt is older than olderThan.
func (q *Queue) SweepSettled(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := q.items.GetAllByIndex(ctx, "by-status", models.QueueSettled)
	if err != nil {
		return 0, err
	}
	cutoff := q.opts.Clock().Add(-olderThan)
	removed := 0
	for _, item := range items {
		if item.SyncedAt != nil && item.SyncedAt.After(cutoff) {
			continue
		}
		if err := q.items.Delete(ctx, item.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		q.log.Info("Swept settled sync items", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// RetryFailed resets every failed item to pending with a fresh budget.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	failed, err := q.ListFailed(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range failed {
		_, err := q.items.Modify(ctx, f.ID, func(item *models.SyncQueueItem) (*models.SyncQueueItem, bool) {
			if item.Status != models.QueueFailed {
				return item, false
			}
			item.Status = models.QueuePending
			item.RetryCount = 0
			item.NextRetryAt = nil
			item.Error = ""
			count++
			return item, true
		})
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// RemoveForRecord removes unsettled non-delete items for kind:id whose
// snapshot version is at most upToVersion. Used when a record was
// transmitted outside the queue.
func (q *Queue) RemoveForRecord(ctx context.Context, kind models.Kind, id string, upToVersion int) (int, error) {
	items, err := q.ForRecord(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if item.Action == models.ActionDelete || item.Version > upToVersion {
			continue
		}
		if err := q.items.Delete(ctx, item.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Remove deletes id. Removing a missing item is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.items.Delete(ctx, id)
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.items.Clear(ctx); err != nil {
		return err
	}
	q.log.Info("Sync queue cleared")
	return nil
}

// =====================================================
// Statistics
// =====================================================

// Stats summarizes the queue.
type Stats struct {
	Total   int
	Pending int
	Failed  int
	Settled int
	ByType  map[models.Kind]int
}

// Stats returns counts by status and by kind.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	items, err := q.items.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(items), ByType: make(map[models.Kind]int)}
	for _, item := range items {
		switch item.Status {
		case models.QueuePending:
			stats.Pending++
		case models.QueueFailed:
			stats.Failed++
		case models.QueueSettled:
			stats.Settled++
		}
		if item.Status != models.QueueSettled {
			stats.ByType[item.Type]++
		}
	}
	return stats, nil
}

// String renders stats for CLI and log output.
func (s Stats) String() string {
	return fmt.Sprintf("total=%d pending=%d failed=%d settled=%d", s.Total, s.Pending, s.Failed, s.Settled)
}

// calculateBackoff returns base * 2^(retryCount-1), capped at max.
func calculateBackoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
