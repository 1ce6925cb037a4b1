// Package sync drains the sync queue against the remote store and reconciles
// the outcome back into the local record store.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/remote"
	"github.com/nabhalearn/edusync/internal/sync/queue"
)

// SyncStatus represents the current engine state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Resolver gives the engine access to the local records queue items refer to.
type Resolver interface {
	// Lookup returns the current local record.
	Lookup(ctx context.Context, kind models.Kind, id string) (models.Syncable, bool, error)

	// MarkSynced sets synced=true when the record's current version equals
	// version, and reports whether it did (or already was).
	MarkSynced(ctx context.Context, kind models.Kind, id string, version int) (bool, error)

	// Unsynced lists every record of kind with synced=false.
	Unsynced(ctx context.Context, kind models.Kind) ([]models.Syncable, error)
}

// OnlineChecker is the connectivity signal the engine consults.
type OnlineChecker interface {
	Online() bool
}

// Options configures an Engine.
type Options struct {
	// SettledRetention is how long retained settled items are kept before a
	// drain sweeps them.
	SettledRetention time.Duration

	Clock   func() time.Time
	Logger  *logging.Logger
	Handler SyncEventHandler
}

// DrainResult accounts for one drain cycle.
type DrainResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Attempted counts items transmitted to the remote.
	Attempted int
	Synced    int
	Failed    int
	// PermanentlyFailed counts failures that exhausted the item's budget or
	// were rejected; they are included in Failed.
	PermanentlyFailed int
	// Skipped counts items settled without transmission because the record
	// was already synced at or past the item's version.
	Skipped int
	// Stale counts transmissions whose snapshot was superseded locally.
	Stale int
	// Deferred counts items still inside their backoff window.
	Deferred int
	// Superseded counts older items for a record dropped because a later
	// item for it was confirmed.
	Superseded int
	Swept      int
	Error      string
}

// BatchResult reports a batch reconciliation.
type BatchResult struct {
	Success int
	Failed  int
}

// Status is a snapshot of the engine for display.
type Status struct {
	State      SyncStatus
	Online     bool
	InProgress bool
	Pending    int
	Failed     int
	LastSync   *time.Time
	LastError  string
	LastResult *DrainResult
}

// Engine reconciles the sync queue with a remote store. At most one drain
// or batch runs at a time.
type Engine struct {
	queue    *queue.Queue
	remote   remote.Store
	online   OnlineChecker
	resolver Resolver
	opts     Options
	log      *logging.Logger

	running atomic.Bool

	mu         gosync.RWMutex
	status     SyncStatus
	pending    int
	failed     int
	lastSync   *time.Time
	lastErr    error
	lastResult *DrainResult
	handler    SyncEventHandler
	errHistory []SyncErrorEntry
}

// NewEngine creates an Engine.
func NewEngine(q *queue.Queue, store remote.Store, online OnlineChecker, resolver Resolver, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SettledRetention <= 0 {
		opts.SettledRetention = 7 * 24 * time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = logging.Get()
	}
	return &Engine{
		queue:    q,
		remote:   store,
		online:   online,
		resolver: resolver,
		opts:     opts,
		log:      log.Named("sync"),
		status:   SyncStatusIdle,
		handler:  opts.Handler,
	}
}

// InProgress reports whether a drain or batch is running.
func (e *Engine) InProgress() bool {
	return e.running.Load()
}

// LastSync returns the end time of the last drain that completed without error.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the error of the last drain, if any.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// PendingCount returns the current backlog.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.PendingCount(ctx)
}

// Status returns the last computed status. Use RefreshStatus to recompute
// the counts.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		State:      e.status,
		Online:     e.online.Online(),
		InProgress: e.running.Load(),
		Pending:    e.pending,
		Failed:     e.failed,
		LastSync:   e.lastSync,
		LastResult: e.lastResult,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// RefreshStatus recomputes the backlog counts and returns the status.
func (e *Engine) RefreshStatus(ctx context.Context) (Status, error) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return e.Status(), err
	}
	e.mu.Lock()
	e.pending = stats.Pending
	e.failed = stats.Failed
	e.mu.Unlock()
	return e.Status(), nil
}

// =====================================================
// Drain
// =====================================================

// Drain attempts every pending item once, most urgent first. Offline drains
// are refused without touching the queue; a drain requested while another
// is running returns SYNC_IN_PROGRESS without work. Items inside their
// backoff window are deferred unless force is set.
func (e *Engine) Drain(ctx context.Context, force bool) (*DrainResult, error) {
	if !e.online.Online() {
		return nil, errors.New(errors.ErrSyncOffline, "drain refused while offline")
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrSyncInProgress, "drain already in progress")
	}
	defer e.running.Store(false)

	e.setState(SyncStatusSyncing)
	result := &DrainResult{StartTime: e.opts.Clock()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted})

	err := e.drain(ctx, force, result)

	result.EndTime = e.opts.Clock()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Error = err.Error()
	}
	e.finish(ctx, result, err)

	if err != nil {
		e.log.ErrorWithCode("Drain failed", string(errors.ErrSyncFailed), err, resultContext(result))
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Error: err, Result: result})
		return result, err
	}
	if result.Attempted+result.Skipped > 0 {
		e.log.Info("Drain completed", resultContext(result))
	}
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: result})
	return result, nil
}

func (e *Engine) drain(ctx context.Context, force bool, result *DrainResult) error {
	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "list pending items", err)
	}

	now := e.opts.Clock()
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrSyncFailed, "drain cancelled", err)
		}
		if !force && !item.Due(now) {
			result.Deferred++
			continue
		}
		// A confirmed later item may have dropped this one mid-drain.
		_, live, err := e.queue.Get(ctx, item.ID)
		if err != nil {
			return errors.Wrap(errors.ErrSyncFailed, "reload item "+item.ID, err)
		}
		if !live {
			continue
		}
		if err := e.processItem(ctx, item, result); err != nil {
			return err
		}
	}

	swept, err := e.queue.SweepSettled(ctx, e.opts.SettledRetention)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "sweep settled items", err)
	}
	result.Swept = swept
	return nil
}

// processItem runs one item through transmission and reconciliation. It
// returns an error only for local store failures or cancellation, which end
// the drain; remote failures are accounted on the item.
func (e *Engine) processItem(ctx context.Context, item *models.SyncQueueItem, result *DrainResult) error {
	payload, err := item.Payload()
	if err != nil {
		// An undecodable item can never succeed.
		result.Failed++
		result.PermanentlyFailed++
		e.recordError(item.ID, "decode", err)
		_, rerr := e.queue.RecordFailure(ctx, item.ID, err, true)
		return rerr
	}

	if item.Action != models.ActionDelete {
		local, ok, err := e.resolver.Lookup(ctx, item.Type, item.RecordID)
		if err != nil {
			return errors.Wrap(errors.ErrSyncFailed, "look up "+item.RecordRef(), err)
		}
		if ok && local.SyncMeta().Synced && local.SyncMeta().Version >= item.Version {
			result.Skipped++
			return e.settle(ctx, item, result)
		}
	}

	result.Attempted++
	if err := e.transmit(ctx, item, payload); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrSyncFailed, "drain cancelled", ctx.Err())
		}
		return e.itemFailed(ctx, item, err, result)
	}

	if item.Action != models.ActionDelete {
		if err := e.reconcile(ctx, item, result); err != nil {
			return err
		}
	}
	if err := e.settle(ctx, item, result); err != nil {
		return err
	}
	result.Synced++
	e.emitEvent(SyncEvent{Type: SyncEventItemSynced, ItemID: item.ID, Kind: item.Type, RecordID: item.RecordID})
	return nil
}

func (e *Engine) settle(ctx context.Context, item *models.SyncQueueItem, result *DrainResult) error {
	dropped, err := e.queue.Settle(ctx, item.ID)
	result.Superseded += dropped
	return err
}

// transmit sends the item's snapshot. Every payload variant is listed.
func (e *Engine) transmit(ctx context.Context, item *models.SyncQueueItem, payload models.Payload) error {
	collection := item.Type.RemoteCollection()
	switch p := payload.(type) {
	case *models.Tombstone:
		return e.remote.Delete(ctx, collection, p.ID)
	case *models.Student, *models.Class, *models.Attendance, *models.Score,
		*models.Assignment, *models.Submission, *models.LessonAttendance, *models.Progress:
		return e.remote.Upsert(ctx, collection, item.RecordID, item.Data)
	default:
		return remote.Rejected("upsert", collection, item.RecordID, 0,
			fmt.Errorf("unhandled payload %T", payload))
	}
}

// reconcile marks the record synced when the transmitted snapshot is still
// current. A superseded snapshot leaves the record unsynced and, unless a
// newer item already covers it, queues a fresh update.
func (e *Engine) reconcile(ctx context.Context, item *models.SyncQueueItem, result *DrainResult) error {
	marked, err := e.resolver.MarkSynced(ctx, item.Type, item.RecordID, item.Version)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "mark "+item.RecordRef()+" synced", err)
	}
	if marked {
		return nil
	}

	local, ok, err := e.resolver.Lookup(ctx, item.Type, item.RecordID)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "look up "+item.RecordRef(), err)
	}
	if !ok {
		// Deleted locally; the delete is queued behind this item.
		return nil
	}
	result.Stale++

	covered, err := e.queue.HasNewer(ctx, item.Type, item.RecordID, item.Version)
	if err != nil {
		return err
	}
	e.log.Warn("Transmitted snapshot superseded locally", map[string]interface{}{
		"record":       item.RecordRef(),
		"sent_version": item.Version,
		"local":        local.SyncMeta().Version,
		"requeued":     !covered,
	})
	if covered {
		return nil
	}
	_, err = e.queue.Enqueue(ctx, local, models.ActionUpdate)
	return err
}

func (e *Engine) itemFailed(ctx context.Context, item *models.SyncQueueItem, cause error, result *DrainResult) error {
	result.Failed++
	e.recordError(item.ID, string(item.Action), cause)

	updated, err := e.queue.RecordFailure(ctx, item.ID, cause, remote.IsRejected(cause))
	if err != nil {
		return err
	}
	if updated.Status == models.QueueFailed {
		result.PermanentlyFailed++
	}
	e.emitEvent(SyncEvent{Type: SyncEventItemFailed, ItemID: item.ID, Kind: item.Type, RecordID: item.RecordID, Error: cause})
	return nil
}

func (e *Engine) setState(s SyncStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) finish(ctx context.Context, result *DrainResult, err error) {
	stats, statsErr := e.queue.Stats(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastResult = result
	e.lastErr = err
	if err != nil {
		e.status = SyncStatusFailed
	} else {
		e.status = SyncStatusIdle
		end := result.EndTime
		e.lastSync = &end
	}
	if statsErr == nil {
		e.pending = stats.Pending
		e.failed = stats.Failed
	}
}

// =====================================================
// Batch reconciliation
// =====================================================

// SyncAttendanceBatch transmits every unsynced class attendance record.
func (e *Engine) SyncAttendanceBatch(ctx context.Context) (*BatchResult, error) {
	return e.SyncBatch(ctx, models.KindAttendance)
}

// SyncScoreBatch transmits every unsynced score record.
func (e *Engine) SyncScoreBatch(ctx context.Context) (*BatchResult, error) {
	return e.SyncBatch(ctx, models.KindScore)
}

// SyncBatch transmits every unsynced record of kind outside the per-item
// queue bookkeeping. A confirmed record is marked synced and the queue items
// carrying that snapshot or an older one are removed, so a later drain does
// not send it again. Batches share the drain's in-progress guard.
func (e *Engine) SyncBatch(ctx context.Context, kind models.Kind) (*BatchResult, error) {
	if err := e.beginBatch(); err != nil {
		return nil, err
	}
	defer e.running.Store(false)

	result, err := e.syncKind(ctx, kind)
	if err != nil {
		return result, err
	}
	e.refreshAfterBatch(ctx)
	return result, nil
}

// SyncAll runs the batch reconciliation for every kind in turn under one
// in-progress guard and reports per kind. It stops at the first local store
// failure; kinds already reconciled keep their results.
func (e *Engine) SyncAll(ctx context.Context) (map[models.Kind]*BatchResult, error) {
	if err := e.beginBatch(); err != nil {
		return nil, err
	}
	defer e.running.Store(false)

	results := make(map[models.Kind]*BatchResult, len(models.Kinds))
	for _, kind := range models.Kinds {
		result, err := e.syncKind(ctx, kind)
		if result != nil {
			results[kind] = result
		}
		if err != nil {
			e.refreshAfterBatch(ctx)
			return results, err
		}
	}
	e.refreshAfterBatch(ctx)
	return results, nil
}

func (e *Engine) beginBatch() error {
	if !e.online.Online() {
		return errors.New(errors.ErrSyncOffline, "batch sync refused while offline")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	return nil
}

func (e *Engine) refreshAfterBatch(ctx context.Context) {
	if _, err := e.RefreshStatus(ctx); err != nil {
		e.log.Warn("Status refresh failed", map[string]interface{}{"error": err.Error()})
	}
}

func (e *Engine) syncKind(ctx context.Context, kind models.Kind) (*BatchResult, error) {
	records, err := e.resolver.Unsynced(ctx, kind)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "list unsynced "+string(kind), err)
	}

	result := &BatchResult{}
	collection := kind.RemoteCollection()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(errors.ErrSyncFailed, "batch cancelled", err)
		}

		version := rec.SyncMeta().Version
		body, err := models.EncodePayload(rec)
		if err != nil {
			result.Failed++
			e.recordError(rec.RecordKey(), "encode", err)
			continue
		}
		if err := e.remote.Upsert(ctx, collection, rec.RecordKey(), body); err != nil {
			result.Failed++
			e.recordError(rec.RecordKey(), "batch upsert", err)
			continue
		}

		if _, err := e.resolver.MarkSynced(ctx, kind, rec.RecordKey(), version); err != nil {
			return result, errors.Wrap(errors.ErrSyncFailed, "mark "+string(kind)+" synced", err)
		}
		if _, err := e.queue.RemoveForRecord(ctx, kind, rec.RecordKey(), version); err != nil {
			return result, err
		}
		result.Success++
	}

	e.log.Info("Batch sync completed", map[string]interface{}{
		"kind":    kind,
		"success": result.Success,
		"failed":  result.Failed,
	})
	return result, nil
}

func resultContext(r *DrainResult) map[string]interface{} {
	return map[string]interface{}{
		"attempted":          r.Attempted,
		"synced":             r.Synced,
		"failed":             r.Failed,
		"permanently_failed": r.PermanentlyFailed,
		"skipped":            r.Skipped,
		"stale":              r.Stale,
		"deferred":           r.Deferred,
		"superseded":         r.Superseded,
		"duration_ms":        r.Duration.Milliseconds(),
	}
}
