// Package services is the domain façade: typed CRUD per entity kind where
// every write lands in the record store and enqueues exactly one sync item.
package services

import (
	"context"
	"time"

	"github.com/nabhalearn/edusync/internal/db"
	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/schema"
	"github.com/nabhalearn/edusync/internal/sync/queue"
	"github.com/nabhalearn/edusync/internal/uuid"
)

// Options configures a service.
type Options struct {
	// TeacherID is stamped as markedBy / gradedBy on convenience writes.
	TeacherID string

	Clock     func() time.Time
	NewID     func(prefix string) string
	Validator *Validator
	Logger    *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.Prefixed
	}
	if o.Validator == nil {
		o.Validator = NewValidator()
	}
	if o.Logger == nil {
		o.Logger = logging.Get()
	}
	return o
}

// base holds what both services share.
type base struct {
	cat   *schema.Catalog
	queue *queue.Queue
	opts  Options
	log   *logging.Logger
}

func newBase(cat *schema.Catalog, q *queue.Queue, opts Options, name string) (base, error) {
	if cat == nil || q == nil {
		return base{}, errors.NotReady(name)
	}
	opts = opts.withDefaults()
	return base{cat: cat, queue: q, opts: opts, log: opts.Logger.Named(name)}, nil
}

func (b *base) ready() error {
	if b == nil || b.cat == nil || b.queue == nil {
		return errors.NotReady("services")
	}
	return nil
}

func (b *base) now() time.Time {
	return b.opts.Clock()
}

// ensureID assigns a fresh id when the caller left it empty.
func (b *base) ensureID(id *string, kind models.Kind) {
	if *id == "" {
		*id = b.opts.NewID(string(kind))
	}
}

// writeTx stamps v against its stored predecessor, stores it and enqueues
// its snapshot in one transaction. requireExisting turns a missing record
// into NOT_FOUND.
func writeTx[T models.Syncable](ctx context.Context, b *base, c *db.Collection[T], v T, requireExisting bool) (*models.SyncQueueItem, error) {
	var item *models.SyncQueueItem
	err := c.Store().WithTx(ctx, func(tx *db.Tx) error {
		prior, found, err := c.GetTx(ctx, tx, v.RecordKey())
		if err != nil {
			return err
		}
		if requireExisting && !found {
			return errors.NotFound(c.Name(), v.RecordKey())
		}

		action := models.ActionCreate
		var priorMeta *models.Meta
		if found {
			action = models.ActionUpdate
			priorMeta = prior.SyncMeta()
		}
		v.SyncMeta().Stamp(b.now(), priorMeta)

		if err := c.PutTx(ctx, tx, v); err != nil {
			return err
		}
		item, err = b.queue.EnqueueTx(ctx, tx, v, action)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// writeThenEnqueue is writeTx for records outside the queue's store. The
// write and the enqueue commit separately; a crash between them leaves the
// record saved but unqueued.
func writeThenEnqueue[T models.Syncable](ctx context.Context, b *base, c *db.Collection[T], v T) (*models.SyncQueueItem, error) {
	prior, found, err := c.Get(ctx, v.RecordKey())
	if err != nil {
		return nil, err
	}
	action := models.ActionCreate
	var priorMeta *models.Meta
	if found {
		action = models.ActionUpdate
		priorMeta = prior.SyncMeta()
	}
	v.SyncMeta().Stamp(b.now(), priorMeta)

	if err := c.Put(ctx, v); err != nil {
		return nil, err
	}
	item, err := b.queue.Enqueue(ctx, v, action)
	if err != nil {
		b.log.Error("Record saved but not queued", err, map[string]interface{}{
			"collection": c.Name(),
			"id":         v.RecordKey(),
		})
		return nil, err
	}
	return item, nil
}

// deleteTx removes a record and enqueues its tombstone in one transaction.
// Deleting an absent record is a no-op and enqueues nothing.
func deleteTx[T models.Syncable](ctx context.Context, b *base, c *db.Collection[T], kind models.Kind, id string) (*models.SyncQueueItem, error) {
	var item *models.SyncQueueItem
	err := c.Store().WithTx(ctx, func(tx *db.Tx) error {
		_, found, err := c.GetTx(ctx, tx, id)
		if err != nil || !found {
			return err
		}
		if err := c.DeleteTx(ctx, tx, id); err != nil {
			return err
		}
		item, err = b.queue.EnqueueTx(ctx, tx, &models.Tombstone{Kind: kind, ID: id}, models.ActionDelete)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// get wraps Collection.Get with the readiness check.
func get[T models.Record](ctx context.Context, b *base, c *db.Collection[T], id string) (T, bool, error) {
	if err := b.ready(); err != nil {
		var zero T
		return zero, false, err
	}
	return c.Get(ctx, id)
}

// byIndex wraps Collection.GetAllByIndex with the readiness check.
func byIndex[T models.Record](ctx context.Context, b *base, c *db.Collection[T], index string, value any) ([]T, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return c.GetAllByIndex(ctx, index, value)
}

// dayBounds returns the first and last instant of t's calendar day.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1).Add(-time.Millisecond)
}
