// Package schema defines the content and teacher namespaces and binds their
// typed collections into a Catalog shared by the sync and façade layers.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nabhalearn/edusync/internal/db"
	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
)

// RawCollection is the untyped view of a collection used by export/import.
type RawCollection interface {
	Name() string
	DumpRaw(ctx context.Context) ([]json.RawMessage, error)
	PutRaw(ctx context.Context, body json.RawMessage) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Catalog holds both opened namespaces and every typed collection.
type Catalog struct {
	Content *db.Store
	Teacher *db.Store

	Lessons          *db.Collection[*models.Lesson]
	Quizzes          *db.Collection[*models.Quiz]
	LessonAttendance *db.Collection[*models.LessonAttendance]
	Progress         *db.Collection[*models.Progress]
	Cache            *db.Collection[*models.CacheItem]

	Students    *db.Collection[*models.Student]
	Classes     *db.Collection[*models.Class]
	Attendance  *db.Collection[*models.Attendance]
	Scores      *db.Collection[*models.Score]
	Assignments *db.Collection[*models.Assignment]
	Submissions *db.Collection[*models.Submission]
	SyncQueue   *db.Collection[*models.SyncQueueItem]

	syncables map[models.Kind]syncCollection
}

// Open opens both namespaces under dataDir.
func Open(ctx context.Context, dataDir string, log *logging.Logger) (*Catalog, error) {
	content, err := db.OpenStore(ctx, dataDir, ContentNamespace(), log)
	if err != nil {
		return nil, err
	}
	teacher, err := db.OpenStore(ctx, dataDir, TeacherNamespace(), log)
	if err != nil {
		content.Close()
		return nil, err
	}
	return Bind(content, teacher)
}

// Bind builds a Catalog over already opened stores.
func Bind(content, teacher *db.Store) (*Catalog, error) {
	if content == nil || teacher == nil {
		return nil, errors.NotReady("catalog")
	}
	if got := content.Namespace().Name; got != ContentName {
		return nil, errors.Newf(errors.ErrInvalid, "content store opened as namespace %q", got)
	}
	if got := teacher.Namespace().Name; got != TeacherName {
		return nil, errors.Newf(errors.ErrInvalid, "teacher store opened as namespace %q", got)
	}

	c := &Catalog{
		Content: content,
		Teacher: teacher,

		Lessons:          db.MustCollection(content, Lessons),
		Quizzes:          db.MustCollection(content, Quizzes),
		LessonAttendance: db.MustCollection(content, LessonAttendance),
		Progress:         db.MustCollection(content, Progress),
		Cache:            db.MustCollection(content, Cache),

		Students:    db.MustCollection(teacher, Students),
		Classes:     db.MustCollection(teacher, Classes),
		Attendance:  db.MustCollection(teacher, Attendance),
		Scores:      db.MustCollection(teacher, Scores),
		Assignments: db.MustCollection(teacher, Assignments),
		Submissions: db.MustCollection(teacher, Submissions),
		SyncQueue:   db.MustCollection(teacher, SyncQueue),
	}
	c.syncables = map[models.Kind]syncCollection{
		models.KindStudent:          syncAdapter[*models.Student]{c.Students},
		models.KindClass:            syncAdapter[*models.Class]{c.Classes},
		models.KindAttendance:       syncAdapter[*models.Attendance]{c.Attendance},
		models.KindScore:            syncAdapter[*models.Score]{c.Scores},
		models.KindAssignment:       syncAdapter[*models.Assignment]{c.Assignments},
		models.KindSubmission:       syncAdapter[*models.Submission]{c.Submissions},
		models.KindLessonAttendance: syncAdapter[*models.LessonAttendance]{c.LessonAttendance},
		models.KindProgress:         syncAdapter[*models.Progress]{c.Progress},
	}
	return c, nil
}

// Close closes both stores.
func (c *Catalog) Close() error {
	errContent := c.Content.Close()
	errTeacher := c.Teacher.Close()
	if errContent != nil {
		return errContent
	}
	return errTeacher
}

// ContentCollections lists the content namespace collections.
func (c *Catalog) ContentCollections() []RawCollection {
	return []RawCollection{c.Lessons, c.Quizzes, c.LessonAttendance, c.Progress, c.Cache}
}

// TeacherCollections lists the teacher namespace record collections. The
// sync queue is not included.
func (c *Catalog) TeacherCollections() []RawCollection {
	return []RawCollection{c.Students, c.Classes, c.Attendance, c.Scores, c.Assignments, c.Submissions}
}

// =====================================================
// Sync record resolution
// =====================================================

// Lookup returns the current local record for kind/id.
func (c *Catalog) Lookup(ctx context.Context, kind models.Kind, id string) (models.Syncable, bool, error) {
	sc, err := c.syncable(kind)
	if err != nil {
		return nil, false, err
	}
	return sc.lookup(ctx, id)
}

// MarkSynced flags kind/id as synced if its current version is version.
// It reports whether the record now carries synced=true at that version;
// false means the record changed since the snapshot or is gone.
func (c *Catalog) MarkSynced(ctx context.Context, kind models.Kind, id string, version int) (bool, error) {
	sc, err := c.syncable(kind)
	if err != nil {
		return false, err
	}
	return sc.markSynced(ctx, id, version)
}

// Unsynced returns every local record of kind with synced=false.
func (c *Catalog) Unsynced(ctx context.Context, kind models.Kind) ([]models.Syncable, error) {
	sc, err := c.syncable(kind)
	if err != nil {
		return nil, err
	}
	return sc.unsynced(ctx)
}

// UnsyncedCount counts records of kind with synced=false.
func (c *Catalog) UnsyncedCount(ctx context.Context, kind models.Kind) (int, error) {
	sc, err := c.syncable(kind)
	if err != nil {
		return 0, err
	}
	return sc.unsyncedCount(ctx)
}

func (c *Catalog) syncable(kind models.Kind) (syncCollection, error) {
	if c == nil {
		return nil, errors.NotReady("catalog")
	}
	sc, ok := c.syncables[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrInvalid, "unknown record kind %q", kind)
	}
	return sc, nil
}

type syncCollection interface {
	lookup(ctx context.Context, id string) (models.Syncable, bool, error)
	markSynced(ctx context.Context, id string, version int) (bool, error)
	unsynced(ctx context.Context) ([]models.Syncable, error)
	unsyncedCount(ctx context.Context) (int, error)
}

// syncAdapter exposes a typed collection of syncable records untyped.
// Every syncable collection carries a by-synced index.
type syncAdapter[T models.Syncable] struct {
	c *db.Collection[T]
}

func (a syncAdapter[T]) lookup(ctx context.Context, id string) (models.Syncable, bool, error) {
	v, ok, err := a.c.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return v, true, nil
}

func (a syncAdapter[T]) markSynced(ctx context.Context, id string, version int) (bool, error) {
	var marked bool
	_, err := a.c.Modify(ctx, id, func(v T) (T, bool) {
		m := v.SyncMeta()
		if m.Version != version {
			return v, false
		}
		marked = true
		if m.Synced {
			return v, false
		}
		m.Synced = true
		return v, true
	})
	if err != nil {
		return false, fmt.Errorf("mark %s %s synced: %w", a.c.Name(), id, err)
	}
	return marked, nil
}

func (a syncAdapter[T]) unsynced(ctx context.Context) ([]models.Syncable, error) {
	records, err := a.c.GetAllByIndex(ctx, "by-synced", false)
	if err != nil {
		return nil, err
	}
	out := make([]models.Syncable, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out, nil
}

func (a syncAdapter[T]) unsyncedCount(ctx context.Context) (int, error) {
	return a.c.CountByIndex(ctx, "by-synced", false)
}
