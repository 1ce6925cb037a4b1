package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/schema"
	"github.com/nabhalearn/edusync/internal/sync/queue"
)

// LearningService manages the content namespace. Lessons, quizzes and cache
// entries stay local; lesson attendance and progress are queued for sync.
type LearningService struct {
	base
}

// NewLearningService returns NOT_READY when the catalog or queue is missing.
func NewLearningService(cat *schema.Catalog, q *queue.Queue, opts Options) (*LearningService, error) {
	b, err := newBase(cat, q, opts, "learning")
	if err != nil {
		return nil, err
	}
	return &LearningService{base: b}, nil
}

// =====================================================
// Lessons and quizzes
// =====================================================

// SaveLesson stores downloaded lesson content.
func (s *LearningService) SaveLesson(ctx context.Context, l *models.Lesson) error {
	if err := s.ready(); err != nil {
		return err
	}
	if l == nil {
		return errors.New(errors.ErrInvalid, "lesson is nil")
	}
	if err := s.opts.Validator.Struct("lesson", l); err != nil {
		return err
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if now.After(l.UpdatedAt) {
		l.UpdatedAt = now
	}
	return s.cat.Lessons.Put(ctx, l)
}

// GetLesson returns the lesson with id, if present.
func (s *LearningService) GetLesson(ctx context.Context, id string) (*models.Lesson, bool, error) {
	return get(ctx, &s.base, s.cat.Lessons, id)
}

// GetAllLessons lists every stored lesson.
func (s *LearningService) GetAllLessons(ctx context.Context) ([]*models.Lesson, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.cat.Lessons.GetAll(ctx)
}

func (s *LearningService) GetLessonsByCategory(ctx context.Context, category string) ([]*models.Lesson, error) {
	return byIndex(ctx, &s.base, s.cat.Lessons, "by-category", category)
}

func (s *LearningService) GetLessonsByDifficulty(ctx context.Context, d models.Difficulty) ([]*models.Lesson, error) {
	return byIndex(ctx, &s.base, s.cat.Lessons, "by-difficulty", d)
}

// DeleteLesson removes a lesson. Absent ids are a no-op.
func (s *LearningService) DeleteLesson(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.cat.Lessons.Delete(ctx, id)
}

// SaveQuiz stores a quiz.
func (s *LearningService) SaveQuiz(ctx context.Context, q *models.Quiz) error {
	if err := s.ready(); err != nil {
		return err
	}
	if q == nil {
		return errors.New(errors.ErrInvalid, "quiz is nil")
	}
	if err := s.opts.Validator.Struct("quiz", q); err != nil {
		return err
	}
	now := s.now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	if now.After(q.UpdatedAt) {
		q.UpdatedAt = now
	}
	return s.cat.Quizzes.Put(ctx, q)
}

func (s *LearningService) GetQuiz(ctx context.Context, id string) (*models.Quiz, bool, error) {
	return get(ctx, &s.base, s.cat.Quizzes, id)
}

func (s *LearningService) GetQuizzesByLesson(ctx context.Context, lessonID string) ([]*models.Quiz, error) {
	return byIndex(ctx, &s.base, s.cat.Quizzes, "by-lesson", lessonID)
}

func (s *LearningService) GetAllQuizzes(ctx context.Context) ([]*models.Quiz, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.cat.Quizzes.GetAll(ctx)
}

func (s *LearningService) DeleteQuiz(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.cat.Quizzes.Delete(ctx, id)
}

// =====================================================
// Lesson attendance and progress
// =====================================================

// SaveLessonAttendance stores a learner's lesson attendance and queues it.
func (s *LearningService) SaveLessonAttendance(ctx context.Context, a *models.LessonAttendance) error {
	if err := s.ready(); err != nil {
		return err
	}
	if a == nil {
		return errors.New(errors.ErrInvalid, "lesson attendance is nil")
	}
	s.ensureID(&a.ID, models.KindLessonAttendance)
	if a.Date.IsZero() {
		a.Date = s.now()
	}
	if err := s.opts.Validator.Struct("lesson attendance", a); err != nil {
		return err
	}
	_, err := writeThenEnqueue(ctx, &s.base, s.cat.LessonAttendance, a)
	return err
}

func (s *LearningService) GetLessonAttendance(ctx context.Context, id string) (*models.LessonAttendance, bool, error) {
	return get(ctx, &s.base, s.cat.LessonAttendance, id)
}

func (s *LearningService) GetLessonAttendanceByUser(ctx context.Context, userID string) ([]*models.LessonAttendance, error) {
	return byIndex(ctx, &s.base, s.cat.LessonAttendance, "by-user", userID)
}

func (s *LearningService) GetLessonAttendanceByLesson(ctx context.Context, lessonID string) ([]*models.LessonAttendance, error) {
	return byIndex(ctx, &s.base, s.cat.LessonAttendance, "by-lesson", lessonID)
}

func (s *LearningService) UnsyncedLessonAttendance(ctx context.Context) ([]*models.LessonAttendance, error) {
	return byIndex(ctx, &s.base, s.cat.LessonAttendance, "by-synced", false)
}

// SaveProgress stores a progress record and queues it. The detail section
// must match the record type.
func (s *LearningService) SaveProgress(ctx context.Context, p *models.Progress) error {
	if err := s.ready(); err != nil {
		return err
	}
	if p == nil {
		return errors.New(errors.ErrInvalid, "progress is nil")
	}
	s.ensureID(&p.ID, models.KindProgress)
	if p.LastAccessed.IsZero() {
		p.LastAccessed = s.now()
	}
	if err := s.opts.Validator.Struct("progress", p); err != nil {
		return err
	}
	_, err := writeThenEnqueue(ctx, &s.base, s.cat.Progress, p)
	return err
}

func (s *LearningService) GetProgress(ctx context.Context, id string) (*models.Progress, bool, error) {
	return get(ctx, &s.base, s.cat.Progress, id)
}

func (s *LearningService) GetProgressByUser(ctx context.Context, userID string) ([]*models.Progress, error) {
	return byIndex(ctx, &s.base, s.cat.Progress, "by-user", userID)
}

func (s *LearningService) GetProgressByLesson(ctx context.Context, lessonID string) ([]*models.Progress, error) {
	return byIndex(ctx, &s.base, s.cat.Progress, "by-lesson", lessonID)
}

func (s *LearningService) UnsyncedProgress(ctx context.Context) ([]*models.Progress, error) {
	return byIndex(ctx, &s.base, s.cat.Progress, "by-synced", false)
}

// =====================================================
// Cache
// =====================================================

// SaveToCache stores data under key for expiryHours. An expiry of zero
// stores an entry that is already expired.
func (s *LearningService) SaveToCache(ctx context.Context, key string, typ models.CacheType, data interface{}, expiryHours float64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if expiryHours < 0 {
		return errors.Newf(errors.ErrValidation, "expiryHours must not be negative, got %v", expiryHours)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode cache data", err)
	}
	now := s.now()
	item := &models.CacheItem{
		Key:       key,
		Type:      typ,
		Data:      body,
		Size:      len(body),
		Expiry:    now.Add(time.Duration(expiryHours * float64(time.Hour))),
		CreatedAt: now,
	}
	if err := s.opts.Validator.Struct("cache item", item); err != nil {
		return err
	}
	return s.cat.Cache.Put(ctx, item)
}

// GetFromCache returns the cached data for key. Expired entries read as
// absent and are removed.
func (s *LearningService) GetFromCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	item, ok, err := s.cat.Cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if item.Expired(s.now()) {
		if err := s.cat.Cache.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return item.Data, true, nil
}

// ClearExpiredCache removes every entry expired at the current time and
// returns how many were removed.
func (s *LearningService) ClearExpiredCache(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	expired, err := s.cat.Cache.GetAllByIndexRange(ctx, "by-expiry", nil, s.now())
	if err != nil {
		return 0, err
	}
	for _, item := range expired {
		if err := s.cat.Cache.Delete(ctx, item.Key); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		s.log.Debug("Cleared expired cache", map[string]interface{}{"count": len(expired)})
	}
	return len(expired), nil
}

// ClearAllCache empties the cache.
func (s *LearningService) ClearAllCache(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.cat.Cache.Clear(ctx)
}

// StorageInfo is a per-collection record count of the content namespace.
type StorageInfo struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
}

// StorageInfo counts the records in every content collection.
func (s *LearningService) StorageInfo(ctx context.Context) (*StorageInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	info := &StorageInfo{Breakdown: make(map[string]int)}
	for _, c := range s.cat.ContentCollections() {
		n, err := c.Count(ctx)
		if err != nil {
			return nil, err
		}
		info.Breakdown[c.Name()] = n
		info.Total += n
	}
	return info, nil
}
