package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Difficulty grades lesson content.
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// Resource is supplementary lesson material.
type Resource struct {
	ID         string `json:"id"`
	Type       string `json:"type" validate:"oneof=pdf image video audio link"`
	Title      string `json:"title"`
	URL        string `json:"url" validate:"required"`
	Size       int64  `json:"size,omitempty"`
	Downloaded bool   `json:"downloaded,omitempty"`
}

// Lesson is downloaded learning content. Lessons are never queued.
type Lesson struct {
	ID                 string     `json:"id" validate:"required"`
	Title              string     `json:"title" validate:"required"`
	Description        string     `json:"description"`
	Content            string     `json:"content"`
	Category           string     `json:"category"`
	Difficulty         Difficulty `json:"difficulty" validate:"oneof=beginner intermediate advanced"`
	Duration           int        `json:"duration" validate:"gte=0"`
	Thumbnail          string     `json:"thumbnail,omitempty"`
	VideoURL           string     `json:"videoUrl,omitempty"`
	AudioURL           string     `json:"audioUrl,omitempty"`
	Resources          []Resource `json:"resources" validate:"dive"`
	Prerequisites      []string   `json:"prerequisites"`
	LearningObjectives []string   `json:"learningObjectives"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	Version            int        `json:"version"`
	IsOffline          bool       `json:"isOffline"`
}

func (l *Lesson) RecordKey() string { return l.ID }
func (Lesson) TableName() string    { return "lessons" }

// AnswerKey holds one or more accepted answers. It decodes from either a
// JSON string or a JSON array of strings.
type AnswerKey []string

// UnmarshalJSON accepts "a" as well as ["a","b"].
func (k *AnswerKey) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*k = AnswerKey{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("correctAnswer must be a string or a list of strings: %w", err)
	}
	*k = many
	return nil
}

// Question is a single quiz question.
type Question struct {
	ID            string    `json:"id"`
	Type          string    `json:"type" validate:"oneof=multiple-choice true-false fill-blank essay"`
	Question      string    `json:"question" validate:"required"`
	Options       []string  `json:"options,omitempty"`
	CorrectAnswer AnswerKey `json:"correctAnswer"`
	Explanation   string    `json:"explanation,omitempty"`
	Points        int       `json:"points" validate:"gte=0"`
}

// Quiz belongs to a lesson. Quizzes are never queued.
type Quiz struct {
	ID           string     `json:"id" validate:"required"`
	LessonID     string     `json:"lessonId" validate:"required"`
	Title        string     `json:"title" validate:"required"`
	Description  string     `json:"description"`
	Questions    []Question `json:"questions" validate:"dive"`
	PassingScore int        `json:"passingScore" validate:"gte=0"`
	TimeLimit    int        `json:"timeLimit,omitempty" validate:"gte=0"`
	Attempts     int        `json:"attempts" validate:"gte=0"`
	MaxAttempts  int        `json:"maxAttempts,omitempty" validate:"gte=0"`
	Completed    bool       `json:"completed"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	IsOffline    bool       `json:"isOffline"`
}

func (q *Quiz) RecordKey() string { return q.ID }
func (Quiz) TableName() string    { return "quizzes" }

// LessonAttendance records a learner's presence in a lesson session.
type LessonAttendance struct {
	ID         string           `json:"id" validate:"required"`
	UserID     string           `json:"userId" validate:"required"`
	LessonID   string           `json:"lessonId" validate:"required"`
	Date       time.Time        `json:"date" validate:"required"`
	Duration   int              `json:"duration" validate:"gte=0"`
	Status     AttendanceStatus `json:"status" validate:"oneof=present absent late excused"`
	Notes      string           `json:"notes,omitempty"`
	Location   string           `json:"location,omitempty"`
	DeviceInfo string           `json:"deviceInfo,omitempty"`
	Meta
}

func (a *LessonAttendance) RecordKey() string { return a.ID }
func (*LessonAttendance) PayloadKind() Kind   { return KindLessonAttendance }
func (LessonAttendance) TableName() string    { return "attendance" }

// ProgressType says what a progress record tracks.
type ProgressType string

const (
	ProgressLesson     ProgressType = "lesson"
	ProgressQuiz       ProgressType = "quiz"
	ProgressAttendance ProgressType = "attendance"
)

// ProgressStatus is the learner's state for the tracked item.
type ProgressStatus string

const (
	ProgressStarted    ProgressStatus = "started"
	ProgressInProgress ProgressStatus = "in-progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// LessonProgress is the detail of a lesson progress record.
type LessonProgress struct {
	SectionsViewed  []string `json:"sectionsViewed,omitempty"`
	LastPosition    int      `json:"lastPosition,omitempty"`
	ResourcesOpened []string `json:"resourcesOpened,omitempty"`
}

// QuizProgress is the detail of a quiz progress record.
type QuizProgress struct {
	Answers       map[string][]string `json:"answers,omitempty"`
	CorrectCount  int                 `json:"correctCount"`
	AttemptNumber int                 `json:"attemptNumber"`
}

// SessionProgress is the detail of an attendance progress record.
type SessionProgress struct {
	Minutes  int    `json:"minutes"`
	Location string `json:"location,omitempty"`
}

// ProgressData holds at most one detail section, matching the record type.
type ProgressData struct {
	Lesson  *LessonProgress  `json:"lesson,omitempty"`
	Quiz    *QuizProgress    `json:"quiz,omitempty"`
	Session *SessionProgress `json:"session,omitempty"`
}

// Progress tracks a learner through a lesson, quiz or session.
type Progress struct {
	ID           string         `json:"id" validate:"required"`
	UserID       string         `json:"userId" validate:"required"`
	LessonID     string         `json:"lessonId" validate:"required"`
	QuizID       string         `json:"quizId,omitempty"`
	Type         ProgressType   `json:"type" validate:"oneof=lesson quiz attendance"`
	Status       ProgressStatus `json:"status" validate:"oneof=started in-progress completed failed"`
	Score        *float64       `json:"score,omitempty"`
	TimeSpent    int            `json:"timeSpent" validate:"gte=0"`
	LastAccessed time.Time      `json:"lastAccessed"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	Data         ProgressData   `json:"data"`
	Meta
}

func (p *Progress) RecordKey() string { return p.ID }
func (*Progress) PayloadKind() Kind   { return KindProgress }
func (Progress) TableName() string    { return "progress" }

// CheckData rejects detail sections that do not belong to the record type.
func (p *Progress) CheckData() error {
	d := p.Data
	switch p.Type {
	case ProgressLesson:
		if d.Quiz != nil || d.Session != nil {
			return fmt.Errorf("lesson progress may only carry lesson data")
		}
	case ProgressQuiz:
		if d.Lesson != nil || d.Session != nil {
			return fmt.Errorf("quiz progress may only carry quiz data")
		}
		if p.QuizID == "" {
			return fmt.Errorf("quiz progress requires quizId")
		}
	case ProgressAttendance:
		if d.Lesson != nil || d.Quiz != nil {
			return fmt.Errorf("attendance progress may only carry session data")
		}
	default:
		return fmt.Errorf("unknown progress type %q", p.Type)
	}
	return nil
}

// CacheType classifies cached blobs.
type CacheType string

const (
	CacheLesson   CacheType = "lesson"
	CacheQuiz     CacheType = "quiz"
	CacheResource CacheType = "resource"
	CacheImage    CacheType = "image"
	CacheVideo    CacheType = "video"
	CacheAudio    CacheType = "audio"
)

// CacheItem is an expiring cached blob. Cache items are never queued.
type CacheItem struct {
	Key       string          `json:"key" validate:"required"`
	Type      CacheType       `json:"type" validate:"oneof=lesson quiz resource image video audio"`
	Data      json.RawMessage `json:"data"`
	URL       string          `json:"url,omitempty"`
	Size      int             `json:"size"`
	Expiry    time.Time       `json:"expiry"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (c *CacheItem) RecordKey() string { return c.Key }
func (CacheItem) TableName() string    { return "cache" }

// Expired reports whether the item is expired at now. An item whose expiry
// equals now is expired.
func (c *CacheItem) Expired(now time.Time) bool {
	return !now.Before(c.Expiry)
}
