package schema

import (
	"github.com/nabhalearn/edusync/internal/db"
	"github.com/nabhalearn/edusync/internal/models"
)

// Content namespace: learner-side content and activity.
const (
	ContentName    = "content"
	ContentVersion = 1
)

var Lessons = db.Spec[*models.Lesson]{
	Name: "lessons",
	Indexes: []db.Index[*models.Lesson]{
		{Name: "by-category", Extract: func(l *models.Lesson) any { return l.Category }},
		{Name: "by-difficulty", Extract: func(l *models.Lesson) any { return l.Difficulty }},
		{Name: "by-updated", Extract: func(l *models.Lesson) any { return l.UpdatedAt }},
	},
}

var Quizzes = db.Spec[*models.Quiz]{
	Name: "quizzes",
	Indexes: []db.Index[*models.Quiz]{
		{Name: "by-lesson", Extract: func(q *models.Quiz) any { return q.LessonID }},
		{Name: "by-completed", Extract: func(q *models.Quiz) any { return q.Completed }},
		{Name: "by-created", Extract: func(q *models.Quiz) any { return q.CreatedAt }},
	},
}

var LessonAttendance = db.Spec[*models.LessonAttendance]{
	Name: "attendance",
	Indexes: []db.Index[*models.LessonAttendance]{
		{Name: "by-date", Extract: func(a *models.LessonAttendance) any { return a.Date }},
		{Name: "by-lesson", Extract: func(a *models.LessonAttendance) any { return a.LessonID }},
		{Name: "by-user", Extract: func(a *models.LessonAttendance) any { return a.UserID }},
		{Name: "by-synced", Extract: func(a *models.LessonAttendance) any { return a.Synced }},
	},
}

var Progress = db.Spec[*models.Progress]{
	Name: "progress",
	Indexes: []db.Index[*models.Progress]{
		{Name: "by-user", Extract: func(p *models.Progress) any { return p.UserID }},
		{Name: "by-lesson", Extract: func(p *models.Progress) any { return p.LessonID }},
		{Name: "by-date", Extract: func(p *models.Progress) any { return p.LastAccessed }},
		{Name: "by-synced", Extract: func(p *models.Progress) any { return p.Synced }},
	},
}

var Cache = db.Spec[*models.CacheItem]{
	Name:    "cache",
	KeyPath: "key",
	Indexes: []db.Index[*models.CacheItem]{
		{Name: "by-type", Extract: func(c *models.CacheItem) any { return c.Type }},
		{Name: "by-expiry", Extract: func(c *models.CacheItem) any { return c.Expiry }},
	},
}

// ContentNamespace returns the content namespace definition.
func ContentNamespace() db.Namespace {
	return db.Namespace{
		Name:    ContentName,
		Version: ContentVersion,
		Collections: []db.CollectionDef{
			Lessons.Def(),
			Quizzes.Def(),
			LessonAttendance.Def(),
			Progress.Def(),
			Cache.Def(),
		},
	}
}
