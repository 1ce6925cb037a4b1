package schema

import (
	"github.com/nabhalearn/edusync/internal/db"
	"github.com/nabhalearn/edusync/internal/models"
)

// Teacher namespace: classroom records and the sync queue.
const (
	TeacherName    = "teacher"
	TeacherVersion = 1
)

var Students = db.Spec[*models.Student]{
	Name: "students",
	Indexes: []db.Index[*models.Student]{
		{Name: "by-class", Extract: func(s *models.Student) any { return s.ClassID }},
		{Name: "by-name", Extract: func(s *models.Student) any { return s.Name }},
		{Name: "by-roll", Extract: func(s *models.Student) any { return s.RollNumber }},
		{Name: "by-synced", Extract: func(s *models.Student) any { return s.Synced }},
	},
}

var Classes = db.Spec[*models.Class]{
	Name: "classes",
	Indexes: []db.Index[*models.Class]{
		{Name: "by-teacher", Extract: func(c *models.Class) any { return c.TeacherID }},
		{Name: "by-subject", Extract: func(c *models.Class) any { return c.Subject }},
		{Name: "by-synced", Extract: func(c *models.Class) any { return c.Synced }},
	},
}

var Attendance = db.Spec[*models.Attendance]{
	Name: "attendance",
	Indexes: []db.Index[*models.Attendance]{
		{Name: "by-date", Extract: func(a *models.Attendance) any { return a.Date }},
		{Name: "by-class", Extract: func(a *models.Attendance) any { return a.ClassID }},
		{Name: "by-student", Extract: func(a *models.Attendance) any { return a.StudentID }},
		{Name: "by-synced", Extract: func(a *models.Attendance) any { return a.Synced }},
	},
}

var Scores = db.Spec[*models.Score]{
	Name: "scores",
	Indexes: []db.Index[*models.Score]{
		{Name: "by-student", Extract: func(s *models.Score) any { return s.StudentID }},
		{Name: "by-assignment", Extract: func(s *models.Score) any { return s.AssignmentID }},
		{Name: "by-class", Extract: func(s *models.Score) any { return s.ClassID }},
		{Name: "by-synced", Extract: func(s *models.Score) any { return s.Synced }},
	},
}

var Assignments = db.Spec[*models.Assignment]{
	Name: "assignments",
	Indexes: []db.Index[*models.Assignment]{
		{Name: "by-class", Extract: func(a *models.Assignment) any { return a.ClassID }},
		{Name: "by-teacher", Extract: func(a *models.Assignment) any { return a.TeacherID }},
		{Name: "by-due-date", Extract: func(a *models.Assignment) any { return a.DueDate }},
		{Name: "by-published", Extract: func(a *models.Assignment) any { return a.IsPublished }},
		{Name: "by-synced", Extract: func(a *models.Assignment) any { return a.Synced }},
	},
}

var Submissions = db.Spec[*models.Submission]{
	Name: "submissions",
	Indexes: []db.Index[*models.Submission]{
		{Name: "by-assignment", Extract: func(s *models.Submission) any { return s.AssignmentID }},
		{Name: "by-student", Extract: func(s *models.Submission) any { return s.StudentID }},
		{Name: "by-submitted", Extract: func(s *models.Submission) any { return s.SubmittedAt }},
		{Name: "by-synced", Extract: func(s *models.Submission) any { return s.Synced }},
	},
}

var SyncQueue = db.Spec[*models.SyncQueueItem]{
	Name: "sync_queue",
	Indexes: []db.Index[*models.SyncQueueItem]{
		{Name: "by-type", Extract: func(q *models.SyncQueueItem) any { return q.Type }},
		{Name: "by-priority", Extract: func(q *models.SyncQueueItem) any { return q.Priority }},
		{Name: "by-created", Extract: func(q *models.SyncQueueItem) any { return q.CreatedAt }},
		{Name: "by-status", Extract: func(q *models.SyncQueueItem) any { return q.Status }},
		{Name: "by-record", Extract: func(q *models.SyncQueueItem) any { return q.RecordRef() }},
	},
}

// TeacherNamespace returns the teacher namespace definition.
func TeacherNamespace() db.Namespace {
	return db.Namespace{
		Name:    TeacherName,
		Version: TeacherVersion,
		Collections: []db.CollectionDef{
			Students.Def(),
			Classes.Def(),
			Attendance.Def(),
			Scores.Def(),
			Assignments.Def(),
			Submissions.Def(),
			SyncQueue.Def(),
		},
	}
}
