package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
)

// =====================================================
// Student Tests
// =====================================================

func TestSaveStudent_enqueuesOnce(t *testing.T) {
	f := newFixture(t)
	st := &models.Student{RollNumber: "12", Name: "Asha", ClassID: "c1"}

	require.NoError(t, f.teacher.SaveStudent(f.ctx, st))
	assert.Equal(t, "student_1", st.ID)

	stored, ok, err := f.teacher.GetStudent(f.ctx, st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, stored.Synced)
	assert.Equal(t, 1, stored.Version)
	assert.Equal(t, f.now, stored.CreatedAt)
	assert.Equal(t, f.now, stored.UpdatedAt)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, models.KindStudent, items[0].Type)
	assert.Equal(t, models.ActionCreate, items[0].Action)
	assert.Equal(t, st.ID, items[0].RecordID)
	assert.Equal(t, 1, items[0].Version)
	assert.Equal(t, models.PriorityNormal, items[0].Priority)
}

func TestUpdateStudent(t *testing.T) {
	f := newFixture(t)
	st := &models.Student{ID: "s1", RollNumber: "12", Name: "Asha", ClassID: "c1"}
	require.NoError(t, f.teacher.SaveStudent(f.ctx, st))
	created := st.CreatedAt

	f.now = f.now.Add(time.Hour)
	st.Name = "Asha K"
	require.NoError(t, f.teacher.UpdateStudent(f.ctx, st))

	stored, _, err := f.teacher.GetStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Asha K", stored.Name)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, created, stored.CreatedAt)
	assert.Equal(t, f.now, stored.UpdatedAt)

	items := f.pending(t)
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionUpdate, items[1].Action)
	assert.Equal(t, 2, items[1].Version)
}

func TestUpdateStudent_missing(t *testing.T) {
	f := newFixture(t)

	err := f.teacher.UpdateStudent(f.ctx, &models.Student{ID: "ghost", RollNumber: "1", Name: "X", ClassID: "c1"})
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	assert.Empty(t, f.pending(t))
}

func TestSaveStudent_invalid(t *testing.T) {
	f := newFixture(t)

	err := f.teacher.SaveStudent(f.ctx, &models.Student{Name: "No Class", RollNumber: "1", Email: "not-an-email"})
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

	n, err := f.cat.Students.Count(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pending(t))
}

func TestDeleteStudent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.teacher.SaveStudent(f.ctx, &models.Student{ID: "s1", RollNumber: "1", Name: "Asha", ClassID: "c1"}))

	require.NoError(t, f.teacher.DeleteStudent(f.ctx, "s1"))
	_, ok, err := f.teacher.GetStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	items := f.pending(t)
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionDelete, items[1].Action)
	p, err := items[1].Payload()
	require.NoError(t, err)
	assert.Equal(t, &models.Tombstone{Kind: models.KindStudent, ID: "s1"}, p)

	// Deleting again changes nothing.
	require.NoError(t, f.teacher.DeleteStudent(f.ctx, "s1"))
	assert.Len(t, f.pending(t), 2)
}

func TestGetStudentsByClass(t *testing.T) {
	f := newFixture(t)
	for _, st := range []*models.Student{
		{ID: "s1", RollNumber: "1", Name: "Asha", ClassID: "c1"},
		{ID: "s2", RollNumber: "2", Name: "Bala", ClassID: "c1"},
		{ID: "s3", RollNumber: "3", Name: "Chitra", ClassID: "c2"},
	} {
		require.NoError(t, f.teacher.SaveStudent(f.ctx, st))
	}

	roster, err := f.teacher.GetStudentsByClass(f.ctx, "c1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "s1", roster[0].ID)
	assert.Equal(t, "s2", roster[1].ID)

	all, err := f.teacher.GetAllStudents(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =====================================================
// Class Tests
// =====================================================

func TestSaveClass_defaultsTeacher(t *testing.T) {
	f := newFixture(t)
	c := &models.Class{ID: "c1", Name: "Grade 6", Subject: "Maths",
		Schedule: []models.ClassSchedule{{Day: models.Monday, StartTime: "09:00", EndTime: "10:00"}}}

	require.NoError(t, f.teacher.SaveClass(f.ctx, c))
	assert.Equal(t, "t1", c.TeacherID)

	classes, err := f.teacher.GetClassesByTeacher(f.ctx, "t1")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "Maths", classes[0].Subject)
	assert.Len(t, f.pending(t), 1)
}

func TestSaveClass_badSchedule(t *testing.T) {
	f := newFixture(t)
	c := &models.Class{ID: "c1", Name: "Grade 6", Subject: "Maths",
		Schedule: []models.ClassSchedule{{Day: "funday", StartTime: "09:00", EndTime: "10:00"}}}

	err := f.teacher.SaveClass(f.ctx, c)
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
	assert.Empty(t, f.pending(t))
}

func TestUpdateClass_missing(t *testing.T) {
	f := newFixture(t)
	err := f.teacher.UpdateClass(f.ctx, &models.Class{ID: "c9", Name: "X", Subject: "Y", TeacherID: "t1"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// =====================================================
// Attendance Tests
// =====================================================

func TestMarkAttendance(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")

	rec, err := f.teacher.MarkAttendance(f.ctx, "c1", "s1", models.StatusPresent, "on time")
	require.NoError(t, err)

	assert.Equal(t, "Asha", rec.StudentName)
	assert.Equal(t, "t1", rec.MarkedBy)
	assert.Equal(t, f.now, rec.MarkedAt)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), rec.Date)

	stored, ok, err := f.teacher.GetAttendance(f.ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, stored.Synced)
	assert.Equal(t, models.StatusPresent, stored.Status)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, models.KindAttendance, items[0].Type)
	assert.Equal(t, rec.ID, items[0].RecordID)
	assert.Equal(t, models.PriorityUrgent, items[0].Priority)
	assert.Equal(t, 5, items[0].MaxRetries)
}

func TestMarkAttendance_unknownStudent(t *testing.T) {
	f := newFixture(t)

	_, err := f.teacher.MarkAttendance(f.ctx, "c1", "ghost", models.StatusPresent, "")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	assert.Empty(t, f.pending(t))
}

func TestMarkAttendance_badStatus(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")

	_, err := f.teacher.MarkAttendance(f.ctx, "c1", "s1", "sleeping", "")
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
	assert.Empty(t, f.pending(t))
}

func TestGetAttendanceByClass_date(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")

	_, err := f.teacher.MarkAttendance(f.ctx, "c1", "s1", models.StatusPresent, "")
	require.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)
	_, err = f.teacher.MarkAttendance(f.ctx, "c1", "s1", models.StatusLate, "")
	require.NoError(t, err)

	all, err := f.teacher.GetAttendanceByClass(f.ctx, "c1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	day := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	onDay, err := f.teacher.GetAttendanceByClass(f.ctx, "c1", &day)
	require.NoError(t, err)
	require.Len(t, onDay, 1)
	assert.Equal(t, models.StatusLate, onDay[0].Status)

	byStudent, err := f.teacher.GetAttendanceByStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)

	unsynced, err := f.teacher.UnsyncedAttendance(f.ctx)
	require.NoError(t, err)
	assert.Len(t, unsynced, 2)
}

// =====================================================
// Score Tests
// =====================================================

func TestRecordScore_grades(t *testing.T) {
	tests := []struct {
		marks float64
		grade string
	}{
		{85, "A"},
		{100, "A+"},
		{39, "F"},
		{72, "B+"},
		{40, "D"},
	}
	for _, tt := range tests {
		t.Run(tt.grade, func(t *testing.T) {
			f := newFixture(t)
			f.seedStudent(t, "s1", "c1", "Asha")

			sc, err := f.teacher.RecordScore(f.ctx, "s1", "c1", "", tt.marks, 100, "")
			require.NoError(t, err)
			assert.Equal(t, tt.grade, sc.Grade)
			assert.InDelta(t, tt.marks, sc.Percentage, 1e-9)

			stored, ok, err := f.teacher.GetScore(f.ctx, sc.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.grade, stored.Grade)
			assert.Len(t, f.pending(t), 1)
		})
	}
}

func TestRecordScore_rejectsExcessMarks(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")

	_, err := f.teacher.RecordScore(f.ctx, "s1", "c1", "", 150, 100, "")
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

	n, err := f.cat.Scores.Count(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pending(t))
}

func TestRecordScore_derivedFields(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")
	require.NoError(t, f.teacher.SaveClass(f.ctx, &models.Class{ID: "c1", Name: "Grade 6", Subject: "Science"}))
	require.NoError(t, f.teacher.SaveAssignment(f.ctx, &models.Assignment{
		ID: "a1", Title: "Plants", ClassID: "c1", MaxMarks: 20, DueDate: f.now.Add(48 * time.Hour),
	}))

	sc, err := f.teacher.RecordScore(f.ctx, "s1", "c1", "a1", 15, 20, "good")
	require.NoError(t, err)
	assert.Equal(t, "Plants", sc.AssignmentName)
	assert.Equal(t, "Science", sc.Subject)
	assert.Equal(t, "Asha", sc.StudentName)
	assert.Equal(t, models.ExamAssignment, sc.ExamType)
	assert.Equal(t, "B+", sc.Grade)
	assert.Equal(t, "t1", sc.GradedBy)

	byAssignment, err := f.teacher.GetScoresByAssignment(f.ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, byAssignment, 1)
}

func TestRecordScore_defaultsWithoutLookups(t *testing.T) {
	f := newFixture(t)
	f.seedStudent(t, "s1", "c1", "Asha")

	sc, err := f.teacher.RecordScore(f.ctx, "s1", "c1", "a-missing", 5, 10, "")
	require.NoError(t, err)
	assert.Equal(t, "Assignment", sc.AssignmentName)
	assert.Equal(t, "General", sc.Subject)
}

func TestSaveScore_recomputesGrade(t *testing.T) {
	f := newFixture(t)
	sc := &models.Score{StudentID: "s1", ClassID: "c1", ExamType: models.ExamQuiz,
		MaxMarks: 50, ObtainedMarks: 45, Grade: "F"}

	require.NoError(t, f.teacher.SaveScore(f.ctx, sc))
	assert.Equal(t, "A+", sc.Grade)
	assert.InDelta(t, 90.0, sc.Percentage, 1e-9)

	byStudent, err := f.teacher.GetScoresByStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, byStudent, 1)
	byClass, err := f.teacher.GetScoresByClass(f.ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byClass, 1)
	unsynced, err := f.teacher.UnsyncedScores(f.ctx)
	require.NoError(t, err)
	assert.Len(t, unsynced, 1)
}

// =====================================================
// Assignment and Submission Tests
// =====================================================

func TestPublishAssignment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.teacher.SaveAssignment(f.ctx, &models.Assignment{
		ID: "a1", Title: "Essay", ClassID: "c1", MaxMarks: 10, DueDate: f.now.Add(24 * time.Hour),
	}))

	f.now = f.now.Add(time.Minute)
	a, err := f.teacher.PublishAssignment(f.ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.IsPublished)
	require.NotNil(t, a.PublishedAt)
	assert.Equal(t, f.now, *a.PublishedAt)

	items := f.pending(t)
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionUpdate, items[1].Action)
	assert.Equal(t, 2, items[1].Version)

	byClass, err := f.teacher.GetAssignmentsByClass(f.ctx, "c1")
	require.NoError(t, err)
	require.Len(t, byClass, 1)
	assert.True(t, byClass[0].IsPublished)

	byTeacher, err := f.teacher.GetAssignmentsByTeacher(f.ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, byTeacher, 1)
}

func TestPublishAssignment_missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.teacher.PublishAssignment(f.ctx, "nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Empty(t, f.pending(t))
}

func TestGradeSubmission(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.teacher.SaveAssignment(f.ctx, &models.Assignment{
		ID: "a1", Title: "Essay", ClassID: "c1", MaxMarks: 10, DueDate: f.now.Add(24 * time.Hour),
	}))
	require.NoError(t, f.teacher.SaveSubmission(f.ctx, &models.Submission{
		ID: "sub1", AssignmentID: "a1", StudentID: "s1",
	}))

	sub, err := f.teacher.GradeSubmission(f.ctx, "sub1", 8, "well argued")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionGraded, sub.Status)
	require.NotNil(t, sub.Grade)
	assert.Equal(t, 8.0, *sub.Grade)

	stored, _, err := f.teacher.GetSubmission(f.ctx, "sub1")
	require.NoError(t, err)
	assert.Equal(t, "well argued", stored.Feedback)
	assert.Equal(t, 2, stored.Version)

	// assignment create, submission create, submission update
	assert.Len(t, f.pending(t), 3)

	byAssignment, err := f.teacher.GetSubmissionsByAssignment(f.ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, byAssignment, 1)
	byStudent, err := f.teacher.GetSubmissionsByStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, byStudent, 1)
}

func TestGradeSubmission_aboveMax(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.teacher.SaveAssignment(f.ctx, &models.Assignment{
		ID: "a1", Title: "Essay", ClassID: "c1", MaxMarks: 10, DueDate: f.now.Add(24 * time.Hour),
	}))
	require.NoError(t, f.teacher.SaveSubmission(f.ctx, &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1"}))

	_, err := f.teacher.GradeSubmission(f.ctx, "sub1", 11, "")
	assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

	_, err = f.teacher.GradeSubmission(f.ctx, "missing", 5, "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// =====================================================
// Dashboard Tests
// =====================================================

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.teacher.SaveClass(f.ctx, &models.Class{ID: "c1", Name: "6A", Subject: "Maths"}))
	require.NoError(t, f.teacher.SaveClass(f.ctx, &models.Class{ID: "c2", Name: "6B", Subject: "Maths"}))
	require.NoError(t, f.teacher.SaveClass(f.ctx, &models.Class{ID: "c3", Name: "7A", Subject: "Art", TeacherID: "t2"}))
	f.seedStudent(t, "s1", "c1", "Asha")
	f.seedStudent(t, "s2", "c2", "Bala")

	_, err := f.teacher.MarkAttendance(f.ctx, "c1", "s1", models.StatusPresent, "")
	require.NoError(t, err)
	_, err = f.teacher.MarkAttendance(f.ctx, "c2", "s2", models.StatusAbsent, "")
	require.NoError(t, err)
	require.NoError(t, f.teacher.SaveAssignment(f.ctx, &models.Assignment{
		ID: "a1", Title: "Essay", ClassID: "c1", MaxMarks: 10, DueDate: f.now,
	}))

	stats, err := f.teacher.DashboardStats(f.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, &DashboardStats{
		TotalStudents:      2,
		TotalClasses:       2,
		TodayAttendance:    2,
		PendingAssignments: 1,
		UnsyncedRecords:    3,
	}, stats)

	pending, err := f.teacher.PendingRecords(f.ctx)
	require.NoError(t, err)
	// three classes, two attendance marks, one assignment
	assert.Equal(t, 6, pending)
}
