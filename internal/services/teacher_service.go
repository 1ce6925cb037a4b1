package services

import (
	"context"
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/schema"
	"github.com/nabhalearn/edusync/internal/sync/queue"
)

// TeacherService manages the teacher namespace: roster, classes, attendance,
// scores, assignments and submissions. Every write commits the record and
// its queue item together.
type TeacherService struct {
	base
}

// NewTeacherService returns NOT_READY when the catalog or queue is missing.
func NewTeacherService(cat *schema.Catalog, q *queue.Queue, opts Options) (*TeacherService, error) {
	b, err := newBase(cat, q, opts, "teacher")
	if err != nil {
		return nil, err
	}
	return &TeacherService{base: b}, nil
}

// =====================================================
// Students
// =====================================================

// SaveStudent creates or overwrites a student.
func (s *TeacherService) SaveStudent(ctx context.Context, st *models.Student) error {
	return s.saveStudent(ctx, st, false)
}

// UpdateStudent overwrites an existing student; NOT_FOUND otherwise.
func (s *TeacherService) UpdateStudent(ctx context.Context, st *models.Student) error {
	return s.saveStudent(ctx, st, true)
}

func (s *TeacherService) saveStudent(ctx context.Context, st *models.Student, update bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if st == nil {
		return errors.New(errors.ErrInvalid, "student is nil")
	}
	if !update {
		s.ensureID(&st.ID, models.KindStudent)
	}
	if st.AdmissionDate.IsZero() {
		st.AdmissionDate = s.now()
	}
	if err := s.opts.Validator.Struct("student", st); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Students, st, update)
	return err
}

// DeleteStudent removes a student and queues the delete. Absent ids are a
// no-op.
func (s *TeacherService) DeleteStudent(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := deleteTx(ctx, &s.base, s.cat.Students, models.KindStudent, id)
	return err
}

// GetStudent returns the student with id, if present.
func (s *TeacherService) GetStudent(ctx context.Context, id string) (*models.Student, bool, error) {
	return get(ctx, &s.base, s.cat.Students, id)
}

// GetStudentsByClass lists a class roster.
func (s *TeacherService) GetStudentsByClass(ctx context.Context, classID string) ([]*models.Student, error) {
	return byIndex(ctx, &s.base, s.cat.Students, "by-class", classID)
}

// GetAllStudents lists every student.
func (s *TeacherService) GetAllStudents(ctx context.Context) ([]*models.Student, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.cat.Students.GetAll(ctx)
}

// =====================================================
// Classes
// =====================================================

// SaveClass creates or overwrites a class.
func (s *TeacherService) SaveClass(ctx context.Context, c *models.Class) error {
	return s.saveClass(ctx, c, false)
}

// UpdateClass overwrites an existing class; NOT_FOUND otherwise.
func (s *TeacherService) UpdateClass(ctx context.Context, c *models.Class) error {
	return s.saveClass(ctx, c, true)
}

func (s *TeacherService) saveClass(ctx context.Context, c *models.Class, update bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if c == nil {
		return errors.New(errors.ErrInvalid, "class is nil")
	}
	if !update {
		s.ensureID(&c.ID, models.KindClass)
	}
	if c.TeacherID == "" {
		c.TeacherID = s.opts.TeacherID
	}
	if err := s.opts.Validator.Struct("class", c); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Classes, c, update)
	return err
}

// GetClass returns the class with id, if present.
func (s *TeacherService) GetClass(ctx context.Context, id string) (*models.Class, bool, error) {
	return get(ctx, &s.base, s.cat.Classes, id)
}

// GetClassesByTeacher lists the classes a teacher runs.
func (s *TeacherService) GetClassesByTeacher(ctx context.Context, teacherID string) ([]*models.Class, error) {
	return byIndex(ctx, &s.base, s.cat.Classes, "by-teacher", teacherID)
}

// =====================================================
// Attendance
// =====================================================

// SaveAttendance creates or overwrites an attendance mark.
func (s *TeacherService) SaveAttendance(ctx context.Context, a *models.Attendance) error {
	if err := s.ready(); err != nil {
		return err
	}
	if a == nil {
		return errors.New(errors.ErrInvalid, "attendance is nil")
	}
	s.ensureID(&a.ID, models.KindAttendance)
	if a.MarkedAt.IsZero() {
		a.MarkedAt = s.now()
	}
	if err := s.opts.Validator.Struct("attendance", a); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Attendance, a, false)
	return err
}

// MarkAttendance records a student's status for today in a class. The
// student must exist.
func (s *TeacherService) MarkAttendance(ctx context.Context, classID, studentID string, status models.AttendanceStatus, notes string) (*models.Attendance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	student, ok, err := s.cat.Students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("student", studentID)
	}

	now := s.now()
	day, _ := dayBounds(now)
	a := &models.Attendance{
		ClassID:     classID,
		StudentID:   studentID,
		StudentName: student.Name,
		Date:        day,
		Status:      status,
		MarkedBy:    s.opts.TeacherID,
		MarkedAt:    now,
		Notes:       notes,
	}
	if err := s.SaveAttendance(ctx, a); err != nil {
		return nil, err
	}
	s.log.Debug("Attendance marked", map[string]interface{}{
		"class":   classID,
		"student": studentID,
		"status":  string(status),
	})
	return a, nil
}

// GetAttendance returns the attendance mark with id, if present.
func (s *TeacherService) GetAttendance(ctx context.Context, id string) (*models.Attendance, bool, error) {
	return get(ctx, &s.base, s.cat.Attendance, id)
}

// GetAttendanceByClass lists a class's marks, restricted to date's calendar
// day when date is non-nil.
func (s *TeacherService) GetAttendanceByClass(ctx context.Context, classID string, date *time.Time) ([]*models.Attendance, error) {
	records, err := byIndex(ctx, &s.base, s.cat.Attendance, "by-class", classID)
	if err != nil || date == nil {
		return records, err
	}
	start, end := dayBounds(*date)
	out := records[:0]
	for _, r := range records {
		if !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetAttendanceByStudent lists a student's marks.
func (s *TeacherService) GetAttendanceByStudent(ctx context.Context, studentID string) ([]*models.Attendance, error) {
	return byIndex(ctx, &s.base, s.cat.Attendance, "by-student", studentID)
}

// UnsyncedAttendance lists marks not yet confirmed by the remote.
func (s *TeacherService) UnsyncedAttendance(ctx context.Context) ([]*models.Attendance, error) {
	return byIndex(ctx, &s.base, s.cat.Attendance, "by-synced", false)
}

// =====================================================
// Scores
// =====================================================

// SaveScore creates or overwrites a score. Percentage and grade are derived
// from the marks.
func (s *TeacherService) SaveScore(ctx context.Context, sc *models.Score) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sc == nil {
		return errors.New(errors.ErrInvalid, "score is nil")
	}
	if err := checkMarks(sc.ObtainedMarks, sc.MaxMarks); err != nil {
		return err
	}
	s.ensureID(&sc.ID, models.KindScore)
	sc.Percentage = models.Percentage(sc.ObtainedMarks, sc.MaxMarks)
	sc.Grade = models.GradeFor(sc.Percentage)
	if sc.GradedAt.IsZero() {
		sc.GradedAt = s.now()
	}
	if err := s.opts.Validator.Struct("score", sc); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Scores, sc, false)
	return err
}

// RecordScore grades a student's assignment. The student must exist; the
// assignment name and class subject are filled in when known.
func (s *TeacherService) RecordScore(ctx context.Context, studentID, classID, assignmentID string, marks, maxMarks float64, remarks string) (*models.Score, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := checkMarks(marks, maxMarks); err != nil {
		return nil, err
	}
	student, ok, err := s.cat.Students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("student", studentID)
	}

	sc := &models.Score{
		StudentID:      studentID,
		StudentName:    student.Name,
		ClassID:        classID,
		AssignmentID:   assignmentID,
		AssignmentName: "Assignment",
		ExamType:       models.ExamAssignment,
		Subject:        "General",
		MaxMarks:       maxMarks,
		ObtainedMarks:  marks,
		Remarks:        remarks,
		GradedBy:       s.opts.TeacherID,
	}
	if assignmentID != "" {
		if as, ok, err := s.cat.Assignments.Get(ctx, assignmentID); err != nil {
			return nil, err
		} else if ok {
			sc.AssignmentName = as.Title
		}
	}
	if class, ok, err := s.cat.Classes.Get(ctx, classID); err != nil {
		return nil, err
	} else if ok && class.Subject != "" {
		sc.Subject = class.Subject
	}

	if err := s.SaveScore(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// GetScore returns the score with id, if present.
func (s *TeacherService) GetScore(ctx context.Context, id string) (*models.Score, bool, error) {
	return get(ctx, &s.base, s.cat.Scores, id)
}

// GetScoresByStudent lists a student's scores.
func (s *TeacherService) GetScoresByStudent(ctx context.Context, studentID string) ([]*models.Score, error) {
	return byIndex(ctx, &s.base, s.cat.Scores, "by-student", studentID)
}

// GetScoresByClass lists a class's scores.
func (s *TeacherService) GetScoresByClass(ctx context.Context, classID string) ([]*models.Score, error) {
	return byIndex(ctx, &s.base, s.cat.Scores, "by-class", classID)
}

// GetScoresByAssignment lists the scores given for an assignment.
func (s *TeacherService) GetScoresByAssignment(ctx context.Context, assignmentID string) ([]*models.Score, error) {
	return byIndex(ctx, &s.base, s.cat.Scores, "by-assignment", assignmentID)
}

// UnsyncedScores lists scores not yet confirmed by the remote.
func (s *TeacherService) UnsyncedScores(ctx context.Context) ([]*models.Score, error) {
	return byIndex(ctx, &s.base, s.cat.Scores, "by-synced", false)
}

// =====================================================
// Assignments
// =====================================================

// SaveAssignment creates or overwrites an assignment.
func (s *TeacherService) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	return s.saveAssignment(ctx, a, false)
}

// UpdateAssignment overwrites an existing assignment; NOT_FOUND otherwise.
func (s *TeacherService) UpdateAssignment(ctx context.Context, a *models.Assignment) error {
	return s.saveAssignment(ctx, a, true)
}

func (s *TeacherService) saveAssignment(ctx context.Context, a *models.Assignment, update bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if a == nil {
		return errors.New(errors.ErrInvalid, "assignment is nil")
	}
	if !update {
		s.ensureID(&a.ID, models.KindAssignment)
	}
	if a.TeacherID == "" {
		a.TeacherID = s.opts.TeacherID
	}
	if err := s.opts.Validator.Struct("assignment", a); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Assignments, a, update)
	return err
}

// PublishAssignment marks an assignment published. NOT_FOUND when absent.
func (s *TeacherService) PublishAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	a, ok, err := s.cat.Assignments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("assignment", id)
	}
	now := s.now()
	a.IsPublished = true
	a.PublishedAt = &now
	if err := s.UpdateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAssignment returns the assignment with id, if present.
func (s *TeacherService) GetAssignment(ctx context.Context, id string) (*models.Assignment, bool, error) {
	return get(ctx, &s.base, s.cat.Assignments, id)
}

// GetAssignmentsByClass lists a class's assignments.
func (s *TeacherService) GetAssignmentsByClass(ctx context.Context, classID string) ([]*models.Assignment, error) {
	return byIndex(ctx, &s.base, s.cat.Assignments, "by-class", classID)
}

// GetAssignmentsByTeacher lists the assignments a teacher set.
func (s *TeacherService) GetAssignmentsByTeacher(ctx context.Context, teacherID string) ([]*models.Assignment, error) {
	return byIndex(ctx, &s.base, s.cat.Assignments, "by-teacher", teacherID)
}

// UnsyncedAssignments lists assignments not yet confirmed by the remote.
func (s *TeacherService) UnsyncedAssignments(ctx context.Context) ([]*models.Assignment, error) {
	return byIndex(ctx, &s.base, s.cat.Assignments, "by-synced", false)
}

// =====================================================
// Submissions
// =====================================================

// SaveSubmission creates or overwrites a submission.
func (s *TeacherService) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sub == nil {
		return errors.New(errors.ErrInvalid, "submission is nil")
	}
	s.ensureID(&sub.ID, models.KindSubmission)
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionSubmitted
	}
	if err := s.opts.Validator.Struct("submission", sub); err != nil {
		return err
	}
	_, err := writeTx(ctx, &s.base, s.cat.Submissions, sub, false)
	return err
}

// GradeSubmission sets a submission's grade and feedback and marks it
// graded. NOT_FOUND when absent.
func (s *TeacherService) GradeSubmission(ctx context.Context, id string, grade float64, feedback string) (*models.Submission, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sub, ok, err := s.cat.Submissions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("submission", id)
	}
	if as, ok, err := s.cat.Assignments.Get(ctx, sub.AssignmentID); err != nil {
		return nil, err
	} else if ok {
		if err := checkMarks(grade, as.MaxMarks); err != nil {
			return nil, err
		}
	}
	sub.Grade = &grade
	sub.Feedback = feedback
	sub.Status = models.SubmissionGraded
	if err := s.SaveSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubmission returns the submission with id, if present.
func (s *TeacherService) GetSubmission(ctx context.Context, id string) (*models.Submission, bool, error) {
	return get(ctx, &s.base, s.cat.Submissions, id)
}

// GetSubmissionsByAssignment lists the hand-ins for an assignment.
func (s *TeacherService) GetSubmissionsByAssignment(ctx context.Context, assignmentID string) ([]*models.Submission, error) {
	return byIndex(ctx, &s.base, s.cat.Submissions, "by-assignment", assignmentID)
}

// GetSubmissionsByStudent lists a student's hand-ins.
func (s *TeacherService) GetSubmissionsByStudent(ctx context.Context, studentID string) ([]*models.Submission, error) {
	return byIndex(ctx, &s.base, s.cat.Submissions, "by-student", studentID)
}

// UnsyncedSubmissions lists submissions not yet confirmed by the remote.
func (s *TeacherService) UnsyncedSubmissions(ctx context.Context) ([]*models.Submission, error) {
	return byIndex(ctx, &s.base, s.cat.Submissions, "by-synced", false)
}

// =====================================================
// Dashboard
// =====================================================

// DashboardStats summarises a teacher's workload.
type DashboardStats struct {
	TotalStudents      int `json:"totalStudents"`
	TotalClasses       int `json:"totalClasses"`
	TodayAttendance    int `json:"todayAttendance"`
	PendingAssignments int `json:"pendingAssignments"`
	UnsyncedRecords    int `json:"unsyncedRecords"`
}

// DashboardStats counts students, the teacher's classes, today's marks in
// those classes, unpublished assignments and unsynced records.
func (s *TeacherService) DashboardStats(ctx context.Context, teacherID string) (*DashboardStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	stats := &DashboardStats{}

	var err error
	if stats.TotalStudents, err = s.cat.Students.Count(ctx); err != nil {
		return nil, err
	}
	classes, err := s.GetClassesByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	stats.TotalClasses = len(classes)

	today := s.now()
	for _, c := range classes {
		marks, err := s.GetAttendanceByClass(ctx, c.ID, &today)
		if err != nil {
			return nil, err
		}
		stats.TodayAttendance += len(marks)
	}

	if stats.PendingAssignments, err = s.cat.Assignments.CountByIndex(ctx, "by-published", false); err != nil {
		return nil, err
	}
	for _, kind := range []models.Kind{models.KindAttendance, models.KindScore, models.KindAssignment, models.KindSubmission} {
		n, err := s.cat.UnsyncedCount(ctx, kind)
		if err != nil {
			return nil, err
		}
		stats.UnsyncedRecords += n
	}
	return stats, nil
}

// PendingRecords returns the number of queue items awaiting a drain.
func (s *TeacherService) PendingRecords(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.queue.PendingCount(ctx)
}
