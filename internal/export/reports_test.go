package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
	"github.com/nabhalearn/edusync/internal/schema"
	"github.com/nabhalearn/edusync/internal/services"
	"github.com/nabhalearn/edusync/internal/sync/queue"
)

func seedClass(t *testing.T, cat *schema.Catalog) {
	t.Helper()
	ctx := context.Background()
	for _, st := range []*models.Student{
		{ID: "s2", RollNumber: "02", Name: "Ben", ClassID: "c1"},
		{ID: "s1", RollNumber: "01", Name: "Asha", ClassID: "c1"},
		{ID: "s3", RollNumber: "01", Name: "Other", ClassID: "c2"},
	} {
		require.NoError(t, cat.Students.Put(ctx, st))
	}
}

func openWorkbook(t *testing.T, buf *bytes.Buffer) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// =====================================================
// Attendance Report Tests
// =====================================================

func TestAttendanceReport(t *testing.T) {
	cat := openCatalog(t)
	seedClass(t, cat)
	ctx := context.Background()

	d1 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, a := range []*models.Attendance{
		{ID: "a1", ClassID: "c1", StudentID: "s1", StudentName: "Asha", Date: d1, Status: models.StatusPresent},
		{ID: "a2", ClassID: "c1", StudentID: "s1", StudentName: "Asha", Date: d2, Status: models.StatusLate},
		{ID: "a3", ClassID: "c1", StudentID: "s2", StudentName: "Ben", Date: d1, Status: models.StatusAbsent},
		{ID: "a4", ClassID: "c2", StudentID: "s3", StudentName: "Other", Date: d1, Status: models.StatusPresent},
	} {
		require.NoError(t, cat.Attendance.Put(ctx, a))
	}

	var buf bytes.Buffer
	require.NoError(t, newTestService(t, cat).AttendanceReport(ctx, "c1", &buf))

	rows, err := openWorkbook(t, &buf).GetRows(AttendanceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"Roll Number", "Student", "2026-03-09", "2026-03-10", "Present", "Absent", "Late", "Excused", "Attendance %"}, rows[0])
	assert.Equal(t, []string{"01", "Asha", "P", "L", "1", "0", "1", "0", "100"}, rows[1])
	assert.Equal(t, []string{"02", "Ben", "A", "", "0", "1", "0", "0", "0"}, rows[2])
}

func TestAttendanceReport_unrosteredStudentIsListed(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.Attendance.Put(ctx, &models.Attendance{
		ID: "a1", ClassID: "c9", StudentID: "gone", StudentName: "Former Student",
		Date: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), Status: models.StatusExcused,
	}))

	var buf bytes.Buffer
	require.NoError(t, newTestService(t, cat).AttendanceReport(ctx, "c9", &buf))

	rows, err := openWorkbook(t, &buf).GetRows(AttendanceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Former Student", rows[1][1])
	assert.Equal(t, "E", rows[1][2])
}

func TestReports_requireClassID(t *testing.T) {
	s := newTestService(t, openCatalog(t))
	var buf bytes.Buffer
	assert.True(t, errors.Is(s.AttendanceReport(context.Background(), "", &buf), errors.ErrValidation))
	assert.True(t, errors.Is(s.ScoreReport(context.Background(), "", &buf), errors.ErrValidation))
}

// =====================================================
// Score Report Tests
// =====================================================

func TestScoreReport(t *testing.T) {
	cat := openCatalog(t)
	seedClass(t, cat)
	ctx := context.Background()

	graded := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, sc := range []*models.Score{
		{ID: "sc2", StudentID: "s1", ClassID: "c1", AssignmentName: "Roots", ExamType: models.ExamQuiz,
			MaxMarks: 100, ObtainedMarks: 90, Percentage: 90, Grade: "A+", GradedAt: graded.Add(time.Hour)},
		{ID: "sc1", StudentID: "s1", ClassID: "c1", AssignmentName: "Plants", ExamType: models.ExamAssignment,
			MaxMarks: 100, ObtainedMarks: 80, Percentage: 80, Grade: "A", GradedAt: graded},
		{ID: "sc3", StudentID: "s3", ClassID: "c2", AssignmentName: "Other", ExamType: models.ExamQuiz,
			MaxMarks: 10, ObtainedMarks: 1, Percentage: 10, Grade: "F", GradedAt: graded},
	} {
		require.NoError(t, cat.Scores.Put(ctx, sc))
	}

	var buf bytes.Buffer
	require.NoError(t, newTestService(t, cat).ScoreReport(ctx, "c1", &buf))
	f := openWorkbook(t, &buf)

	scores, err := f.GetRows(ScoresSheet)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, "Assignment", scores[0][2])
	assert.Equal(t, []string{"01", "Asha", "Plants", "assignment", "80", "100", "80", "A"}, scores[1][:8])
	assert.Equal(t, "Roots", scores[2][2])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"01", "Asha", "2", "85", "A"}, summary[1])
	assert.Equal(t, []string{"02", "Ben", "0"}, summary[2])
}

// =====================================================
// Roster Import Tests
// =====================================================

func rosterWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportRoster(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()
	log := logging.Discard()
	q, err := queue.New(ctx, cat.SyncQueue, queue.Options{Logger: log})
	require.NoError(t, err)
	teacher, err := services.NewTeacherService(cat, q, services.Options{TeacherID: "t1", Logger: log})
	require.NoError(t, err)

	buf := rosterWorkbook(t, [][]interface{}{
		{"Roll", "Name", "Email", "Phone", "Parent", "Parent Phone"},
		{"01", "Asha", "asha@example.com", "555-0101", "Ravi", "555-0100"},
		{"02", ""},
		{"03", "Ben", "not-an-email"},
		{" 04 ", " Chidi "},
	})

	result, err := ImportRoster(ctx, teacher, "c1", buf, log)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, []int{3, 4}, result.Skipped)

	students, err := teacher.GetStudentsByClass(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	names := []string{students[0].Name, students[1].Name}
	assert.ElementsMatch(t, []string{"Asha", "Chidi"}, names)

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestImportRoster_badInput(t *testing.T) {
	_, err := ImportRoster(context.Background(), nil, "c1", bytes.NewReader(nil), logging.Discard())
	assert.True(t, errors.Is(err, errors.ErrNotReady))

	saver := saverFunc(func(context.Context, *models.Student) error { return nil })
	_, err = ImportRoster(context.Background(), saver, "", bytes.NewReader(nil), logging.Discard())
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = ImportRoster(context.Background(), saver, "c1", bytes.NewReader([]byte("not a workbook")), logging.Discard())
	assert.True(t, errors.Is(err, errors.ErrImportFailed))
}

type saverFunc func(context.Context, *models.Student) error

func (f saverFunc) SaveStudent(ctx context.Context, st *models.Student) error { return f(ctx, st) }
