package export

import (
	"context"
	"io"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
)

// Sheet names of the generated workbooks.
const (
	AttendanceSheet = "Attendance"
	ScoresSheet     = "Scores"
	SummarySheet    = "Summary"
)

const reportDateLayout = "2006-01-02"

var statusCodes = map[models.AttendanceStatus]string{
	models.StatusPresent: "P",
	models.StatusAbsent:  "A",
	models.StatusLate:    "L",
	models.StatusExcused: "E",
}

// reportRow is one student line of a report.
type reportRow struct {
	id   string
	roll string
	name string
}

// roster returns the class roster ordered by roll number, then name.
// Students that only appear in records are appended in name order.
func (s *ExportService) roster(ctx context.Context, classID string, extra map[string]string) ([]reportRow, error) {
	students, err := s.cat.Students.GetAllByIndex(ctx, "by-class", classID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].RollNumber != students[j].RollNumber {
			return students[i].RollNumber < students[j].RollNumber
		}
		return students[i].Name < students[j].Name
	})

	rows := make([]reportRow, 0, len(students)+len(extra))
	seen := make(map[string]bool, len(students))
	for _, st := range students {
		rows = append(rows, reportRow{id: st.ID, roll: st.RollNumber, name: st.Name})
		seen[st.ID] = true
	}

	var orphans []reportRow
	for id, name := range extra {
		if !seen[id] {
			orphans = append(orphans, reportRow{id: id, name: name})
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].name != orphans[j].name {
			return orphans[i].name < orphans[j].name
		}
		return orphans[i].id < orphans[j].id
	})
	return append(rows, orphans...), nil
}

// AttendanceReport writes an XLSX workbook with one row per student of the
// class, one column per marked day holding P/A/L/E, status totals and the
// attendance rate. Late counts as attended.
func (s *ExportService) AttendanceReport(ctx context.Context, classID string, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}
	if classID == "" {
		return errors.New(errors.ErrValidation, "class id is required")
	}

	records, err := s.cat.Attendance.GetAllByIndex(ctx, "by-class", classID)
	if err != nil {
		return err
	}

	dateSet := make(map[string]bool)
	marks := make(map[string]map[string]models.AttendanceStatus)
	names := make(map[string]string)
	for _, a := range records {
		day := a.Date.Format(reportDateLayout)
		dateSet[day] = true
		if marks[a.StudentID] == nil {
			marks[a.StudentID] = make(map[string]models.AttendanceStatus)
		}
		marks[a.StudentID][day] = a.Status
		names[a.StudentID] = a.StudentName
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	students, err := s.roster(ctx, classID, names)
	if err != nil {
		return err
	}

	header := []interface{}{"Roll Number", "Student"}
	for _, d := range dates {
		header = append(header, d)
	}
	header = append(header, "Present", "Absent", "Late", "Excused", "Attendance %")

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", AttendanceSheet); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "name sheet", err)
	}
	if err := writeHeader(f, AttendanceSheet, header); err != nil {
		return err
	}

	for i, st := range students {
		row := []interface{}{st.roll, st.name}
		counts := make(map[models.AttendanceStatus]int)
		for _, d := range dates {
			status, ok := marks[st.id][d]
			if !ok {
				row = append(row, "")
				continue
			}
			counts[status]++
			row = append(row, statusCodes[status])
		}
		present, absent := counts[models.StatusPresent], counts[models.StatusAbsent]
		late, excused := counts[models.StatusLate], counts[models.StatusExcused]
		rate := 0.0
		if marked := present + absent + late + excused; marked > 0 {
			rate = round(float64(present+late) * 100 / float64(marked))
		}
		row = append(row, present, absent, late, excused, rate)

		if err := writeRow(f, AttendanceSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(AttendanceSheet, "B", "B", 24); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "size columns", err)
	}
	return s.writeWorkbook(f, w, "attendance", classID, len(students))
}

// ScoreReport writes an XLSX workbook with every score of the class on one
// sheet and a per-student average with its grade on a second sheet.
func (s *ExportService) ScoreReport(ctx context.Context, classID string, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}
	if classID == "" {
		return errors.New(errors.ErrValidation, "class id is required")
	}

	scores, err := s.cat.Scores.GetAllByIndex(ctx, "by-class", classID)
	if err != nil {
		return err
	}
	byStudent := make(map[string][]*models.Score)
	names := make(map[string]string)
	for _, sc := range scores {
		byStudent[sc.StudentID] = append(byStudent[sc.StudentID], sc)
		names[sc.StudentID] = sc.StudentName
	}

	students, err := s.roster(ctx, classID, names)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", ScoresSheet); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "name sheet", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "add summary sheet", err)
	}

	if err := writeHeader(f, ScoresSheet, []interface{}{
		"Roll Number", "Student", "Assignment", "Exam Type", "Obtained", "Max", "Percentage", "Grade", "Graded At",
	}); err != nil {
		return err
	}
	if err := writeHeader(f, SummarySheet, []interface{}{
		"Roll Number", "Student", "Scores", "Average %", "Grade",
	}); err != nil {
		return err
	}

	line := 2
	for i, st := range students {
		list := byStudent[st.id]
		sort.SliceStable(list, func(a, b int) bool { return list[a].GradedAt.Before(list[b].GradedAt) })

		total := 0.0
		for _, sc := range list {
			total += sc.Percentage
			if err := writeRow(f, ScoresSheet, line, []interface{}{
				st.roll, st.name, sc.AssignmentName, string(sc.ExamType),
				sc.ObtainedMarks, sc.MaxMarks, round(sc.Percentage), sc.Grade,
				sc.GradedAt.Format(time.RFC3339),
			}); err != nil {
				return err
			}
			line++
		}

		summary := []interface{}{st.roll, st.name, len(list)}
		if len(list) > 0 {
			avg := total / float64(len(list))
			summary = append(summary, round(avg), models.GradeFor(avg))
		}
		if err := writeRow(f, SummarySheet, i+2, summary); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(ScoresSheet, "B", "C", 24); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "size columns", err)
	}
	return s.writeWorkbook(f, w, "scores", classID, len(scores))
}

func (s *ExportService) writeWorkbook(f *excelize.File, w io.Writer, kind, classID string, rows int) error {
	if err := f.Write(w); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "write "+kind+" workbook", err)
	}
	s.log.Info("Report written", map[string]interface{}{
		"report":   kind,
		"class_id": classID,
		"rows":     rows,
	})
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []interface{}) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return errors.Wrap(errors.ErrExportFailed, "create header style", err)
	}
	if err := writeRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return errors.Wrap(errors.ErrExportFailed, "locate header", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "style header", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(errors.ErrExportFailed, "locate row", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrap(errors.ErrExportFailed, "write row", err)
	}
	return nil
}

// round keeps two decimals.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}
