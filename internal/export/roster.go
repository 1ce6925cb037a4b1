package export

import (
	"context"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/models"
)

// StudentSaver is the part of the teacher façade a roster import needs.
type StudentSaver interface {
	SaveStudent(ctx context.Context, st *models.Student) error
}

// RosterResult reports a roster import.
type RosterResult struct {
	Imported int
	// Skipped lists 1-based sheet rows that were not imported.
	Skipped []int
}

// ImportRoster reads students for classID from the first sheet of an XLSX
// workbook and saves each through saver, so every student is queued for
// sync. Row 1 is a header. Columns: roll number, name, email, phone,
// parent name, parent phone. Rows without a roll number or name, and rows
// that fail validation, are skipped.
func ImportRoster(ctx context.Context, saver StudentSaver, classID string, r io.Reader, log *logging.Logger) (*RosterResult, error) {
	if saver == nil {
		return nil, errors.NotReady("roster import")
	}
	if classID == "" {
		return nil, errors.New(errors.ErrValidation, "class id is required")
	}
	if log == nil {
		log = logging.Get()
	}
	log = log.Named("roster")

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrImportFailed, "open workbook", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New(errors.ErrImportFailed, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrap(errors.ErrImportFailed, "read sheet "+sheet, err)
	}

	result := &RosterResult{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		st := &models.Student{
			RollNumber:  cell(row, 0),
			Name:        cell(row, 1),
			Email:       cell(row, 2),
			Phone:       cell(row, 3),
			ParentName:  cell(row, 4),
			ParentPhone: cell(row, 5),
			ClassID:     classID,
			IsActive:    true,
		}
		if st.RollNumber == "" || st.Name == "" {
			result.Skipped = append(result.Skipped, i+1)
			continue
		}

		if err := saver.SaveStudent(ctx, st); err != nil {
			if errors.Is(err, errors.ErrValidation) {
				log.Warn("Skipping invalid roster row", map[string]interface{}{"row": i + 1, "error": err.Error()})
				result.Skipped = append(result.Skipped, i+1)
				continue
			}
			return result, err
		}
		result.Imported++
	}

	log.Info("Roster imported", map[string]interface{}{
		"class_id": classID,
		"imported": result.Imported,
		"skipped":  len(result.Skipped),
	})
	return result, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
