package models

import "time"

// Student is a roster entry.
type Student struct {
	ID            string     `json:"id" validate:"required"`
	RollNumber    string     `json:"rollNumber" validate:"required"`
	Name          string     `json:"name" validate:"required"`
	Email         string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string     `json:"phone,omitempty"`
	ClassID       string     `json:"classId" validate:"required"`
	ClassName     string     `json:"className"`
	Section       string     `json:"section,omitempty"`
	ParentName    string     `json:"parentName,omitempty"`
	ParentPhone   string     `json:"parentPhone,omitempty"`
	Address       string     `json:"address,omitempty"`
	DateOfBirth   *time.Time `json:"dateOfBirth,omitempty"`
	AdmissionDate time.Time  `json:"admissionDate"`
	IsActive      bool       `json:"isActive"`
	ProfileImage  string     `json:"profileImage,omitempty"`
	Meta
}

func (s *Student) RecordKey() string { return s.ID }
func (*Student) PayloadKind() Kind   { return KindStudent }
func (Student) TableName() string    { return "students" }

// Weekday names accepted in a class schedule.
const (
	Monday    = "monday"
	Tuesday   = "tuesday"
	Wednesday = "wednesday"
	Thursday  = "thursday"
	Friday    = "friday"
	Saturday  = "saturday"
	Sunday    = "sunday"
)

// ClassSchedule is one weekly slot of a class.
type ClassSchedule struct {
	Day       string `json:"day" validate:"oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime string `json:"startTime" validate:"required"`
	EndTime   string `json:"endTime" validate:"required"`
	Room      string `json:"room,omitempty"`
}

// Class is a taught class section.
type Class struct {
	ID            string          `json:"id" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	Section       string          `json:"section,omitempty"`
	Subject       string          `json:"subject" validate:"required"`
	TeacherID     string          `json:"teacherId" validate:"required"`
	TeacherName   string          `json:"teacherName"`
	AcademicYear  string          `json:"academicYear"`
	Semester      string          `json:"semester,omitempty"`
	Schedule      []ClassSchedule `json:"schedule" validate:"dive"`
	TotalStudents int             `json:"totalStudents" validate:"gte=0"`
	IsActive      bool            `json:"isActive"`
	Meta
}

func (c *Class) RecordKey() string { return c.ID }
func (*Class) PayloadKind() Kind   { return KindClass }
func (Class) TableName() string    { return "classes" }

// AttendanceStatus is shared by class and lesson attendance.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
)

// Attendance is one student's mark for one class session.
type Attendance struct {
	ID          string           `json:"id" validate:"required"`
	ClassID     string           `json:"classId" validate:"required"`
	StudentID   string           `json:"studentId" validate:"required"`
	StudentName string           `json:"studentName"`
	Date        time.Time        `json:"date" validate:"required"`
	Status      AttendanceStatus `json:"status" validate:"oneof=present absent late excused"`
	MarkedBy    string           `json:"markedBy"`
	MarkedAt    time.Time        `json:"markedAt"`
	Notes       string           `json:"notes,omitempty"`
	Meta
}

func (a *Attendance) RecordKey() string { return a.ID }
func (*Attendance) PayloadKind() Kind   { return KindAttendance }
func (Attendance) TableName() string    { return "attendance" }

// ExamType classifies a score.
type ExamType string

const (
	ExamAssignment ExamType = "assignment"
	ExamQuiz       ExamType = "quiz"
	ExamMidterm    ExamType = "midterm"
	ExamFinal      ExamType = "final"
	ExamProject    ExamType = "project"
)

// Score is a graded result for one student.
type Score struct {
	ID             string    `json:"id" validate:"required"`
	StudentID      string    `json:"studentId" validate:"required"`
	StudentName    string    `json:"studentName"`
	ClassID        string    `json:"classId" validate:"required"`
	AssignmentID   string    `json:"assignmentId,omitempty"`
	AssignmentName string    `json:"assignmentName,omitempty"`
	ExamType       ExamType  `json:"examType" validate:"oneof=assignment quiz midterm final project"`
	Subject        string    `json:"subject"`
	MaxMarks       float64   `json:"maxMarks" validate:"gt=0"`
	ObtainedMarks  float64   `json:"obtainedMarks" validate:"gte=0,ltefield=MaxMarks"`
	Percentage     float64   `json:"percentage"`
	Grade          string    `json:"grade"`
	Remarks        string    `json:"remarks,omitempty"`
	GradedBy       string    `json:"gradedBy"`
	GradedAt       time.Time `json:"gradedAt"`
	Meta
}

func (s *Score) RecordKey() string { return s.ID }
func (*Score) PayloadKind() Kind   { return KindScore }
func (Score) TableName() string    { return "scores" }

// Percentage computes obtained as a share of max on a 0-100 scale.
func Percentage(obtained, max float64) float64 {
	return obtained * 100 / max
}

// GradeFor maps a percentage onto a letter grade.
func GradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B+"
	case percentage >= 60:
		return "B"
	case percentage >= 50:
		return "C"
	case percentage >= 40:
		return "D"
	default:
		return "F"
	}
}

// Attachment is a file or link attached to an assignment or a submission.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type" validate:"oneof=pdf doc docx image video link"`
	URL  string `json:"url" validate:"required"`
	Size int64  `json:"size,omitempty"`
}

// Assignment is homework set for a class.
type Assignment struct {
	ID               string       `json:"id" validate:"required"`
	Title            string       `json:"title" validate:"required"`
	Description      string       `json:"description"`
	ClassID          string       `json:"classId" validate:"required"`
	ClassName        string       `json:"className"`
	Subject          string       `json:"subject"`
	TeacherID        string       `json:"teacherId" validate:"required"`
	TeacherName      string       `json:"teacherName"`
	MaxMarks         float64      `json:"maxMarks" validate:"gt=0"`
	DueDate          time.Time    `json:"dueDate" validate:"required"`
	Instructions     string       `json:"instructions,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty" validate:"dive"`
	IsPublished      bool         `json:"isPublished"`
	PublishedAt      *time.Time   `json:"publishedAt,omitempty"`
	TotalSubmissions int          `json:"totalSubmissions" validate:"gte=0"`
	Meta
}

func (a *Assignment) RecordKey() string { return a.ID }
func (*Assignment) PayloadKind() Kind   { return KindAssignment }
func (Assignment) TableName() string    { return "assignments" }

// SubmissionStatus tracks a submission through grading.
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionGraded    SubmissionStatus = "graded"
	SubmissionReturned  SubmissionStatus = "returned"
)

// Submission is a student's hand-in for an assignment.
type Submission struct {
	ID               string           `json:"id" validate:"required"`
	AssignmentID     string           `json:"assignmentId" validate:"required"`
	StudentID        string           `json:"studentId" validate:"required"`
	StudentName      string           `json:"studentName"`
	ClassID          string           `json:"classId"`
	SubmittedAt      time.Time        `json:"submittedAt"`
	SubmittedContent string           `json:"submittedContent,omitempty"`
	Attachments      []Attachment     `json:"attachments,omitempty" validate:"dive"`
	IsLate           bool             `json:"isLate"`
	Status           SubmissionStatus `json:"status" validate:"oneof=submitted graded returned"`
	Grade            *float64         `json:"grade,omitempty" validate:"omitempty,gte=0"`
	Feedback         string           `json:"feedback,omitempty"`
	Meta
}

func (s *Submission) RecordKey() string { return s.ID }
func (*Submission) PayloadKind() Kind   { return KindSubmission }
func (Submission) TableName() string    { return "submissions" }
