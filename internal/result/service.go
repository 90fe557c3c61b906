package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"examhub/internal/exam"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrResultNotFound = errors.New("result not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Result struct {
	ID            int64      `json:"id"`
	ExamID        int64      `json:"exam_id"`
	ExamTitle     string     `json:"exam_title,omitempty"`
	SubjectName   string     `json:"subject_name,omitempty"`
	StudentID     int64      `json:"student_id"`
	StudentName   string     `json:"student_name,omitempty"`
	AttemptID     int64      `json:"attempt_id"`
	AttemptNumber int        `json:"attempt_number"`
	Marks         int        `json:"marks"`
	Percentage    int        `json:"percentage"`
	Grade         string     `json:"grade"`
	Feedback      string     `json:"feedback,omitempty"`
	GradedBy      *int64     `json:"graded_by,omitempty"`
	GradedAt      *time.Time `json:"graded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type GradeInput struct {
	ResultID int64
	ActorID  int64
	Marks    *int
	Feedback *string
}

const selectResult = `
	SELECT r.id, r.exam_id, COALESCE(e.title, ''), COALESCE(s.name, ''),
		r.student_id, COALESCE(u.full_name, ''),
		r.attempt_id, r.attempt_number, r.marks, r.percentage, r.grade,
		COALESCE(r.feedback, ''), r.graded_by, r.graded_at, r.created_at
	FROM results r
	LEFT JOIN exams e ON e.id = r.exam_id
	LEFT JOIN subjects s ON s.id = e.subject_id
	LEFT JOIN users u ON u.id = r.student_id
`

func (s *Service) ListStudentResults(ctx context.Context, studentID int64, limit, offset int) ([]Result, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, selectResult+`
		WHERE r.student_id = $1
		ORDER BY r.id DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query student results: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (s *Service) ListExamResults(ctx context.Context, examID int64) ([]Result, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, selectResult+`
		WHERE r.exam_id = $1
		ORDER BY r.marks DESC, r.id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam results: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (s *Service) GetResult(ctx context.Context, resultID int64) (*Result, error) {
	if resultID <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, selectResult+` WHERE r.id = $1`, resultID)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return res, nil
}

// GradeResult applies a manual review to a projected result. An explicit
// marks override recomputes the percentage against the attempt's max score
// and rederives the letter grade; feedback can be updated on its own.
// Descriptive questions score zero automatically, so this is how their
// points make it into the result.
func (s *Service) GradeResult(ctx context.Context, in GradeInput) (*Result, error) {
	if in.ResultID <= 0 || in.ActorID <= 0 {
		return nil, ErrInvalidInput
	}
	if in.Marks == nil && in.Feedback == nil {
		return nil, ErrInvalidInput
	}
	if in.Marks != nil && *in.Marks < 0 {
		return nil, ErrInvalidInput
	}
	if in.Feedback != nil && len(strings.TrimSpace(*in.Feedback)) > 2000 {
		return nil, fmt.Errorf("%w: feedback too long", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		marks    int
		maxScore int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT r.marks, COALESCE(a.max_score, 0)
		FROM results r
		LEFT JOIN attempts a ON a.id = r.attempt_id
		WHERE r.id = $1
		FOR UPDATE OF r
	`, in.ResultID).Scan(&marks, &maxScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("load result for grading: %w", err)
	}

	if in.Marks != nil {
		marks = *in.Marks
	}
	if maxScore <= 0 {
		maxScore = exam.DefaultTotalPoints
	}
	percentage := exam.PercentageOf(marks, maxScore)
	grade := exam.GradeForPercentage(percentage)

	if _, err := tx.ExecContext(ctx, `
		UPDATE results
		SET marks = $2,
			percentage = $3,
			grade = $4,
			feedback = COALESCE($5, feedback),
			graded_by = $6,
			graded_at = now()
		WHERE id = $1
	`, in.ResultID, marks, percentage, grade, in.Feedback, in.ActorID); err != nil {
		return nil, fmt.Errorf("update result grade: %w", err)
	}

	// The attempt row is left untouched: a completed attempt records what
	// the auto-scorer saw, while the Result carries the reviewed grade.

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade: %w", err)
	}

	return s.GetResult(ctx, in.ResultID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		res      Result
		gradedBy sql.NullInt64
		gradedAt sql.NullTime
	)
	if err := row.Scan(&res.ID, &res.ExamID, &res.ExamTitle, &res.SubjectName,
		&res.StudentID, &res.StudentName,
		&res.AttemptID, &res.AttemptNumber, &res.Marks, &res.Percentage, &res.Grade,
		&res.Feedback, &gradedBy, &gradedAt, &res.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	if gradedBy.Valid {
		res.GradedBy = &gradedBy.Int64
	}
	if gradedAt.Valid {
		res.GradedAt = &gradedAt.Time
	}
	return &res, nil
}

func collectResults(rows *sql.Rows) ([]Result, error) {
	out := make([]Result, 0)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
