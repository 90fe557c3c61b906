package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

type ExamRecord struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	SubjectID       int64      `json:"subject_id"`
	SubjectName     string     `json:"subject_name,omitempty"`
	ClassID         int64      `json:"class_id"`
	Chapter         string     `json:"chapter,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Status          string     `json:"status"`
	MaxAttempts     int        `json:"max_attempts"`
	AttemptsTaken   int        `json:"attempts_taken"`
	QuestionCount   int        `json:"question_count"`
	TotalPoints     int        `json:"total_points"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
}

type CreateExamInput struct {
	Title           string
	SubjectID       int64
	ClassID         int64
	Chapter         string
	DurationMinutes int
	StartAt         *time.Time
	EndAt           *time.Time
	MaxAttempts     int
	CreatedBy       int64
}

type UpdateExamInput struct {
	ID              int64
	Title           string
	SubjectID       int64
	ClassID         int64
	Chapter         string
	DurationMinutes int
	StartAt         *time.Time
	EndAt           *time.Time
	MaxAttempts     int
}

type QuestionRef struct {
	QuestionID int64 `json:"question_id"`
	SeqNo      int   `json:"seq_no"`
}

type ExamQuestionItem struct {
	QuestionID int64  `json:"question_id"`
	SeqNo      int    `json:"seq_no"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Points     int    `json:"points"`
	Difficulty string `json:"difficulty"`
}

// StatusAt derives the lifecycle status of an exam from its schedule
// window. Transitions are monotonic and purely time-driven; an exam with no
// window stays a draft.
func StatusAt(startAt, endAt *time.Time, now time.Time) string {
	if startAt == nil || endAt == nil {
		return StatusDraft
	}
	if now.Before(*startAt) {
		return StatusScheduled
	}
	if now.After(*endAt) {
		return StatusCompleted
	}
	return StatusActive
}

func (s *Service) CreateExam(ctx context.Context, in CreateExamInput) (*ExamRecord, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.SubjectID <= 0 || in.ClassID <= 0 {
		return nil, ErrInvalidInput
	}
	if in.StartAt != nil && in.EndAt != nil && in.EndAt.Before(*in.StartAt) {
		return nil, ErrInvalidInput
	}
	if in.DurationMinutes <= 0 {
		in.DurationMinutes = s.defaultExamMinutes
	}
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = s.defaultMaxAttempts
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (
			title, subject_id, class_id, chapter, duration_minutes,
			start_at, end_at, max_attempts, created_by, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, $8, $9, TRUE, now(), now())
		RETURNING id
	`, title, in.SubjectID, in.ClassID, strings.TrimSpace(in.Chapter), in.DurationMinutes,
		in.StartAt, in.EndAt, in.MaxAttempts, in.CreatedBy).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}

	return s.GetExam(ctx, id)
}

func (s *Service) UpdateExam(ctx context.Context, in UpdateExamInput) (*ExamRecord, error) {
	title := strings.TrimSpace(in.Title)
	if in.ID <= 0 || title == "" || in.SubjectID <= 0 || in.ClassID <= 0 {
		return nil, ErrInvalidInput
	}
	if in.StartAt != nil && in.EndAt != nil && in.EndAt.Before(*in.StartAt) {
		return nil, ErrInvalidInput
	}
	if in.DurationMinutes <= 0 {
		in.DurationMinutes = s.defaultExamMinutes
	}
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = s.defaultMaxAttempts
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET title = $2,
			subject_id = $3,
			class_id = $4,
			chapter = NULLIF($5,''),
			duration_minutes = $6,
			start_at = $7,
			end_at = $8,
			max_attempts = $9,
			updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, in.ID, title, in.SubjectID, in.ClassID, strings.TrimSpace(in.Chapter),
		in.DurationMinutes, in.StartAt, in.EndAt, in.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrExamNotFound
	}

	return s.GetExam(ctx, in.ID)
}

func (s *Service) DeleteExam(ctx context.Context, examID int64) error {
	if examID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active = TRUE
	`, examID)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrExamNotFound
	}
	return nil
}

func (s *Service) GetExam(ctx context.Context, examID int64) (*ExamRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			e.id, e.title, e.subject_id, COALESCE(sub.name, ''), e.class_id,
			COALESCE(e.chapter, ''), e.duration_minutes, e.start_at, e.end_at,
			e.max_attempts, COALESCE(e.created_by, 0), e.created_at,
			(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id),
			COALESCE((SELECT SUM(q.points) FROM exam_questions eq JOIN questions q ON q.id = eq.question_id WHERE eq.exam_id = e.id), 0),
			(SELECT COUNT(*) FROM attempts a WHERE a.exam_id = e.id)
		FROM exams e
		LEFT JOIN subjects sub ON sub.id = e.subject_id
		WHERE e.id = $1 AND e.is_active = TRUE
	`, examID)

	rec, err := scanExamRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return rec, nil
}

// ListExams returns staff-facing exam records, newest first.
func (s *Service) ListExams(ctx context.Context, classID int64) ([]ExamRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			e.id, e.title, e.subject_id, COALESCE(sub.name, ''), e.class_id,
			COALESCE(e.chapter, ''), e.duration_minutes, e.start_at, e.end_at,
			e.max_attempts, COALESCE(e.created_by, 0), e.created_at,
			(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id),
			COALESCE((SELECT SUM(q.points) FROM exam_questions eq JOIN questions q ON q.id = eq.question_id WHERE eq.exam_id = e.id), 0),
			(SELECT COUNT(*) FROM attempts a WHERE a.exam_id = e.id)
		FROM exams e
		LEFT JOIN subjects sub ON sub.id = e.subject_id
		WHERE e.is_active = TRUE
		  AND ($1 = 0 OR e.class_id = $1)
		ORDER BY e.id DESC
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	out := make([]ExamRecord, 0)
	for rows.Next() {
		rec, err := scanExamRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

// ListAvailableExams returns the scheduled and active exams for a student's
// class, with the student's own attempt usage in AttemptsTaken.
func (s *Service) ListAvailableExams(ctx context.Context, classID, studentID int64) ([]ExamRecord, error) {
	if classID <= 0 {
		return []ExamRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			e.id, e.title, e.subject_id, COALESCE(sub.name, ''), e.class_id,
			COALESCE(e.chapter, ''), e.duration_minutes, e.start_at, e.end_at,
			e.max_attempts, COALESCE(e.created_by, 0), e.created_at,
			(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id),
			COALESCE((SELECT SUM(q.points) FROM exam_questions eq JOIN questions q ON q.id = eq.question_id WHERE eq.exam_id = e.id), 0),
			(SELECT COUNT(*) FROM attempts a WHERE a.exam_id = e.id AND a.student_id = $2)
		FROM exams e
		LEFT JOIN subjects sub ON sub.id = e.subject_id
		WHERE e.is_active = TRUE
		  AND e.class_id = $1
		  AND e.start_at IS NOT NULL
		  AND e.end_at IS NOT NULL
		  AND e.end_at > now()
		ORDER BY e.start_at
	`, classID, studentID)
	if err != nil {
		return nil, fmt.Errorf("query available exams: %w", err)
	}
	defer rows.Close()

	out := make([]ExamRecord, 0)
	for rows.Next() {
		rec, err := scanExamRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *Service) ListExamQuestions(ctx context.Context, examID int64) ([]ExamQuestionItem, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.question_id, eq.seq_no, q.text, q.question_type, q.points, q.difficulty
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.seq_no
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam questions: %w", err)
	}
	defer rows.Close()

	out := make([]ExamQuestionItem, 0)
	for rows.Next() {
		var item ExamQuestionItem
		if err := rows.Scan(&item.QuestionID, &item.SeqNo, &item.Text, &item.Type, &item.Points, &item.Difficulty); err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam questions: %w", err)
	}
	return out, nil
}

// ReplaceExamQuestions swaps the exam's ordered question list in one
// transaction. Sequence numbers are reassigned from the given order.
func (s *Service) ReplaceExamQuestions(ctx context.Context, examID int64, refs []QuestionRef) ([]ExamQuestionItem, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}
	normalized, err := normalizeQuestionRefs(refs)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace questions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, examID); err != nil {
		return nil, fmt.Errorf("clear exam questions: %w", err)
	}

	for _, ref := range normalized {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (exam_id, question_id, seq_no)
			SELECT $1, q.id, $3
			FROM questions q
			WHERE q.id = $2 AND q.status = 'Active'
		`, examID, ref.QuestionID, ref.SeqNo)
		if err != nil {
			return nil, fmt.Errorf("insert exam question: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil, ErrQuestionNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace questions: %w", err)
	}

	return s.ListExamQuestions(ctx, examID)
}

// normalizeQuestionRefs fills in missing sequence numbers from list order
// and rejects duplicate question ids or sequence numbers, which the stored
// roster keeps unique per exam.
func normalizeQuestionRefs(refs []QuestionRef) ([]QuestionRef, error) {
	seenQ := make(map[int64]struct{}, len(refs))
	seenSeq := make(map[int]struct{}, len(refs))
	out := make([]QuestionRef, 0, len(refs))
	for i, ref := range refs {
		if ref.QuestionID <= 0 {
			return nil, ErrInvalidInput
		}
		seq := ref.SeqNo
		if seq <= 0 {
			seq = i + 1
		}
		if _, dup := seenQ[ref.QuestionID]; dup {
			return nil, fmt.Errorf("%w: duplicate question %d", ErrInvalidInput, ref.QuestionID)
		}
		if _, dup := seenSeq[seq]; dup {
			return nil, fmt.Errorf("%w: duplicate sequence number %d", ErrInvalidInput, seq)
		}
		seenQ[ref.QuestionID] = struct{}{}
		seenSeq[seq] = struct{}{}
		out = append(out, QuestionRef{QuestionID: ref.QuestionID, SeqNo: seq})
	}
	return out, nil
}

type examRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExamRecord(row examRowScanner) (*ExamRecord, error) {
	var (
		rec     ExamRecord
		chapter string
		startAt sql.NullTime
		endAt   sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.SubjectID, &rec.SubjectName, &rec.ClassID,
		&chapter, &rec.DurationMinutes, &startAt, &endAt,
		&rec.MaxAttempts, &rec.CreatedBy, &rec.CreatedAt,
		&rec.QuestionCount, &rec.TotalPoints, &rec.AttemptsTaken,
	)
	if err != nil {
		return nil, err
	}
	rec.Chapter = chapter
	if startAt.Valid {
		rec.StartAt = &startAt.Time
	}
	if endAt.Valid {
		rec.EndAt = &endAt.Time
	}
	rec.Status = StatusAt(rec.StartAt, rec.EndAt, time.Now())
	return &rec, nil
}
