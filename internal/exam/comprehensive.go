package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ComprehensiveView merges everything known about one finished attempt:
// the projected Result (when it exists), the attempt itself with its
// scored answers, exam metadata, and class-level per-question analytics.
// Optional sections are typed pointers or nil slices so callers can tell
// "absent" from "zero".
type ComprehensiveView struct {
	Source    string            `json:"source"`
	Result    *ResultSummary    `json:"result,omitempty"`
	Attempt   *Attempt          `json:"attempt,omitempty"`
	Exam      *ExamMeta         `json:"exam,omitempty"`
	Questions []QuestionInsight `json:"questions,omitempty"`
}

type ResultSummary struct {
	ID            int64     `json:"id"`
	ExamID        int64     `json:"exam_id"`
	StudentID     int64     `json:"student_id"`
	AttemptID     int64     `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	Marks         int       `json:"marks"`
	Percentage    int       `json:"percentage"`
	Grade         string    `json:"grade"`
	Feedback      string    `json:"feedback,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ExamMeta struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Subject         string `json:"subject,omitempty"`
	ClassName       string `json:"class_name,omitempty"`
	Chapter         string `json:"chapter,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
}

type QuestionInsight struct {
	QuestionID    int64  `json:"question_id"`
	SeqNo         int    `json:"seq_no"`
	Text          string `json:"text"`
	Type          string `json:"type"`
	Difficulty    string `json:"difficulty"`
	Points        int    `json:"points"`
	Answered      bool   `json:"answered"`
	Skipped       bool   `json:"skipped"`
	IsCorrect     bool   `json:"is_correct"`
	PointsAwarded int    `json:"points_awarded"`
	TimeSpentSecs int    `json:"time_spent_secs"`
	// Class-level success on this question across completed attempts.
	ClassAnswered    int `json:"class_answered"`
	ClassCorrectRate int `json:"class_correct_rate"`
}

// ComprehensiveAttempt resolves id first as a Result id and, failing that,
// as an attempt id, then assembles the merged view. Clients hold ids from
// both eras of the API, so both lookups are supported.
//
// Sections degrade independently: a missing Result, exam row, or analytics
// query leaves its field empty instead of failing the whole read. Only a
// completely unresolvable id is an error.
func (s *Service) ComprehensiveAttempt(ctx context.Context, id int64) (*ComprehensiveView, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	view := &ComprehensiveView{}

	res, err := s.resultByID(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var attemptID int64
	if res != nil {
		view.Source = "result"
		view.Result = res
		attemptID = res.AttemptID
	} else {
		view.Source = "attempt"
		attemptID = id
		if latest, lerr := s.latestResultForAttempt(ctx, attemptID); lerr == nil {
			view.Result = latest
		}
	}

	att, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) && view.Result == nil {
			return nil, ErrAttemptNotFound
		}
		// Result exists but the attempt row is gone; serve what we have.
	} else {
		view.Attempt = att
	}

	examID := int64(0)
	if view.Attempt != nil {
		examID = view.Attempt.ExamID
	} else if view.Result != nil {
		examID = view.Result.ExamID
	}
	if examID > 0 {
		if meta, merr := s.examMeta(ctx, examID); merr == nil {
			view.Exam = meta
		}
		if view.Attempt != nil {
			if insights, ierr := s.questionInsights(ctx, examID, view.Attempt); ierr == nil {
				view.Questions = insights
			}
		}
	}

	return view, nil
}

func (s *Service) resultByID(ctx context.Context, id int64) (*ResultSummary, error) {
	var r ResultSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, attempt_id, attempt_number,
			marks, percentage, grade, COALESCE(feedback, ''), created_at
		FROM results
		WHERE id = $1
	`, id).Scan(&r.ID, &r.ExamID, &r.StudentID, &r.AttemptID, &r.AttemptNumber,
		&r.Marks, &r.Percentage, &r.Grade, &r.Feedback, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	return &r, nil
}

func (s *Service) latestResultForAttempt(ctx context.Context, attemptID int64) (*ResultSummary, error) {
	var r ResultSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, attempt_id, attempt_number,
			marks, percentage, grade, COALESCE(feedback, ''), created_at
		FROM results
		WHERE attempt_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, attemptID).Scan(&r.ID, &r.ExamID, &r.StudentID, &r.AttemptID, &r.AttemptNumber,
		&r.Marks, &r.Percentage, &r.Grade, &r.Feedback, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Service) examMeta(ctx context.Context, examID int64) (*ExamMeta, error) {
	var m ExamMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.title,
			COALESCE(s.name, ''), COALESCE(c.name, ''),
			COALESCE(e.chapter, ''), e.duration_minutes
		FROM exams e
		LEFT JOIN subjects s ON s.id = e.subject_id
		LEFT JOIN classes c ON c.id = e.class_id
		WHERE e.id = $1
	`, examID).Scan(&m.ID, &m.Title, &m.Subject, &m.ClassName, &m.Chapter, &m.DurationMinutes)
	if err != nil {
		return nil, fmt.Errorf("load exam meta: %w", err)
	}
	return &m, nil
}

func (s *Service) questionInsights(ctx context.Context, examID int64, att *Attempt) ([]QuestionInsight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.question_id, eq.seq_no, q.text, q.question_type, q.difficulty, q.points,
			COUNT(aa.attempt_id) AS answered,
			COUNT(aa.attempt_id) FILTER (WHERE aa.is_correct) AS correct
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		LEFT JOIN attempt_answers aa ON aa.question_id = eq.question_id
			AND aa.attempt_id IN (
				SELECT id FROM attempts WHERE exam_id = $1 AND status = 'completed'
			)
		WHERE eq.exam_id = $1
		GROUP BY eq.question_id, eq.seq_no, q.text, q.question_type, q.difficulty, q.points
		ORDER BY eq.seq_no
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query question insights: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[int64]AnswerRecord, len(att.Answers))
	for _, a := range att.Answers {
		byQuestion[a.QuestionID] = a
	}

	out := make([]QuestionInsight, 0)
	for rows.Next() {
		var (
			qi       QuestionInsight
			answered int
			correct  int
		)
		if err := rows.Scan(&qi.QuestionID, &qi.SeqNo, &qi.Text, &qi.Type, &qi.Difficulty, &qi.Points,
			&answered, &correct); err != nil {
			return nil, fmt.Errorf("scan question insight: %w", err)
		}
		qi.ClassAnswered = answered
		if answered > 0 {
			qi.ClassCorrectRate = PercentageOf(correct, answered)
		}
		if own, ok := byQuestion[qi.QuestionID]; ok {
			qi.Answered = true
			qi.Skipped = own.Skipped
			qi.IsCorrect = own.IsCorrect
			qi.PointsAwarded = own.PointsAwarded
			qi.TimeSpentSecs = own.TimeSpentSecs
		}
		out = append(out, qi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question insights: %w", err)
	}
	return out, nil
}
