package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examhub/internal/exam"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExamNotFound = errors.New("exam not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ExamSummary aggregates the completed attempts of one exam for the
// teacher dashboard.
type ExamSummary struct {
	ExamID             int64          `json:"exam_id"`
	Title              string         `json:"title"`
	Participants       int            `json:"participants"`
	AverageScore       float64        `json:"average_score"`
	AveragePercentage  float64        `json:"average_percentage"`
	HighestScore       int            `json:"highest_score"`
	LowestScore        int            `json:"lowest_score"`
	AverageTimeSecs    int            `json:"average_time_secs"`
	RatingDistribution map[string]int `json:"rating_distribution"`
}

type QuestionStat struct {
	QuestionID      int64  `json:"question_id"`
	SeqNo           int    `json:"seq_no"`
	Text            string `json:"text"`
	Type            string `json:"type"`
	Difficulty      string `json:"difficulty"`
	Points          int    `json:"points"`
	Answered        int    `json:"answered"`
	Correct         int    `json:"correct"`
	Skipped         int    `json:"skipped"`
	CorrectRate     int    `json:"correct_rate"`
	AverageTimeSecs int    `json:"average_time_secs"`
}

func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}

	summary := &ExamSummary{
		ExamID:             examID,
		RatingDistribution: map[string]int{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT title FROM exams WHERE id = $1 AND is_active = TRUE
	`, examID).Scan(&summary.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(score), 0),
			COALESCE(AVG(percentage), 0),
			COALESCE(MAX(score), 0),
			COALESCE(MIN(score), 0),
			COALESCE(AVG(time_spent_secs), 0)::int
		FROM attempts
		WHERE exam_id = $1 AND status = 'completed'
	`, examID).Scan(
		&summary.Participants,
		&summary.AverageScore,
		&summary.AveragePercentage,
		&summary.HighestScore,
		&summary.LowestScore,
		&summary.AverageTimeSecs,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rating, COUNT(*)
		FROM attempts
		WHERE exam_id = $1 AND status = 'completed' AND rating IS NOT NULL
		GROUP BY rating
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query rating distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rating string
		var count int
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, fmt.Errorf("scan rating bucket: %w", err)
		}
		summary.RatingDistribution[rating] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rating buckets: %w", err)
	}

	return summary, nil
}

// QuestionStatsByExam breaks the exam down per question so teachers can
// spot the items the class struggled with.
func (s *Service) QuestionStatsByExam(ctx context.Context, examID int64) ([]QuestionStat, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM exams WHERE id = $1 AND is_active = TRUE)
	`, examID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check exam: %w", err)
	}
	if !exists {
		return nil, ErrExamNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.question_id, eq.seq_no, q.text, q.question_type, q.difficulty, q.points,
			COUNT(aa.attempt_id) AS answered,
			COUNT(aa.attempt_id) FILTER (WHERE aa.is_correct) AS correct,
			COUNT(aa.attempt_id) FILTER (WHERE aa.skipped) AS skipped,
			COALESCE(AVG(aa.time_spent_secs) FILTER (WHERE aa.time_spent_secs > 0), 0)::int AS avg_time
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
		return nil, fmt.Errorf("query question stats: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionStat, 0)
	for rows.Next() {
		var st QuestionStat
		if err := rows.Scan(&st.QuestionID, &st.SeqNo, &st.Text, &st.Type, &st.Difficulty, &st.Points,
			&st.Answered, &st.Correct, &st.Skipped, &st.AverageTimeSecs); err != nil {
			return nil, fmt.Errorf("scan question stat: %w", err)
		}
		if st.Answered > 0 {
			st.CorrectRate = exam.PercentageOf(st.Correct, st.Answered)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question stats: %w", err)
	}
	return out, nil
}
