package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrSubjectNotFound  = errors.New("subject not found")
)

const (
	StatusActive   = "Active"
	StatusArchived = "Archived"
)

const (
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
	TypeShortAnswer    = "short_answer"
	TypeFillBlank      = "fill_blank"
	TypeDescriptive    = "descriptive"
)

type Service struct {
	db            *sql.DB
	defaultPoints int
}

func NewService(db *sql.DB, defaultPoints int) *Service {
	if defaultPoints <= 0 {
		defaultPoints = 1
	}
	return &Service{db: db, defaultPoints: defaultPoints}
}

type Question struct {
	ID             int64     `json:"id"`
	SubjectID      int64     `json:"subject_id"`
	SubjectName    string    `json:"subject_name,omitempty"`
	Text           string    `json:"text"`
	QuestionType   string    `json:"question_type"`
	Options        []string  `json:"options,omitempty"`
	CorrectAnswers []string  `json:"correct_answers,omitempty"`
	Points         int       `json:"points"`
	Difficulty     string    `json:"difficulty"`
	Status         string    `json:"status"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type CreateQuestionInput struct {
	SubjectID      int64
	Text           string
	QuestionType   string
	Options        []string
	CorrectAnswers []string
	Points         int
	Difficulty     string
	CreatedBy      int64
}

type UpdateQuestionInput struct {
	ID             int64
	SubjectID      int64
	Text           string
	QuestionType   string
	Options        []string
	CorrectAnswers []string
	Points         int
	Difficulty     string
}

type ListFilter struct {
	SubjectID    int64
	QuestionType string
	Difficulty   string
	Status       string
	Query        string
	Limit        int
	Offset       int
}

// ValidateQuestion enforces the authoring rules shared by create, update
// and Excel import:
//
//   - multiple_choice needs at least two options and every correct answer
//     must be one of them
//   - true_false accepts only "true" or "false" as the key
//   - short_answer and fill_blank need at least one accepted answer
//   - descriptive carries no key and is reviewed manually
func ValidateQuestion(qType string, options, correct []string) error {
	switch qType {
	case TypeMultipleChoice:
		if len(options) < 2 {
			return fmt.Errorf("%w: multiple_choice needs at least 2 options", ErrInvalidInput)
		}
		if len(correct) == 0 {
			return fmt.Errorf("%w: multiple_choice needs a correct answer", ErrInvalidInput)
		}
		optionSet := make(map[string]struct{}, len(options))
		for _, o := range options {
			optionSet[strings.TrimSpace(o)] = struct{}{}
		}
		for _, c := range correct {
			if _, ok := optionSet[strings.TrimSpace(c)]; !ok {
				return fmt.Errorf("%w: correct answer %q is not one of the options", ErrInvalidInput, c)
			}
		}
	case TypeTrueFalse:
		if len(correct) != 1 {
			return fmt.Errorf("%w: true_false needs exactly one correct answer", ErrInvalidInput)
		}
		v := strings.ToLower(strings.TrimSpace(correct[0]))
		if v != "true" && v != "false" {
			return fmt.Errorf("%w: true_false answer must be true or false", ErrInvalidInput)
		}
	case TypeShortAnswer, TypeFillBlank:
		if len(correct) == 0 {
			return fmt.Errorf("%w: %s needs at least one accepted answer", ErrInvalidInput, qType)
		}
	case TypeDescriptive:
		// no key to validate
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, qType)
	}
	return nil
}

func (s *Service) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.QuestionType = strings.ToLower(strings.TrimSpace(in.QuestionType))
	if in.Text == "" || in.SubjectID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := ValidateQuestion(in.QuestionType, in.Options, in.CorrectAnswers); err != nil {
		return nil, err
	}
	if in.Points <= 0 {
		in.Points = s.defaultPoints
	}
	difficulty := normalizeDifficulty(in.Difficulty)

	optionsJSON, correctJSON, err := encodeKeyColumns(in.Options, in.CorrectAnswers)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (subject_id, text, question_type, options, correct_answers, points, difficulty, status, created_by, created_at, updated_at)
		SELECT s.id, $2, $3, $4::jsonb, $5::jsonb, $6, $7, 'Active', $8, now(), now()
		FROM subjects s
		WHERE s.id = $1
		RETURNING id
	`, in.SubjectID, in.Text, in.QuestionType, optionsJSON, correctJSON, in.Points, difficulty, in.CreatedBy).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}

	return s.GetQuestion(ctx, id)
}

func (s *Service) UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.QuestionType = strings.ToLower(strings.TrimSpace(in.QuestionType))
	if in.ID <= 0 || in.Text == "" || in.SubjectID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := ValidateQuestion(in.QuestionType, in.Options, in.CorrectAnswers); err != nil {
		return nil, err
	}
	if in.Points <= 0 {
		in.Points = s.defaultPoints
	}
	difficulty := normalizeDifficulty(in.Difficulty)

	optionsJSON, correctJSON, err := encodeKeyColumns(in.Options, in.CorrectAnswers)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET subject_id = $2,
			text = $3,
			question_type = $4,
			options = $5::jsonb,
			correct_answers = $6::jsonb,
			points = $7,
			difficulty = $8,
			updated_at = now()
		WHERE id = $1 AND status <> 'Archived'
	`, in.ID, in.SubjectID, in.Text, in.QuestionType, optionsJSON, correctJSON, in.Points, difficulty)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update question rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrQuestionNotFound
	}

	return s.GetQuestion(ctx, in.ID)
}

// DeleteQuestion archives the question and detaches it from every exam.
// Scored answers referencing it are kept; historical attempts stay intact.
func (s *Service) DeleteQuestion(ctx context.Context, questionID int64) error {
	if questionID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE questions SET status = 'Archived', updated_at = now()
		WHERE id = $1 AND status <> 'Archived'
	`, questionID)
	if err != nil {
		return fmt.Errorf("archive question: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive question rows: %w", err)
	}
	if affected == 0 {
		return ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM exam_questions WHERE question_id = $1
	`, questionID); err != nil {
		return fmt.Errorf("detach question from exams: %w", err)
	}

	return tx.Commit()
}

func (s *Service) GetQuestion(ctx context.Context, questionID int64) (*Question, error) {
	if questionID <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.subject_id, COALESCE(s.name, ''), q.text, q.question_type,
			q.options, q.correct_answers, q.points, q.difficulty, q.status,
			COALESCE(q.created_by, 0), q.created_at, q.updated_at
		FROM questions q
		LEFT JOIN subjects s ON s.id = q.subject_id
		WHERE q.id = $1
	`, questionID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func (s *Service) ListQuestions(ctx context.Context, f ListFilter) ([]Question, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	status := strings.TrimSpace(f.Status)
	if status == "" {
		status = StatusActive
	}

	query := `
		SELECT q.id, q.subject_id, COALESCE(s.name, ''), q.text, q.question_type,
			q.options, q.correct_answers, q.points, q.difficulty, q.status,
			COALESCE(q.created_by, 0), q.created_at, q.updated_at
		FROM questions q
		LEFT JOIN subjects s ON s.id = q.subject_id
		WHERE q.status = $1
	`
	args := []interface{}{status}
	idx := 2

	if f.SubjectID > 0 {
		query += fmt.Sprintf(" AND q.subject_id = $%d", idx)
		args = append(args, f.SubjectID)
		idx++
	}
	if t := strings.ToLower(strings.TrimSpace(f.QuestionType)); t != "" {
		query += fmt.Sprintf(" AND q.question_type = $%d", idx)
		args = append(args, t)
		idx++
	}
	if d := strings.TrimSpace(f.Difficulty); d != "" {
		query += fmt.Sprintf(" AND q.difficulty = $%d", idx)
		args = append(args, normalizeDifficulty(d))
		idx++
	}
	if qs := strings.TrimSpace(f.Query); qs != "" {
		query += fmt.Sprintf(" AND q.text ILIKE $%d", idx)
		args = append(args, "%"+qs+"%")
		idx++
	}
	query += fmt.Sprintf(" ORDER BY q.id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var (
		q          Question
		optionsRaw []byte
		correctRaw []byte
	)
	if err := row.Scan(&q.ID, &q.SubjectID, &q.SubjectName, &q.Text, &q.QuestionType,
		&optionsRaw, &correctRaw, &q.Points, &q.Difficulty, &q.Status,
		&q.CreatedBy, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %d: %w", q.ID, err)
		}
	}
	if len(correctRaw) > 0 {
		if err := json.Unmarshal(correctRaw, &q.CorrectAnswers); err != nil {
			return nil, fmt.Errorf("decode correct answers for question %d: %w", q.ID, err)
		}
	}
	return &q, nil
}

func encodeKeyColumns(options, correct []string) (string, string, error) {
	if options == nil {
		options = []string{}
	}
	if correct == nil {
		correct = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return "", "", fmt.Errorf("encode options: %w", err)
	}
	correctJSON, err := json.Marshal(correct)
	if err != nil {
		return "", "", fmt.Errorf("encode correct answers: %w", err)
	}
	return string(optionsJSON), string(correctJSON), nil
}

func normalizeDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "easy":
		return "Easy"
	case "hard":
		return "Hard"
	default:
		return "Medium"
	}
}
