package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"examhub/internal/auth"
)

var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrExamNotActive        = errors.New("exam is not active")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptForbidden     = errors.New("attempt forbidden")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// AttemptLimitError reports the student's usage against the exam's attempt
// policy. It matches ErrAttemptLimitExceeded under errors.Is.
type AttemptLimitError struct {
	Taken int
	Max   int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("attempt limit exceeded: %d of %d attempts used", e.Taken, e.Max)
}

func (e *AttemptLimitError) Is(target error) bool {
	return target == ErrAttemptLimitExceeded
}

const (
	AttemptInProgress = "in_progress"
	AttemptCompleted  = "completed"
)

type Service struct {
	db                 *sql.DB
	defaultExamMinutes int
	defaultMaxAttempts int
	defaultMaxScore    int
}

type ServiceConfig struct {
	DefaultExamMinutes int
	DefaultMaxAttempts int
	DefaultMaxScore    int
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.DefaultExamMinutes <= 0 {
		cfg.DefaultExamMinutes = 60
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 1
	}
	if cfg.DefaultMaxScore <= 0 {
		cfg.DefaultMaxScore = DefaultTotalPoints
	}
	return &Service{
		db:                 db,
		defaultExamMinutes: cfg.DefaultExamMinutes,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		defaultMaxScore:    cfg.DefaultMaxScore,
	}
}

type Attempt struct {
	ID            int64             `json:"id"`
	ExamID        int64             `json:"exam_id"`
	StudentID     int64             `json:"student_id"`
	Status        string            `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	MaxScore      int               `json:"max_score"`
	Score         int               `json:"score"`
	Percentage    int               `json:"percentage"`
	Rating        string            `json:"rating,omitempty"`
	TimeSpentSecs int               `json:"time_spent_secs"`
	Breakdown     CategoryBreakdown `json:"category_breakdown,omitempty"`
	Rank          *ClassRank        `json:"class_rank,omitempty"`
	Answers       []AnswerRecord    `json:"answers,omitempty"`
}

type AnswerRecord struct {
	QuestionID     int64  `json:"question_id"`
	SeqNo          int    `json:"seq_no"`
	SelectedOption string `json:"selected_option"`
	AnswerText     string `json:"answer_text,omitempty"`
	Skipped        bool   `json:"skipped"`
	IsCorrect      bool   `json:"is_correct"`
	PointsAwarded  int    `json:"points_awarded"`
	TimeSpentSecs  int    `json:"time_spent_secs"`
}

type SubmittedAnswerInput struct {
	QuestionID     int64
	SelectedOption string
	AnswerText     string
	IsDescriptive  bool
	Skipped        bool
}

type QuestionTiming struct {
	QuestionID    int64
	TimeSpentSecs int
}

type SubmitInput struct {
	AttemptID       int64
	UserID          int64
	Answers         []SubmittedAnswerInput
	QuestionTimings []QuestionTiming
	TimeSpentSecs   *int
}

type SubmitOutcome struct {
	Attempt  *Attempt `json:"attempt"`
	ResultID *int64   `json:"result_id,omitempty"`
}

// StartAttempt opens a new in-progress attempt for the requesting user, or
// resumes the one already open for the same (student, exam) pair.
//
// Students may only start exams scheduled for their own class and are held
// to the exam's max-attempts policy; teachers and principals bypass the
// cap. A class mismatch is reported as not-found so students cannot tell
// other classes' exams apart from nonexistent ones.
func (s *Service) StartAttempt(ctx context.Context, examID int64, user *auth.User) (*Attempt, error) {
	if examID <= 0 || user == nil {
		return nil, ErrInvalidInput
	}

	var (
		classID     int64
		startAt     sql.NullTime
		endAt       sql.NullTime
		maxAttempts int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT class_id, start_at, end_at, max_attempts
		FROM exams
		WHERE id = $1 AND is_active = TRUE
	`, examID).Scan(&classID, &startAt, &endAt, &maxAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	isStudent := user.Role == auth.RoleStudent
	if isStudent {
		if user.ClassID == nil || *user.ClassID != classID {
			return nil, ErrExamNotFound
		}
	}

	var startPtr, endPtr *time.Time
	if startAt.Valid {
		startPtr = &startAt.Time
	}
	if endAt.Valid {
		endPtr = &endAt.Time
	}
	if StatusAt(startPtr, endPtr, time.Now()) != StatusActive {
		return nil, ErrExamNotActive
	}

	// Resume an open attempt rather than spawning a second one; at most one
	// attempt per (student, exam) pair may be in progress.
	existing, err := s.findOpenAttempt(ctx, examID, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if isStudent {
		var taken int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND student_id = $2
		`, examID, user.ID).Scan(&taken); err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if taken >= maxAttempts {
			return nil, &AttemptLimitError{Taken: taken, Max: maxAttempts}
		}
	}

	maxScore, err := s.examTotalPoints(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}
	if maxScore <= 0 {
		log.Printf(`{"event":"zero_point_exam","exam_id":%d,"fallback_max_score":%d}`, examID, s.defaultMaxScore)
		maxScore = s.defaultMaxScore
	}

	var created Attempt
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO attempts (exam_id, student_id, status, started_at, max_score, created_at)
		VALUES ($1, $2, 'in_progress', now(), $3, now())
		RETURNING id, exam_id, student_id, status, started_at, max_score
	`, examID, user.ID, maxScore).Scan(
		&created.ID, &created.ExamID, &created.StudentID, &created.Status, &created.StartedAt, &created.MaxScore,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	return &created, nil
}

// SubmitAttempt finalizes an in-progress attempt: scores every submitted
// answer against the exam's question set, aggregates score, percentage,
// rating, the per-difficulty breakdown, and a snapshot class rank, then
// flips the attempt to completed in a single transaction.
//
// The row lock on the attempt is the serialization boundary: a concurrent
// submit that loses the race observes status=completed and fails with
// ErrAlreadySubmitted. After the attempt commits, a companion Result is
// projected; a projection failure is logged but does not undo the
// submission.
func (s *Service) SubmitAttempt(ctx context.Context, in SubmitInput) (*SubmitOutcome, error) {
	if in.AttemptID <= 0 || in.UserID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		att       Attempt
		startedAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, started_at, max_score
		FROM attempts
		WHERE id = $1
		FOR UPDATE
	`, in.AttemptID).Scan(&att.ID, &att.ExamID, &att.StudentID, &att.Status, &startedAt, &att.MaxScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt for update: %w", err)
	}
	att.StartedAt = startedAt

	if att.StudentID != in.UserID {
		return nil, ErrAttemptForbidden
	}
	if att.Status != AttemptInProgress {
		return nil, ErrAlreadySubmitted
	}

	keys, order, err := s.loadQuestionKeys(ctx, tx, att.ExamID)
	if err != nil {
		return nil, err
	}

	// Recomputed from the current roster rather than trusting the value
	// snapshotted at start; finalization writes it back so max_score always
	// matches the denominator the percentage was derived from.
	totalPoints := 0
	for _, k := range keys {
		totalPoints += k.Points
	}
	if totalPoints <= 0 {
		// Data-integrity fallback: a zero-point exam would divide by zero.
		log.Printf(`{"event":"zero_point_exam","exam_id":%d,"attempt_id":%d,"fallback_total":%d}`, att.ExamID, att.ID, s.defaultMaxScore)
		totalPoints = s.defaultMaxScore
	}

	timings := make(map[int64]int, len(in.QuestionTimings))
	for _, t := range in.QuestionTimings {
		if t.TimeSpentSecs > 0 {
			timings[t.QuestionID] = t.TimeSpentSecs
		}
	}

	score := 0
	breakdown := NewCategoryBreakdown()
	answers := make([]AnswerRecord, 0, len(in.Answers))

	for _, sub := range dedupeAnswers(in.Answers) {
		key, ok := keys[sub.QuestionID]
		if !ok {
			// Answers referencing questions outside the exam are dropped,
			// not failed.
			log.Printf(`{"event":"unresolved_answer_question","attempt_id":%d,"question_id":%d}`, att.ID, sub.QuestionID)
			continue
		}

		scored := ScoreAnswer(key, SubmittedAnswer{
			QuestionID:     sub.QuestionID,
			SelectedOption: sub.SelectedOption,
			AnswerText:     sub.AnswerText,
			IsDescriptive:  sub.IsDescriptive,
			Skipped:        sub.Skipped,
		})
		score += scored.PointsAwarded
		breakdown.Add(key.Difficulty, scored.IsCorrect)

		answers = append(answers, AnswerRecord{
			QuestionID:     sub.QuestionID,
			SeqNo:          order[sub.QuestionID],
			SelectedOption: sub.SelectedOption,
			AnswerText:     sub.AnswerText,
			Skipped:        sub.Skipped || sub.SelectedOption == SkippedSentinel,
			IsCorrect:      scored.IsCorrect,
			PointsAwarded:  scored.PointsAwarded,
			TimeSpentSecs:  timings[sub.QuestionID],
		})
	}

	for _, ans := range answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_answers (
				attempt_id, question_id, seq_no, selected_option, answer_text,
				skipped, is_correct, points_awarded, time_spent_secs
			) VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8, $9)
		`, att.ID, ans.QuestionID, ans.SeqNo, ans.SelectedOption, ans.AnswerText,
			ans.Skipped, ans.IsCorrect, ans.PointsAwarded, ans.TimeSpentSecs); err != nil {
			return nil, fmt.Errorf("insert attempt answer: %w", err)
		}
	}

	percentage := PercentageOf(score, totalPoints)
	rating := RatingForPercentage(percentage)

	// Snapshot rank among the attempts already completed for this exam.
	// Later submissions do not revise it.
	otherScores, err := s.completedScores(ctx, tx, att.ExamID, att.ID)
	if err != nil {
		return nil, err
	}
	rank := RankAmong(score, otherScores)

	endedAt := time.Now()
	timeSpent := int(endedAt.Sub(startedAt).Seconds())
	if in.TimeSpentSecs != nil && *in.TimeSpentSecs > 0 {
		timeSpent = *in.TimeSpentSecs
	}

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'completed',
			ended_at = $2,
			score = $3,
			percentage = $4,
			rating = $5,
			time_spent_secs = $6,
			rank = $7,
			rank_total = $8,
			percentile = $9,
			breakdown = $10::jsonb,
			max_score = $11
		WHERE id = $1
	`, att.ID, endedAt, score, percentage, rating, timeSpent,
		rank.Rank, rank.TotalStudents, rank.Percentile, breakdownJSON, totalPoints); err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	att.Status = AttemptCompleted
	att.EndedAt = &endedAt
	att.MaxScore = totalPoints
	att.Score = score
	att.Percentage = percentage
	att.Rating = rating
	att.TimeSpentSecs = timeSpent
	att.Breakdown = breakdown
	att.Rank = &rank
	att.Answers = answers

	outcome := &SubmitOutcome{Attempt: &att}

	resultID, err := s.projectResult(ctx, &att, in.UserID)
	if err != nil {
		// The attempt is already committed; a missing Result row is a
		// recoverable downstream inconsistency, not a submit failure.
		log.Printf(`{"event":"result_projection_failed","attempt_id":%d,"error":%q}`, att.ID, err.Error())
		return outcome, nil
	}
	outcome.ResultID = &resultID

	return outcome, nil
}

// projectResult denormalizes a finalized attempt into a Result row for the
// reporting screens. The attempt number is derived from completed attempt
// rows, which are never deleted, so numbers stay monotonic per
// (student, exam) even if Result rows are removed later.
func (s *Service) projectResult(ctx context.Context, att *Attempt, createdBy int64) (int64, error) {
	var attemptNumber int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attempts
		WHERE exam_id = $1 AND student_id = $2 AND status = 'completed'
	`, att.ExamID, att.StudentID).Scan(&attemptNumber); err != nil {
		return 0, fmt.Errorf("count completed attempts: %w", err)
	}
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	grade := GradeForPercentage(att.Percentage)

	var resultID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO results (
			exam_id, student_id, attempt_id, attempt_number,
			marks, percentage, grade, feedback, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, now())
		RETURNING id
	`, att.ExamID, att.StudentID, att.ID, attemptNumber,
		att.Score, att.Percentage, grade, createdBy).Scan(&resultID); err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}

	return resultID, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	att, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	answers, err := s.loadAttemptAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	att.Answers = answers

	return att, nil
}

// dedupeAnswers keeps the first answer submitted for each question; a
// repeated question id would otherwise be scored twice and collide on the
// per-question uniqueness of the stored answers.
func dedupeAnswers(in []SubmittedAnswerInput) []SubmittedAnswerInput {
	seen := make(map[int64]struct{}, len(in))
	out := make([]SubmittedAnswerInput, 0, len(in))
	for _, a := range in {
		if _, dup := seen[a.QuestionID]; dup {
			continue
		}
		seen[a.QuestionID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (s *Service) GetAttemptOwner(ctx context.Context, attemptID int64) (int64, error) {
	var studentID int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT student_id FROM attempts WHERE id = $1
	`, attemptID).Scan(&studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAttemptNotFound
		}
		return 0, fmt.Errorf("load attempt owner: %w", err)
	}
	return studentID, nil
}

func (s *Service) findOpenAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error) {
	var att Attempt
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, started_at, max_score
		FROM attempts
		WHERE exam_id = $1 AND student_id = $2 AND status = 'in_progress'
		ORDER BY id DESC
		LIMIT 1
	`, examID, studentID).Scan(&att.ID, &att.ExamID, &att.StudentID, &att.Status, &att.StartedAt, &att.MaxScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open attempt: %w", err)
	}
	return &att, nil
}

func (s *Service) loadAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	var (
		att           Attempt
		endedAt       sql.NullTime
		rating        sql.NullString
		rank          sql.NullInt64
		rankTotal     sql.NullInt64
		percentile    sql.NullInt64
		breakdownJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, started_at, ended_at,
			max_score, score, percentage, rating, time_spent_secs,
			rank, rank_total, percentile, breakdown
		FROM attempts
		WHERE id = $1
	`, attemptID).Scan(
		&att.ID, &att.ExamID, &att.StudentID, &att.Status, &att.StartedAt, &endedAt,
		&att.MaxScore, &att.Score, &att.Percentage, &rating, &att.TimeSpentSecs,
		&rank, &rankTotal, &percentile, &breakdownJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	if endedAt.Valid {
		att.EndedAt = &endedAt.Time
	}
	if rating.Valid {
		att.Rating = rating.String
	}
	if rank.Valid && rankTotal.Valid {
		att.Rank = &ClassRank{
			Rank:          int(rank.Int64),
			TotalStudents: int(rankTotal.Int64),
			Percentile:    int(percentile.Int64),
		}
	}
	if len(breakdownJSON) > 0 {
		var b CategoryBreakdown
		if err := json.Unmarshal(breakdownJSON, &b); err == nil {
			att.Breakdown = b
		}
	}

	return &att, nil
}

func (s *Service) loadAttemptAnswers(ctx context.Context, attemptID int64) ([]AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, seq_no, selected_option, COALESCE(answer_text, ''),
			skipped, is_correct, points_awarded, time_spent_secs
		FROM attempt_answers
		WHERE attempt_id = $1
		ORDER BY seq_no, question_id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query attempt answers: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerRecord, 0)
	for rows.Next() {
		var a AnswerRecord
		if err := rows.Scan(&a.QuestionID, &a.SeqNo, &a.SelectedOption, &a.AnswerText,
			&a.Skipped, &a.IsCorrect, &a.PointsAwarded, &a.TimeSpentSecs); err != nil {
			return nil, fmt.Errorf("scan attempt answer: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt answers: %w", err)
	}
	return out, nil
}

func (s *Service) loadQuestionKeys(ctx context.Context, q queryable, examID int64) (map[int64]QuestionKey, map[int64]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT eq.question_id, eq.seq_no, q.question_type, q.correct_answers, q.points, q.difficulty
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.seq_no
	`, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("query question keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[int64]QuestionKey)
	order := make(map[int64]int)
	for rows.Next() {
		var (
			key        QuestionKey
			seqNo      int
			correctRaw []byte
		)
		if err := rows.Scan(&key.ID, &seqNo, &key.Type, &correctRaw, &key.Points, &key.Difficulty); err != nil {
			return nil, nil, fmt.Errorf("scan question key: %w", err)
		}
		if len(correctRaw) > 0 {
			if err := json.Unmarshal(correctRaw, &key.CorrectAnswers); err != nil {
				return nil, nil, fmt.Errorf("decode correct answers for question %d: %w", key.ID, err)
			}
		}
		keys[key.ID] = key
		order[key.ID] = seqNo
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate question keys: %w", err)
	}
	return keys, order, nil
}

func (s *Service) completedScores(ctx context.Context, q queryable, examID, excludeAttemptID int64) ([]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT score
		FROM attempts
		WHERE exam_id = $1 AND status = 'completed' AND id <> $2
	`, examID, excludeAttemptID)
	if err != nil {
		return nil, fmt.Errorf("query completed scores: %w", err)
	}
	defer rows.Close()

	out := make([]int, 0)
	for rows.Next() {
		var sc int
		if err := rows.Scan(&sc); err != nil {
			return nil, fmt.Errorf("scan completed score: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed scores: %w", err)
	}
	return out, nil
}

func (s *Service) examTotalPoints(ctx context.Context, q queryable, examID int64) (int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(q.points), 0)
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
	`, examID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum exam points: %w", err)
	}
	return total, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
