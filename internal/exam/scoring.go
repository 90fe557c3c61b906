package exam

import (
	"math"
	"strings"
)

// SkippedSentinel is the selected-option value clients send for a question
// the student chose to skip.
const SkippedSentinel = "SKIPPED"

// DefaultTotalPoints substitutes the exam total when the point values of
// its questions sum to zero, so percentage math never divides by zero.
const DefaultTotalPoints = 100

const (
	QuestionMultipleChoice = "multiple_choice"
	QuestionTrueFalse      = "true_false"
	QuestionShortAnswer    = "short_answer"
	QuestionFillBlank      = "fill_blank"
	QuestionDescriptive    = "descriptive"
)

const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

const (
	RatingExcellent        = "Excellent"
	RatingGood             = "Good"
	RatingSatisfactory     = "Satisfactory"
	RatingNeedsImprovement = "Needs Improvement"
)

// QuestionKey carries everything the scorer needs to judge one question.
type QuestionKey struct {
	ID             int64
	Type           string
	CorrectAnswers []string
	Points         int
	Difficulty     string
}

type SubmittedAnswer struct {
	QuestionID     int64
	SelectedOption string
	AnswerText     string
	IsDescriptive  bool
	Skipped        bool
}

type AnswerScore struct {
	IsCorrect     bool
	PointsAwarded int
}

// ScoreAnswer is a pure function: identical inputs always yield the same
// correctness and points.
//
// Descriptive answers are never auto-graded; they are recorded as incorrect
// with zero points pending manual review. Skipped answers score zero
// regardless of question type.
func ScoreAnswer(q QuestionKey, a SubmittedAnswer) AnswerScore {
	if a.Skipped || strings.TrimSpace(a.SelectedOption) == SkippedSentinel {
		return AnswerScore{}
	}

	qType := strings.TrimSpace(strings.ToLower(q.Type))
	if qType == QuestionDescriptive || a.IsDescriptive {
		return AnswerScore{}
	}

	points := q.Points
	if points < 0 {
		points = 0
	}

	given := strings.TrimSpace(a.SelectedOption)
	if given == "" {
		given = strings.TrimSpace(a.AnswerText)
	}
	if given == "" {
		return AnswerScore{}
	}

	correct := false
	switch qType {
	case QuestionMultipleChoice:
		for _, c := range q.CorrectAnswers {
			if given == strings.TrimSpace(c) {
				correct = true
				break
			}
		}
	case QuestionTrueFalse:
		correct = len(q.CorrectAnswers) > 0 && given == strings.TrimSpace(q.CorrectAnswers[0])
	case QuestionShortAnswer, QuestionFillBlank:
		for _, c := range q.CorrectAnswers {
			if strings.EqualFold(given, strings.TrimSpace(c)) {
				correct = true
				break
			}
		}
	default:
		return AnswerScore{}
	}

	if !correct {
		return AnswerScore{}
	}
	return AnswerScore{IsCorrect: true, PointsAwarded: points}
}

// PercentageOf computes round(score / totalPoints * 100) clamped to [0,100].
// A non-positive totalPoints is the caller's data-integrity fallback case
// and yields 0.
func PercentageOf(score, totalPoints int) int {
	if totalPoints <= 0 {
		return 0
	}
	p := int(math.Round(float64(score) / float64(totalPoints) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func RatingForPercentage(percentage int) string {
	switch {
	case percentage >= 90:
		return RatingExcellent
	case percentage >= 75:
		return RatingGood
	case percentage >= 60:
		return RatingSatisfactory
	default:
		return RatingNeedsImprovement
	}
}

// GradeForPercentage maps a percentage to the report-card letter grade.
func GradeForPercentage(percentage int) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B"
	case percentage >= 60:
		return "C"
	case percentage >= 50:
		return "D"
	default:
		return "F"
	}
}

// ClassRank is the snapshot position of one score among the completed
// attempts for the same exam at scoring time. Later submissions do not
// retroactively update earlier snapshots.
type ClassRank struct {
	Rank          int `json:"rank"`
	TotalStudents int `json:"total_students"`
	Percentile    int `json:"percentile"`
}

// RankAmong ranks score against the scores of other completed attempts.
// Rank is the count of strictly greater scores plus one, so ties share a
// rank. The current attempt counts toward the total.
func RankAmong(score int, others []int) ClassRank {
	rank := 1
	for _, o := range others {
		if o > score {
			rank++
		}
	}
	total := len(others) + 1
	percentile := int(math.Round(float64(total-rank) / float64(total) * 100))
	return ClassRank{Rank: rank, TotalStudents: total, Percentile: percentile}
}

type BreakdownEntry struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// CategoryBreakdown tallies correct/total per difficulty level for one
// attempt.
type CategoryBreakdown map[string]BreakdownEntry

func NewCategoryBreakdown() CategoryBreakdown {
	return CategoryBreakdown{
		DifficultyEasy:   {},
		DifficultyMedium: {},
		DifficultyHard:   {},
	}
}

func (b CategoryBreakdown) Add(difficulty string, correct bool) {
	level := normalizeDifficulty(difficulty)
	entry := b[level]
	entry.Total++
	if correct {
		entry.Correct++
	}
	b[level] = entry
}

func normalizeDifficulty(difficulty string) string {
	switch strings.ToLower(strings.TrimSpace(difficulty)) {
	case "easy":
		return DifficultyEasy
	case "hard":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}
