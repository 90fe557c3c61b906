package exam

import "testing"

func TestScoreAnswer_MultipleChoice(t *testing.T) {
	key := QuestionKey{ID: 1, Type: QuestionMultipleChoice, CorrectAnswers: []string{"A", "C"}, Points: 5, Difficulty: DifficultyMedium}

	tests := []struct {
		name      string
		answer    SubmittedAnswer
		isCorrect bool
		points    int
	}{
		{name: "first correct option", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: "A"}, isCorrect: true, points: 5},
		{name: "second correct option", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: "C"}, isCorrect: true, points: 5},
		{name: "wrong option", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: "B"}, isCorrect: false, points: 0},
		{name: "empty selection", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: ""}, isCorrect: false, points: 0},
		{name: "skipped sentinel", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: SkippedSentinel}, isCorrect: false, points: 0},
		{name: "skipped flag wins over correct option", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: "A", Skipped: true}, isCorrect: false, points: 0},
		{name: "case sensitive option match", answer: SubmittedAnswer{QuestionID: 1, SelectedOption: "a"}, isCorrect: false, points: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreAnswer(key, tc.answer)
			if got.IsCorrect != tc.isCorrect || got.PointsAwarded != tc.points {
				t.Fatalf("got correct=%v points=%d, want correct=%v points=%d",
					got.IsCorrect, got.PointsAwarded, tc.isCorrect, tc.points)
			}
		})
	}
}

func TestScoreAnswer_TrueFalse(t *testing.T) {
	key := QuestionKey{ID: 2, Type: QuestionTrueFalse, CorrectAnswers: []string{"true"}, Points: 2, Difficulty: DifficultyEasy}

	tests := []struct {
		name      string
		selected  string
		isCorrect bool
	}{
		{name: "exact match", selected: "true", isCorrect: true},
		{name: "wrong value", selected: "false", isCorrect: false},
		{name: "case mismatch not accepted", selected: "True", isCorrect: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreAnswer(key, SubmittedAnswer{QuestionID: 2, SelectedOption: tc.selected})
			if got.IsCorrect != tc.isCorrect {
				t.Fatalf("selected %q: got correct=%v, want %v", tc.selected, got.IsCorrect, tc.isCorrect)
			}
		})
	}
}

func TestScoreAnswer_TextTypesCaseInsensitive(t *testing.T) {
	tests := []struct {
		name      string
		qType     string
		correct   []string
		given     string
		isCorrect bool
	}{
		{name: "short answer exact", qType: QuestionShortAnswer, correct: []string{"Photosynthesis"}, given: "Photosynthesis", isCorrect: true},
		{name: "short answer case folded", qType: QuestionShortAnswer, correct: []string{"Photosynthesis"}, given: "photosynthesis", isCorrect: true},
		{name: "short answer wrong", qType: QuestionShortAnswer, correct: []string{"Photosynthesis"}, given: "Respiration", isCorrect: false},
		{name: "fill blank case folded", qType: QuestionFillBlank, correct: []string{"MITOCHONDRIA"}, given: "mitochondria", isCorrect: true},
		{name: "fill blank alternative answer", qType: QuestionFillBlank, correct: []string{"7", "seven"}, given: "Seven", isCorrect: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := QuestionKey{ID: 3, Type: tc.qType, CorrectAnswers: tc.correct, Points: 4}
			got := ScoreAnswer(key, SubmittedAnswer{QuestionID: 3, AnswerText: tc.given})
			if got.IsCorrect != tc.isCorrect {
				t.Fatalf("given %q: got correct=%v, want %v", tc.given, got.IsCorrect, tc.isCorrect)
			}
		})
	}
}

func TestScoreAnswer_DescriptiveNeverAutoGraded(t *testing.T) {
	key := QuestionKey{ID: 4, Type: QuestionDescriptive, CorrectAnswers: []string{"model answer"}, Points: 10}

	got := ScoreAnswer(key, SubmittedAnswer{QuestionID: 4, AnswerText: "model answer", IsDescriptive: true})
	if got.IsCorrect || got.PointsAwarded != 0 {
		t.Fatalf("descriptive answers must not auto-grade, got correct=%v points=%d", got.IsCorrect, got.PointsAwarded)
	}
}

func TestScoreAnswer_UnknownTypeAwardsNothing(t *testing.T) {
	key := QuestionKey{ID: 5, Type: "matching", CorrectAnswers: []string{"A"}, Points: 3}
	got := ScoreAnswer(key, SubmittedAnswer{QuestionID: 5, SelectedOption: "A"})
	if got.IsCorrect || got.PointsAwarded != 0 {
		t.Fatalf("unknown question type must score zero, got correct=%v points=%d", got.IsCorrect, got.PointsAwarded)
	}
}

func TestScoreAnswer_Deterministic(t *testing.T) {
	key := QuestionKey{ID: 6, Type: QuestionMultipleChoice, CorrectAnswers: []string{"B"}, Points: 5}
	ans := SubmittedAnswer{QuestionID: 6, SelectedOption: "B"}

	first := ScoreAnswer(key, ans)
	for i := 0; i < 10; i++ {
		if got := ScoreAnswer(key, ans); got != first {
			t.Fatalf("run %d diverged: got %+v, want %+v", i, got, first)
		}
	}
}

func TestPercentageOf(t *testing.T) {
	tests := []struct {
		name  string
		score int
		total int
		want  int
	}{
		{name: "half", score: 5, total: 10, want: 50},
		{name: "rounds up", score: 2, total: 3, want: 67},
		{name: "rounds down", score: 1, total: 3, want: 33},
		{name: "full marks", score: 10, total: 10, want: 100},
		{name: "zero score", score: 0, total: 10, want: 0},
		{name: "zero total falls to zero", score: 5, total: 0, want: 0},
		{name: "negative total falls to zero", score: 5, total: -1, want: 0},
		{name: "clamped above hundred", score: 15, total: 10, want: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PercentageOf(tc.score, tc.total); got != tc.want {
				t.Fatalf("PercentageOf(%d, %d) = %d, want %d", tc.score, tc.total, got, tc.want)
			}
		})
	}
}

func TestTwoQuestionExamScoresHalf(t *testing.T) {
	keys := []QuestionKey{
		{ID: 1, Type: QuestionMultipleChoice, CorrectAnswers: []string{"A"}, Points: 5, Difficulty: DifficultyEasy},
		{ID: 2, Type: QuestionMultipleChoice, CorrectAnswers: []string{"B"}, Points: 5, Difficulty: DifficultyHard},
	}
	answers := []SubmittedAnswer{
		{QuestionID: 1, SelectedOption: "A"},
		{QuestionID: 2, SelectedOption: "C"},
	}

	score, total := 0, 0
	breakdown := NewCategoryBreakdown()
	for i, key := range keys {
		total += key.Points
		res := ScoreAnswer(key, answers[i])
		score += res.PointsAwarded
		breakdown.Add(key.Difficulty, res.IsCorrect)
	}

	if score != 5 {
		t.Fatalf("score = %d, want 5", score)
	}
	pct := PercentageOf(score, total)
	if pct != 50 {
		t.Fatalf("percentage = %d, want 50", pct)
	}
	if rating := RatingForPercentage(pct); rating != RatingNeedsImprovement {
		t.Fatalf("rating = %q, want %q", rating, RatingNeedsImprovement)
	}
	if e := breakdown[DifficultyEasy]; e.Correct != 1 || e.Total != 1 {
		t.Fatalf("easy breakdown = %+v, want 1/1", e)
	}
	if h := breakdown[DifficultyHard]; h.Correct != 0 || h.Total != 1 {
		t.Fatalf("hard breakdown = %+v, want 0/1", h)
	}
}

func TestRatingForPercentage(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{pct: 100, want: RatingExcellent},
		{pct: 90, want: RatingExcellent},
		{pct: 89, want: RatingGood},
		{pct: 75, want: RatingGood},
		{pct: 74, want: RatingSatisfactory},
		{pct: 60, want: RatingSatisfactory},
		{pct: 59, want: RatingNeedsImprovement},
		{pct: 0, want: RatingNeedsImprovement},
	}

	for _, tc := range tests {
		if got := RatingForPercentage(tc.pct); got != tc.want {
			t.Errorf("RatingForPercentage(%d) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestGradeForPercentage(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{pct: 95, want: "A+"},
		{pct: 90, want: "A+"},
		{pct: 85, want: "A"},
		{pct: 80, want: "A"},
		{pct: 75, want: "B"},
		{pct: 65, want: "C"},
		{pct: 55, want: "D"},
		{pct: 49, want: "F"},
		{pct: 0, want: "F"},
	}

	for _, tc := range tests {
		if got := GradeForPercentage(tc.pct); got != tc.want {
			t.Errorf("GradeForPercentage(%d) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestRankAmong(t *testing.T) {
	tests := []struct {
		name       string
		score      int
		others     []int
		rank       int
		total      int
		percentile int
	}{
		{name: "top of class", score: 90, others: []int{80, 80, 70}, rank: 1, total: 4, percentile: 75},
		{name: "tied scores share rank", score: 80, others: []int{90, 80, 70}, rank: 2, total: 4, percentile: 50},
		{name: "bottom of class", score: 70, others: []int{90, 80, 80}, rank: 4, total: 4, percentile: 0},
		{name: "only participant", score: 50, others: nil, rank: 1, total: 1, percentile: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RankAmong(tc.score, tc.others)
			if got.Rank != tc.rank || got.TotalStudents != tc.total || got.Percentile != tc.percentile {
				t.Fatalf("RankAmong(%d, %v) = %+v, want rank=%d total=%d percentile=%d",
					tc.score, tc.others, got, tc.rank, tc.total, tc.percentile)
			}
		})
	}
}

func TestCategoryBreakdownUnknownDifficulty(t *testing.T) {
	b := NewCategoryBreakdown()
	b.Add("expert", true)
	b.Add("", false)

	if m := b[DifficultyMedium]; m.Correct != 1 || m.Total != 2 {
		t.Fatalf("unknown difficulties should land in medium, got %+v", m)
	}
	if e := b[DifficultyEasy]; e.Total != 0 {
		t.Fatalf("easy bucket should stay empty, got %+v", e)
	}
	if h := b[DifficultyHard]; h.Total != 0 {
		t.Fatalf("hard bucket should stay empty, got %+v", h)
	}
}
