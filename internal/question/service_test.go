package question

import (
	"errors"
	"testing"
)

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		qType   string
		options []string
		correct []string
		wantErr bool
	}{
		{name: "mcq valid", qType: TypeMultipleChoice, options: []string{"A", "B", "C"}, correct: []string{"B"}, wantErr: false},
		{name: "mcq multiple correct", qType: TypeMultipleChoice, options: []string{"A", "B", "C"}, correct: []string{"A", "C"}, wantErr: false},
		{name: "mcq one option", qType: TypeMultipleChoice, options: []string{"A"}, correct: []string{"A"}, wantErr: true},
		{name: "mcq no correct", qType: TypeMultipleChoice, options: []string{"A", "B"}, correct: nil, wantErr: true},
		{name: "mcq correct outside options", qType: TypeMultipleChoice, options: []string{"A", "B"}, correct: []string{"C"}, wantErr: true},
		{name: "true_false valid true", qType: TypeTrueFalse, correct: []string{"true"}, wantErr: false},
		{name: "true_false valid mixed case", qType: TypeTrueFalse, correct: []string{"False"}, wantErr: false},
		{name: "true_false bad value", qType: TypeTrueFalse, correct: []string{"yes"}, wantErr: true},
		{name: "true_false two answers", qType: TypeTrueFalse, correct: []string{"true", "false"}, wantErr: true},
		{name: "short answer valid", qType: TypeShortAnswer, correct: []string{"Photosynthesis"}, wantErr: false},
		{name: "short answer no key", qType: TypeShortAnswer, correct: nil, wantErr: true},
		{name: "fill blank valid", qType: TypeFillBlank, correct: []string{"7", "seven"}, wantErr: false},
		{name: "descriptive needs no key", qType: TypeDescriptive, wantErr: false},
		{name: "unknown type", qType: "matching", correct: []string{"A"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateQuestion(tc.qType, tc.options, tc.correct)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateQuestion(%q) error = %v, wantErr %v", tc.qType, err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("validation errors must wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNormalizeDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "easy", want: "Easy"},
		{in: "EASY", want: "Easy"},
		{in: " Hard ", want: "Hard"},
		{in: "medium", want: "Medium"},
		{in: "", want: "Medium"},
		{in: "expert", want: "Medium"},
	}

	for _, tc := range tests {
		if got := normalizeDifficulty(tc.in); got != tc.want {
			t.Errorf("normalizeDifficulty(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitCell(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{in: "A|B|C", want: 3},
		{in: " A | B ", want: 2},
		{in: "A||B", want: 2},
		{in: "", want: 0},
		{in: "  ", want: 0},
	}

	for _, tc := range tests {
		if got := splitCell(tc.in); len(got) != tc.want {
			t.Errorf("splitCell(%q) = %v, want %d parts", tc.in, got, tc.want)
		}
	}
}
