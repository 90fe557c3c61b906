package exam

import (
	"errors"
	"testing"
	"time"
)

func TestStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name    string
		startAt *time.Time
		endAt   *time.Time
		want    string
	}{
		{name: "no window is draft", startAt: nil, endAt: nil, want: StatusDraft},
		{name: "missing end is draft", startAt: &before, endAt: nil, want: StatusDraft},
		{name: "before window is scheduled", startAt: &after, endAt: timePtr(after.Add(time.Hour)), want: StatusScheduled},
		{name: "inside window is active", startAt: &before, endAt: &after, want: StatusActive},
		{name: "after window is completed", startAt: timePtr(before.Add(-time.Hour)), endAt: &before, want: StatusCompleted},
		{name: "at start boundary is active", startAt: &now, endAt: &after, want: StatusActive},
		{name: "at end boundary is active", startAt: &before, endAt: &now, want: StatusActive},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusAt(tc.startAt, tc.endAt, now); got != tc.want {
				t.Fatalf("StatusAt = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAttemptLimitErrorMatchesSentinel(t *testing.T) {
	err := &AttemptLimitError{Taken: 2, Max: 2}

	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("AttemptLimitError should match ErrAttemptLimitExceeded")
	}

	var limitErr *AttemptLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("errors.As should find AttemptLimitError")
	}
	if limitErr.Taken != 2 || limitErr.Max != 2 {
		t.Fatalf("unexpected counts: %+v", limitErr)
	}
	if err.Error() != "attempt limit exceeded: 2 of 2 attempts used" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestDedupeAnswersFirstOccurrenceWins(t *testing.T) {
	in := []SubmittedAnswerInput{
		{QuestionID: 1, SelectedOption: "A"},
		{QuestionID: 2, SelectedOption: "B"},
		{QuestionID: 1, SelectedOption: "C"},
		{QuestionID: 3, SelectedOption: "D"},
		{QuestionID: 2, SelectedOption: "E"},
	}

	got := dedupeAnswers(in)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []SubmittedAnswerInput{
		{QuestionID: 1, SelectedOption: "A"},
		{QuestionID: 2, SelectedOption: "B"},
		{QuestionID: 3, SelectedOption: "D"},
	}
	for i := range want {
		if got[i].QuestionID != want[i].QuestionID || got[i].SelectedOption != want[i].SelectedOption {
			t.Errorf("answer %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDedupeAnswersKeepsUniqueListIntact(t *testing.T) {
	in := []SubmittedAnswerInput{
		{QuestionID: 4, SelectedOption: "A"},
		{QuestionID: 5, Skipped: true},
	}
	got := dedupeAnswers(in)
	if len(got) != 2 || got[0].QuestionID != 4 || got[1].QuestionID != 5 {
		t.Fatalf("unique list changed: %+v", got)
	}
}

func TestNormalizeQuestionRefs(t *testing.T) {
	tests := []struct {
		name    string
		refs    []QuestionRef
		want    []QuestionRef
		wantErr bool
	}{
		{
			name: "explicit sequence kept",
			refs: []QuestionRef{{QuestionID: 10, SeqNo: 2}, {QuestionID: 11, SeqNo: 1}},
			want: []QuestionRef{{QuestionID: 10, SeqNo: 2}, {QuestionID: 11, SeqNo: 1}},
		},
		{
			name: "missing sequence filled from order",
			refs: []QuestionRef{{QuestionID: 10}, {QuestionID: 11}},
			want: []QuestionRef{{QuestionID: 10, SeqNo: 1}, {QuestionID: 11, SeqNo: 2}},
		},
		{name: "duplicate question rejected", refs: []QuestionRef{{QuestionID: 10, SeqNo: 1}, {QuestionID: 10, SeqNo: 2}}, wantErr: true},
		{name: "duplicate sequence rejected", refs: []QuestionRef{{QuestionID: 10, SeqNo: 1}, {QuestionID: 11, SeqNo: 1}}, wantErr: true},
		{name: "zero question id rejected", refs: []QuestionRef{{QuestionID: 0, SeqNo: 1}}, wantErr: true},
		{name: "empty list allowed", refs: nil, want: []QuestionRef{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeQuestionRefs(tc.refs)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("ref %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
