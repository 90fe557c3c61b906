package assistant

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateWithoutAPIKeyUsesLocalReplies(t *testing.T) {
	svc := NewService(ServiceConfig{})

	cases := []struct {
		query string
		want  string
	}{
		{"I cannot login to my account", "Sign in"},
		{"how do I submit my exam", "cannot be submitted twice"},
		{"where can I see my results", "class rank"},
		{"can I retake the exam", "attempt limit"},
		{"something broke", "signing in, starting exams"},
	}
	for _, tc := range cases {
		res, err := svc.Generate(context.Background(), tc.query)
		if err != nil {
			t.Fatalf("Generate(%q): %v", tc.query, err)
		}
		if res.Source != "local" {
			t.Fatalf("Generate(%q) source = %q, want local", tc.query, res.Source)
		}
		if !strings.Contains(res.Reply, tc.want) {
			t.Errorf("Generate(%q) reply = %q, want substring %q", tc.query, res.Reply, tc.want)
		}
	}
}

func TestGenerateRejectsBadQueries(t *testing.T) {
	svc := NewService(ServiceConfig{})

	if _, err := svc.Generate(context.Background(), "   "); err == nil {
		t.Error("blank query should be rejected")
	}
	if _, err := svc.Generate(context.Background(), strings.Repeat("x", 1300)); err == nil {
		t.Error("oversized query should be rejected")
	}
}
