package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultPrompt = "You are the help assistant for ExamHub, a school examination platform. Answer briefly, clearly and professionally in English. Focus on signing in, starting and submitting exam attempts, attempt limits, result and grade questions, and exam integrity. Never reveal answers to exam questions."

type ServiceConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	HTTPClient   *http.Client
}

type Service struct {
	geminiAPIKey string
	geminiModel  string
	client       *http.Client
}

type Result struct {
	Reply  string
	Source string
}

func NewService(cfg ServiceConfig) *Service {
	model := strings.TrimSpace(cfg.GeminiModel)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 18 * time.Second}
	}
	return &Service{
		geminiAPIKey: strings.TrimSpace(cfg.GeminiAPIKey),
		geminiModel:  model,
		client:       client,
	}
}

func (s *Service) Generate(ctx context.Context, query string) (Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Result{}, fmt.Errorf("query is required")
	}
	if len(q) > 1200 {
		return Result{}, fmt.Errorf("query too long")
	}

	if s.geminiAPIKey == "" {
		return Result{Reply: localReply(q), Source: "local"}, nil
	}

	reply, err := s.generateWithGemini(ctx, q)
	if err != nil {
		return Result{Reply: localReply(q), Source: "local_fallback"}, nil
	}
	return Result{Reply: reply, Source: "gemini"}, nil
}

func (s *Service) generateWithGemini(ctx context.Context, query string) (string, error) {
	reqBody := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]string{
					{"text": query},
				},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]string{
				{"text": defaultPrompt},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.4,
			"maxOutputTokens": 320,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", s.geminiModel, s.geminiAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	var out geminiGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(out.firstText())
	if reply == "" {
		return "", fmt.Errorf("empty gemini response")
	}
	return reply, nil
}

func localReply(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.Contains(q, "login"), strings.Contains(q, "sign in"), strings.Contains(q, "password"):
		return "Sign in with the school account your teacher or principal created for you. If the password does not work, ask a staff member to reset it."
	case strings.Contains(q, "start"), strings.Contains(q, "available"):
		return "Open Available Exams to see the exams scheduled for your class. An exam can only be started inside its scheduled window."
	case strings.Contains(q, "submit"):
		return "Review any unanswered questions before submitting. Submit once and wait for the confirmation; an attempt cannot be submitted twice."
	case strings.Contains(q, "attempt"), strings.Contains(q, "retake"):
		return "Each exam sets its own attempt limit. If you have used all attempts, ask your teacher whether a retake is allowed."
	case strings.Contains(q, "result"), strings.Contains(q, "grade"), strings.Contains(q, "score"):
		return "Your score, percentage, grade and class rank appear under Results after you submit. Descriptive answers are graded by your teacher, so those marks can arrive later."
	case strings.Contains(q, "time"), strings.Contains(q, "timer"):
		return "The timer follows server time. Keep an eye on it and submit before the exam window closes."
	case strings.Contains(q, "error"), strings.Contains(q, "stuck"):
		return "Refresh the page, sign in again and check your connection. If the problem persists, report it to your teacher with the time it happened."
	default:
		return "I can help with signing in, starting exams, submitting attempts, attempt limits and understanding your results. Describe your problem briefly."
	}
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r geminiGenerateResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}
