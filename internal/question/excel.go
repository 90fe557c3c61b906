package question

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type ImportRowError struct {
	Row   int    `json:"row"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

// answerSeparator splits multi-valued cells (options and accepted answers)
// in the import/export sheet.
const answerSeparator = "|"

func (s *Service) ExportQuestionsExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	f.Limit = 10000
	f.Offset = 0
	items, err := s.ListQuestions(ctx, f)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	sheet := file.GetSheetName(0)
	headers := []string{"subject", "text", "question_type", "options", "correct_answers", "points", "difficulty", "status"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = file.SetCellValue(sheet, cell, h)
	}
	for i, q := range items {
		row := i + 2
		values := []any{
			q.SubjectName,
			q.Text,
			q.QuestionType,
			strings.Join(q.Options, answerSeparator),
			strings.Join(q.CorrectAnswers, answerSeparator),
			q.Points,
			q.Difficulty,
			q.Status,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = file.SetCellValue(sheet, cell, v)
		}
	}
	_ = file.SetColWidth(sheet, "A", "H", 24)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) ImportQuestionsExcel(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	required := []string{"subject", "text", "question_type"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	subjectIDs := map[string]int64{}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		subjectName := get("subject")
		text := get("text")
		qType := strings.ToLower(get("question_type"))
		options := splitCell(get("options"))
		correct := splitCell(get("correct_answers"))
		points, _ := strconv.Atoi(get("points"))
		difficulty := get("difficulty")

		subjectID, err := s.resolveSubject(ctx, subjectIDs, subjectName)
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Text: text, Error: err.Error()})
			continue
		}

		if _, err := s.CreateQuestion(ctx, CreateQuestionInput{
			SubjectID:      subjectID,
			Text:           text,
			QuestionType:   qType,
			Options:        options,
			CorrectAnswers: correct,
			Points:         points,
			Difficulty:     difficulty,
			CreatedBy:      actorID,
		}); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Text: text, Error: err.Error()})
			continue
		}

		report.SuccessRows++
	}

	return report, nil
}

func (s *Service) resolveSubject(ctx context.Context, cache map[string]int64, name string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, errors.New("subject is required")
	}
	if id, ok := cache[key]; ok {
		return id, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM subjects WHERE lower(name) = $1`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("unknown subject %q", name)
		}
		return 0, fmt.Errorf("lookup subject: %w", err)
	}
	cache[key] = id
	return id, nil
}

func splitCell(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, answerSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
