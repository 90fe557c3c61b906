package masterdata

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrClassNotFound   = errors.New("class not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrNameTaken       = errors.New("name already in use")
)

type Service struct {
	db         *sql.DB
	bcryptCost int
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, bcryptCost: bcrypt.DefaultCost}
}

type Class struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	GradeLevel   string `json:"grade_level,omitempty"`
	StudentCount int    `json:"student_count"`
	IsActive     bool   `json:"is_active"`
}

type Subject struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type UpsertClassInput struct {
	Name       string
	GradeLevel string
}

type ImportStudentsReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func (s *Service) CreateClass(ctx context.Context, actorID int64, in UpsertClassInput) (*Class, error) {
	name := strings.TrimSpace(in.Name)
	grade := strings.TrimSpace(in.GradeLevel)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var class Class
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO classes (name, grade_level, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), now(), now())
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, COALESCE(grade_level,''), TRUE
	`, name, grade).Scan(&class.ID, &class.Name, &class.GradeLevel, &class.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create class: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "class_created", "class", fmt.Sprintf("%d", class.ID), map[string]any{
		"name": class.Name,
	})

	return &class, nil
}

func (s *Service) UpdateClass(ctx context.Context, actorID, id int64, in UpsertClassInput) (*Class, error) {
	name := strings.TrimSpace(in.Name)
	grade := strings.TrimSpace(in.GradeLevel)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	var class Class
	err := s.db.QueryRowContext(ctx, `
		UPDATE classes
		SET name = $2, grade_level = NULLIF($3,''), updated_at = now()
		WHERE id = $1 AND is_active = TRUE
		RETURNING id, name, COALESCE(grade_level,''), is_active
	`, id, name, grade).Scan(&class.ID, &class.Name, &class.GradeLevel, &class.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("update class: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "class_updated", "class", fmt.Sprintf("%d", class.ID), map[string]any{
		"name": class.Name,
	})

	return &class, nil
}

func (s *Service) DeleteClass(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE classes SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete class rows: %w", err)
	}
	if affected == 0 {
		return ErrClassNotFound
	}

	_ = s.writeAudit(ctx, actorID, "class_deleted", "class", fmt.Sprintf("%d", id), map[string]any{})

	return nil
}

func (s *Service) ListClasses(ctx context.Context, activeOnly bool) ([]Class, error) {
	query := `
		SELECT c.id, c.name, COALESCE(c.grade_level,''), c.is_active,
			(SELECT COUNT(*) FROM users u WHERE u.class_id = c.id AND u.role = 'student' AND u.is_active) AS student_count
		FROM classes c
	`
	if activeOnly {
		query += " WHERE c.is_active = TRUE"
	}
	query += " ORDER BY c.name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	out := make([]Class, 0)
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.GradeLevel, &c.IsActive, &c.StudentCount); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return out, nil
}

func (s *Service) CreateSubject(ctx context.Context, actorID int64, name string) (*Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var subject Subject
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subjects (name, created_at, updated_at)
		VALUES ($1, now(), now())
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, TRUE
	`, name).Scan(&subject.ID, &subject.Name, &subject.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create subject: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "subject_created", "subject", fmt.Sprintf("%d", subject.ID), map[string]any{
		"name": subject.Name,
	})

	return &subject, nil
}

func (s *Service) UpdateSubject(ctx context.Context, actorID, id int64, name string) (*Subject, error) {
	name = strings.TrimSpace(name)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	var subject Subject
	err := s.db.QueryRowContext(ctx, `
		UPDATE subjects SET name = $2, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
		RETURNING id, name, is_active
	`, id, name).Scan(&subject.ID, &subject.Name, &subject.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("update subject: %w", err)
	}

	_ = s.writeAudit(ctx, actorID, "subject_updated", "subject", fmt.Sprintf("%d", subject.ID), map[string]any{
		"name": subject.Name,
	})

	return &subject, nil
}

func (s *Service) DeleteSubject(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subject rows: %w", err)
	}
	if affected == 0 {
		return ErrSubjectNotFound
	}

	_ = s.writeAudit(ctx, actorID, "subject_deleted", "subject", fmt.Sprintf("%d", id), map[string]any{})

	return nil
}

func (s *Service) ListSubjects(ctx context.Context, activeOnly bool) ([]Subject, error) {
	query := `SELECT id, name, is_active FROM subjects`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	out := make([]Subject, 0)
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.IsActive); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

// ImportStudentsCSV bulk-registers student accounts and assigns them to
// classes. Classes referenced by name are created on the fly. Each data
// row commits independently so one bad row does not sink the batch.
func (s *Service) ImportStudentsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportStudentsReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if n != "" {
			index[n] = i
		}
	}

	required := []string{"full_name", "username", "password", "class_name"}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &ImportStudentsReport{Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.TotalRows++
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}

		report.TotalRows++
		if isRowEmpty(rec) {
			continue
		}

		row := map[string]string{
			"full_name":   cell(rec, index, "full_name"),
			"username":    strings.ToLower(cell(rec, index, "username")),
			"password":    cell(rec, index, "password"),
			"email":       strings.ToLower(cell(rec, index, "email")),
			"class_name":  cell(rec, index, "class_name"),
			"grade_level": cell(rec, index, "grade_level"),
		}

		if err := validateImportRow(row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}

		if err := s.importStudentRow(ctx, row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}

	_ = s.writeAudit(ctx, actorID, "students_import_csv", "student_import", "csv", map[string]any{
		"total_rows":   report.TotalRows,
		"success_rows": report.SuccessRows,
		"failed_rows":  report.FailedRows,
	})

	return report, nil
}

func (s *Service) importStudentRow(ctx context.Context, row map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	classID, err := getOrCreateClassTx(ctx, tx, row["class_name"], row["grade_level"])
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(row["password"]), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var email any
	if row["email"] != "" {
		email = row["email"]
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, class_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'student', $5, TRUE, now(), now())
		ON CONFLICT (username) DO NOTHING
	`, row["username"], email, string(hash), row["full_name"], classID)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("username %q already exists", row["username"])
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func getOrCreateClassTx(ctx context.Context, tx *sql.Tx, className, gradeLevel string) (int64, error) {
	var classID int64
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM classes
		WHERE LOWER(name) = LOWER($1)
		LIMIT 1
	`, className).Scan(&classID)
	if err == nil {
		return classID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup class: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO classes (name, grade_level, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), now(), now())
		RETURNING id
	`, className, gradeLevel).Scan(&classID)
	if err != nil {
		return 0, fmt.Errorf("insert class: %w", err)
	}
	return classID, nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action, entityType, entityID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
	`, userID, action, entityType, entityID, string(b))
	return err
}

func validateImportRow(row map[string]string) error {
	if row["full_name"] == "" || row["username"] == "" || row["class_name"] == "" {
		return errors.New("full_name, username and class_name are required")
	}
	if len(row["password"]) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if row["email"] != "" {
		if _, err := mail.ParseAddress(row["email"]); err != nil {
			return errors.New("invalid email")
		}
	}
	return nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
