package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	RolePrincipal = "principal"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

type Service struct {
	db             *sql.DB
	sessionTTL     time.Duration
	bcryptCost     int
	bootstrapToken string
}

type ServiceConfig struct {
	SessionTTL     time.Duration
	BcryptCost     int
	BootstrapToken string
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	ClassID   *int64    `json:"class_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string
	ClassID  *int64
}

type UpdateUserInput struct {
	FullName string
	Email    string
	Role     string
	Password string
	ClassID  *int64
	IsActive *bool
}

type BootstrapInput struct {
	Token    string
	Username string
	Email    string
	Password string
	FullName string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:             db,
		sessionTTL:     cfg.SessionTTL,
		bcryptCost:     cfg.BcryptCost,
		bootstrapToken: strings.TrimSpace(cfg.BootstrapToken),
	}
}

func ValidRole(role string) bool {
	switch role {
	case RolePrincipal, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user User
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, class_id, is_active, password_hash, created_at
		FROM users
		WHERE lower(username) = lower($1) OR lower(email) = lower($1)
	`, identifier).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role, &user.ClassID, &user.IsActive, &hash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}

	return &user, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ip, userAgent string) (string, time.Time, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, ip, user_agent, created_at, expires_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), now(), $5)
	`, userID, hashToken(token), strings.TrimSpace(ip), strings.TrimSpace(userAgent), expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}

	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.class_id, u.is_active, u.created_at
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.token_hash = $1
		  AND se.revoked_at IS NULL
		  AND se.expires_at > now()
	`, hashToken(token)).Scan(&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role, &user.ClassID, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}

	return &user, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// BootstrapPrincipal creates the first principal account. It is a no-op
// guard against takeover: the call is rejected unless the configured
// bootstrap token matches and no principal exists yet.
func (s *Service) BootstrapPrincipal(ctx context.Context, in BootstrapInput) (*User, error) {
	if s.bootstrapToken == "" || strings.TrimSpace(in.Token) != s.bootstrapToken {
		return nil, ErrBootstrapDenied
	}

	var existing int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE role = 'principal'
	`).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count principals: %w", err)
	}
	if existing > 0 {
		return nil, ErrBootstrapDenied
	}

	return s.CreateUser(ctx, CreateUserInput{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
		FullName: in.FullName,
		Role:     RolePrincipal,
	})
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	if username == "" || fullName == "" || len(in.Password) < 8 || !ValidRole(in.Role) {
		return nil, ErrInvalidInput
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}
	if in.Role == RoleStudent && (in.ClassID == nil || *in.ClassID <= 0) {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user User
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, class_id, is_active, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, TRUE, now(), now())
		ON CONFLICT (username) DO NOTHING
		RETURNING id, username, email, full_name, role, class_id, is_active, created_at
	`, username, email, string(hash), fullName, in.Role, in.ClassID).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role, &user.ClassID, &user.IsActive, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &user, nil
}

func (s *Service) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	role = strings.TrimSpace(role)
	q = strings.TrimSpace(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, role, class_id, is_active, created_at
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2 = '' OR username ILIKE '%' || $2 || '%' OR full_name ILIKE '%' || $2 || '%')
		ORDER BY id
		LIMIT $3 OFFSET $4
	`, role, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.ClassID, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID int64, in UpdateUserInput) (*User, error) {
	if userID <= 0 {
		return nil, ErrInvalidInput
	}
	fullName := strings.TrimSpace(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if fullName == "" || !ValidRole(in.Role) {
		return nil, ErrInvalidInput
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	passwordHash := ""
	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hash)
	}

	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}

	var user User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2,
			email = NULLIF($3,''),
			role = $4,
			class_id = $5,
			is_active = $6,
			password_hash = CASE WHEN $7 = '' THEN password_hash ELSE $7 END,
			updated_at = now()
		WHERE id = $1
		RETURNING id, username, email, full_name, role, class_id, is_active, created_at
	`, userID, fullName, email, in.Role, in.ClassID, isActive, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Role, &user.ClassID, &user.IsActive, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	return &user, nil
}

func (s *Service) DeactivateUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, updated_at = now() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
