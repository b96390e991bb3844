package users

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/domain"
	"github.com/platinummonkey/coursehub/pkg/observability"
	"github.com/platinummonkey/coursehub/pkg/storage"
)

// Login attempt outcomes recorded in metrics
const (
	resultSuccess      = "success"
	resultUnknownEmail = "unknown_email"
	resultBadPassword  = "bad_password"
	resultError        = "error"
)

// RegisterInput is the registration payload
type RegisterInput struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role,omitempty"`
}

// Session is returned by Register and Login
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Profile   `json:"user"`
}

// Profile is the user as seen by themself
type Profile struct {
	ID                  int64       `json:"id"`
	Name                string      `json:"name"`
	Email               string      `json:"email"`
	Role                domain.Role `json:"role"`
	AccessibleCourseIDs []int64     `json:"accessibleCourseIds"`
}

func profileOf(u *domain.User) Profile {
	ids := u.AccessibleCourseIDs
	if ids == nil {
		ids = []int64{}
	}
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, AccessibleCourseIDs: ids}
}

// Service manages accounts
type Service struct {
	store   storage.UserStore
	tokens  *auth.TokenManager
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewService creates a user service
func NewService(store storage.UserStore, tokens *auth.TokenManager, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	return &Service{store: store, tokens: tokens, audit: auditLogger, metrics: metrics, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) recordLogin(ctx context.Context, result string, userID *int64, email string, err error) {
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(result).Inc()
	}

	eventType, status, message := audit.EventTypeAuthLogin, audit.EventStatusSuccess, "login succeeded"
	if result != resultSuccess {
		eventType, status, message = audit.EventTypeAuthLoginFailed, audit.EventStatusFailure, "login failed: "+result
	}
	if auditErr := s.audit.LogAuthentication(ctx, eventType, userID, email, status, message); auditErr != nil {
		s.logger.WithError(auditErr).Warn("Failed to write audit event")
	}
	if err != nil && result == resultError {
		s.logger.WithError(err).Warn("Login failed on storage error")
	}
}

func (s *Service) session(op string, user *domain.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to issue token: %w", op, err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: profileOf(user)}, nil
}

// Register creates an account and returns a session for it
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	const op = "users.Register"

	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" {
		return nil, domain.E(domain.KindInvalidInput, op, "name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.E(domain.KindInvalidInput, op, "a valid email is required")
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, domain.E(domain.KindInvalidInput, op, "unknown role %q", role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindInvalidInput, Op: op, Message: err.Error(), Err: err}
	}

	user := &domain.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if auditErr := s.audit.LogAuthentication(ctx, audit.EventTypeAuthRegister, &user.ID, email, audit.EventStatusSuccess, "user registered"); auditErr != nil {
		s.logger.WithError(auditErr).Warn("Failed to write audit event")
	}
	return s.session(op, user)
}

// Login checks credentials and returns a new session
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "users.Login"
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.E(domain.KindInvalidInput, op, "email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.recordLogin(ctx, resultUnknownEmail, nil, email, err)
			return nil, domain.E(domain.KindNotFound, op, "user not found")
		}
		s.recordLogin(ctx, resultError, nil, email, err)
		return nil, err
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		s.recordLogin(ctx, resultError, &user.ID, email, err)
		return nil, fmt.Errorf("%s: failed to verify password: %w", op, err)
	}
	if !ok {
		s.recordLogin(ctx, resultBadPassword, &user.ID, email, nil)
		return nil, domain.E(domain.KindUnauthorized, op, "invalid password")
	}

	s.recordLogin(ctx, resultSuccess, &user.ID, email, nil)
	return s.session(op, user)
}

// Me returns the caller's profile including the accessible course cache
func (s *Service) Me(ctx context.Context, subject *auth.Subject) (Profile, error) {
	if subject == nil {
		return Profile{}, domain.E(domain.KindUnauthorized, "users.Me", "authentication required")
	}
	user, err := s.store.GetUser(ctx, subject.UserID)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(user), nil
}

// ListUsers returns every account without credentials
func (s *Service) ListUsers(ctx context.Context) ([]Profile, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, profileOf(u))
	}
	return out, nil
}
