// Package auth is the identity provider: it registers users, checks
// credentials, and issues bearer sessions that resolve to a principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

type credentialsError struct{}

func (credentialsError) Error() string { return "Invalid email or password" }

func (credentialsError) Unwrap() error { return errs.ErrUnauthorized }

// ErrInvalidCredentials is returned by Authenticate for an unknown email or
// a wrong password. It wraps errs.ErrUnauthorized.
var ErrInvalidCredentials error = credentialsError{}

// DuplicateEmailMessage is the user-facing conflict message at signup.
const DuplicateEmailMessage = "User with this email already exists"

// SignUpInput is the registration payload.
type SignUpInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Provider authenticates users against the store.
type Provider struct {
	store      store.Store
	sessionTTL time.Duration
	cost       int
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.sessionTTL = d
		}
	}
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates an identity provider backed by s.
func NewProvider(s store.Store, opts ...Option) *Provider {
	p := &Provider{
		store:      s,
		sessionTTL: DefaultSessionTTL,
		cost:       bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateSignUp(in SignUpInput) error {
	if utf8.RuneCountInString(strings.TrimSpace(in.Name)) < 2 {
		return errs.Invalid("name", "Name must be at least 2 characters")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return errs.Invalid("email", "Invalid email address")
	}
	if len(in.Password) < 6 {
		return errs.Invalid("password", "Password must be at least 6 characters")
	}
	if in.Password != in.ConfirmPassword {
		return errs.Invalid("confirmPassword", "Passwords don't match")
	}
	return nil
}

// SignUp registers a new User-role account.
func (p *Provider) SignUp(ctx context.Context, in SignUpInput) (*models.User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateSignUp(in); err != nil {
		return nil, err
	}

	if _, err := p.store.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, &errs.ConflictError{Message: DuplicateEmailMessage}
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &models.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := p.store.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent signup for the same address.
		if errors.Is(err, errs.ErrConflict) {
			return nil, &errs.ConflictError{Message: DuplicateEmailMessage}
		}
		return nil, err
	}
	return u, nil
}

// Authenticate checks an email/password pair.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*models.Principal, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := p.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u.Principal(), nil
}

// Login authenticates and opens a new session.
func (p *Provider) Login(ctx context.Context, email, password string) (*models.Session, *models.Principal, error) {
	principal, err := p.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	now := p.now()
	sess := &models.Session{
		Token:     uuid.NewString(),
		UserID:    principal.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.sessionTTL),
	}
	if err := p.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, principal, nil
}

// Resolve maps a session token to its principal. Unknown and expired tokens
// yield errs.ErrUnauthorized; expired sessions are removed.
func (p *Provider) Resolve(ctx context.Context, token string) (*models.Principal, error) {
	if token == "" {
		return nil, errs.ErrUnauthorized
	}
	sess, err := p.store.GetSession(ctx, token)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	if sess.Expired(p.now()) {
		_ = p.store.DeleteSession(ctx, token)
		return nil, errs.ErrUnauthorized
	}
	u, err := p.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	return u.Principal(), nil
}

// Logout ends a session. Unknown tokens are ignored.
func (p *Provider) Logout(ctx context.Context, token string) error {
	return p.store.DeleteSession(ctx, token)
}

// PurgeExpired removes every expired session.
func (p *Provider) PurgeExpired(ctx context.Context) (int64, error) {
	return p.store.DeleteExpiredSessions(ctx, p.now())
}

// Lookup resolves a principal by email without a password. It is for
// trusted local callers (CLI, MCP) that already hold the database.
func (p *Provider) Lookup(ctx context.Context, email string) (*models.Principal, error) {
	u, err := p.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, fmt.Errorf("no user with email %q: %w", email, errs.ErrUnauthorized)
		}
		return nil, err
	}
	return u.Principal(), nil
}
