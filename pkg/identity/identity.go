// Package identity holds the identity provider abstraction: accounts, password
// sign-in and the single active session of a client.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider error codes
const (
	CodeEmailInUse     = "email-already-in-use"
	CodeWeakPassword   = "weak-password"
	CodeInvalidEmail   = "invalid-email"
	CodeWrongPassword  = "wrong-password"
	CodeUserNotFound   = "user-not-found"
	CodeSessionExpired = "session-expired"
	CodeNoSession      = "no-session"
	CodeUnavailable    = "unavailable"
)

const MinPasswordLength = 6

// Error is a provider failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the provider code in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Session is the authenticated principal of a client
type Session struct {
	UID       string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Client holds at most one active session. CreateAccount and
// SignInWithPassword replace it; SignOut clears it.
type Client interface {
	CreateAccount(ctx context.Context, email, password string) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns nil without error when signed out.
	CurrentSession(ctx context.Context) (*Session, error)
	ChangePassword(ctx context.Context, newPassword string) error
}

// Provider resumes clients from bearer tokens.
type Provider interface {
	// NewClient returns a client whose session is the one token names ("" for none).
	NewClient(ctx context.Context, token string) (Client, error)
	// Authenticate validates a bearer token and returns its session.
	Authenticate(ctx context.Context, token string) (*Session, error)
}

// Config selects and configures an identity backend
type Config struct {
	Backend         string // local | supabase
	JWTSecret       string
	SessionTTL      time.Duration
	SupabaseURL     string
	SupabaseAnonKey string
	BcryptCost      int
}

// ValidatePassword applies the minimum length rule shared by every backend.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return newError(CodeWeakPassword, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	return nil
}
