package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tasker-backend/pkg/database"
	"tasker-backend/pkg/utils"
)

type accountRecord struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type sessionRecord struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LocalProvider keeps accounts in the document store (keyed by normalized
// email) and issues HS256 session tokens tracked in the sessions collection.
type LocalProvider struct {
	store      database.DocumentStore
	jwt        *utils.JWTService
	bcryptCost int

	// serializes the email uniqueness check with account creation
	createMu sync.Mutex
}

func NewLocalProvider(store database.DocumentStore, secret string, ttl time.Duration, bcryptCost int) *LocalProvider {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &LocalProvider{
		store:      store,
		jwt:        utils.NewJWTService(secret, ttl),
		bcryptCost: bcryptCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return newError(CodeInvalidEmail, "email address is badly formatted")
	}
	return nil
}

func (p *LocalProvider) NewClient(ctx context.Context, token string) (Client, error) {
	c := &localClient{p: p}
	if token == "" {
		return c, nil
	}
	sess, id, err := p.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	c.session, c.sessionID = sess, id
	return c, nil
}

func (p *LocalProvider) Authenticate(ctx context.Context, token string) (*Session, error) {
	sess, _, err := p.authenticate(ctx, token)
	return sess, err
}

func (p *LocalProvider) authenticate(ctx context.Context, token string) (*Session, string, error) {
	claims, err := p.jwt.ValidateToken(token)
	if err != nil {
		return nil, "", &Error{Code: CodeSessionExpired, Err: err}
	}
	doc, err := p.store.Get(ctx, database.CollectionSessions, claims.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, "", newError(CodeSessionExpired, "session has been signed out")
	}
	if err != nil {
		return nil, "", &Error{Code: CodeUnavailable, Err: err}
	}
	var rec sessionRecord
	if err := database.Decode(doc, &rec); err != nil || rec.UID != claims.Subject {
		return nil, "", newError(CodeSessionExpired, "session record mismatch")
	}
	sess := &Session{
		UID:       claims.Subject,
		Email:     claims.Email,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	return sess, claims.ID, nil
}

func (p *LocalProvider) issueSession(ctx context.Context, uid, email string) (*Session, string, error) {
	sessionID, err := utils.GenerateURLToken(24)
	if err != nil {
		return nil, "", err
	}
	token, expiresAt, err := p.jwt.GenerateSessionToken(uid, email, sessionID)
	if err != nil {
		return nil, "", err
	}
	doc, err := database.Encode(sessionRecord{UID: uid, Email: email, ExpiresAt: expiresAt})
	if err != nil {
		return nil, "", err
	}
	if err := p.store.Set(ctx, database.CollectionSessions, sessionID, doc); err != nil {
		return nil, "", &Error{Code: CodeUnavailable, Err: err}
	}
	return &Session{UID: uid, Email: email, Token: token, ExpiresAt: expiresAt}, sessionID, nil
}

func (p *LocalProvider) account(ctx context.Context, email string) (*accountRecord, error) {
	doc, err := p.store.Get(ctx, database.CollectionAccounts, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, newError(CodeUserNotFound, "no account for this email")
	}
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Err: err}
	}
	var rec accountRecord
	if err := database.Decode(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &rec, nil
}

func (p *LocalProvider) saveAccount(ctx context.Context, rec *accountRecord) error {
	doc, err := database.Encode(rec)
	if err != nil {
		return err
	}
	if err := p.store.Set(ctx, database.CollectionAccounts, rec.Email, doc); err != nil {
		return &Error{Code: CodeUnavailable, Err: err}
	}
	return nil
}

type localClient struct {
	p *LocalProvider

	mu        sync.Mutex
	session   *Session
	sessionID string
}

func (c *localClient) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	c.p.createMu.Lock()
	_, err := c.p.account(ctx, email)
	if err == nil {
		c.p.createMu.Unlock()
		return nil, newError(CodeEmailInUse, "email address is already in use")
	}
	if CodeOf(err) != CodeUserNotFound {
		c.p.createMu.Unlock()
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.p.bcryptCost)
	if err != nil {
		c.p.createMu.Unlock()
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	rec := &accountRecord{
		UID:          uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = c.p.saveAccount(ctx, rec)
	c.p.createMu.Unlock()
	if err != nil {
		return nil, err
	}

	return c.startSession(ctx, rec.UID, rec.Email)
}

func (c *localClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	rec, err := c.p.account(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, newError(CodeWrongPassword, "the password is invalid")
	}
	return c.startSession(ctx, rec.UID, rec.Email)
}

func (c *localClient) startSession(ctx context.Context, uid, email string) (*Session, error) {
	sess, id, err := c.p.issueSession(ctx, uid, email)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session, c.sessionID = sess, id
	c.mu.Unlock()
	return sess, nil
}

func (c *localClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.session, c.sessionID = nil, ""
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := c.p.store.Delete(ctx, database.CollectionSessions, id); err != nil {
		return &Error{Code: CodeUnavailable, Err: err}
	}
	return nil
}

func (c *localClient) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || time.Now().After(c.session.ExpiresAt) {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

func (c *localClient) ChangePassword(ctx context.Context, newPassword string) error {
	sess, _ := c.CurrentSession(ctx)
	if sess == nil {
		return newError(CodeNoSession, "sign in before changing the password")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	rec, err := c.p.account(ctx, normalizeEmail(sess.Email))
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), c.p.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	rec.UpdatedAt = time.Now().UTC()
	return c.p.saveAccount(ctx, rec)
}
