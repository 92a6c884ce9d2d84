package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tasker-backend/pkg/utils"
)

// SupabaseProvider drives GoTrue (/auth/v1). Access tokens are project JWTs
// validated locally with the project's JWT secret.
type SupabaseProvider struct {
	baseURL    string
	anonKey    string
	jwt        *utils.JWTService
	httpClient *http.Client
}

func NewSupabaseProvider(baseURL, anonKey, jwtSecret string) *SupabaseProvider {
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	return &SupabaseProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		jwt:        utils.NewJWTService(jwtSecret, 0),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueSession struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	User        gotrueUser `json:"user"`
}

type gotrueError struct {
	Code             interface{} `json:"code"`
	ErrorCode        string      `json:"error_code"`
	Msg              string      `json:"msg"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// mapGotrueError turns a GoTrue error body into a provider code.
func mapGotrueError(status int, body []byte) *Error {
	var ge gotrueError
	_ = json.Unmarshal(body, &ge)
	msg := ge.Msg
	if msg == "" {
		msg = ge.ErrorDescription
	}
	if msg == "" {
		msg = string(body)
	}
	lower := strings.ToLower(msg)

	switch {
	case ge.ErrorCode == "user_already_exists" || ge.ErrorCode == "email_exists" || strings.Contains(lower, "already registered"):
		return newError(CodeEmailInUse, msg)
	case ge.ErrorCode == "weak_password" || strings.Contains(lower, "password should be"):
		return newError(CodeWeakPassword, msg)
	case ge.ErrorCode == "email_address_invalid" || ge.ErrorCode == "validation_failed" && strings.Contains(lower, "email"):
		return newError(CodeInvalidEmail, msg)
	case ge.ErrorCode == "invalid_credentials" || ge.Error == "invalid_grant":
		return newError(CodeWrongPassword, msg)
	case ge.ErrorCode == "user_not_found":
		return newError(CodeUserNotFound, msg)
	case status == http.StatusUnauthorized || ge.ErrorCode == "session_not_found" || ge.ErrorCode == "bad_jwt":
		return newError(CodeSessionExpired, msg)
	default:
		return newError(CodeUnavailable, fmt.Sprintf("status %d: %s", status, msg))
	}
}

func (p *SupabaseProvider) makeRequest(ctx context.Context, method, endpoint, bearer string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+"/auth/v1"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, mapGotrueError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (p *SupabaseProvider) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := p.jwt.ValidateToken(token)
	if err != nil {
		return nil, &Error{Code: CodeSessionExpired, Err: err}
	}
	return &Session{
		UID:       claims.Subject,
		Email:     claims.Email,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (p *SupabaseProvider) NewClient(ctx context.Context, token string) (Client, error) {
	c := &supabaseClient{p: p}
	if token == "" {
		return c, nil
	}
	sess, err := p.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return c, nil
}

type supabaseClient struct {
	p *SupabaseProvider

	mu      sync.Mutex
	session *Session
}

func (c *supabaseClient) setSession(gs *gotrueSession) (*Session, error) {
	if gs.AccessToken == "" {
		return nil, newError(CodeUnavailable, "no session returned; email confirmation may be required")
	}
	sess := &Session{
		UID:       gs.User.ID,
		Email:     gs.User.Email,
		Token:     gs.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(gs.ExpiresIn) * time.Second),
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	return sess, nil
}

func (c *supabaseClient) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	body, err := c.p.makeRequest(ctx, http.MethodPost, "/signup", "", map[string]string{
		"email":    normalizeEmail(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var gs gotrueSession
	if err := json.Unmarshal(body, &gs); err != nil {
		return nil, fmt.Errorf("decode signup response: %w", err)
	}
	return c.setSession(&gs)
}

func (c *supabaseClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := c.p.makeRequest(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    normalizeEmail(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var gs gotrueSession
	if err := json.Unmarshal(body, &gs); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return c.setSession(&gs)
}

func (c *supabaseClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	_, err := c.p.makeRequest(ctx, http.MethodPost, "/logout", sess.Token, nil)
	if CodeOf(err) == CodeSessionExpired {
		return nil
	}
	return err
}

func (c *supabaseClient) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || time.Now().After(c.session.ExpiresAt) {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

func (c *supabaseClient) ChangePassword(ctx context.Context, newPassword string) error {
	sess, _ := c.CurrentSession(ctx)
	if sess == nil {
		return newError(CodeNoSession, "sign in before changing the password")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	_, err := c.p.makeRequest(ctx, http.MethodPut, "/user", sess.Token, map[string]string{"password": newPassword})
	return err
}
