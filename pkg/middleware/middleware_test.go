package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasker-backend/pkg/config"
	"tasker-backend/pkg/identity"
)

type stubProvider struct {
	tokens map[string]*identity.Session
	err    error
}

func (p stubProvider) NewClient(context.Context, string) (identity.Client, error) {
	return nil, nil
}

func (p stubProvider) Authenticate(_ context.Context, token string) (*identity.Session, error) {
	if p.err != nil {
		return nil, p.err
	}
	if sess, ok := p.tokens[token]; ok {
		return sess, nil
	}
	return nil, &identity.Error{Code: identity.CodeSessionExpired}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestAuthMiddleware(t *testing.T) {
	provider := stubProvider{tokens: map[string]*identity.Session{"good": {UID: "u1", Email: "u1@example.com"}}}
	var seen string
	h := AuthMiddleware(provider, discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := RequireSession(r.Context())
		if err != nil {
			t.Fatalf("RequireSession: %v", err)
		}
		seen = sess.UID
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"no bearer prefix", func(r *http.Request) { r.Header.Set("Authorization", "good") }, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, http.StatusUnauthorized},
		{"query token on upgrade", func(r *http.Request) {
			r.URL.RawQuery = "access_token=good"
			r.Header.Set("Upgrade", "websocket")
		}, http.StatusOK},
		{"query token without upgrade", func(r *http.Request) { r.URL.RawQuery = "access_token=good" }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && seen != "u1" {
				t.Fatalf("session uid = %q", seen)
			}
		})
	}
}

func TestAuthMiddlewareProviderDown(t *testing.T) {
	provider := stubProvider{err: &identity.Error{Code: identity.CodeUnavailable}}
	h := AuthMiddleware(provider, discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestLoggerRecordsUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	provider := stubProvider{tokens: map[string]*identity.Session{"t": {UID: "u42"}}}
	inner := AuthMiddleware(provider, discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h := RequestLogger(logger)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer t")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["user"] != "u42" || line["status"] != float64(http.StatusTeapot) || line["path"] != "/api/x" || line["level"] != "WARN" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(&config.Config{Environment: "production"}, discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "INTERNAL" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatal("stack leaked in production")
	}
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("form body status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("ip") || !l.Allow("ip") {
		t.Fatal("requests within the limit rejected")
	}
	if l.Allow("ip") {
		t.Fatal("third request allowed")
	}
	if !l.Allow("other") {
		t.Fatal("limit shared across clients")
	}
	now = now.Add(time.Minute + time.Second)
	if !l.Allow("ip") {
		t.Fatal("window did not reset")
	}

	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	codes := []int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestNormalize(t *testing.T) {
	var path, host string
	h := Normalize()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, host = r.URL.Path, r.Host
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/spaces%20", nil)
	req.Header.Set("X-Forwarded-Host", "tasker.example")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if path != "/api/spaces" || host != "tasker.example" {
		t.Fatalf("path %q host %q", path, host)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com", "https://preview-*"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://preview-42.vercel.app", true},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := OriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("OriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !OriginAllowed("https://anything", []string{"*"}) {
		t.Error("wildcard rejected origin")
	}
}
