package handler

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

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"tasker-backend/pkg/app"
	"tasker-backend/pkg/config"
	"tasker-backend/pkg/database"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type testServer struct {
	t   *testing.T
	app *app.App
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment:     "test",
		Port:            "0",
		StoreBackend:    "memory",
		IdentityBackend: "local",
		JWTSecret:       "test-secret",
		SessionTTL:      time.Hour,
		BcryptCost:      bcrypt.MinCost,
		SettleMode:      "delay",
		AllowedOrigins:  []string{"*"},
		LogFormat:       "text",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.NewWithStore(cfg, logger, database.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewWithStore: %v", err)
	}
	srv := httptest.NewServer(NewRouter(a))
	t.Cleanup(srv.Close)
	return &testServer{t: t, app: a, srv: srv}
}

func (ts *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	ts.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		ts.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		ts.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (ts *testServer) ok(method, path, token string, body, out interface{}) {
	ts.t.Helper()
	status, env := ts.do(method, path, token, body)
	if status >= 300 || !env.Success {
		ts.t.Fatalf("%s %s: status %d error %+v", method, path, status, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			ts.t.Fatalf("%s %s: data: %v", method, path, err)
		}
	}
}

type authData struct {
	Session struct {
		AccessToken string `json:"access_token"`
	} `json:"session"`
	User struct {
		UID    string   `json:"uid"`
		Spaces []string `json:"spaces"`
	} `json:"user"`
}

func (ts *testServer) signupAdmin() authData {
	ts.t.Helper()
	var res authData
	ts.ok(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ada@example.com", "password": "admin-pass", "username": "ada", "role": "admin",
	}, &res)
	if res.Session.AccessToken == "" {
		ts.t.Fatal("signup returned no token")
	}
	return res
}

func (ts *testServer) createSpace(token string) string {
	ts.t.Helper()
	var space struct {
		ID string `json:"id"`
	}
	ts.ok(http.MethodPost, "/api/spaces", token, map[string]string{"name": "Platform"}, &space)
	return space.ID
}

func TestHealthAndUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.do(http.MethodGet, "/", "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("health: %d %+v", status, env.Error)
	}

	status, env = ts.do(http.MethodGet, "/api/nope", "", nil)
	if status != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unknown route: %d %+v", status, env.Error)
	}
}

func TestSpacesRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(http.MethodGet, "/api/spaces", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestBoardFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	token := admin.Session.AccessToken
	spaceID := ts.createSpace(token)

	var me authData
	ts.ok(http.MethodGet, "/api/auth/me", token, nil, &me.User)
	if len(me.User.Spaces) != 1 || me.User.Spaces[0] != spaceID {
		t.Fatalf("admin spaces = %v", me.User.Spaces)
	}

	var task struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
		Progress int    `json:"progress"`
	}
	ts.ok(http.MethodPost, "/api/spaces/"+spaceID+"/tasks", token, map[string]string{"title": "Ship it"}, &task)
	if task.Status != "todo" || task.Priority != "medium" || task.Progress != 0 {
		t.Fatalf("task defaults = %+v", task)
	}

	ts.ok(http.MethodPut, "/api/spaces/"+spaceID+"/tasks/"+task.ID+"/status", token, map[string]string{"status": "completed"}, &task)
	if task.Progress != 100 {
		t.Fatalf("progress after completed = %d", task.Progress)
	}

	var tasks []json.RawMessage
	ts.ok(http.MethodGet, "/api/spaces/"+spaceID+"/tasks", token, nil, &tasks)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}

	var space struct {
		Tasks       int `json:"tasks"`
		MemberCount int `json:"memberCount"`
	}
	ts.ok(http.MethodGet, "/api/spaces/"+spaceID, token, nil, &space)
	if space.Tasks != 1 || space.MemberCount != 1 {
		t.Fatalf("counters = %+v", space)
	}

	ts.ok(http.MethodDelete, "/api/spaces/"+spaceID+"/tasks/"+task.ID, token, nil, nil)
	ts.ok(http.MethodGet, "/api/spaces/"+spaceID, token, nil, &space)
	if space.Tasks != 0 {
		t.Fatalf("tasks after delete = %d", space.Tasks)
	}

	status, env := ts.do(http.MethodPost, "/api/spaces/"+spaceID+"/tasks", token, map[string]string{"title": " "})
	if status != http.StatusBadRequest || env.Error.Code != "INVALID_INPUT" {
		t.Fatalf("blank title: %d %+v", status, env.Error)
	}
}

func TestAddMemberFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	token := admin.Session.AccessToken
	spaceID := ts.createSpace(token)

	var added struct {
		Member struct {
			UID        string `json:"uid"`
			Username   string `json:"username"`
			Role       string `json:"role"`
			AdminEmail string `json:"adminEmail"`
		} `json:"member"`
		Session *struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	ts.ok(http.MethodPost, "/api/spaces/"+spaceID+"/members", token, map[string]string{
		"email": "bob@example.com", "password": "member-pass", "adminPassword": "admin-pass",
	}, &added)
	if added.Member.Username != "bob" || added.Member.Role != "user" || added.Member.AdminEmail != "ada@example.com" {
		t.Fatalf("member = %+v", added.Member)
	}
	if added.Session == nil || added.Session.AccessToken == "" {
		t.Fatal("restored admin session missing")
	}

	// the admin's original token keeps working after provisioning
	var members []struct {
		UID     string `json:"uid"`
		IsAdmin bool   `json:"isAdmin"`
	}
	ts.ok(http.MethodGet, "/api/spaces/"+spaceID+"/members", token, nil, &members)
	if len(members) != 2 || !members[0].IsAdmin || members[1].UID != added.Member.UID {
		t.Fatalf("members = %+v", members)
	}

	// the new member can log in and sees the space
	var bob authData
	ts.ok(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "bob@example.com", "password": "member-pass"}, &bob)
	if len(bob.User.Spaces) != 1 || bob.User.Spaces[0] != spaceID {
		t.Fatalf("member spaces = %v", bob.User.Spaces)
	}

	status, env := ts.do(http.MethodPost, "/api/spaces/"+spaceID+"/members", token, map[string]string{
		"email": "bob@example.com", "password": "member-pass", "adminPassword": "admin-pass",
	})
	if status != http.StatusConflict || env.Error.Code != "EMAIL_ALREADY_REGISTERED" {
		t.Fatalf("duplicate: %d %+v", status, env.Error)
	}

	status, env = ts.do(http.MethodDelete, "/api/spaces/"+spaceID+"/members/"+admin.User.UID, token, nil)
	if status != http.StatusForbidden || env.Error.Code != "SELF_REMOVAL_DENIED" {
		t.Fatalf("self removal: %d %+v", status, env.Error)
	}

	ts.ok(http.MethodDelete, "/api/spaces/"+spaceID+"/members/"+added.Member.UID, token, nil, nil)
	status, _ = ts.do(http.MethodGet, "/api/spaces/"+spaceID+"/tasks", bob.Session.AccessToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("removed member listing tasks: %d", status)
	}
}

func TestAddMemberWhileProvisioningIsBusy(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	token := admin.Session.AccessToken
	spaceID := ts.createSpace(token)

	release, ok := ts.app.AdminLocks.TryAcquire(admin.User.UID)
	if !ok {
		t.Fatal("could not take admin lock")
	}
	defer release()

	status, env := ts.do(http.MethodPost, "/api/spaces/"+spaceID+"/members", token, map[string]string{
		"email": "bob@example.com", "password": "member-pass", "adminPassword": "admin-pass",
	})
	if status != http.StatusConflict || env.Error.Code != "PROVISIONING_IN_PROGRESS" {
		t.Fatalf("busy: %d %+v", status, env.Error)
	}
}

func TestNotesSocket(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	token := admin.Session.AccessToken
	spaceID := ts.createSpace(token)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/spaces/" + spaceID + "/notes/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	type message struct {
		Type  string `json:"type"`
		Notes struct {
			Notes     string `json:"notes"`
			UpdatedBy string `json:"updatedBy"`
		} `json:"notes"`
	}
	read := func() message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	if m := read(); m.Type != "notes" || m.Notes.Notes != "" {
		t.Fatalf("initial message = %+v", m)
	}

	ts.ok(http.MethodPut, "/api/spaces/"+spaceID+"/notes", token, map[string]string{"notes": "standup at 10"}, nil)
	if m := read(); m.Notes.Notes != "standup at 10" {
		t.Fatalf("update message = %+v", m)
	}
}

func TestNotesSocketRejectsStrangers(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	spaceID := ts.createSpace(admin.Session.AccessToken)

	var other authData
	ts.ok(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "eve@example.com", "password": "eve-pass-1", "role": "user",
	}, &other)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/spaces/" + spaceID + "/notes/ws?access_token=" + other.Session.AccessToken
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("stranger connected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v", resp)
	}
}

func TestNotesSocketClosesWhenMemberRemoved(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signupAdmin()
	token := admin.Session.AccessToken
	spaceID := ts.createSpace(token)

	var added struct {
		Member struct {
			UID string `json:"uid"`
		} `json:"member"`
	}
	ts.ok(http.MethodPost, "/api/spaces/"+spaceID+"/members", token, map[string]string{
		"email": "bob@example.com", "password": "member-pass", "adminPassword": "admin-pass",
	}, &added)
	var bob authData
	ts.ok(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "bob@example.com", "password": "member-pass"}, &bob)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/spaces/" + spaceID + "/notes/ws?access_token=" + bob.Session.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first map[string]interface{}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	ts.ok(http.MethodDelete, "/api/spaces/"+spaceID+"/members/"+added.Member.UID, token, nil, nil)
	ts.ok(http.MethodPut, "/api/spaces/"+spaceID+"/notes", token, map[string]string{"notes": "admins only"}, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	err = conn.ReadJSON(&msg)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read after removal = %v (msg %v), want policy violation close", err, msg)
	}
}

func TestCachedHandlerReusesAppForSameStore(t *testing.T) {
	cfg := &config.Config{
		Environment:     "test",
		Port:            "0",
		StoreBackend:    "memory",
		IdentityBackend: "local",
		JWTSecret:       "test-secret",
		SessionTTL:      time.Hour,
		SettleMode:      "delay",
		AllowedOrigins:  []string{"*"},
		LogFormat:       "text",
	}
	t.Cleanup(func() {
		appMu.Lock()
		defer appMu.Unlock()
		if cachedApp != nil {
			cachedApp.Close()
		}
		cachedApp, cachedRouter = nil, nil
	})
	ctx := context.Background()

	first, err := cachedHandler(ctx, cfg)
	if err != nil {
		t.Fatalf("cachedHandler: %v", err)
	}
	firstApp := cachedApp
	second, err := cachedHandler(ctx, cfg)
	if err != nil {
		t.Fatalf("cachedHandler: %v", err)
	}
	if cachedApp != firstApp || second != first {
		t.Fatal("app rebuilt although the pooled store did not change")
	}

	// a replaced store gets a fresh app
	firstApp.Close()
	if _, err := cachedHandler(ctx, cfg); err != nil {
		t.Fatalf("cachedHandler: %v", err)
	}
	if cachedApp == firstApp || cachedApp.Store == firstApp.Store {
		t.Fatal("app not rebuilt after the pool was reset")
	}
}
