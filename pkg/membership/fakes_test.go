package membership

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tasker-backend/pkg/database"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/models"
)

// fakeIdentity is a single-session identity client. lag makes CurrentSession
// keep reporting the previous session for that many calls after a switch.
type fakeIdentity struct {
	mu         sync.Mutex
	accounts   map[string]fakeAccount
	current    *identity.Session
	previous   *identity.Session
	lag        int
	pendingLag int
	nextUID    int

	createErr error
	signInAs  string
	calls     []string
}

type fakeAccount struct {
	uid      string
	password string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{accounts: make(map[string]fakeAccount)}
}

func (f *fakeIdentity) addAccount(uid, email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = fakeAccount{uid: uid, password: password}
}

func (f *fakeIdentity) signedInAs(uid, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = &identity.Session{UID: uid, Email: email, ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeIdentity) switchLocked(sess *identity.Session) {
	f.previous = f.current
	f.current = sess
	f.pendingLag = f.lag
}

func (f *fakeIdentity) CreateAccount(_ context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.accounts[email]; ok {
		return nil, &identity.Error{Code: identity.CodeEmailInUse}
	}
	f.nextUID++
	uid := fmt.Sprintf("member-%d", f.nextUID)
	f.accounts[email] = fakeAccount{uid: uid, password: password}
	sess := &identity.Session{UID: uid, Email: email, ExpiresAt: time.Now().Add(time.Hour)}
	f.switchLocked(sess)
	return sess, nil
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "signin")
	acct, ok := f.accounts[email]
	if !ok {
		return nil, &identity.Error{Code: identity.CodeUserNotFound}
	}
	if acct.password != password {
		return nil, &identity.Error{Code: identity.CodeWrongPassword}
	}
	uid := acct.uid
	if f.signInAs != "" {
		uid = f.signInAs
	}
	sess := &identity.Session{UID: uid, Email: email, ExpiresAt: time.Now().Add(time.Hour)}
	f.switchLocked(sess)
	return sess, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "signout")
	f.switchLocked(nil)
	return nil
}

func (f *fakeIdentity) CurrentSession(context.Context) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingLag > 0 {
		f.pendingLag--
		return f.previous, nil
	}
	return f.current, nil
}

func (f *fakeIdentity) ChangePassword(context.Context, string) error { return nil }

func (f *fakeIdentity) currentUID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ""
	}
	return f.current.UID
}

func (f *fakeIdentity) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// faultyStore fails writes to the configured collections.
type faultyStore struct {
	database.DocumentStore
	mu         sync.Mutex
	failSet    map[string]error
	failUpdate map[string]error
}

func (f *faultyStore) Set(ctx context.Context, collection, id string, doc database.Document) error {
	f.mu.Lock()
	err := f.failSet[collection]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.DocumentStore.Set(ctx, collection, id, doc)
}

func (f *faultyStore) Update(ctx context.Context, collection, id string, patch database.Patch) error {
	f.mu.Lock()
	err := f.failUpdate[collection]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.DocumentStore.Update(ctx, collection, id, patch)
}

type fixture struct {
	store   *faultyStore
	repo    *database.Repository
	svc     *Service
	idp     *fakeIdentity
	spaceID string
}

const (
	adminUID      = "admin-a"
	adminEmail    = "a@example.com"
	adminPassword = "admin-pass"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := &faultyStore{
		DocumentStore: database.NewMemoryStore(),
		failSet:       map[string]error{},
		failUpdate:    map[string]error{},
	}
	repo := database.NewRepository(store)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, DelaySettler{}, logger)

	now := time.Now().UTC()
	if err := repo.SetUser(ctx, &models.User{UID: adminUID, Email: adminEmail, Username: "a", Role: models.RoleAdmin, Spaces: []string{"eng"}, IsActive: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	space := &models.Space{ID: "eng", AdminID: adminUID, Name: "Eng", Members: models.MemberIDs{adminUID}, MemberCount: 1, IsActive: true, CreatedAt: now, CreatedBy: adminUID, UpdatedAt: now}
	if err := repo.CreateSpace(ctx, space); err != nil {
		t.Fatalf("seed space: %v", err)
	}

	idp := newFakeIdentity()
	idp.addAccount(adminUID, adminEmail, adminPassword)
	idp.signedInAs(adminUID, adminEmail)

	return &fixture{store: store, repo: repo, svc: svc, idp: idp, spaceID: "eng"}
}

func (fx *fixture) request(email string) ProvisionRequest {
	return ProvisionRequest{
		SpaceID:       fx.spaceID,
		AdminID:       adminUID,
		Email:         email,
		Password:      "member-pass",
		AdminPassword: adminPassword,
	}
}

func (fx *fixture) space(t *testing.T) *models.Space {
	t.Helper()
	s, err := fx.repo.GetSpace(context.Background(), fx.spaceID)
	if err != nil {
		t.Fatalf("GetSpace: %v", err)
	}
	return s
}
