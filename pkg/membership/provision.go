package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/models"
)

// Step names a stage of the provisioning workflow
type Step int

const (
	StepAuthorize Step = iota + 1
	StepCaptureAdminIdentity
	StepCreateAccount
	StepPersistProfile
	StepAttachMembership
	StepReleaseNewSession
	StepSettle
	StepRestoreAdminSession
	StepVerifySession
)

var stepNames = map[Step]string{
	StepAuthorize:            "authorize",
	StepCaptureAdminIdentity: "capture_admin_identity",
	StepCreateAccount:        "create_account",
	StepPersistProfile:       "persist_profile",
	StepAttachMembership:     "attach_membership",
	StepReleaseNewSession:    "release_new_session",
	StepSettle:               "settle",
	StepRestoreAdminSession:  "restore_admin_session",
	StepVerifySession:        "verify_session",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ProvisionError reports the step at which provisioning stopped.
type ProvisionError struct {
	Step Step
	Err  error
}

func (e *ProvisionError) Error() string    { return e.Step.String() + ": " + e.Err.Error() }
func (e *ProvisionError) Unwrap() error    { return e.Err }
func (e *ProvisionError) StepName() string { return e.Step.String() }

// ProvisionRequest is an admin's invitation of a new member into a space.
// AdminPassword is the admin's own password, used only to restore their session.
type ProvisionRequest struct {
	SpaceID       string
	AdminID       string
	Email         string
	Password      string
	Username      string
	AdminPassword string
}

type ProvisionResult struct {
	UID          string            `json:"uid"`
	Email        string            `json:"email"`
	Username     string            `json:"username"`
	Role         models.Role       `json:"role"`
	AdminEmail   string            `json:"adminEmail"`
	AdminSession *identity.Session `json:"-"`
}

// Each state can only be built from the one before it, so the session
// restore cannot be skipped on the way to a result.
type authorizedState struct {
	req   ProvisionRequest
	space *models.Space
}

type adminCapturedState struct {
	authorizedState
	adminUID   string
	adminEmail string
}

type accountCreatedState struct {
	adminCapturedState
	memberUID   string
	memberEmail string
	username    string
}

type restoredState struct {
	accountCreatedState
	adminSession *identity.Session
}

// Provision creates a member account for req.SpaceID through client, which
// holds the admin's session, and hands the session back to the admin before
// returning. Once the account exists nothing is rolled back.
func (s *Service) Provision(ctx context.Context, client identity.Client, req ProvisionRequest) (*ProvisionResult, error) {
	authorized, err := s.authorize(ctx, req)
	if err != nil {
		return nil, &ProvisionError{Step: StepAuthorize, Err: err}
	}
	captured, err := s.captureAdminIdentity(ctx, client, authorized)
	if err != nil {
		return nil, &ProvisionError{Step: StepCaptureAdminIdentity, Err: err}
	}

	// From here on the session has been switched; run to the end.
	ctx = context.WithoutCancel(ctx)

	created, err := s.createAccount(ctx, client, captured)
	if err != nil {
		return nil, &ProvisionError{Step: StepCreateAccount, Err: err}
	}

	var stepErr *ProvisionError
	if err := s.persistProfile(ctx, created); err != nil {
		stepErr = &ProvisionError{Step: StepPersistProfile, Err: err}
	} else if err := s.attachMembership(ctx, created); err != nil {
		stepErr = &ProvisionError{Step: StepAttachMembership, Err: err}
	}
	if stepErr != nil {
		s.logger.Warn("provisioning step failed, restoring admin session",
			"step", stepErr.Step.String(), "space_id", req.SpaceID, "member_uid", created.memberUID, "error", stepErr.Err)
	}

	var prior error
	if stepErr != nil {
		prior = stepErr
	}
	restored, err := s.restoreAdminSession(ctx, client, created, prior)
	if err != nil {
		return nil, err
	}
	if stepErr != nil {
		return nil, stepErr
	}

	s.logger.Info("member provisioned", "space_id", req.SpaceID, "member_uid", created.memberUID, "admin_uid", captured.adminUID)
	return finish(restored), nil
}

func validateRequest(req ProvisionRequest) error {
	switch {
	case req.SpaceID == "" || req.AdminID == "":
		return apperr.New(apperr.InvalidInput, "Space and admin are required")
	case strings.TrimSpace(req.Email) == "" || req.Password == "":
		return apperr.New(apperr.InvalidInput, "Email and password are required")
	case req.AdminPassword == "":
		return apperr.New(apperr.InvalidInput, "Admin password is required to restore your session")
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, req ProvisionRequest) (authorizedState, error) {
	if err := validateRequest(req); err != nil {
		return authorizedState{}, err
	}
	space, err := s.loadSpace(ctx, req.SpaceID)
	if err != nil {
		return authorizedState{}, err
	}
	if err := RequireAdmin(space, req.AdminID); err != nil {
		return authorizedState{}, err
	}
	return authorizedState{req: req, space: space}, nil
}

func (s *Service) captureAdminIdentity(ctx context.Context, client identity.Client, st authorizedState) (adminCapturedState, error) {
	sess, err := client.CurrentSession(ctx)
	if err != nil || sess == nil {
		return adminCapturedState{}, apperr.Wrap(apperr.AdminSessionMissing, "No active admin session", err)
	}
	if sess.UID != st.req.AdminID {
		return adminCapturedState{}, apperr.New(apperr.AdminSessionMissing, "Active session does not belong to the requesting admin")
	}
	return adminCapturedState{authorizedState: st, adminUID: sess.UID, adminEmail: sess.Email}, nil
}

func (s *Service) createAccount(ctx context.Context, client identity.Client, st adminCapturedState) (accountCreatedState, error) {
	email := strings.TrimSpace(st.req.Email)
	sess, err := client.CreateAccount(ctx, email, st.req.Password)
	if err != nil {
		return accountCreatedState{}, identity.ToAppError(err, apperr.ProvisioningFailed, "Failed to create member account")
	}
	if sess.Email != "" {
		email = sess.Email
	}
	username := strings.TrimSpace(st.req.Username)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	return accountCreatedState{
		adminCapturedState: st,
		memberUID:          sess.UID,
		memberEmail:        email,
		username:           username,
	}, nil
}

func (s *Service) persistProfile(ctx context.Context, st accountCreatedState) error {
	profile := &models.User{
		UID:       st.memberUID,
		Email:     st.memberEmail,
		Username:  st.username,
		Role:      models.RoleUser,
		Spaces:    []string{st.space.ID},
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SetUser(ctx, profile); err != nil {
		return apperr.Wrap(apperr.ProfileWriteFailed, "Failed to save member profile", err)
	}
	return nil
}

func (s *Service) attachMembership(ctx context.Context, st accountCreatedState) error {
	err := s.repo.UpdateSpace(ctx, st.space.ID, database.Patch{
		"members":     database.ArrayUnion(st.memberUID),
		"memberCount": database.Set(st.space.CountBase() + 1),
		"updatedAt":   database.ServerTimestamp(),
	})
	if err != nil {
		return apperr.Wrap(apperr.MembershipAttachFailed, "Failed to add member to space", err)
	}
	return nil
}

// restoreAdminSession covers release, settle, re-authentication, settle and
// verification. A failure here also carries prior, the earlier step error.
func (s *Service) restoreAdminSession(ctx context.Context, client identity.Client, st accountCreatedState, prior error) (restoredState, error) {
	if err := client.SignOut(ctx); err != nil {
		// signing in below replaces the session anyway
		s.logger.Warn("sign-out of new member failed", "step", StepReleaseNewSession.String(), "member_uid", st.memberUID, "error", err)
	}
	if err := s.settler.Settle(ctx, client, ""); err != nil {
		s.logger.Warn("session release did not settle", "step", StepSettle.String(), "error", err)
	}

	if _, err := client.SignInWithPassword(ctx, st.adminEmail, st.req.AdminPassword); err != nil {
		msg := "Member was added but your admin session could not be restored. Please refresh and sign in again."
		if prior != nil {
			msg = "The member account was created but not fully added to the space, and your admin session could not be restored. Please refresh and sign in again."
		}
		return restoredState{}, &ProvisionError{
			Step: StepRestoreAdminSession,
			Err:  apperr.Wrap(apperr.AdminSessionRestoreFailed, msg, errors.Join(err, prior)),
		}
	}
	if err := s.settler.Settle(ctx, client, st.adminUID); err != nil {
		s.logger.Warn("session restore did not settle", "step", StepSettle.String(), "error", err)
	}

	sess, err := client.CurrentSession(ctx)
	if err != nil || sess == nil || sess.UID != st.adminUID {
		cause := err
		if cause == nil {
			got := ""
			if sess != nil {
				got = sess.UID
			}
			cause = fmt.Errorf("active session uid %q, want %q", got, st.adminUID)
		}
		return restoredState{}, &ProvisionError{
			Step: StepVerifySession,
			Err: apperr.Wrap(apperr.AdminSessionVerificationFailed,
				"Admin session verification failed. Please refresh and sign in again.",
				errors.Join(cause, prior)),
		}
	}
	return restoredState{accountCreatedState: st, adminSession: sess}, nil
}

func finish(st restoredState) *ProvisionResult {
	return &ProvisionResult{
		UID:          st.memberUID,
		Email:        st.memberEmail,
		Username:     st.username,
		Role:         models.RoleUser,
		AdminEmail:   st.adminEmail,
		AdminSession: st.adminSession,
	}
}
