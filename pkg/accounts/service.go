// Package accounts handles sign-up, login and profile maintenance.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/database"
	"tasker-backend/pkg/identity"
	"tasker-backend/pkg/models"
)

const maxUsernameLength = 50

type Service struct {
	repo     *database.Repository
	provider identity.Provider
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo *database.Repository, provider identity.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		provider: provider,
		logger:   logger.With("component", "accounts"),
		now:      time.Now,
	}
}

// Signup creates the identity account and its profile, returning a session.
func (s *Service) Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.New(apperr.InvalidInput, "Email and password are required")
	}
	if !req.Role.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "Please select a role")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = localPart(email)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, apperr.New(apperr.InvalidInput, "Username is too long")
	}

	client, err := s.provider.NewClient(ctx, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to create account", err)
	}
	sess, err := client.CreateAccount(ctx, email, req.Password)
	if err != nil {
		return nil, identity.ToAppError(err, apperr.Internal, "Failed to create account")
	}

	user := &models.User{
		UID:       sess.UID,
		Email:     sess.Email,
		Username:  username,
		Role:      req.Role,
		Spaces:    []string{},
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SetUser(ctx, user); err != nil {
		s.logger.Error("account created without profile", "uid", sess.UID, "error", err)
		return nil, apperr.Wrap(apperr.Internal, "Account created but the profile could not be saved", err)
	}
	s.logger.Info("account created", "uid", user.UID, "role", user.Role)
	return authResponse(sess, user), nil
}

// Login signs in with email and password and returns the session with the profile.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.New(apperr.InvalidInput, "Email and password are required")
	}
	client, err := s.provider.NewClient(ctx, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to sign in", err)
	}
	sess, err := client.SignInWithPassword(ctx, email, req.Password)
	if err != nil {
		return nil, identity.ToAppError(err, apperr.Internal, "Failed to sign in")
	}
	user, err := s.Me(ctx, sess.UID)
	if err != nil {
		return nil, err
	}
	return authResponse(sess, user), nil
}

// Logout ends the session token names. An already expired session is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	client, err := s.provider.NewClient(ctx, token)
	if identity.CodeOf(err) == identity.CodeSessionExpired {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to sign out", err)
	}
	if err := client.SignOut(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to sign out", err)
	}
	return nil
}

// Me returns uid's profile with settings defaults filled in.
func (s *Service) Me(ctx context.Context, uid string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, uid)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "User profile not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load profile", err)
	}
	settings := user.EffectiveSettings()
	user.Settings = &settings
	if user.Spaces == nil {
		user.Spaces = []string{}
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, uid string, in models.ProfileUpdate) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.New(apperr.InvalidInput, "Username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, apperr.New(apperr.InvalidInput, "Username is too long")
	}
	return s.updateProfile(ctx, uid, database.Patch{"username": database.Set(username)})
}

func (s *Service) UpdateSettings(ctx context.Context, uid string, settings models.UserSettings) (*models.User, error) {
	return s.updateProfile(ctx, uid, database.Patch{"settings": database.Set(settings)})
}

func (s *Service) updateProfile(ctx context.Context, uid string, patch database.Patch) (*models.User, error) {
	patch["updatedAt"] = database.ServerTimestamp()
	if err := s.repo.UpdateUser(ctx, uid, patch); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "User profile not found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Failed to update profile", err)
	}
	return s.Me(ctx, uid)
}

// ChangePassword re-authenticates with the current password on a separate
// client, sets the new one there and signs that client out again. The
// caller's own session is left alone.
func (s *Service) ChangePassword(ctx context.Context, sess *identity.Session, req models.PasswordChange) error {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperr.New(apperr.InvalidInput, "Current and new password are required")
	}
	if err := identity.ValidatePassword(req.NewPassword); err != nil {
		return identity.ToAppError(err, apperr.InvalidInput, "Invalid password")
	}

	client, err := s.provider.NewClient(ctx, "")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to change password", err)
	}
	if _, err := client.SignInWithPassword(ctx, sess.Email, req.CurrentPassword); err != nil {
		return identity.ToAppError(err, apperr.Internal, "Failed to verify current password")
	}
	defer func() {
		if err := client.SignOut(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("re-authentication session not signed out", "uid", sess.UID, "error", err)
		}
	}()

	if err := client.ChangePassword(ctx, req.NewPassword); err != nil {
		return identity.ToAppError(err, apperr.Internal, "Failed to change password")
	}
	s.logger.Info("password changed", "uid", sess.UID)
	return nil
}

func authResponse(sess *identity.Session, user *models.User) *models.AuthResponse {
	return &models.AuthResponse{
		Session: models.SessionResponse{AccessToken: sess.Token, ExpiresAt: sess.ExpiresAt},
		User:    user,
	}
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
