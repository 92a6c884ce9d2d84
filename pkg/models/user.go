package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the account role chosen at sign-up
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// UserSettings are the per-user notification preferences
type UserSettings struct {
	EmailNotifications bool `json:"emailNotifications"`
	TaskReminders      bool `json:"taskReminders"`
	WeeklyDigest       bool `json:"weeklyDigest"`
}

func DefaultUserSettings() UserSettings {
	return UserSettings{EmailNotifications: true, TaskReminders: true}
}

// User is the profile document stored under users/{uid}
type User struct {
	UID           string        `json:"uid"`
	Email         string        `json:"email"`
	Username      string        `json:"username"`
	Role          Role          `json:"role"`
	Spaces        []string      `json:"spaces"`
	IsActive      bool          `json:"isActive"`
	ProfilePicURL *string       `json:"profilePicUrl"`
	Settings      *UserSettings `json:"settings,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty"`
}

// EffectiveSettings returns stored settings or the defaults.
func (u *User) EffectiveSettings() UserSettings {
	if u.Settings == nil {
		return DefaultUserSettings()
	}
	return *u.Settings
}

// SignupRequest represents the request payload for account creation
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// LoginRequest represents the request payload for sign-in
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned whenever a new session token is issued
type SessionResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenClaims represents the session token claims.
// Locally issued tokens and Supabase access tokens share this shape.
type TokenClaims struct {
	Email string `json:"email"`
	Type  string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// AuthResponse is returned by sign-up and login
type AuthResponse struct {
	Session SessionResponse `json:"session"`
	User    *User           `json:"user"`
}

// ProfileUpdate is the editable part of a profile.
type ProfileUpdate struct {
	Username string `json:"username"`
}

type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
