package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(ProfileWriteFailed, "Failed to save member profile", errors.New("boom"))
	wrapped := fmt.Errorf("provision: %w", err)

	if !errors.Is(wrapped, ErrProfileWriteFailed) {
		t.Fatalf("expected wrapped error to match ErrProfileWriteFailed")
	}
	if errors.Is(wrapped, ErrMembershipAttachFailed) {
		t.Fatalf("did not expect match on a different code")
	}
	if got := CodeOf(wrapped); got != ProfileWriteFailed {
		t.Fatalf("CodeOf = %s", got)
	}
	if got := MessageOf(wrapped); got != "Failed to save member profile" {
		t.Fatalf("MessageOf = %q", got)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("x")); got != Internal {
		t.Fatalf("CodeOf(plain) = %s", got)
	}
	if got := MessageOf(errors.New("x")); got != "Internal server error" {
		t.Fatalf("MessageOf(plain) = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{NotAuthorized, http.StatusForbidden},
		{AccessDenied, http.StatusForbidden},
		{SelfRemovalDenied, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{EmailAlreadyRegistered, http.StatusConflict},
		{AdminSessionRestoreFailed, http.StatusConflict},
		{WeakPassword, http.StatusBadRequest},
		{InvalidCredentials, http.StatusUnauthorized},
		{ProfileWriteFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestTerminalAndRecoverable(t *testing.T) {
	if !Terminal(AdminSessionRestoreFailed) || !Terminal(AdminSessionVerificationFailed) {
		t.Fatal("session restore failures must be terminal")
	}
	if Terminal(ProfileWriteFailed) {
		t.Fatal("profile write failure is not terminal")
	}
	if !Recoverable(AccessDenied) || Recoverable(NotFound) {
		t.Fatal("unexpected recoverable classification")
	}
}
