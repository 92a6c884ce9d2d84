package apperr

import (
	"errors"
	"net/http"
)

// Code identifies a class of application failure.
type Code string

const (
	NotAuthorized                  Code = "NOT_AUTHORIZED"
	AccessDenied                   Code = "ACCESS_DENIED"
	SelfRemovalDenied              Code = "SELF_REMOVAL_DENIED"
	AdminSessionMissing            Code = "ADMIN_SESSION_MISSING"
	EmailAlreadyRegistered         Code = "EMAIL_ALREADY_REGISTERED"
	WeakPassword                   Code = "WEAK_PASSWORD"
	InvalidEmail                   Code = "INVALID_EMAIL"
	ProvisioningFailed             Code = "PROVISIONING_FAILED"
	ProfileWriteFailed             Code = "PROFILE_WRITE_FAILED"
	MembershipAttachFailed         Code = "MEMBERSHIP_ATTACH_FAILED"
	AdminSessionRestoreFailed      Code = "ADMIN_SESSION_RESTORE_FAILED"
	AdminSessionVerificationFailed Code = "ADMIN_SESSION_VERIFICATION_FAILED"
	NotFound                       Code = "NOT_FOUND"
	InvalidInput                   Code = "INVALID_INPUT"
	InvalidCredentials             Code = "INVALID_CREDENTIALS"
	ProvisioningInProgress         Code = "PROVISIONING_IN_PROGRESS"
	Internal                       Code = "INTERNAL"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrNotAuthorized                  = &Error{Code: NotAuthorized}
	ErrAccessDenied                   = &Error{Code: AccessDenied}
	ErrSelfRemovalDenied              = &Error{Code: SelfRemovalDenied}
	ErrAdminSessionMissing            = &Error{Code: AdminSessionMissing}
	ErrEmailAlreadyRegistered         = &Error{Code: EmailAlreadyRegistered}
	ErrWeakPassword                   = &Error{Code: WeakPassword}
	ErrInvalidEmail                   = &Error{Code: InvalidEmail}
	ErrProvisioningFailed             = &Error{Code: ProvisioningFailed}
	ErrProfileWriteFailed             = &Error{Code: ProfileWriteFailed}
	ErrMembershipAttachFailed         = &Error{Code: MembershipAttachFailed}
	ErrAdminSessionRestoreFailed      = &Error{Code: AdminSessionRestoreFailed}
	ErrAdminSessionVerificationFailed = &Error{Code: AdminSessionVerificationFailed}
	ErrNotFound                       = &Error{Code: NotFound}
	ErrInvalidInput                   = &Error{Code: InvalidInput}
	ErrInvalidCredentials             = &Error{Code: InvalidCredentials}
	ErrProvisioningInProgress         = &Error{Code: ProvisioningInProgress}
)

// Error is the application error carried from services to the HTTP layer.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// MessageOf returns the user-facing message of the outermost *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}

// Terminal reports whether the failure cannot be recovered in-process and the
// operator has to refresh their session.
func Terminal(code Code) bool {
	return code == AdminSessionRestoreFailed || code == AdminSessionVerificationFailed
}

// Recoverable reports whether a single SyncUserSpaces + retry may fix the failure.
func Recoverable(code Code) bool {
	return code == NotAuthorized || code == AccessDenied || code == SelfRemovalDenied
}

// HTTPStatus maps a code to the response status.
func HTTPStatus(code Code) int {
	switch code {
	case NotAuthorized, AccessDenied, SelfRemovalDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case EmailAlreadyRegistered, ProvisioningInProgress,
		AdminSessionRestoreFailed, AdminSessionVerificationFailed:
		return http.StatusConflict
	case InvalidInput, WeakPassword, InvalidEmail:
		return http.StatusBadRequest
	case InvalidCredentials, AdminSessionMissing:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
