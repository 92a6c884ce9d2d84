package identity

import "tasker-backend/pkg/apperr"

// ToAppError maps provider codes onto the application taxonomy. Codes with
// no direct counterpart become fallback with message.
func ToAppError(err error, fallback apperr.Code, message string) *apperr.Error {
	switch CodeOf(err) {
	case CodeEmailInUse:
		return apperr.Wrap(apperr.EmailAlreadyRegistered, "This email is already registered", err)
	case CodeWeakPassword:
		return apperr.Wrap(apperr.WeakPassword, "Password should be at least 6 characters", err)
	case CodeInvalidEmail:
		return apperr.Wrap(apperr.InvalidEmail, "Invalid email address", err)
	case CodeWrongPassword, CodeUserNotFound:
		return apperr.Wrap(apperr.InvalidCredentials, "Invalid email or password", err)
	default:
		return apperr.Wrap(fallback, message, err)
	}
}
